// ABOUTME: Admin API for provisioning gateway instances per tenant
// ABOUTME: Bridges instance lifecycle calls to the gateway and records store bindings

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storelink/warelay/internal/gateway"
	"github.com/storelink/warelay/internal/store"
)

// instanceSuffix matches the inbound pipeline's naming convention for
// provisioned instances.
const instanceSuffix = "-wa"

// CreateInstanceRequest is the JSON request body for POST /api/instances.
type CreateInstanceRequest struct {
	Slug string `json:"slug"`
}

// CreateInstanceResponse is the JSON response for POST /api/instances.
type CreateInstanceResponse struct {
	Instance string `json:"instance"`
	APIKey   string `json:"apikey"`
}

// handleCreateInstance provisions a gateway instance for a tenant,
// records the instance binding, and sets it as the tenant default.
func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req CreateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Slug == "" {
		writeError(w, http.StatusBadRequest, "slug required")
		return
	}
	ctx := r.Context()

	var tenant store.Tenant
	if err := s.store.Get(ctx, store.TenantPath(req.Slug), &tenant); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown tenant")
			return
		}
		writeError(w, http.StatusInternalServerError, "reading tenant")
		return
	}

	name := req.Slug + instanceSuffix
	inst, err := s.provisioner.CreateInstance(ctx, name)
	if err != nil {
		s.writeGatewayError(w, "creating instance", err)
		return
	}

	binding := store.InstanceBinding{TenantID: tenant.ID, Slug: req.Slug, APIKey: inst.APIKey}
	if err := s.store.Set(ctx, store.InstancePath(inst.Name), binding); err != nil {
		writeError(w, http.StatusInternalServerError, "recording binding")
		return
	}
	err = s.store.Update(ctx, store.TenantPath(req.Slug), map[string]any{
		"instance": map[string]any{"name": inst.Name, "apikey": inst.APIKey},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "recording tenant default")
		return
	}

	s.logger.Info("instance provisioned", "slug", req.Slug, "instance", inst.Name)
	writeJSON(w, http.StatusCreated, CreateInstanceResponse{Instance: inst.Name, APIKey: inst.APIKey})
}

// handleDeleteInstance removes an instance upstream and clears its
// bindings.
func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ctx := r.Context()

	if err := s.provisioner.DeleteInstance(ctx, name); err != nil {
		s.writeGatewayError(w, "deleting instance", err)
		return
	}

	var binding store.InstanceBinding
	if err := s.store.Get(ctx, store.InstancePath(name), &binding); err == nil {
		err = s.store.Update(ctx, store.TenantPath(binding.Slug), map[string]any{
			"instance": map[string]any{"name": "", "apikey": ""},
		})
		if err != nil {
			s.logger.Warn("clearing tenant default failed", "slug", binding.Slug, "error", err)
		}
	}
	if err := s.store.Delete(ctx, store.InstancePath(name)); err != nil {
		writeError(w, http.StatusInternalServerError, "removing binding")
		return
	}

	s.logger.Info("instance deleted", "instance", name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleInstanceStatus passes the connection state through.
func (s *Server) handleInstanceStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	state, err := s.provisioner.GetConnectionState(r.Context(), name)
	if err != nil {
		s.writeGatewayError(w, "fetching connection state", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleInstancePairing passes the pairing artifacts through.
func (s *Server) handleInstancePairing(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	pairing, err := s.provisioner.Connect(r.Context(), name)
	if err != nil {
		s.writeGatewayError(w, "fetching pairing code", err)
		return
	}
	writeJSON(w, http.StatusOK, pairing)
}

// writeGatewayError maps a gateway failure onto the HTTP response,
// preserving the upstream status where one exists.
func (s *Server) writeGatewayError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", "error", err)
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 600 {
		writeError(w, apiErr.Status, op+" failed")
		return
	}
	writeError(w, http.StatusBadGateway, op+" failed")
}
