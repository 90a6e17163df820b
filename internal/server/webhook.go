// ABOUTME: Inbound webhook endpoint for gateway chat events
// ABOUTME: Acknowledges within the request, enriches asynchronously afterwards

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/storelink/warelay/internal/inbound"
)

// enrichTimeout bounds one asynchronous enrichment run.
const enrichTimeout = time.Minute

// handleWebhook accepts a gateway event. The gateway expects a response
// within a few seconds, so only the cheap acceptance checks run inside
// the request; enrichment happens after the acknowledgement on a
// detached context, and its failures are logged, never surfaced.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var ev inbound.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	switch err := s.pipeline.Accept(&ev); {
	case errors.Is(err, inbound.ErrIgnored):
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case errors.Is(err, inbound.ErrNoConversation):
		writeError(w, http.StatusBadRequest, "event has no conversation id")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	detached := context.WithoutCancel(r.Context())
	go func() {
		ctx, cancel := context.WithTimeout(detached, enrichTimeout)
		defer cancel()

		if _, err := s.pipeline.Enrich(ctx, &ev); err != nil && !errors.Is(err, inbound.ErrIgnored) {
			s.logger.Error("enrichment failed after ack",
				"instance", ev.Instance,
				"conversation_id", ev.ConversationID(),
				"error", err,
			)
		}
	}()

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
