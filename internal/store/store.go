// ABOUTME: Store interface and data types for the warelay shared hierarchical store
// ABOUTME: Defines path-addressed read/write/claim primitives and the relay data models

package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when a requested path does not exist
var ErrNotFound = errors.New("not found")

// Store exposes a path-addressed hierarchical key space shared between
// concurrently running relay instances. Paths are slash-separated, values
// are JSON documents. All writes except Claim are idempotent overwrites or
// append-only pushes; Claim is the single atomic read-modify-write primitive
// and is the only safe way to take exclusive ownership of an entry.
type Store interface {
	// Get reads the value at path into out. Returns ErrNotFound if absent.
	Get(ctx context.Context, path string, out any) error

	// Set writes the value at path, overwriting any existing value.
	Set(ctx context.Context, path string, v any) error

	// Update merges the given fields into the JSON object at path,
	// creating the object if it does not exist.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Delete removes the value at path. Deleting an absent path is a no-op.
	Delete(ctx context.Context, path string) error

	// Push appends v as a new uniquely-keyed child of path and returns
	// the generated child key.
	Push(ctx context.Context, path string, v any) (string, error)

	// Subtree returns a one-shot snapshot of every leaf under prefix,
	// keyed by the leaf's path relative to prefix. Concurrent writers may
	// add entries that the snapshot does not include.
	Subtree(ctx context.Context, prefix string) (map[string]json.RawMessage, error)

	// Claim atomically sets the named boolean field on the JSON object at
	// path to true, but only if the field is currently absent or false.
	// It returns true if this call committed the transition. Exactly one
	// of any number of concurrent callers wins; a missing path never
	// claims.
	Claim(ctx context.Context, path string, field string) (bool, error)

	// Close releases the underlying storage.
	Close() error
}

// Message is an enriched inbound chat message appended once under
// messages/{slug}/{conversationID} and never mutated afterwards.
type Message struct {
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	Timestamp int64       `json:"timestamp"` // milliseconds
	OrderID   *string     `json:"order_id"`  // filled by downstream consumers
	Meta      MessageMeta `json:"meta"`
}

// MessageMeta carries the identity and provenance block of a Message.
type MessageMeta struct {
	ConversationID string  `json:"conversation_id"`
	TenantSlug     string  `json:"tenant_slug"`
	TenantID       string  `json:"tenant_id"`
	UserID         *string `json:"user_id"`
	ProfileReady   bool    `json:"profile_ready"`
	FirstInSession bool    `json:"first_in_session"`
	SessionStart   int64   `json:"session_start"` // milliseconds
	Instance       string  `json:"instance"`
	MessageID      string  `json:"message_id"` // provider message id
	PushName       string  `json:"push_name"`
	Type           string  `json:"type"` // "text" or "audio"
	AudioBase64    *string `json:"audio_base64,omitempty"`
}

// Message type constants
const (
	MessageTypeText  = "text"
	MessageTypeAudio = "audio"
)

// PendingResponse is a queued outbound text produced by bot logic outside
// this service. The delivery loop owns its lifecycle from the moment a
// claim on the Sent flag commits until the entry is deleted.
type PendingResponse struct {
	Text      string `json:"text"`
	CreatedAt int64  `json:"created_at"` // milliseconds
	Sent      bool   `json:"sent,omitempty"`
}

// InstanceBinding maps a gateway instance name to its owning tenant and
// per-instance credential. Stored under instances/{name}.
type InstanceBinding struct {
	TenantID string `json:"tenant_id"`
	Slug     string `json:"slug"`
	APIKey   string `json:"apikey"`
}

// TenantInstance is a tenant's default gateway instance.
type TenantInstance struct {
	Name   string `json:"name"`
	APIKey string `json:"apikey"`
}

// Tenant is the store-side record of a tenant, stored under tenants/{slug}.
type Tenant struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Instance TenantInstance `json:"instance"`
}

// Session is a session-index entry under sessions/{tenantID}/{userID}.
// Its presence means the user already has an active session.
type Session struct {
	StartedAt int64 `json:"started_at"` // milliseconds
}
