// ABOUTME: Time-bounded cache mapping conversation ids to resolved tenant/user identity
// ABOUTME: Bounds store lookup cost during inbound enrichment; entries are advisory only

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/storelink/warelay/internal/store"
)

// DefaultTTL is how long a resolved identity is reused before the store
// is consulted again.
const DefaultTTL = 60 * time.Second

// Resolution is the identity tuple attached to every enriched message.
type Resolution struct {
	TenantID       string
	UserID         *string
	SessionStart   int64 // milliseconds
	FirstInSession bool
	ProfileReady   bool
}

// entry is a cached resolution with an absolute expiry instant.
type entry struct {
	tenantID     string
	userID       *string
	sessionStart int64
	expires      time.Time
}

// Cache memoizes identity resolutions per conversation id. It is
// process-local and carries no correctness obligation beyond bounding
// staleness: a dropped or expired entry is simply re-resolved from the
// store. Expiry is checked lazily on lookup; key growth is bounded by the
// number of distinct live conversations.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	store   store.Store
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a cache backed by the given store. A non-positive ttl falls
// back to DefaultTTL.
func New(s store.Store, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		store:   s,
		logger:  logger.With("component", "identity"),
		now:     time.Now,
	}
}

// Resolve returns the identity tuple for a conversation. A live cached
// entry is returned immediately with FirstInSession=false and
// ProfileReady=true: within the TTL window an established conversation is
// never "first" again, and a previously resolved identity is considered
// ready. On a miss the tenant and user lookups run in parallel, the
// session index decides FirstInSession, and the result replaces any prior
// entry wholesale with a fresh expiry.
func (c *Cache) Resolve(ctx context.Context, conversationID, slug, phone string) (Resolution, error) {
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[conversationID]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		return Resolution{
			TenantID:       e.tenantID,
			UserID:         e.userID,
			SessionStart:   e.sessionStart,
			FirstInSession: false,
			ProfileReady:   true,
		}, nil
	}
	c.mu.Unlock()

	res, err := c.lookup(ctx, conversationID, slug, phone)
	if err != nil {
		return Resolution{}, err
	}

	c.mu.Lock()
	c.entries[conversationID] = entry{
		tenantID:     res.TenantID,
		userID:       res.UserID,
		sessionStart: res.SessionStart,
		expires:      now.Add(c.ttl),
	}
	c.mu.Unlock()

	return res, nil
}

// lookup resolves identity from the store: tenant id by slug and user id
// by conversation in parallel, with a phone-number fallback for the user,
// then the session index for the session start.
func (c *Cache) lookup(ctx context.Context, conversationID, slug, phone string) (Resolution, error) {
	var (
		tenant store.Tenant
		userID *string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.store.Get(gctx, store.TenantPath(slug), &tenant); err != nil {
			return fmt.Errorf("resolving tenant %q: %w", slug, err)
		}
		return nil
	})
	g.Go(func() error {
		var id string
		err := c.store.Get(gctx, store.UserIndexPath(conversationID), &id)
		if err == nil {
			userID = &id
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("resolving user for %q: %w", conversationID, err)
		}
		if phone == "" {
			return nil
		}
		// Cross-channel reconciliation: the user may have been registered
		// through another channel under their phone number.
		err = c.store.Get(gctx, store.PhoneIndexPath(NormalizePhone(phone)), &id)
		if err == nil {
			userID = &id
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("resolving user by phone: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Resolution{}, err
	}

	res := Resolution{
		TenantID:       tenant.ID,
		UserID:         userID,
		FirstInSession: true,
		SessionStart:   c.now().UnixMilli(),
		ProfileReady:   userID != nil,
	}

	if userID != nil {
		var sess store.Session
		err := c.store.Get(ctx, store.SessionPath(tenant.ID, *userID), &sess)
		switch {
		case err == nil:
			res.FirstInSession = false
			res.SessionStart = sess.StartedAt
		case errors.Is(err, store.ErrNotFound):
			// No session yet: this is the first message of a new session.
		default:
			return Resolution{}, fmt.Errorf("resolving session: %w", err)
		}
	}

	c.logger.Debug("identity resolved",
		"conversation_id", conversationID,
		"tenant_id", res.TenantID,
		"profile_ready", res.ProfileReady,
		"first_in_session", res.FirstInSession,
	)
	return res, nil
}

// NormalizePhone reduces a phone number to "+" followed by digits only.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.WriteByte('+')
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
