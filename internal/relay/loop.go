// ABOUTME: Outbound delivery loop draining the pending-responses work queue
// ABOUTME: Claims each entry atomically, sends with retry, and guarantees exactly-once cleanup

package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/storelink/warelay/internal/gateway"
	"github.com/storelink/warelay/internal/store"
)

// Defaults for the loop's tunables. The values are empirically tuned and
// deployment-dependent, so they are config-overridable rather than fixed.
const (
	DefaultInterval = 2 * time.Second
	DefaultAttempts = 3
	DefaultBackoff  = time.Second
)

// Sender sends a text message through a named gateway instance.
type Sender interface {
	SendText(ctx context.Context, instance, apiKey, number, text string) error
}

// RetryPolicy bounds the send retries for one entry. Backoff doubles
// after each failed attempt (1s, 2s, 4s with the defaults).
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// Loop periodically scans the pending-responses subtree, claims each
// entry, sends it, and removes it. It is safe to run any number of loops
// against the same shared store: the atomic claim is the load-bearing
// correctness primitive, not the poll interval. Ticks are serialized; a
// scan that outlasts the interval simply delays the next one.
type Loop struct {
	store     store.Store
	sender    Sender
	interval  time.Duration
	retry     RetryPolicy
	startedAt time.Time
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates a delivery loop. Zero interval or retry fields fall back to
// the package defaults. The loop's start time anchors the startup guard:
// entries created before it are deleted, never sent.
func New(s store.Store, sender Sender, interval time.Duration, retry RetryPolicy, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if retry.Attempts <= 0 {
		retry.Attempts = DefaultAttempts
	}
	if retry.Backoff <= 0 {
		retry.Backoff = DefaultBackoff
	}
	return &Loop{
		store:     s,
		sender:    sender,
		interval:  interval,
		retry:     retry,
		startedAt: time.Now(),
		logger:    logger.With("component", "relay"),
		sleep:     sleepCtx,
	}
}

// Run executes the loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("delivery loop started",
		"interval", l.interval,
		"attempts", l.retry.Attempts,
	)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("delivery loop stopped")
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// scanItem is one pending-responses leaf as observed by a tick.
type scanItem struct {
	key   string // path relative to the responses prefix
	entry store.PendingResponse
	valid bool // entry decoded as a JSON object
}

// tick performs one full scan of the pending-responses subtree. The scan
// is an approximate snapshot: entries added mid-scan are picked up on the
// next tick. One entry's failure never aborts the tick.
func (l *Loop) tick(ctx context.Context) {
	entries, err := l.store.Subtree(ctx, store.ResponsesPrefix)
	if err != nil {
		l.logger.Error("scanning pending responses failed", "error", err)
		return
	}

	items := make([]scanItem, 0, len(entries))
	for key, raw := range entries {
		it := scanItem{key: key}
		it.valid = json.Unmarshal(raw, &it.entry) == nil
		items = append(items, it)
	}
	// Best-effort FIFO by creation order within the scan
	sort.Slice(items, func(i, j int) bool {
		return items[i].entry.CreatedAt < items[j].entry.CreatedAt
	})

	processed := make(map[string]struct{}, len(items))
	for _, it := range items {
		select {
		case <-ctx.Done():
			return
		default:
		}
		l.process(ctx, it, processed)
	}
}

// process applies the per-entry state machine: self-healing cleanup,
// per-tick dedup, validity check, startup guard, claim, then delivery.
func (l *Loop) process(ctx context.Context, it scanItem, processed map[string]struct{}) {
	path := store.ResponsesPrefix + "/" + it.key

	if _, seen := processed[path]; seen {
		return
	}
	processed[path] = struct{}{}

	slug, conversationID, responseID, ok := store.SplitResponseKey(it.key)
	if !ok {
		l.logger.Warn("unexpected entry shape, discarding", "path", path)
		l.discard(ctx, path)
		return
	}
	log := l.logger.With("slug", slug, "conversation_id", conversationID, "response_id", responseID)

	// Already marked sent: a crash between send and delete, or a stale
	// duplicate. Delete unconditionally, never re-send.
	if it.valid && it.entry.Sent {
		log.Warn("entry already marked sent, cleaning up")
		l.discard(ctx, path)
		return
	}

	// A malformed entry must never block the queue.
	if !it.valid || strings.TrimSpace(it.entry.Text) == "" {
		log.Warn("malformed entry, discarding")
		l.discard(ctx, path)
		return
	}

	// A freshly started instance must never resend work left over from
	// before a restart.
	if it.entry.CreatedAt < l.startedAt.UnixMilli() {
		log.Info("entry predates process start, discarding",
			"created_at", it.entry.CreatedAt,
		)
		l.discard(ctx, path)
		return
	}

	won, err := l.store.Claim(ctx, path, "sent")
	if err != nil {
		// Leave the entry for the next tick
		log.Error("claim failed", "error", err)
		return
	}
	if !won {
		// Another instance owns this entry; not an error
		log.Debug("claim lost, skipping")
		return
	}

	l.deliver(ctx, path, slug, conversationID, it.entry, log)
}

// deliver resolves routing and sends the claimed entry. The deferred
// delete is the guaranteed-cleanup invariant: it runs on success, on
// exhausted retries, on routing failure, and even if the send panics.
func (l *Loop) deliver(ctx context.Context, path, slug, conversationID string, entry store.PendingResponse, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("send panicked", "panic", r)
		}
		l.discard(ctx, path)
	}()

	instance, apiKey, err := l.route(ctx, slug, conversationID)
	if err != nil {
		log.Warn("no route for response, discarding", "error", err)
		return
	}

	number := conversationID
	if i := strings.IndexByte(number, '@'); i >= 0 {
		number = number[:i]
	}

	if err := l.sendWithRetry(ctx, instance, apiKey, number, entry.Text, log); err != nil {
		log.Error("send failed after retries, discarding", "error", err)
		return
	}
	log.Info("response delivered", "instance", instance)
}

// route resolves the destination instance and credential: the
// conversation binding recorded during inbound enrichment first, then
// the tenant's default instance. Freshness matters more than cost here,
// so nothing is cached.
func (l *Loop) route(ctx context.Context, slug, conversationID string) (string, string, error) {
	var instance string
	if err := l.store.Get(ctx, store.ChatInstancePath(slug, conversationID), &instance); err == nil {
		var binding store.InstanceBinding
		if err := l.store.Get(ctx, store.InstancePath(instance), &binding); err == nil {
			return instance, binding.APIKey, nil
		}
	}

	var tenant store.Tenant
	if err := l.store.Get(ctx, store.TenantPath(slug), &tenant); err != nil {
		return "", "", err
	}
	if tenant.Instance.Name == "" {
		return "", "", store.ErrNotFound
	}
	return tenant.Instance.Name, tenant.Instance.APIKey, nil
}

// sendWithRetry attempts the gateway send up to the retry budget, backing
// off exponentially between attempts. Permanent gateway errors stop the
// retries early.
func (l *Loop) sendWithRetry(ctx context.Context, instance, apiKey, number, text string, log *slog.Logger) error {
	backoff := l.retry.Backoff
	var lastErr error

	for attempt := 1; attempt <= l.retry.Attempts; attempt++ {
		err := l.sender.SendText(ctx, instance, apiKey, number, text)
		if err == nil {
			return nil
		}
		lastErr = err
		if !gateway.IsRetryable(err) {
			return err
		}
		if attempt < l.retry.Attempts {
			log.Warn("send failed, retrying",
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)
			if err := l.sleep(ctx, backoff); err != nil {
				return lastErr
			}
			backoff *= 2
		}
	}
	return lastErr
}

// discard removes an entry as the final action of its lifecycle. Cleanup
// must survive a cancelled tick, hence the detached context.
func (l *Loop) discard(ctx context.Context, path string) {
	if err := l.store.Delete(context.WithoutCancel(ctx), path); err != nil {
		l.logger.Error("deleting entry failed", "path", path, "error", err)
	}
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
