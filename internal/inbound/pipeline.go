// ABOUTME: Inbound enrichment pipeline turning raw gateway events into enriched messages
// ABOUTME: Validates, classifies, resolves identity, and appends to the tenant message log

package inbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/storelink/warelay/internal/dedupe"
	"github.com/storelink/warelay/internal/identity"
	"github.com/storelink/warelay/internal/store"
)

// instanceSuffix is the naming convention for provisioned instances
// ("{slug}-wa"). When the instance binding is missing, the slug is
// derived by stripping it.
const instanceSuffix = "-wa"

// mediaTimeout bounds the best-effort media download. A timed-out
// download is a hard failure here: no retry, the message proceeds with a
// null payload.
const mediaTimeout = 30 * time.Second

// Acceptance errors.
var (
	// ErrIgnored marks events that are dropped without being an error:
	// non-upsert events, echoes of our own sends, redeliveries, and
	// empty text bodies.
	ErrIgnored = errors.New("event ignored")

	// ErrNoConversation marks events with no extractable conversation
	// id; the webhook surfaces these as a client error.
	ErrNoConversation = errors.New("event has no conversation id")
)

// MediaDownloader fetches base64 media payloads from the gateway.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, instance, apiKey, messageID string) (string, error)
}

// Resolver supplies the identity tuple for a conversation.
type Resolver interface {
	Resolve(ctx context.Context, conversationID, slug, phone string) (identity.Resolution, error)
}

// Pipeline normalizes an inbound chat event into an enriched message
// record and appends it to the tenant's message log.
type Pipeline struct {
	store    store.Store
	media    MediaDownloader
	resolver Resolver
	seen     *dedupe.Cache
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an enrichment pipeline.
func New(s store.Store, media MediaDownloader, resolver Resolver, seen *dedupe.Cache, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:    s,
		media:    media,
		resolver: resolver,
		seen:     seen,
		logger:   logger.With("component", "inbound"),
		now:      time.Now,
	}
}

// Accept runs the cheap acceptance checks that must complete before the
// webhook is acknowledged: event type, self-sent echo suppression,
// redelivery dedup, and conversation id presence.
func (p *Pipeline) Accept(ev *Event) error {
	if ev.Event != EventMessagesUpsert {
		return ErrIgnored
	}
	if ev.Data.Key.FromMe {
		// Echo of our own outbound send
		return ErrIgnored
	}
	if ev.ConversationID() == "" {
		return ErrNoConversation
	}
	if p.seen != nil && ev.Data.Key.ID != "" {
		key := ev.Instance + ":" + ev.Data.Key.ID
		if p.seen.CheckAndMark(key) {
			p.logger.Debug("duplicate event ignored",
				"instance", ev.Instance,
				"message_id", ev.Data.Key.ID,
			)
			return ErrIgnored
		}
	}
	return nil
}

// Enrich performs the post-acknowledgement half of the pipeline: payload
// classification, slug and routing resolution, identity lookup, and the
// message-log append. It returns the appended message.
func (p *Pipeline) Enrich(ctx context.Context, ev *Event) (*store.Message, error) {
	conversationID := ev.ConversationID()

	// Resolve the instance's tenant binding; fall back to deriving the
	// slug from the instance naming convention. Degraded but non-fatal:
	// without the binding the media credential is unavailable.
	var binding store.InstanceBinding
	err := p.store.Get(ctx, store.InstancePath(ev.Instance), &binding)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		binding.Slug = deriveSlug(ev.Instance)
		p.logger.Warn("no binding for instance, deriving slug from name",
			"instance", ev.Instance,
			"slug", binding.Slug,
		)
	default:
		return nil, fmt.Errorf("resolving instance binding: %w", err)
	}

	msgType := store.MessageTypeText
	text := ev.Text()
	var audio *string

	if ev.IsAudio() {
		msgType = store.MessageTypeAudio
		if payload := p.downloadAudio(ctx, ev, binding.APIKey); payload != "" {
			audio = &payload
		}
	} else if strings.TrimSpace(text) == "" {
		return nil, ErrIgnored
	}

	ts := ev.Data.MessageTimestamp * 1000
	if ev.Data.MessageTimestamp == 0 {
		ts = p.now().UnixMilli()
	}

	// Refresh the conversation routing binding so outbound delivery can
	// pick the instance that actually carries this conversation.
	if err := p.store.Set(ctx, store.ChatInstancePath(binding.Slug, conversationID), ev.Instance); err != nil {
		return nil, fmt.Errorf("recording chat instance: %w", err)
	}

	res, err := p.resolver.Resolve(ctx, conversationID, binding.Slug, ev.Phone())
	if err != nil {
		return nil, fmt.Errorf("resolving identity: %w", err)
	}

	msg := &store.Message{
		Role:      "user",
		Content:   text,
		Timestamp: ts,
		Meta: store.MessageMeta{
			ConversationID: conversationID,
			TenantSlug:     binding.Slug,
			TenantID:       res.TenantID,
			UserID:         res.UserID,
			ProfileReady:   res.ProfileReady,
			FirstInSession: res.FirstInSession,
			SessionStart:   res.SessionStart,
			Instance:       ev.Instance,
			MessageID:      ev.Data.Key.ID,
			PushName:       ev.Data.PushName,
			Type:           msgType,
			AudioBase64:    audio,
		},
	}

	if _, err := p.store.Push(ctx, store.MessagesPath(binding.Slug, conversationID), msg); err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}

	p.logger.Info("message enriched",
		"slug", binding.Slug,
		"conversation_id", conversationID,
		"type", msgType,
		"first_in_session", res.FirstInSession,
	)
	return msg, nil
}

// Handle runs acceptance and enrichment in one call. The webhook handler
// splits the two around the HTTP acknowledgement; Handle exists for
// callers that don't need that split.
func (p *Pipeline) Handle(ctx context.Context, ev *Event) (*store.Message, error) {
	if err := p.Accept(ev); err != nil {
		return nil, err
	}
	return p.Enrich(ctx, ev)
}

// downloadAudio fetches the voice-note payload best-effort. Failures are
// logged, never propagated: a message without its audio is still worth
// recording.
func (p *Pipeline) downloadAudio(ctx context.Context, ev *Event, apiKey string) string {
	if p.media == nil || ev.Data.Key.ID == "" {
		return ""
	}
	dctx, cancel := context.WithTimeout(ctx, mediaTimeout)
	defer cancel()

	payload, err := p.media.DownloadMedia(dctx, ev.Instance, apiKey, ev.Data.Key.ID)
	if err != nil {
		p.logger.Warn("media download failed, continuing without payload",
			"instance", ev.Instance,
			"message_id", ev.Data.Key.ID,
			"error", err,
		)
		return ""
	}
	return payload
}

// deriveSlug strips the instance naming suffix to recover a tenant slug
// from an unbound instance name.
func deriveSlug(instance string) string {
	return strings.TrimSuffix(instance, instanceSuffix)
}
