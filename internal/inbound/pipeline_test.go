// ABOUTME: Tests for the inbound enrichment pipeline.
// ABOUTME: Covers acceptance state machine, audio best-effort, slug fallback, and log appends.

package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storelink/warelay/internal/dedupe"
	"github.com/storelink/warelay/internal/identity"
	"github.com/storelink/warelay/internal/store"
)

const testConv = "5511999887766@s.whatsapp.net"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDownloader implements MediaDownloader with a function field.
type fakeDownloader struct {
	fn    func(instance, apiKey, messageID string) (string, error)
	calls int
}

func (f *fakeDownloader) DownloadMedia(ctx context.Context, instance, apiKey, messageID string) (string, error) {
	f.calls++
	if f.fn == nil {
		return "", errors.New("no download configured")
	}
	return f.fn(instance, apiKey, messageID)
}

// newTestPipeline wires a pipeline over a seeded mock store.
func newTestPipeline(t *testing.T, media MediaDownloader) (*Pipeline, *store.MockStore) {
	t.Helper()
	s := store.NewMockStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, store.TenantPath("acme"), store.Tenant{ID: "t-1", Name: "Acme"}))
	require.NoError(t, s.Set(ctx, store.InstancePath("acme-wa"), store.InstanceBinding{
		TenantID: "t-1",
		Slug:     "acme",
		APIKey:   "instance-key",
	}))

	resolver := identity.New(s, time.Minute, testLogger())
	p := New(s, media, resolver, dedupe.New(time.Minute, 100), testLogger())
	return p, s
}

func textEvent(id, text string) *Event {
	return &Event{
		Event:    EventMessagesUpsert,
		Instance: "acme-wa",
		Data: EventData{
			Key:              EventKey{RemoteJID: testConv, ID: id},
			Message:          &EventMessage{Conversation: text},
			MessageTimestamp: 1700000000,
			PushName:         "Maria",
		},
	}
}

func messageLog(t *testing.T, s *store.MockStore, slug string) map[string]json.RawMessage {
	t.Helper()
	entries, err := s.Subtree(context.Background(), "messages/"+slug)
	require.NoError(t, err)
	return entries
}

func TestPipeline_Handle_TextMessage(t *testing.T) {
	p, s := newTestPipeline(t, nil)
	ctx := context.Background()

	msg, err := p.Handle(ctx, textEvent("wamid.1", "oi, tudo bem?"))
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, "user", msg.Role)
	assert.Equal(t, "oi, tudo bem?", msg.Content)
	assert.Equal(t, int64(1700000000000), msg.Timestamp, "seconds are converted to milliseconds")
	assert.Equal(t, "acme", msg.Meta.TenantSlug)
	assert.Equal(t, "t-1", msg.Meta.TenantID)
	assert.Equal(t, store.MessageTypeText, msg.Meta.Type)
	assert.Equal(t, "Maria", msg.Meta.PushName)
	assert.True(t, msg.Meta.FirstInSession)
	assert.Nil(t, msg.Meta.UserID)

	assert.Len(t, messageLog(t, s, "acme"), 1)

	// Routing binding refreshed
	var instance string
	require.NoError(t, s.Get(ctx, store.ChatInstancePath("acme", testConv), &instance))
	assert.Equal(t, "acme-wa", instance)
}

func TestPipeline_Accept_IgnoresOwnMessages(t *testing.T) {
	p, s := newTestPipeline(t, nil)

	ev := textEvent("wamid.1", "echo of our own send")
	ev.Data.Key.FromMe = true

	_, err := p.Handle(context.Background(), ev)
	assert.ErrorIs(t, err, ErrIgnored)
	assert.Empty(t, messageLog(t, s, "acme"), "no append and no side effects")
}

func TestPipeline_Accept_IgnoresOtherEventTypes(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	ev := textEvent("wamid.1", "hi")
	ev.Event = "connection.update"

	err := p.Accept(ev)
	assert.ErrorIs(t, err, ErrIgnored)
}

func TestPipeline_Accept_MissingConversation(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	ev := textEvent("wamid.1", "hi")
	ev.Data.Key.RemoteJID = ""

	err := p.Accept(ev)
	assert.ErrorIs(t, err, ErrNoConversation)
}

func TestPipeline_Accept_SuppressesRedelivery(t *testing.T) {
	p, s := newTestPipeline(t, nil)
	ctx := context.Background()

	_, err := p.Handle(ctx, textEvent("wamid.1", "first delivery"))
	require.NoError(t, err)

	_, err = p.Handle(ctx, textEvent("wamid.1", "first delivery"))
	assert.ErrorIs(t, err, ErrIgnored)

	assert.Len(t, messageLog(t, s, "acme"), 1)
}

func TestPipeline_Enrich_EmptyTextDropped(t *testing.T) {
	p, s := newTestPipeline(t, nil)

	_, err := p.Handle(context.Background(), textEvent("wamid.1", "   "))
	assert.ErrorIs(t, err, ErrIgnored)
	assert.Empty(t, messageLog(t, s, "acme"))
}

func TestPipeline_Enrich_AudioMessage(t *testing.T) {
	dl := &fakeDownloader{fn: func(instance, apiKey, messageID string) (string, error) {
		assert.Equal(t, "acme-wa", instance)
		assert.Equal(t, "instance-key", apiKey)
		assert.Equal(t, "wamid.a1", messageID)
		return "b64-ogg", nil
	}}
	p, _ := newTestPipeline(t, dl)

	ev := textEvent("wamid.a1", "")
	ev.Data.Message = &EventMessage{AudioMessage: &AudioMessage{Mimetype: "audio/ogg", Seconds: 4, PTT: true}}

	msg, err := p.Handle(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, store.MessageTypeAudio, msg.Meta.Type)
	require.NotNil(t, msg.Meta.AudioBase64)
	assert.Equal(t, "b64-ogg", *msg.Meta.AudioBase64)
	assert.Equal(t, 1, dl.calls)
}

func TestPipeline_Enrich_AudioDownloadFailureIsNotFatal(t *testing.T) {
	dl := &fakeDownloader{fn: func(instance, apiKey, messageID string) (string, error) {
		return "", errors.New("gateway: 500 media unavailable")
	}}
	p, s := newTestPipeline(t, dl)

	ev := textEvent("wamid.a1", "")
	ev.Data.Message = &EventMessage{AudioMessage: &AudioMessage{Mimetype: "audio/ogg"}}

	msg, err := p.Handle(context.Background(), ev)
	require.NoError(t, err, "download failure must not drop the message")

	assert.Equal(t, store.MessageTypeAudio, msg.Meta.Type)
	assert.Nil(t, msg.Meta.AudioBase64)
	assert.Len(t, messageLog(t, s, "acme"), 1)
}

func TestPipeline_Enrich_SlugFallbackWithoutBinding(t *testing.T) {
	s := store.NewMockStore()
	ctx := context.Background()
	// Tenant exists but the instance binding was never recorded.
	require.NoError(t, s.Set(ctx, store.TenantPath("acme"), store.Tenant{ID: "t-1"}))

	resolver := identity.New(s, time.Minute, testLogger())
	p := New(s, nil, resolver, nil, testLogger())

	msg, err := p.Handle(ctx, textEvent("wamid.1", "hello"))
	require.NoError(t, err)

	assert.Equal(t, "acme", msg.Meta.TenantSlug, "slug derived by stripping the instance suffix")
}

func TestPipeline_Enrich_TimestampFallback(t *testing.T) {
	p, _ := newTestPipeline(t, nil)
	p.now = func() time.Time { return time.UnixMilli(1800000000123) }

	ev := textEvent("wamid.1", "no provider timestamp")
	ev.Data.MessageTimestamp = 0

	msg, err := p.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, int64(1800000000123), msg.Timestamp)
}

func TestPipeline_Enrich_KnownUserIdentity(t *testing.T) {
	p, s := newTestPipeline(t, nil)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, store.UserIndexPath(testConv), "u-9"))
	require.NoError(t, s.Set(ctx, store.SessionPath("t-1", "u-9"), store.Session{StartedAt: 1690000000000}))

	msg, err := p.Handle(ctx, textEvent("wamid.1", "hello again"))
	require.NoError(t, err)

	require.NotNil(t, msg.Meta.UserID)
	assert.Equal(t, "u-9", *msg.Meta.UserID)
	assert.True(t, msg.Meta.ProfileReady)
	assert.False(t, msg.Meta.FirstInSession)
	assert.Equal(t, int64(1690000000000), msg.Meta.SessionStart)
}
