// ABOUTME: Webhook event envelope reported by the WhatsApp gateway
// ABOUTME: Mirrors the gateway's messages.upsert payload shape

package inbound

import "strings"

// EventMessagesUpsert is the only event type that produces an enriched
// message; everything else the gateway reports is ignored.
const EventMessagesUpsert = "messages.upsert"

// Event is the raw webhook envelope delivered by the gateway.
type Event struct {
	Event    string    `json:"event"`
	Instance string    `json:"instance"`
	Data     EventData `json:"data"`
}

// EventData is the message payload of an upsert event.
type EventData struct {
	Key              EventKey      `json:"key"`
	Message          *EventMessage `json:"message"`
	MessageTimestamp int64         `json:"messageTimestamp"` // seconds
	PushName         string        `json:"pushName"`
}

// EventKey identifies the message and its conversation.
type EventKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// EventMessage holds the message body variants. Exactly one of the plain
// conversation text, the extended text, or the audio descriptor is set.
type EventMessage struct {
	Conversation        string        `json:"conversation,omitempty"`
	ExtendedTextMessage *ExtendedText `json:"extendedTextMessage,omitempty"`
	AudioMessage        *AudioMessage `json:"audioMessage,omitempty"`
}

// ExtendedText is the gateway's wrapper for quoted/formatted text.
type ExtendedText struct {
	Text string `json:"text"`
}

// AudioMessage describes a voice note; the payload itself is fetched
// separately through the media-download call.
type AudioMessage struct {
	Mimetype string `json:"mimetype,omitempty"`
	Seconds  int    `json:"seconds,omitempty"`
	PTT      bool   `json:"ptt,omitempty"`
}

// ConversationID returns the stable conversation identifier of the event.
func (e *Event) ConversationID() string {
	return e.Data.Key.RemoteJID
}

// Text returns the plain text body of the event, if any.
func (e *Event) Text() string {
	if e.Data.Message == nil {
		return ""
	}
	if e.Data.Message.Conversation != "" {
		return e.Data.Message.Conversation
	}
	if e.Data.Message.ExtendedTextMessage != nil {
		return e.Data.Message.ExtendedTextMessage.Text
	}
	return ""
}

// IsAudio reports whether the event carries a voice note.
func (e *Event) IsAudio() bool {
	return e.Data.Message != nil && e.Data.Message.AudioMessage != nil
}

// Phone extracts the sender's phone number from the conversation id
// (the part before the "@" of the JID).
func (e *Event) Phone() string {
	jid := e.Data.Key.RemoteJID
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}
