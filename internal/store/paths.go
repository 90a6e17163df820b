// ABOUTME: Path constructors for the shared store key space
// ABOUTME: Centralizes the layout contract shared with the bot and provisioning surfaces

package store

import "strings"

// ResponsesPrefix is the root of the pending-responses work queue,
// laid out as responses/{slug}/{conversationID}/{responseID}.
const ResponsesPrefix = "responses"

// MessagesPath is the append-only message log for a conversation.
func MessagesPath(slug, conversationID string) string {
	return "messages/" + slug + "/" + conversationID
}

// ResponsePath addresses a single pending response entry.
func ResponsePath(slug, conversationID, responseID string) string {
	return ResponsesPrefix + "/" + slug + "/" + conversationID + "/" + responseID
}

// ChatInstancePath is the conversation-to-instance routing binding,
// refreshed on every inbound message.
func ChatInstancePath(slug, conversationID string) string {
	return "chat_instances/" + slug + "/" + conversationID
}

// InstancePath maps a gateway instance name to its tenant binding.
func InstancePath(name string) string {
	return "instances/" + name
}

// TenantPath is the tenant record keyed by slug.
func TenantPath(slug string) string {
	return "tenants/" + slug
}

// UserIndexPath maps a conversation id to a resolved user id.
func UserIndexPath(conversationID string) string {
	return "user_index/" + conversationID
}

// PhoneIndexPath maps a normalized phone number to a user id.
func PhoneIndexPath(phone string) string {
	return "phone_index/" + phone
}

// SessionPath is the session-index entry for a tenant/user pair.
func SessionPath(tenantID, userID string) string {
	return "sessions/" + tenantID + "/" + userID
}

// SplitResponseKey splits a Subtree key relative to ResponsesPrefix into
// its slug, conversation id, and response id parts. Returns false for keys
// that do not have exactly three segments.
func SplitResponseKey(key string) (slug, conversationID, responseID string, ok bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
