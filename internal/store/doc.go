// Package store provides the shared hierarchical store used as both the
// message log and the pending-response work queue.
//
// The key space is path-addressed (slash-separated) and holds JSON values:
//
//	messages/{slug}/{conversationID}/{messageID}   append-only message log
//	responses/{slug}/{conversationID}/{id}         pending outbound responses
//	chat_instances/{slug}/{conversationID}         conversation routing binding
//	instances/{name}                               instance-to-tenant binding
//	tenants/{slug}                                 tenant record
//	user_index / phone_index / sessions            identity resolution indexes
//
// Multiple relay instances mutate the responses subtree concurrently; the
// Claim primitive is the one atomic compare-and-swap operation and the
// only sanctioned way to take exclusive ownership of an entry. All other
// writes are idempotent overwrites or uniquely-keyed pushes.
//
// SQLiteStore is the production implementation (single JSON node table,
// WAL mode). Use NewMockStore() for unit tests and NewSQLiteStore(":memory:")
// for integration tests with real SQLite.
package store
