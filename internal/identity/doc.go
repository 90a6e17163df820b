// Package identity resolves conversation ids to tenant, user, and session
// identity, memoized in a process-local TTL cache so inbound enrichment
// does not hit the store on every message.
package identity
