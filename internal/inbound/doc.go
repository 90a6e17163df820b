// Package inbound normalizes raw gateway chat events into canonical
// enriched message records and appends them to the tenant message log.
//
// Acceptance (Accept) runs before the webhook acknowledgement; enrichment
// (Enrich) runs after it, fire-and-forget, so the gateway's short
// response-time expectation is always met. Failures after the ack are
// logged only.
package inbound
