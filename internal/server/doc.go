// Package server hosts the HTTP surface: the gateway webhook receiver,
// the admin provisioning API, and a health endpoint.
//
// The webhook handler acknowledges events immediately after cheap
// acceptance checks; enrichment continues in the background. The admin
// API is guarded by a static bearer token and is disabled outright when
// no token is configured.
package server
