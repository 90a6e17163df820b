// Package gateway is the typed HTTP client for the external WhatsApp
// messaging gateway.
//
// It covers the calls this service produces: instance create/delete,
// connection state, pairing artifacts, text send, and base64 media
// download. Network and non-2xx failures are normalized into *APIError,
// whose Retryable method drives the delivery loop's retry policy.
package gateway
