// Package dedupe provides a TTL set used to suppress redelivered webhook
// events within a bounded window.
package dedupe
