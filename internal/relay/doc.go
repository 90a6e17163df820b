// Package relay implements the outbound delivery loop: a fixed-interval
// poll over the shared pending-responses subtree, with an atomic per-entry
// claim so multiple service instances never deliver the same response
// twice, and unconditional cleanup so every entry is eventually removed
// regardless of send outcome.
package relay
