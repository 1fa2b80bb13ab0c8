// Package session owns receiver-side transfer state and protocol timing.
//
// Ownership boundary:
// - per-endpoint reassembly sessions and the locked table holding them
// - sender/receiver timing and retry config
// - retry backoff primitives
//
// Every read or write of a Session happens under the owning Table's lock;
// callers never retain *Session pointers outside Table.With.
package session
