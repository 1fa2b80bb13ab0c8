// Package protocol owns the image link wire contract and its error taxonomy.
//
// Ownership boundary:
// - frame/ack codec primitives (frame)
// - session table and protocol timing config (session)
// - shared sentinel errors
package protocol
