// Package transfer implements the stop-and-wait image transfer protocol.
//
// The sender keeps exactly one frame in flight and advances only on a matching
// acknowledgment. The receiver accepts strictly in-order frames per endpoint; any
// gap or unexpected duplicate destroys the endpoint's session. There is no message
// telling the sender its session was destroyed: it learns only through ack timeouts,
// and a transfer that lost a session mid-way fails once retries run out.
package transfer
