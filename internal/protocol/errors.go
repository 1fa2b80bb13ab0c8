package protocol

import "errors"

var (
	ErrMalformedFrame       = errors.New("protocol: malformed frame")
	ErrSequenceViolation    = errors.New("protocol: sequence violation")
	ErrSessionComplete      = errors.New("protocol: session already complete")
	ErrAckTimeout           = errors.New("protocol: ack timeout")
	ErrRetriesExhausted     = errors.New("protocol: retries exhausted")
	ErrTransportUnavailable = errors.New("protocol: transport unavailable")
)
