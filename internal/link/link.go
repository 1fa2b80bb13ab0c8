// Package link is the transport boundary between the transfer protocol and a radio.
//
// A Link moves whole frames to and from remote endpoints. It offers no ordering,
// retransmission, or flow control; the transfer package layers those on top.
package link

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/imglink/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoData is returned by Receive when the timeout elapses without a unit.
	ErrNoData          = errors.New("link: no data")
	ErrClosed          = errors.New("link: closed")
	ErrUnknownEndpoint = errors.New("link: unknown endpoint")
)

// Inbound is one unit delivered by the radio.
type Inbound struct {
	From protocol.Endpoint
	Data []byte
	At   time.Time
}

// Link is a point-to-point, unreliable frame transport.
type Link interface {
	Send(ctx context.Context, to protocol.Endpoint, data []byte) error
	Receive(ctx context.Context, timeout time.Duration) (Inbound, error)
	Close() error
}

// Handler consumes one inbound unit.
type Handler func(Inbound)

// Pump pulls units from l and hands each one to h exactly once, until ctx ends
// or the link closes. poll bounds each Receive so cancellation is observed.
func Pump(ctx context.Context, l Link, poll time.Duration, h Handler) error {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		in, err := l.Receive(ctx, poll)
		switch {
		case err == nil:
			h(in)
		case errors.Is(err, ErrNoData):
		case errors.Is(err, ErrClosed):
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			log.Warn().Err(err).Msg("link.Pump receive failed")
		}
	}
}
