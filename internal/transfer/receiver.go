package transfer

import (
	"context"
	"time"

	"github.com/danmuck/imglink/internal/link"
	"github.com/danmuck/imglink/internal/observability"
	"github.com/danmuck/imglink/internal/protocol"
	"github.com/danmuck/imglink/internal/protocol/frame"
	"github.com/danmuck/imglink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Outcome is how the receiver disposed of one inbound unit.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeMalformed
	OutcomeComplete
	OutcomeSequenceViolation
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeComplete:
		return "complete_discarded"
	case OutcomeSequenceViolation:
		return "sequence_violation"
	default:
		return "unknown"
	}
}

// Receiver validates inbound frames against the session table and acknowledges
// accepted ones. HandleFrame is safe to call concurrently with table scans.
type Receiver struct {
	table *session.Table
	link  link.Link
}

func NewReceiver(table *session.Table, l link.Link) *Receiver {
	return &Receiver{table: table, link: l}
}

// Handler adapts the receiver to link.Pump delivery.
func (r *Receiver) Handler(ctx context.Context) link.Handler {
	return func(in link.Inbound) {
		r.HandleFrame(ctx, in.From, in.Data, in.At)
	}
}

// HandleFrame is the single entry point for one inbound unit from one endpoint.
func (r *Receiver) HandleFrame(ctx context.Context, from protocol.Endpoint, data []byte, at time.Time) Outcome {
	f, err := frame.Decode(data)
	if err != nil {
		log.Debug().Err(err).Str("from", from.String()).Msg("discarding malformed frame")
		observability.RecordFrame(OutcomeMalformed.String())
		return OutcomeMalformed
	}

	outcome := OutcomeAccepted
	var expected int32
	var total uint32
	var completed bool
	r.table.With(func(tx session.Tx) {
		s, ok := tx.Get(from)
		if !ok {
			if f.Total == 0 {
				outcome = OutcomeMalformed
				return
			}
			s = tx.Create(from, f.Total, at)
		}
		total = s.Total
		if s.Complete() {
			outcome = OutcomeComplete
			return
		}
		expected = s.ExpectedNext + 1
		if int64(f.Seq) != int64(expected) {
			tx.Evict(from)
			outcome = OutcomeSequenceViolation
			return
		}
		s.Accept(f.Seq, f.Payload, at)
		completed = s.Complete()
	})
	observability.RecordFrame(outcome.String())

	logger := log.With().Str("from", from.String()).Uint32("seq", f.Seq).Uint32("total", total).Logger()
	switch outcome {
	case OutcomeMalformed:
		logger.Debug().Msg("discarding frame announcing zero frames")
		return outcome
	case OutcomeComplete:
		logger.Debug().Msg("transfer awaiting store, discarding frame")
		return outcome
	case OutcomeSequenceViolation:
		observability.RecordEviction("sequence", 1)
		logger.Warn().Err(protocol.ErrSequenceViolation).Int32("expected", expected).Msg("session destroyed")
		return outcome
	}

	if completed {
		logger.Info().Msg("all frames received")
	} else {
		logger.Debug().Msg("frame accepted")
	}
	if err := r.link.Send(ctx, from, frame.EncodeAck(f.Seq)); err != nil {
		observability.RecordAck(false)
		logger.Warn().Err(err).Msg("ack send failed")
		return outcome
	}
	observability.RecordAck(true)
	return outcome
}
