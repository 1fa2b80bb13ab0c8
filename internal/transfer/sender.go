package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/danmuck/imglink/internal/link"
	"github.com/danmuck/imglink/internal/observability"
	"github.com/danmuck/imglink/internal/protocol"
	"github.com/danmuck/imglink/internal/protocol/frame"
	"github.com/danmuck/imglink/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Result summarizes one successful transfer.
type Result struct {
	TransferID  string
	Destination protocol.Endpoint
	Frames      int
	Bytes       int
	Retries     int
	Elapsed     time.Duration
}

// Sender drives stop-and-wait delivery of one payload at a time.
// A Sender is not safe for concurrent Send calls on the same link.
type Sender struct {
	link link.Link
	cfg  session.Config
	rng  *rand.Rand
}

func NewSender(l link.Link, cfg session.Config) *Sender {
	return &Sender{
		link: l,
		cfg:  cfg.WithDefaults(),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Send fragments payload and delivers each frame in order, waiting for a matching
// acknowledgment before advancing. It fails with *TransferFailedError once any frame
// exhausts its attempts; frames already delivered are not rolled back.
func (s *Sender) Send(ctx context.Context, dst protocol.Endpoint, payload []byte) (Result, error) {
	chunks := frame.Split(payload, s.cfg.ChunkPayloadSize)
	total := uint32(len(chunks))
	res := Result{
		TransferID:  uuid.NewString(),
		Destination: dst,
	}
	start := time.Now()
	logger := log.With().Str("transfer_id", res.TransferID).Str("destination", dst.String()).Logger()
	logger.Info().Int("bytes", len(payload)).Uint32("frames", total).Int("chunk_size", s.cfg.ChunkPayloadSize).Msg("transfer starting")

	for i, chunk := range chunks {
		seq := uint32(i)
		attempts, err := s.deliver(ctx, dst, seq, total, chunk)
		res.Retries += attempts - 1
		if err != nil {
			res.Elapsed = time.Since(start)
			observability.RecordTransfer(false, res.Elapsed)
			failure := &TransferFailedError{
				TransferID:  res.TransferID,
				Destination: dst,
				Seq:         seq,
				Attempts:    attempts,
				Delivered:   res.Frames,
				Total:       int(total),
				Err:         err,
			}
			logger.Error().Err(err).Uint32("seq", seq).Int("attempts", attempts).Int("delivered", res.Frames).Msg("transfer failed")
			return res, failure
		}
		res.Frames++
		res.Bytes += len(chunk)
		logger.Debug().Uint32("seq", seq).Uint32("total", total).Int("attempts", attempts).Msg("frame acknowledged")
	}

	res.Elapsed = time.Since(start)
	observability.RecordTransfer(true, res.Elapsed)
	logger.Info().Int("frames", res.Frames).Int("retries", res.Retries).Dur("elapsed", res.Elapsed).Msg("transfer complete")
	return res, nil
}

// deliver sends one frame until acknowledged or out of attempts.
// It returns the number of attempts made.
func (s *Sender) deliver(ctx context.Context, dst protocol.Endpoint, seq, total uint32, chunk []byte) (int, error) {
	wire := frame.Encode(seq, total, chunk)
	for attempt := 1; ; attempt++ {
		err := s.link.Send(ctx, dst, wire)
		switch {
		case err == nil:
			acked, waitErr := s.awaitAck(ctx, dst, seq)
			if waitErr != nil {
				return attempt, waitErr
			}
			if acked {
				observability.RecordSendAttempt("acked")
				return attempt, nil
			}
			observability.RecordSendAttempt("timeout")
			log.Warn().Err(protocol.ErrAckTimeout).Uint32("seq", seq).Int("attempt", attempt).Int("max", s.cfg.MaxRetries).Msg("no ack")
		case ctx.Err() != nil:
			return attempt, ctx.Err()
		case errors.Is(err, link.ErrClosed):
			return attempt, fmt.Errorf("%w: %v", protocol.ErrTransportUnavailable, err)
		default:
			observability.RecordSendAttempt("send_error")
			log.Warn().Err(err).Uint32("seq", seq).Int("attempt", attempt).Msg("frame send failed")
		}

		if attempt >= s.cfg.MaxRetries {
			return attempt, protocol.ErrRetriesExhausted
		}
		if err := sleepCtx(ctx, session.NextBackoffDelay(s.cfg.RetryBackoff, attempt, s.rng)); err != nil {
			return attempt, err
		}
	}
}

// awaitAck drains inbound units until an ack for seq from dst arrives or AckTimeout passes.
// Acks for other sequence indexes and units from other endpoints are ignored.
func (s *Sender) awaitAck(ctx context.Context, dst protocol.Endpoint, seq uint32) (bool, error) {
	deadline := time.Now().Add(s.cfg.AckTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		in, err := s.link.Receive(ctx, remaining)
		if err != nil {
			switch {
			case errors.Is(err, link.ErrNoData):
				return false, nil
			case ctx.Err() != nil:
				return false, ctx.Err()
			case errors.Is(err, link.ErrClosed):
				return false, fmt.Errorf("%w: %v", protocol.ErrTransportUnavailable, err)
			default:
				log.Warn().Err(err).Msg("ack receive failed")
				if err := sleepCtx(ctx, min(time.Until(deadline), receiveErrorPause)); err != nil {
					return false, err
				}
				continue
			}
		}
		if in.From != dst {
			log.Debug().Str("from", in.From.String()).Msg("ignoring unit from unexpected endpoint")
			continue
		}
		ack, err := frame.DecodeAck(in.Data)
		if err != nil {
			log.Debug().Err(err).Msg("ignoring non-ack unit")
			continue
		}
		if ack.Seq == seq {
			return true, nil
		}
		log.Debug().Uint32("ack", ack.Seq).Uint32("want", seq).Msg("ignoring stale ack")
	}
}

// receiveErrorPause spaces out Receive calls after a transient link error.
const receiveErrorPause = 10 * time.Millisecond

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
