package services

import (
	"fmt"
	"time"

	"github.com/danmuck/imglink/internal/observability"
	"github.com/danmuck/imglink/internal/protocol"
	"github.com/danmuck/imglink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const StoreName = "store"

// Finalizer turns reassembled bytes into persistable content and a file extension.
type Finalizer interface {
	Finalize(data []byte) ([]byte, string, error)
}

// Writer persists finalized content for an endpoint.
type Writer interface {
	Write(ep protocol.Endpoint, at time.Time, ext string, data []byte) (string, error)
}

// Store persists completed sessions and removes them from the table.
type Store struct {
	*loop
	table  *session.Table
	final  Finalizer
	writer Writer
}

func NewStore(table *session.Table, interval time.Duration, final Finalizer, writer Writer) *Store {
	s := &Store{table: table, final: final, writer: writer}
	s.loop = newLoop(StoreName, interval, s.Sweep)
	return s
}

func (s *Store) Name() string {
	return StoreName
}

func (s *Store) Status() (any, error) {
	return s.snapshot(), nil
}

func (s *Store) Actions() map[string]Action {
	return map[string]Action{
		"sweep": func() (string, error) {
			return fmt.Sprintf("stored %d", s.Sweep(time.Now())), nil
		},
	}
}

// Sweep persists every complete session and returns how many were written.
// A session whose content cannot be finalized or written is dropped, never retried.
func (s *Store) Sweep(now time.Time) int {
	done := s.table.TakeComplete()
	stored, failed := 0, 0
	for _, c := range done {
		logger := log.With().Str("endpoint", c.Endpoint.String()).Uint32("frames", c.Total).Int("bytes", len(c.Data)).Logger()
		if err := s.persist(c, now); err != nil {
			failed++
			observability.RecordStored(false, len(c.Data))
			logger.Error().Err(err).Msg("dropping completed transfer")
			continue
		}
		stored++
		observability.RecordStored(true, len(c.Data))
	}
	if len(done) > 0 {
		observability.SetActiveSessions(s.table.Len())
	}
	s.record(now, stored, failed)
	return stored
}

func (s *Store) persist(c session.Completed, now time.Time) error {
	data, ext, err := s.final.Finalize(c.Data)
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	p, err := s.writer.Write(c.Endpoint, now, ext, data)
	if err != nil {
		return err
	}
	log.Info().Str("endpoint", c.Endpoint.String()).Str("path", p).Int("bytes", len(data)).Msg("transfer stored")
	return nil
}
