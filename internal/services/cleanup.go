package services

import (
	"fmt"
	"time"

	"github.com/danmuck/imglink/internal/observability"
	"github.com/danmuck/imglink/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const CleanupName = "cleanup"

// Cleanup evicts incomplete sessions that stopped receiving frames.
// Complete sessions are never touched here; Store owns them.
type Cleanup struct {
	*loop
	table   *session.Table
	timeout time.Duration
}

func NewCleanup(table *session.Table, interval, timeout time.Duration) *Cleanup {
	c := &Cleanup{table: table, timeout: timeout}
	c.loop = newLoop(CleanupName, interval, c.Sweep)
	return c
}

func (c *Cleanup) Name() string {
	return CleanupName
}

func (c *Cleanup) Status() (any, error) {
	return c.snapshot(), nil
}

func (c *Cleanup) Actions() map[string]Action {
	return map[string]Action{
		"sweep": func() (string, error) {
			return fmt.Sprintf("evicted %d", c.Sweep(time.Now())), nil
		},
	}
}

// Sweep runs one scan and returns how many sessions were evicted.
func (c *Cleanup) Sweep(now time.Time) int {
	evicted := c.table.EvictIdle(now, c.timeout)
	for _, ep := range evicted {
		log.Info().Str("endpoint", ep.String()).Dur("timeout", c.timeout).Msg("session timed out")
	}
	observability.RecordEviction("timeout", len(evicted))
	observability.SetActiveSessions(c.table.Len())
	c.record(now, len(evicted), 0)
	return len(evicted)
}
