package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrAlreadyRunning = errors.New("services: already running")

// Status is the runtime view of a periodic service.
type Status struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Running   bool          `json:"running"`
	Runs      uint64        `json:"runs"`
	Processed uint64        `json:"processed"`
	Failures  uint64        `json:"failures"`
	LastRun   time.Time     `json:"last_run"`
}

// loop runs sweep on a fixed ticker until stopped.
type loop struct {
	name     string
	interval time.Duration
	sweep    func(now time.Time) int
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	status Status
}

func newLoop(name string, interval time.Duration, sweep func(time.Time) int) *loop {
	return &loop{
		name:     name,
		interval: interval,
		sweep:    sweep,
		now:      time.Now,
		status:   Status{Name: name, Interval: interval},
	}
}

// Start launches the ticker goroutine. It returns once the goroutine is running.
func (l *loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.status.Running = true
	go l.run(runCtx, done)
	log.Info().Str("service", l.name).Dur("interval", l.interval).Msg("service started")
	return nil
}

func (l *loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		l.mu.Lock()
		l.status.Running = false
		l.mu.Unlock()
	}()
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("service", l.name).Msg("service stopped")
			return
		case <-ticker.C:
			l.sweep(l.now())
		}
	}
}

// Stop requests shutdown; it does not wait. Safe to call more than once.
func (l *loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the ticker goroutine has exited. It returns immediately if
// the service was never started.
func (l *loop) Wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (l *loop) record(now time.Time, processed, failures int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.Runs++
	l.status.Processed += uint64(processed)
	l.status.Failures += uint64(failures)
	l.status.LastRun = now
}

func (l *loop) snapshot() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}
