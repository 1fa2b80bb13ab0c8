// Package station wires the receiving side: inbound pump, session table,
// background services and the admin surface.
package station

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/imglink/internal/admin"
	"github.com/danmuck/imglink/internal/imagecodec"
	"github.com/danmuck/imglink/internal/link"
	"github.com/danmuck/imglink/internal/protocol/session"
	"github.com/danmuck/imglink/internal/services"
	"github.com/danmuck/imglink/internal/storage"
	"github.com/danmuck/imglink/internal/transfer"
	"github.com/rs/zerolog/log"
)

var ErrNoLink = errors.New("station: link is required")

type Config struct {
	Name            string
	Session         session.Config
	OutputDirectory string
	PollInterval    time.Duration
	AdminAddr       string
	AdminToken      string
	CORSOrigins     []string
}

func DefaultConfig() Config {
	return Config{
		Name:            "imgrx",
		Session:         session.DefaultConfig(),
		OutputDirectory: "output",
		PollInterval:    250 * time.Millisecond,
		AdminAddr:       ":9200",
	}
}

type Station struct {
	cfg      Config
	link     link.Link
	table    *session.Table
	receiver *transfer.Receiver
	cleanup  *services.Cleanup
	store    *services.Store
	registry *services.ServiceRegistry
	admin    *admin.Server
}

func New(cfg Config, l link.Link) (*Station, error) {
	if l == nil {
		return nil, ErrNoLink
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	table := session.NewTable()
	writer := storage.NewWriter(cfg.OutputDirectory)
	s := &Station{
		cfg:      cfg,
		link:     l,
		table:    table,
		receiver: transfer.NewReceiver(table, l),
		cleanup:  services.NewCleanup(table, cfg.Session.CleanupInterval, cfg.Session.SessionTimeout),
		store:    services.NewStore(table, cfg.Session.StoreInterval, imagecodec.Finalizer{}, writer),
		registry: services.NewServiceRegistry(),
	}
	s.registry.Register(s.cleanup)
	s.registry.Register(s.store)
	if strings.TrimSpace(cfg.AdminAddr) != "" {
		s.admin = admin.New(admin.Config{
			Name:        cfg.Name,
			Addr:        cfg.AdminAddr,
			CORSOrigins: cfg.CORSOrigins,
			ActionToken: cfg.AdminToken,
		}, table, s.registry, writer)
	}
	return s, nil
}

func (s *Station) Table() *session.Table {
	return s.table
}

func (s *Station) Services() *services.ServiceRegistry {
	return s.registry
}

// Run blocks until SIGINT or SIGTERM.
func (s *Station) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs until ctx ends or the admin server fails. Every goroutine it starts
// has exited before the link is closed.
func (s *Station) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.cleanup.Start(ctx); err != nil {
		return err
	}
	if err := s.store.Start(ctx); err != nil {
		s.cleanup.Stop()
		s.cleanup.Wait()
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := link.Pump(ctx, s.link, s.cfg.PollInterval, s.receiver.Handler(ctx)); err != nil {
			log.Error().Err(err).Msg("inbound pump stopped")
		}
	}()

	adminErr := make(chan error, 1)
	if s.admin != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adminErr <- s.admin.Serve(ctx)
		}()
	}

	log.Info().
		Str("station", s.cfg.Name).
		Str("output", s.cfg.OutputDirectory).
		Dur("session_timeout", s.cfg.Session.SessionTimeout).
		Str("admin", s.cfg.AdminAddr).
		Msg("station receiving")

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-adminErr:
		if err != nil {
			runErr = err
			log.Error().Err(err).Msg("admin http failed")
		}
	}

	cancel()
	s.cleanup.Stop()
	s.store.Stop()
	s.cleanup.Wait()
	s.store.Wait()
	wg.Wait()

	if n := s.store.Sweep(time.Now()); n > 0 {
		log.Info().Int("stored", n).Msg("stored completed transfers on shutdown")
	}
	if err := s.link.Close(); err != nil {
		log.Warn().Err(err).Msg("link close failed")
	}
	log.Info().Str("station", s.cfg.Name).Int("abandoned_sessions", s.table.Len()).Msg("station stopped")
	return runErr
}
