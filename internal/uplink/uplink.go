// Package uplink feeds image files to a transfer.Sender, either from an explicit
// list or by watching a directory for new captures.
package uplink

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/imglink/internal/imagecodec"
	"github.com/danmuck/imglink/internal/protocol"
	"github.com/danmuck/imglink/internal/transfer"
	"github.com/rs/zerolog/log"
)

var ErrNoDestination = errors.New("uplink: destination is required")

type Config struct {
	Destination protocol.Endpoint
	Image       imagecodec.Options
	// FileRetries is how many extra times a failed file is attempted.
	FileRetries    int
	FileRetryDelay time.Duration

	WatchDirectory string
	WatchExisting  bool
	// Settle is how long a watched file must stay unchanged before it is sent.
	Settle     time.Duration
	QueueDepth int
}

func DefaultConfig() Config {
	return Config{
		Image:          imagecodec.DefaultOptions(),
		FileRetryDelay: 2 * time.Second,
		Settle:         500 * time.Millisecond,
		QueueDepth:     100,
	}
}

// Payloads is the sending half the runner drives.
type Payloads interface {
	Send(ctx context.Context, dst protocol.Endpoint, payload []byte) (transfer.Result, error)
}

type Runner struct {
	cfg    Config
	sender Payloads
}

func New(cfg Config, sender Payloads) (*Runner, error) {
	if strings.TrimSpace(cfg.Destination.String()) == "" {
		return nil, ErrNoDestination
	}
	d := DefaultConfig()
	if cfg.FileRetryDelay < 0 {
		cfg.FileRetryDelay = 0
	}
	if cfg.Settle <= 0 {
		cfg.Settle = d.Settle
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = d.QueueDepth
	}
	return &Runner{cfg: cfg, sender: sender}, nil
}

// Summary reports the outcome of a batch.
type Summary struct {
	Sent   []string
	Failed []string
}

// SendFile prepares one image and transfers it.
func (r *Runner) SendFile(ctx context.Context, path string) (transfer.Result, error) {
	payload, err := imagecodec.EncodeFile(path, r.cfg.Image)
	if err != nil {
		return transfer.Result{}, err
	}
	log.Info().Str("file", filepath.Base(path)).Int("bytes", len(payload)).Msg("image prepared")
	return r.sender.Send(ctx, r.cfg.Destination, payload)
}

// SendFiles sends paths one at a time. A failing file does not stop the batch;
// the returned error joins every per-file failure.
func (r *Runner) SendFiles(ctx context.Context, paths []string) (Summary, error) {
	var sum Summary
	var errs []error
	files := compact(paths)
	for i, p := range files {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		log.Info().Str("file", p).Int("index", i+1).Int("of", len(files)).Msg("starting file transfer")
		if err := r.process(ctx, p); err != nil {
			sum.Failed = append(sum.Failed, p)
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		sum.Sent = append(sum.Sent, p)
	}
	return sum, errors.Join(errs...)
}

// process retries a whole file up to FileRetries extra times.
func (r *Runner) process(ctx context.Context, path string) error {
	var err error
	for attempt := 0; attempt <= r.cfg.FileRetries; attempt++ {
		var res transfer.Result
		res, err = r.SendFile(ctx, path)
		if err == nil {
			log.Info().Str("file", path).Str("transfer_id", res.TransferID).Int("frames", res.Frames).Int("retries", res.Retries).Dur("elapsed", res.Elapsed).Msg("file sent")
			return nil
		}
		log.Warn().Err(err).Str("file", path).Int("attempt", attempt+1).Int("of", r.cfg.FileRetries+1).Msg("file transfer failed")
		if attempt < r.cfg.FileRetries {
			if perr := pause(ctx, r.cfg.FileRetryDelay); perr != nil {
				return perr
			}
		}
	}
	log.Error().Str("file", path).Msg("giving up on file")
	return err
}

func compact(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
