package uplink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

var ErrNoWatchDirectory = errors.New("uplink: watch directory is required")

// Watch sends files that appear in WatchDirectory until ctx ends. Files are sent one
// at a time, each once it has stopped changing for Settle. Hidden files are ignored.
func (r *Runner) Watch(ctx context.Context) error {
	dir := strings.TrimSpace(r.cfg.WatchDirectory)
	if dir == "" {
		return ErrNoWatchDirectory
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("uplink: create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("uplink: watch %s: %w", dir, err)
	}
	log.Info().Str("dir", dir).Msg("monitoring directory")

	queue := make(chan string, r.cfg.QueueDepth)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for p := range queue {
			if ctx.Err() != nil {
				return
			}
			if err := r.process(ctx, p); err != nil {
				log.Warn().Err(err).Str("file", p).Msg("watched file not sent")
			}
		}
	}()
	defer wg.Wait()
	defer close(queue)

	pending := make(map[string]time.Time)
	if r.cfg.WatchExisting {
		existing, err := listFiles(dir)
		if err != nil {
			return err
		}
		for _, p := range existing {
			pending[p] = time.Time{}
			log.Info().Str("file", p).Msg("queued existing file")
		}
	}

	ticker := time.NewTicker(max(r.cfg.Settle/2, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !sendable(ev.Name) {
				continue
			}
			pending[ev.Name] = time.Now()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watcher error")
		case now := <-ticker.C:
			r.flush(pending, queue, now)
		}
	}
}

// flush moves settled files into the send queue in name order.
func (r *Runner) flush(pending map[string]time.Time, queue chan<- string, now time.Time) {
	ready := make([]string, 0, len(pending))
	for p, last := range pending {
		if now.Sub(last) >= r.cfg.Settle {
			ready = append(ready, p)
		}
	}
	sort.Strings(ready)
	for _, p := range ready {
		select {
		case queue <- p:
			delete(pending, p)
			log.Info().Str("file", p).Msg("enqueued file")
		default:
			return
		}
	}
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("uplink: read %s: %w", dir, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || !e.Type().IsRegular() {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

func sendable(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
