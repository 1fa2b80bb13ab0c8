package main

import (
	"errors"
	"flag"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/danmuck/imglink/internal/config"
	"github.com/danmuck/imglink/internal/protocol"
	"github.com/rs/zerolog/log"
)

type cliFlags struct {
	config        *string
	dest          *string
	files         *string
	watch         *string
	watchExisting *bool
	chunk         *int
	ackTimeout    *time.Duration
	retries       *int
	fileRetries   *int
}

func registerFlags(fset *flag.FlagSet) *cliFlags {
	return &cliFlags{
		config:        fset.String("config", "", "sender config path (defaults to cmd/imgtx/config.toml)"),
		dest:          fset.String("dest", "", "destination radio address (64-bit hex)"),
		files:         fset.String("file", "", "comma-delimited list of images to send"),
		watch:         fset.String("watch", "", "directory to monitor for new images"),
		watchExisting: fset.Bool("watch-existing", false, "also send files already in the watch directory"),
		chunk:         fset.Int("chunk", 0, "payload bytes per frame (overrides mtu)"),
		ackTimeout:    fset.Duration("ack-timeout", 0, "time to wait for each acknowledgment"),
		retries:       fset.Int("retries", 0, "attempts per frame"),
		fileRetries:   fset.Int("file-retries", 0, "extra attempts per file"),
	}
}

func loadConfig(path string) (config.SenderConfig, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path, _ = config.DefaultPath(config.KindSender)
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !explicit {
		log.Warn().Str("path", path).Msg("no config file, using defaults")
		return config.DefaultSenderConfig(), nil
	}
	return config.LoadSenderConfig(path)
}

// applyFlags overrides file values with flags the user actually set, then revalidates.
func applyFlags(cfg config.SenderConfig, fset *flag.FlagSet, f *cliFlags) (config.SenderConfig, error) {
	fset.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "dest":
			cfg.Uplink.Destination = protocol.ParseEndpoint(*f.dest)
		case "watch":
			cfg.Uplink.WatchDirectory = strings.TrimSpace(*f.watch)
		case "watch-existing":
			cfg.Uplink.WatchExisting = *f.watchExisting
		case "chunk":
			cfg.Session.ChunkPayloadSize = *f.chunk
		case "ack-timeout":
			cfg.Session.AckTimeout = *f.ackTimeout
		case "retries":
			cfg.Session.MaxRetries = *f.retries
		case "file-retries":
			cfg.Uplink.FileRetries = *f.fileRetries
		}
	})
	return cfg, cfg.Validate()
}

// fileList merges -file entries with positional arguments.
func fileList(f *cliFlags, args []string) []string {
	var out []string
	for _, p := range strings.Split(*f.files, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return append(out, args...)
}
