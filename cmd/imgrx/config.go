package main

import (
	"errors"
	"flag"
	"io/fs"
	"os"
	"strings"

	"github.com/danmuck/imglink/internal/config"
	"github.com/rs/zerolog/log"
)

// loadConfig reads path, or the default location when path is empty. A missing
// default file is not an error: built-in defaults apply.
func loadConfig(path string) (config.ReceiverConfig, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path, _ = config.DefaultPath(config.KindReceiver)
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !explicit {
		log.Warn().Str("path", path).Msg("no config file, using defaults")
		cfg := config.DefaultReceiverConfig()
		return cfg, cfg.Validate()
	}
	return config.LoadReceiverConfig(path)
}

// applyFlags overrides file values with flags the user actually set.
func applyFlags(cfg config.ReceiverConfig, fset *flag.FlagSet, output, adminAddr string) config.ReceiverConfig {
	fset.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "output":
			cfg.Station.OutputDirectory = strings.TrimSpace(output)
		case "admin":
			cfg.Station.AdminAddr = strings.TrimSpace(adminAddr)
		}
	})
	return cfg
}
