package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/imglink/internal/logging"
	"github.com/danmuck/imglink/internal/station"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "receiver config path (defaults to cmd/imgrx/config.toml)")
	output := flag.String("output", "", "override output_directory")
	adminAddr := flag.String("admin", "", "override admin_addr")
	flag.Parse()

	logging.ConfigureRuntime("imgrx")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "imgrx: %v\n", err)
		os.Exit(1)
	}
	cfg = applyFlags(cfg, flag.CommandLine, *output, *adminAddr)

	l, err := cfg.Link.Open()
	if err != nil {
		log.Fatal().Err(err).Str("link", cfg.Link.String()).Msg("radio unavailable")
	}
	log.Info().Str("endpoint", cfg.Endpoint.String()).Str("link", cfg.Link.String()).Msg("radio open")

	st, err := station.New(cfg.Station, l)
	if err != nil {
		_ = l.Close()
		fmt.Fprintf(os.Stderr, "imgrx: %v\n", err)
		os.Exit(1)
	}
	if err := st.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "imgrx: %v\n", err)
		os.Exit(1)
	}
}
