package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/imglink/internal/logging"
	"github.com/danmuck/imglink/internal/transfer"
	"github.com/danmuck/imglink/internal/uplink"
	"github.com/rs/zerolog/log"
)

func main() {
	flags := registerFlags(flag.CommandLine)
	flag.Parse()

	logging.ConfigureRuntime("imgtx")

	cfg, err := loadConfig(*flags.config)
	if err != nil {
		fail(err)
	}
	if cfg, err = applyFlags(cfg, flag.CommandLine, flags); err != nil {
		fail(err)
	}
	files := fileList(flags, flag.Args())
	if cfg.Uplink.WatchDirectory == "" && len(files) == 0 {
		fail(fmt.Errorf("nothing to send: pass -file, positional paths, or -watch"))
	}

	l, err := cfg.Link.Open()
	if err != nil {
		log.Fatal().Err(err).Str("link", cfg.Link.String()).Msg("radio unavailable")
	}
	defer l.Close()

	runner, err := uplink.New(cfg.Uplink, transfer.NewSender(l, cfg.Session))
	if err != nil {
		fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("destination", cfg.Uplink.Destination.String()).
		Str("link", cfg.Link.String()).
		Int("chunk", cfg.Session.ChunkPayloadSize).
		Dur("ack_timeout", cfg.Session.AckTimeout).
		Int("max_retries", cfg.Session.MaxRetries).
		Msg("sender ready")

	if cfg.Uplink.WatchDirectory != "" {
		err = runner.Watch(ctx)
	} else {
		var sum uplink.Summary
		sum, err = runner.SendFiles(ctx, files)
		log.Info().Int("sent", len(sum.Sent)).Int("failed", len(sum.Failed)).Msg("batch finished")
	}
	if err != nil {
		stop()
		_ = l.Close()
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "imgtx: %v\n", err)
	os.Exit(1)
}
