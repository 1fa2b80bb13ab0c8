package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/imglink/internal/config"
	"github.com/danmuck/imglink/internal/testutil/testlog"
)

func parse(t *testing.T, args ...string) (*flag.FlagSet, *cliFlags) {
	t.Helper()
	fset := flag.NewFlagSet("imgtx", flag.ContinueOnError)
	f := registerFlags(fset)
	if err := fset.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}
	return fset, f
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	testlog.Start(t)
	p := filepath.Join(t.TempDir(), "tx.toml")
	body := "destination = \"0013A200422B127D\"\nmax_retries = 5\nfile_retries = 1\n"
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	fset, f := parse(t, "-config", p, "-dest", "0x0013a20040522baa", "-ack-timeout", "2s", "-chunk", "100", "a.jpg")
	cfg, err := loadConfig(*f.config)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg, err = applyFlags(cfg, fset, f)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Uplink.Destination != "0013A20040522BAA" {
		t.Fatalf("dest flag not applied: %q", cfg.Uplink.Destination)
	}
	if cfg.Session.AckTimeout != 2*time.Second || cfg.Session.ChunkPayloadSize != 100 {
		t.Fatalf("unexpected session %+v", cfg.Session)
	}
	if cfg.Session.MaxRetries != 5 || cfg.Uplink.FileRetries != 1 {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if got := fileList(f, fset.Args()); len(got) != 1 || got[0] != "a.jpg" {
		t.Fatalf("unexpected file list %v", got)
	}
}

func TestFlagsRevalidate(t *testing.T) {
	testlog.Start(t)
	fset, f := parse(t, "-chunk", "4096")
	_, err := applyFlags(config.DefaultSenderConfig(), fset, f)
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for oversized chunk, got %v", err)
	}
}

func TestFileListMergesSources(t *testing.T) {
	testlog.Start(t)
	_, f := parse(t, "-file", "a.jpg, b.jpg,,")
	got := fileList(f, []string{"c.jpg"})
	if len(got) != 3 || got[0] != "a.jpg" || got[1] != "b.jpg" || got[2] != "c.jpg" {
		t.Fatalf("unexpected files %v", got)
	}
}
