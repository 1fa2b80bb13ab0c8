package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/imglink/internal/protocol"
	"github.com/danmuck/imglink/internal/testutil/testlog"
)

func TestWriteUsesEndpointAndTimestampLayout(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	w := NewWriter(root)
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	p, err := w.Write("0013A200422B138D", at, ".jpg", []byte("img"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	want := filepath.Join(root, "0013A200422B138D", "20240309140507.jpg")
	if p != want {
		t.Fatalf("path=%q want %q", p, want)
	}
	got, err := os.ReadFile(p)
	if err != nil || string(got) != "img" {
		t.Fatalf("unexpected file content %q err=%v", got, err)
	}
}

func TestWriteAddsSuffixOnCollision(t *testing.T) {
	testlog.Start(t)
	w := NewWriter(t.TempDir())
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	first, err := w.Write("EP1", at, "jpg", []byte("a"))
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	second, err := w.Write("EP1", at, "jpg", []byte("b"))
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if first == second || filepath.Base(second) != "20240309140507-1.jpg" {
		t.Fatalf("unexpected collision naming: %q %q", first, second)
	}

	names, err := w.List("EP1")
	if err != nil || len(names) != 2 {
		t.Fatalf("list: %v %v", names, err)
	}
}

func TestWriteRejectsPathEndpoints(t *testing.T) {
	testlog.Start(t)
	w := NewWriter(t.TempDir())
	for _, ep := range []string{"", "..", "a/b", `a\b`} {
		if _, err := w.Write(protocol.Endpoint(ep), time.Now(), "jpg", nil); !errors.Is(err, ErrInvalidEndpoint) {
			t.Fatalf("endpoint %q: expected ErrInvalidEndpoint, got %v", ep, err)
		}
	}
}

func TestListMissingEndpointIsEmpty(t *testing.T) {
	testlog.Start(t)
	names, err := NewWriter(t.TempDir()).List("NOPE")
	if err != nil || len(names) != 0 {
		t.Fatalf("expected empty list, got %v err=%v", names, err)
	}
}
