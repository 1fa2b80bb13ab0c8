// Package storage persists reassembled transfers on the local filesystem.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/danmuck/imglink/internal/protocol"
)

const (
	// TimeLayout names files by the second they were stored.
	TimeLayout     = "20060102150405"
	maxCollisions  = 1000
	defaultRootDir = "output"
)

var ErrInvalidEndpoint = errors.New("storage: invalid endpoint")

// Writer lays out files as <root>/<endpoint>/<YYYYmmddHHMMSS>.<ext>.
type Writer struct {
	root string
}

func NewWriter(root string) Writer {
	resolved := strings.TrimSpace(root)
	if resolved == "" {
		resolved = defaultRootDir
	}
	return Writer{root: resolved}
}

func (w Writer) Root() string {
	return w.root
}

// Write stores data for ep and returns the created path. Two writes landing in the
// same second get a numeric suffix instead of overwriting each other.
func (w Writer) Write(ep protocol.Endpoint, at time.Time, ext string, data []byte) (string, error) {
	dir, err := w.endpointDir(ep)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir %s: %w", dir, err)
	}
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	stamp := at.Format(TimeLayout)
	for i := 0; i < maxCollisions; i++ {
		name := stamp + "." + ext
		if i > 0 {
			name = fmt.Sprintf("%s-%d.%s", stamp, i, ext)
		}
		p := filepath.Join(dir, name)
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("storage: create %s: %w", p, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			_ = os.Remove(p)
			return "", fmt.Errorf("storage: write %s: %w", p, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("storage: close %s: %w", p, err)
		}
		return p, nil
	}
	return "", fmt.Errorf("storage: too many files for %s at %s", ep, stamp)
}

// List returns stored file names for ep, oldest first.
func (w Writer) List(ep protocol.Endpoint) ([]string, error) {
	dir, err := w.endpointDir(ep)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (w Writer) endpointDir(ep protocol.Endpoint) (string, error) {
	name := strings.TrimSpace(ep.String())
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidEndpoint, ep)
	}
	return filepath.Join(w.root, name), nil
}
