// Package config loads receiver and sender TOML files over built-in defaults.
// Only keys present in a file override a default.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/imglink/internal/protocol"
	"github.com/danmuck/imglink/internal/protocol/frame"
	"github.com/danmuck/imglink/internal/protocol/session"
	"github.com/danmuck/imglink/internal/station"
	"github.com/danmuck/imglink/internal/uplink"
)

var ErrInvalid = errors.New("config: invalid")

// DefaultMTU is the largest radio payload the default hardware accepts.
const DefaultMTU = 255

type ReceiverConfig struct {
	Endpoint protocol.Endpoint
	Link     LinkConfig
	Station  station.Config
}

type SenderConfig struct {
	Link    LinkConfig
	MTU     int
	Session session.Config
	Uplink  uplink.Config
}

func DefaultReceiverConfig() ReceiverConfig {
	return ReceiverConfig{
		Link:    DefaultLinkConfig(),
		Station: station.DefaultConfig(),
	}
}

func DefaultSenderConfig() SenderConfig {
	sess := session.DefaultConfig()
	sess.ChunkPayloadSize = frame.MaxPayload(DefaultMTU)
	return SenderConfig{
		Link:    DefaultLinkConfig(),
		MTU:     DefaultMTU,
		Session: sess,
		Uplink:  uplink.DefaultConfig(),
	}
}

type receiverFile struct {
	Endpoint        string   `toml:"endpoint"`
	Link            string   `toml:"link"`
	SerialPort      string   `toml:"serial_port"`
	Baud            int      `toml:"baud"`
	TCPAddr         string   `toml:"tcp_addr"`
	OutputDirectory string   `toml:"output_directory"`
	CleanupInterval string   `toml:"cleanup_interval"`
	SessionTimeout  string   `toml:"session_timeout"`
	StoreInterval   string   `toml:"store_interval"`
	PollInterval    string   `toml:"poll_interval"`
	AdminAddr       string   `toml:"admin_addr"`
	AdminToken      string   `toml:"admin_token"`
	CORSOrigins     []string `toml:"cors_origins"`
}

type senderFile struct {
	Destination      string `toml:"destination"`
	Link             string `toml:"link"`
	SerialPort       string `toml:"serial_port"`
	Baud             int    `toml:"baud"`
	TCPAddr          string `toml:"tcp_addr"`
	MTU              int    `toml:"mtu"`
	ChunkPayloadSize int    `toml:"chunk_payload_size"`
	AckTimeout       string `toml:"ack_timeout"`
	MaxRetries       int    `toml:"max_retries"`
	RetryDelay       string `toml:"retry_delay"`
	Grayscale        bool   `toml:"grayscale"`
	Downsample       bool   `toml:"downsample"`
	JPEGQuality      int    `toml:"jpeg_quality"`
	WatchDirectory   string `toml:"watch_directory"`
	WatchExisting    bool   `toml:"watch_existing"`
	FileRetries      int    `toml:"file_retries"`
	FileRetryDelay   string `toml:"file_retry_delay"`
}

func LoadReceiverConfig(path string) (ReceiverConfig, error) {
	cfg := DefaultReceiverConfig()

	var raw receiverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ReceiverConfig{}, fmt.Errorf("load receiver config: %w", err)
	}

	if meta.IsDefined("endpoint") {
		cfg.Endpoint = protocol.ParseEndpoint(raw.Endpoint)
	}
	overlayLink(meta, &cfg.Link, raw.Link, raw.SerialPort, raw.Baud, raw.TCPAddr)
	if meta.IsDefined("output_directory") {
		cfg.Station.OutputDirectory = strings.TrimSpace(raw.OutputDirectory)
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"cleanup_interval", raw.CleanupInterval, &cfg.Station.Session.CleanupInterval},
		{"session_timeout", raw.SessionTimeout, &cfg.Station.Session.SessionTimeout},
		{"store_interval", raw.StoreInterval, &cfg.Station.Session.StoreInterval},
		{"poll_interval", raw.PollInterval, &cfg.Station.PollInterval},
	}
	for _, d := range durations {
		if err := overlayDuration(meta, d.key, d.raw, d.dst); err != nil {
			return ReceiverConfig{}, err
		}
	}
	if meta.IsDefined("admin_addr") {
		cfg.Station.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.Station.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.Station.CORSOrigins = normalizeList(raw.CORSOrigins)
	}

	if err := cfg.Validate(); err != nil {
		return ReceiverConfig{}, err
	}
	return cfg, nil
}

func (c ReceiverConfig) Validate() error {
	if err := c.Link.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Station.OutputDirectory) == "" {
		return fmt.Errorf("%w: output_directory is required", ErrInvalid)
	}
	if err := c.Station.Session.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func LoadSenderConfig(path string) (SenderConfig, error) {
	cfg := DefaultSenderConfig()

	var raw senderFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return SenderConfig{}, fmt.Errorf("load sender config: %w", err)
	}

	if meta.IsDefined("destination") {
		cfg.Uplink.Destination = protocol.ParseEndpoint(raw.Destination)
	}
	overlayLink(meta, &cfg.Link, raw.Link, raw.SerialPort, raw.Baud, raw.TCPAddr)
	if meta.IsDefined("mtu") {
		cfg.MTU = raw.MTU
		cfg.Session.ChunkPayloadSize = frame.MaxPayload(raw.MTU)
	}
	if meta.IsDefined("chunk_payload_size") && raw.ChunkPayloadSize > 0 {
		cfg.Session.ChunkPayloadSize = raw.ChunkPayloadSize
	}
	if err := overlayDuration(meta, "ack_timeout", raw.AckTimeout, &cfg.Session.AckTimeout); err != nil {
		return SenderConfig{}, err
	}
	if meta.IsDefined("max_retries") {
		cfg.Session.MaxRetries = raw.MaxRetries
	}
	if meta.IsDefined("retry_delay") {
		var d time.Duration
		if err := overlayDuration(meta, "retry_delay", raw.RetryDelay, &d); err != nil {
			return SenderConfig{}, err
		}
		cfg.Session.RetryBackoff = FixedDelay(d)
	}
	if meta.IsDefined("grayscale") {
		cfg.Uplink.Image.Grayscale = raw.Grayscale
	}
	if meta.IsDefined("downsample") {
		cfg.Uplink.Image.Downsample = raw.Downsample
	}
	if meta.IsDefined("jpeg_quality") {
		cfg.Uplink.Image.Quality = raw.JPEGQuality
	}
	if meta.IsDefined("watch_directory") {
		cfg.Uplink.WatchDirectory = strings.TrimSpace(raw.WatchDirectory)
	}
	if meta.IsDefined("watch_existing") {
		cfg.Uplink.WatchExisting = raw.WatchExisting
	}
	if meta.IsDefined("file_retries") {
		cfg.Uplink.FileRetries = raw.FileRetries
	}
	if err := overlayDuration(meta, "file_retry_delay", raw.FileRetryDelay, &cfg.Uplink.FileRetryDelay); err != nil {
		return SenderConfig{}, err
	}

	if err := cfg.Validate(); err != nil {
		return SenderConfig{}, err
	}
	return cfg, nil
}

func (c SenderConfig) Validate() error {
	if err := c.Link.Validate(); err != nil {
		return err
	}
	if c.MTU <= frame.HeaderLen {
		return fmt.Errorf("%w: mtu must exceed the %d-byte frame header", ErrInvalid, frame.HeaderLen)
	}
	if c.Session.ChunkPayloadSize > frame.MaxPayload(c.MTU) {
		return fmt.Errorf("%w: chunk_payload_size %d does not fit mtu %d", ErrInvalid, c.Session.ChunkPayloadSize, c.MTU)
	}
	if c.Uplink.FileRetries < 0 {
		return fmt.Errorf("%w: file_retries cannot be negative", ErrInvalid)
	}
	if q := c.Uplink.Image.Quality; q < 0 || q > 100 {
		return fmt.Errorf("%w: jpeg_quality must be within 0-100", ErrInvalid)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// FixedDelay is a backoff that always waits d between attempts.
func FixedDelay(d time.Duration) session.BackoffConfig {
	return session.BackoffConfig{InitialDelay: d, Multiplier: 1, MaxDelay: d}
}

func overlayLink(meta toml.MetaData, lc *LinkConfig, kind, port string, baud int, addr string) {
	if meta.IsDefined("link") {
		lc.Kind = strings.ToLower(strings.TrimSpace(kind))
	}
	if meta.IsDefined("serial_port") {
		lc.SerialPort = strings.TrimSpace(port)
	}
	if meta.IsDefined("baud") {
		lc.Baud = baud
	}
	if meta.IsDefined("tcp_addr") {
		lc.TCPAddr = strings.TrimSpace(addr)
	}
}

func overlayDuration(meta toml.MetaData, key, raw string, dst *time.Duration) error {
	if !meta.IsDefined(key) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
