package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	KindReceiver = "rx"
	KindSender   = "tx"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindReceiver:
		return receiverTemplate, nil
	case KindSender:
		return senderTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

// DefaultPath is where each binary looks for its config when none is given.
func DefaultPath(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindReceiver:
		return filepath.Join("cmd", "imgrx", "config.toml"), nil
	case KindSender:
		return filepath.Join("cmd", "imgtx", "config.toml"), nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

// Validate loads path as the given kind and reports any error.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindReceiver:
		_, err := LoadReceiverConfig(path)
		return err
	case KindSender:
		_, err := LoadSenderConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const receiverTemplate = `# imgrx: receiving station
endpoint = "0013A200422B127D"

link = "serial"            # serial | tcp
serial_port = "/dev/ttyUSB0"
baud = 9600
tcp_addr = "127.0.0.1:9001"

output_directory = "output"
cleanup_interval = "5s"
session_timeout = "15s"
store_interval = "5s"
poll_interval = "250ms"

admin_addr = ":9200"       # empty disables the admin http server
admin_token = ""           # bearer token required for POST action routes
cors_origins = ["http://localhost:3000"]
`

const senderTemplate = `# imgtx: sending station
destination = "0013A200422B127D"

link = "serial"            # serial | tcp
serial_port = "/dev/ttyUSB0"
baud = 9600
tcp_addr = "127.0.0.1:9001"

mtu = 255                  # chunk payload = mtu - 8
chunk_payload_size = 0     # > 0 overrides the mtu-derived size
ack_timeout = "5s"
max_retries = 3
retry_delay = "5s"

grayscale = true
downsample = true
jpeg_quality = 90

watch_directory = ""
watch_existing = false
file_retries = 0
file_retry_delay = "2s"
`
