package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/imglink/internal/link"
	"github.com/danmuck/imglink/internal/link/xbee"
)

const (
	LinkSerial = "serial"
	LinkTCP    = "tcp"
)

// LinkConfig selects how the local radio is reached: a serial port, or a TCP
// bridge exposing the same API-frame byte stream.
type LinkConfig struct {
	Kind        string
	SerialPort  string
	Baud        int
	TCPAddr     string
	DialTimeout time.Duration
	SyncTimeout time.Duration
}

func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		Kind:        LinkSerial,
		SerialPort:  "/dev/ttyUSB0",
		Baud:        9600,
		TCPAddr:     "127.0.0.1:9001",
		DialTimeout: 5 * time.Second,
		SyncTimeout: xbee.DefaultOptions().SyncTimeout,
	}
}

func (lc LinkConfig) Validate() error {
	switch lc.Kind {
	case LinkSerial:
		if strings.TrimSpace(lc.SerialPort) == "" {
			return fmt.Errorf("%w: serial_port is required for link=serial", ErrInvalid)
		}
		if lc.Baud <= 0 {
			return fmt.Errorf("%w: baud must be positive", ErrInvalid)
		}
	case LinkTCP:
		if strings.TrimSpace(lc.TCPAddr) == "" {
			return fmt.Errorf("%w: tcp_addr is required for link=tcp", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown link %q (serial|tcp)", ErrInvalid, lc.Kind)
	}
	return nil
}

// Open connects to the radio. Failures wrap protocol.ErrTransportUnavailable.
func (lc LinkConfig) Open() (link.Link, error) {
	opts := xbee.DefaultOptions()
	opts.SyncTimeout = lc.SyncTimeout
	var (
		dev *xbee.Device
		err error
	)
	switch lc.Kind {
	case LinkTCP:
		dev, err = xbee.Dial(lc.TCPAddr, lc.DialTimeout, opts)
	default:
		dev, err = xbee.OpenSerial(lc.SerialPort, lc.Baud, opts)
	}
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func (lc LinkConfig) String() string {
	if lc.Kind == LinkTCP {
		return "tcp://" + lc.TCPAddr
	}
	return fmt.Sprintf("serial://%s@%d", lc.SerialPort, lc.Baud)
}
