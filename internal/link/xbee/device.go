// Package xbee drives an XBee-class radio in API mode over a serial port or a
// serial-to-TCP bridge and exposes it as a link.Link.
package xbee

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/imglink/internal/link"
	"github.com/danmuck/imglink/internal/protocol"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

var ErrDeliveryFailed = errors.New("xbee: delivery failed")

// Options tunes device behaviour.
type Options struct {
	// SyncTimeout bounds the wait for a transmit status after each send.
	// Zero sends without waiting for status.
	SyncTimeout time.Duration
	QueueDepth  int
}

func DefaultOptions() Options {
	return Options{
		SyncTimeout: 5 * time.Second,
		QueueDepth:  128,
	}
}

// Device is a link.Link backed by an XBee in API mode.
type Device struct {
	rw   io.ReadWriteCloser
	opts Options
	now  func() time.Time

	wmu     sync.Mutex
	nextID  byte
	pmu     sync.Mutex
	pending map[byte]chan TransmitStatus

	in     chan link.Inbound
	closed chan struct{}
	once   sync.Once
	done   chan struct{}
}

var _ link.Link = (*Device)(nil)

// OpenSerial opens a local serial port at baud.
func OpenSerial(portName string, baud int, opts Options) (*Device, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("%w: open serial %s: %v", protocol.ErrTransportUnavailable, portName, err)
	}
	log.Info().Str("port", portName).Int("baud", baud).Msg("xbee serial port opened")
	return New(port, opts), nil
}

// Dial connects to a radio exposed through a serial-to-TCP bridge.
func Dial(addr string, timeout time.Duration, opts Options) (*Device, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", protocol.ErrTransportUnavailable, addr, err)
	}
	log.Info().Str("addr", addr).Msg("xbee tcp bridge connected")
	return New(conn, opts), nil
}

// New wraps an already open byte stream and starts the frame reader.
func New(rw io.ReadWriteCloser, opts Options) *Device {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultOptions().QueueDepth
	}
	d := &Device{
		rw:      rw,
		opts:    opts,
		now:     time.Now,
		nextID:  1,
		pending: make(map[byte]chan TransmitStatus),
		in:      make(chan link.Inbound, opts.QueueDepth),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.readLoop()
	return d
}

func (d *Device) Send(ctx context.Context, to protocol.Endpoint, data []byte) error {
	dst, err := ParseAddress(to)
	if err != nil {
		return err
	}
	select {
	case <-d.closed:
		return link.ErrClosed
	default:
	}

	var id byte
	var status chan TransmitStatus
	if d.opts.SyncTimeout > 0 {
		id, status = d.reserveFrameID()
		defer d.releaseFrameID(id)
	}

	d.wmu.Lock()
	_, err = d.rw.Write(EncodeAPIFrame(EncodeTransmitRequest(id, dst, data)))
	d.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("xbee: write: %w", err)
	}
	if status == nil {
		return nil
	}

	timer := time.NewTimer(d.opts.SyncTimeout)
	defer timer.Stop()
	select {
	case st := <-status:
		if !st.OK() {
			return fmt.Errorf("%w: to=%s status=%#02x retries=%d", ErrDeliveryFailed, to, st.Delivery, st.Retries)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: no transmit status from radio within %s", ErrDeliveryFailed, d.opts.SyncTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-d.closed:
		return link.ErrClosed
	}
}

func (d *Device) Receive(ctx context.Context, timeout time.Duration) (link.Inbound, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case in := <-d.in:
		return in, nil
	case <-d.done:
		return link.Inbound{}, link.ErrClosed
	case <-ctx.Done():
		return link.Inbound{}, ctx.Err()
	case <-timer.C:
		return link.Inbound{}, link.ErrNoData
	}
}

func (d *Device) Close() error {
	var err error
	d.once.Do(func() {
		close(d.closed)
		err = d.rw.Close()
		<-d.done
	})
	return err
}

// reserveFrameID picks a non-zero id; zero tells the radio not to report status.
func (d *Device) reserveFrameID() (byte, chan TransmitStatus) {
	d.pmu.Lock()
	defer d.pmu.Unlock()
	for {
		id := d.nextID
		d.nextID++
		if d.nextID == 0 {
			d.nextID = 1
		}
		if _, busy := d.pending[id]; !busy {
			ch := make(chan TransmitStatus, 1)
			d.pending[id] = ch
			return id, ch
		}
	}
}

func (d *Device) releaseFrameID(id byte) {
	d.pmu.Lock()
	delete(d.pending, id)
	d.pmu.Unlock()
}

func (d *Device) readLoop() {
	defer close(d.done)
	r := bufio.NewReader(d.rw)
	for {
		data, err := ReadAPIFrame(r)
		if err != nil {
			if errors.Is(err, ErrBadChecksum) {
				log.Debug().Msg("xbee dropped frame with bad checksum")
				continue
			}
			select {
			case <-d.closed:
			default:
				log.Error().Err(err).Msg("xbee reader stopped")
			}
			return
		}
		d.dispatch(data)
	}
}

func (d *Device) dispatch(data []byte) {
	switch data[0] {
	case FrameReceivePacket:
		pkt, err := ParseReceivePacket(data)
		if err != nil {
			return
		}
		in := link.Inbound{From: FormatAddress(pkt.Source), Data: pkt.Data, At: d.now()}
		select {
		case d.in <- in:
		default:
			log.Warn().Str("from", in.From.String()).Msg("xbee inbound queue full, unit dropped")
		}
	case FrameTransmitStatus:
		st, err := ParseTransmitStatus(data)
		if err != nil {
			return
		}
		d.pmu.Lock()
		ch, ok := d.pending[st.FrameID]
		d.pmu.Unlock()
		if ok {
			select {
			case ch <- st:
			default:
			}
		}
	default:
		log.Trace().Uint8("frame_type", data[0]).Msg("xbee ignored api frame")
	}
}
