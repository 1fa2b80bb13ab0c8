package xbee

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/danmuck/imglink/internal/protocol"
)

// API mode 1 (unescaped) framing.
const (
	startDelimiter = 0x7E

	FrameTransmitRequest = 0x10
	FrameTransmitStatus  = 0x8B
	FrameReceivePacket   = 0x90

	addr16Unknown = 0xFFFE

	// MaxFrameData bounds one API frame body; larger lengths are treated as line noise.
	MaxFrameData = 2048
)

var (
	ErrBadChecksum = errors.New("xbee: bad checksum")
	ErrShortFrame  = errors.New("xbee: short api frame")
	ErrBadAddress  = errors.New("xbee: bad 64-bit address")
)

// EncodeAPIFrame wraps frame data with delimiter, length and checksum.
func EncodeAPIFrame(data []byte) []byte {
	out := make([]byte, 0, len(data)+4)
	out = append(out, startDelimiter, byte(len(data)>>8), byte(len(data)))
	out = append(out, data...)
	return append(out, checksum(data))
}

// ReadAPIFrame scans r for the next valid frame and returns its frame data.
// Bytes before a start delimiter are skipped.
func ReadAPIFrame(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != startDelimiter {
			continue
		}
		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		n := int(binary.BigEndian.Uint16(lenBuf[:]))
		if n == 0 || n > MaxFrameData {
			continue
		}
		body := make([]byte, n+1)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
		data := body[:n]
		if checksum(data) != body[n] {
			return nil, ErrBadChecksum
		}
		return data, nil
	}
}

func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return 0xFF - sum
}

// EncodeTransmitRequest builds a 0x10 frame body addressed to a 64-bit node.
func EncodeTransmitRequest(frameID byte, dst uint64, payload []byte) []byte {
	data := make([]byte, 14+len(payload))
	data[0] = FrameTransmitRequest
	data[1] = frameID
	binary.BigEndian.PutUint64(data[2:10], dst)
	binary.BigEndian.PutUint16(data[10:12], addr16Unknown)
	data[12] = 0 // broadcast radius: max hops
	data[13] = 0 // options
	copy(data[14:], payload)
	return data
}

// ReceivePacket is a decoded 0x90 frame.
type ReceivePacket struct {
	Source  uint64
	Options byte
	Data    []byte
}

func ParseReceivePacket(data []byte) (ReceivePacket, error) {
	if len(data) < 12 || data[0] != FrameReceivePacket {
		return ReceivePacket{}, ErrShortFrame
	}
	payload := make([]byte, len(data)-12)
	copy(payload, data[12:])
	return ReceivePacket{
		Source:  binary.BigEndian.Uint64(data[1:9]),
		Options: data[11],
		Data:    payload,
	}, nil
}

// TransmitStatus is a decoded 0x8B frame.
type TransmitStatus struct {
	FrameID  byte
	Retries  byte
	Delivery byte
}

func (s TransmitStatus) OK() bool {
	return s.Delivery == 0
}

func ParseTransmitStatus(data []byte) (TransmitStatus, error) {
	if len(data) < 7 || data[0] != FrameTransmitStatus {
		return TransmitStatus{}, ErrShortFrame
	}
	return TransmitStatus{
		FrameID:  data[1],
		Retries:  data[4],
		Delivery: data[5],
	}, nil
}

func ParseAddress(ep protocol.Endpoint) (uint64, error) {
	v, err := strconv.ParseUint(string(protocol.ParseEndpoint(string(ep))), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadAddress, ep)
	}
	return v, nil
}

func FormatAddress(addr uint64) protocol.Endpoint {
	return protocol.Endpoint(fmt.Sprintf("%016X", addr))
}
