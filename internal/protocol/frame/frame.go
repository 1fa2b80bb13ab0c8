package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/imglink/internal/protocol"
)

const (
	// HeaderLen is the fixed data frame header: seq(4) + total(4), big-endian.
	HeaderLen = 8
	// AckLen is the full acknowledgment: seq(4), big-endian.
	AckLen = 4
)

// Frame is one data unit of a fragmented transfer.
type Frame struct {
	Seq     uint32
	Total   uint32
	Payload []byte
}

// Ack confirms one accepted sequence index.
type Ack struct {
	Seq uint32
}

// Last reports whether f carries the final chunk of its transfer.
func (f Frame) Last() bool {
	return f.Total > 0 && f.Seq == f.Total-1
}

// Encode builds a data frame for chunk seq of total.
func Encode(seq, total uint32, payload []byte) []byte {
	buf := make([]byte, HeaderLen+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], seq)
	binary.BigEndian.PutUint32(buf[4:8], total)
	copy(buf[HeaderLen:], payload)
	return buf
}

// Decode parses a data frame. The payload is copied out of b.
func Decode(b []byte) (Frame, error) {
	if len(b) < HeaderLen {
		return Frame{}, fmt.Errorf("%w: %d bytes, header needs %d", protocol.ErrMalformedFrame, len(b), HeaderLen)
	}
	payload := make([]byte, len(b)-HeaderLen)
	copy(payload, b[HeaderLen:])
	return Frame{
		Seq:     binary.BigEndian.Uint32(b[0:4]),
		Total:   binary.BigEndian.Uint32(b[4:8]),
		Payload: payload,
	}, nil
}

// EncodeAck builds the acknowledgement for seq.
func EncodeAck(seq uint32) []byte {
	buf := make([]byte, AckLen)
	binary.BigEndian.PutUint32(buf, seq)
	return buf
}

// DecodeAck parses an acknowledgement. Any length other than AckLen is malformed.
func DecodeAck(b []byte) (Ack, error) {
	if len(b) != AckLen {
		return Ack{}, fmt.Errorf("%w: ack is %d bytes, want %d", protocol.ErrMalformedFrame, len(b), AckLen)
	}
	return Ack{Seq: binary.BigEndian.Uint32(b)}, nil
}

// Split cuts payload into ordered chunks of at most size bytes.
// An empty payload yields a single zero-length chunk so every transfer has at least one frame.
func Split(payload []byte, size int) [][]byte {
	if size <= 0 {
		size = 1
	}
	if len(payload) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, (len(payload)+size-1)/size)
	for i := 0; i < len(payload); i += size {
		end := i + size
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[i:end])
	}
	return chunks
}

// MaxPayload returns the chunk size that fits a link MTU once the header is added.
func MaxPayload(mtu int) int {
	if mtu <= HeaderLen {
		return 0
	}
	return mtu - HeaderLen
}
