package xbee

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/imglink/internal/testutil/testlog"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestEncodeTransmitRequestMatchesReferenceFrame(t *testing.T) {
	testlog.Start(t)
	got := EncodeAPIFrame(EncodeTransmitRequest(0x01, 0x0013A200400A0127, []byte("TxData0A")))
	want := append(mustHex(t, "7E0016100100"+"13A200400A0127FFFE0000"), append([]byte("TxData0A"), 0x13)...)
	if !bytes.Equal(got, want) {
		t.Fatalf("frame mismatch\n got % X\nwant % X", got, want)
	}
}

func TestReadAPIFrameSkipsNoiseAndParsesReceivePacket(t *testing.T) {
	testlog.Start(t)
	body := append(mustHex(t, "900013A20040522BAAFFFE01"), []byte("RxData")...)
	stream := append([]byte{0x00, 0x42}, EncodeAPIFrame(body)...)

	data, err := ReadAPIFrame(bufio.NewReader(bytes.NewReader(stream)))
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(data, body) {
		t.Fatalf("unexpected frame data % X", data)
	}
	pkt, err := ParseReceivePacket(data)
	if err != nil {
		t.Fatalf("parse receive packet: %v", err)
	}
	if FormatAddress(pkt.Source) != "0013A20040522BAA" || string(pkt.Data) != "RxData" {
		t.Fatalf("unexpected packet: %+v", pkt)
	}
}

func TestReadAPIFrameRejectsBadChecksum(t *testing.T) {
	testlog.Start(t)
	frame := EncodeAPIFrame([]byte{FrameReceivePacket, 1, 2, 3})
	frame[len(frame)-1] ^= 0xFF
	if _, err := ReadAPIFrame(bufio.NewReader(bytes.NewReader(frame))); !errors.Is(err, ErrBadChecksum) {
		t.Fatalf("expected ErrBadChecksum, got %v", err)
	}
}

func TestParseAddressNormalizes(t *testing.T) {
	testlog.Start(t)
	v, err := ParseAddress(" 0x0013a200422b127d ")
	if err != nil || v != 0x0013A200422B127D {
		t.Fatalf("unexpected address %#x err=%v", v, err)
	}
	if _, err := ParseAddress("not-hex"); !errors.Is(err, ErrBadAddress) {
		t.Fatalf("expected ErrBadAddress, got %v", err)
	}
}

// fakeRadio answers transmit requests on the far side of a net.Pipe.
func fakeRadio(t *testing.T, conn net.Conn, delivery byte, sent chan<- []byte) {
	t.Helper()
	go func() {
		r := bufio.NewReader(conn)
		for {
			data, err := ReadAPIFrame(r)
			if err != nil {
				return
			}
			if data[0] != FrameTransmitRequest {
				continue
			}
			sent <- data
			status := []byte{FrameTransmitStatus, data[1], 0xFF, 0xFE, 0x00, delivery, 0x00}
			if _, err := conn.Write(EncodeAPIFrame(status)); err != nil {
				return
			}
		}
	}()
}

func TestDeviceSendWaitsForTransmitStatus(t *testing.T) {
	testlog.Start(t)
	local, remote := net.Pipe()
	dev := New(local, Options{SyncTimeout: time.Second})
	defer dev.Close()

	sent := make(chan []byte, 1)
	fakeRadio(t, remote, 0x00, sent)

	if err := dev.Send(context.Background(), "0013A200422B127D", []byte{0, 0, 0, 1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	data := <-sent
	if !bytes.Equal(data[2:10], mustHex(t, "0013A200422B127D")) || !bytes.Equal(data[14:], []byte{0, 0, 0, 1}) {
		t.Fatalf("unexpected transmit request % X", data)
	}
}

func TestDeviceSendSurfacesDeliveryFailure(t *testing.T) {
	testlog.Start(t)
	local, remote := net.Pipe()
	dev := New(local, Options{SyncTimeout: time.Second})
	defer dev.Close()

	sent := make(chan []byte, 1)
	fakeRadio(t, remote, 0x21, sent)

	err := dev.Send(context.Background(), "0013A200422B127D", []byte{1})
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
}

func TestDeviceReceiveDeliversInbound(t *testing.T) {
	testlog.Start(t)
	local, remote := net.Pipe()
	dev := New(local, Options{})
	defer dev.Close()

	body := append(mustHex(t, "900013A200422B138DFFFE01"), 0, 0, 0, 7)
	go func() {
		_, _ = remote.Write(EncodeAPIFrame(body))
	}()

	in, err := dev.Receive(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if in.From != "0013A200422B138D" || !bytes.Equal(in.Data, []byte{0, 0, 0, 7}) || in.At.IsZero() {
		t.Fatalf("unexpected inbound %+v", in)
	}
}
