package transfer

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/imglink/internal/link"
	"github.com/danmuck/imglink/internal/protocol"
	"github.com/danmuck/imglink/internal/protocol/frame"
	"github.com/danmuck/imglink/internal/protocol/session"
	"github.com/danmuck/imglink/internal/testutil/testlog"
)

const (
	txEndpoint protocol.Endpoint = "0013A200422B138D"
	rxEndpoint protocol.Endpoint = "0013A200422B127D"
)

func testConfig(chunk int) session.Config {
	return session.Config{
		ChunkPayloadSize: chunk,
		AckTimeout:       100 * time.Millisecond,
		MaxRetries:       3,
		RetryBackoff:     session.BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1},
	}.WithDefaults()
}

func testPayload(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*7 + 3)
	}
	return out
}

// startReceiver pumps rx into a fresh Receiver until the test ends.
func startReceiver(t *testing.T, rx link.Link) *session.Table {
	t.Helper()
	table := session.NewTable()
	recv := NewReceiver(table, rx)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = link.Pump(ctx, rx, 5*time.Millisecond, recv.Handler(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return table
}

func recvAck(t *testing.T, l link.Link) (frame.Ack, bool) {
	t.Helper()
	in, err := l.Receive(context.Background(), 50*time.Millisecond)
	if errors.Is(err, link.ErrNoData) {
		return frame.Ack{}, false
	}
	if err != nil {
		t.Fatalf("receive ack: %v", err)
	}
	ack, err := frame.DecodeAck(in.Data)
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return ack, true
}

func TestReceiverAcceptsInOrderAndAcks(t *testing.T) {
	testlog.Start(t)
	tx, rx := link.NewPipe(txEndpoint, rxEndpoint)
	table := session.NewTable()
	recv := NewReceiver(table, rx)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	for seq := uint32(0); seq < 3; seq++ {
		got := recv.HandleFrame(ctx, txEndpoint, frame.Encode(seq, 3, []byte{byte('a' + seq)}), now)
		if got != OutcomeAccepted {
			t.Fatalf("frame %d outcome=%s", seq, got)
		}
		ack, ok := recvAck(t, tx)
		if !ok || ack.Seq != seq {
			t.Fatalf("expected ack %d, got %+v ok=%v", seq, ack, ok)
		}
	}

	info, ok := table.Get(txEndpoint)
	if !ok || !info.Complete || info.Bytes != 3 || !info.LastActivity.Equal(now) {
		t.Fatalf("unexpected session info %+v ok=%v", info, ok)
	}
}

func TestReceiverDiscardsMalformedWithoutAck(t *testing.T) {
	testlog.Start(t)
	tx, rx := link.NewPipe(txEndpoint, rxEndpoint)
	table := session.NewTable()
	recv := NewReceiver(table, rx)

	if got := recv.HandleFrame(context.Background(), txEndpoint, []byte{0, 0, 1}, time.Now()); got != OutcomeMalformed {
		t.Fatalf("expected malformed, got %s", got)
	}
	if got := recv.HandleFrame(context.Background(), txEndpoint, frame.Encode(0, 0, nil), time.Now()); got != OutcomeMalformed {
		t.Fatalf("expected zero-total frame to be malformed, got %s", got)
	}
	if _, ok := recvAck(t, tx); ok {
		t.Fatalf("malformed frame must not be acknowledged")
	}
	if table.Len() != 0 {
		t.Fatalf("malformed frame must not create a session")
	}
}

func TestReceiverOrderViolationDestroysSession(t *testing.T) {
	testlog.Start(t)
	tx, rx := link.NewPipe(txEndpoint, rxEndpoint)
	table := session.NewTable()
	recv := NewReceiver(table, rx)
	ctx := context.Background()
	now := time.Now()

	for seq := uint32(0); seq <= 3; seq++ {
		recv.HandleFrame(ctx, txEndpoint, frame.Encode(seq, 8, []byte{1}), now)
		recvAck(t, tx)
	}
	if info, _ := table.Get(txEndpoint); info.ExpectedNext != 3 {
		t.Fatalf("expected ExpectedNext=3, got %d", info.ExpectedNext)
	}

	if got := recv.HandleFrame(ctx, txEndpoint, frame.Encode(5, 8, []byte{1}), now); got != OutcomeSequenceViolation {
		t.Fatalf("expected sequence violation, got %s", got)
	}
	if _, ok := table.Get(txEndpoint); ok {
		t.Fatalf("session should be destroyed after a gap")
	}
	if _, ok := recvAck(t, tx); ok {
		t.Fatalf("violating frame must not be acknowledged")
	}

	if got := recv.HandleFrame(ctx, txEndpoint, frame.Encode(0, 2, []byte("new")), now); got != OutcomeAccepted {
		t.Fatalf("expected fresh session to accept seq 0, got %s", got)
	}
	info, ok := table.Get(txEndpoint)
	if !ok || info.ExpectedNext != 0 || info.Total != 2 || info.Bytes != 3 {
		t.Fatalf("expected brand-new session, got %+v", info)
	}
}

func TestReceiverDuplicateFrameDestroysSession(t *testing.T) {
	testlog.Start(t)
	_, rx := link.NewPipe(txEndpoint, rxEndpoint)
	table := session.NewTable()
	recv := NewReceiver(table, rx)
	ctx := context.Background()

	recv.HandleFrame(ctx, txEndpoint, frame.Encode(0, 3, []byte{1}), time.Now())
	recv.HandleFrame(ctx, txEndpoint, frame.Encode(1, 3, []byte{2}), time.Now())
	if got := recv.HandleFrame(ctx, txEndpoint, frame.Encode(1, 3, []byte{2}), time.Now()); got != OutcomeSequenceViolation {
		t.Fatalf("expected duplicate to violate order, got %s", got)
	}
	if table.Len() != 0 {
		t.Fatalf("expected empty table")
	}
}

func TestReceiverCompleteSessionDiscardsFurtherFrames(t *testing.T) {
	testlog.Start(t)
	tx, rx := link.NewPipe(txEndpoint, rxEndpoint)
	table := session.NewTable()
	recv := NewReceiver(table, rx)
	ctx := context.Background()

	recv.HandleFrame(ctx, txEndpoint, frame.Encode(0, 1, []byte("only")), time.Now())
	recvAck(t, tx)
	for _, seq := range []uint32{0, 1, 5} {
		if got := recv.HandleFrame(ctx, txEndpoint, frame.Encode(seq, 1, []byte("x")), time.Now()); got != OutcomeComplete {
			t.Fatalf("seq %d expected complete discard, got %s", seq, got)
		}
	}
	info, ok := table.Get(txEndpoint)
	if !ok || !info.Complete || info.Bytes != 4 {
		t.Fatalf("complete session must be untouched, got %+v", info)
	}
	if _, ok := recvAck(t, tx); ok {
		t.Fatalf("discarded frames must not be acknowledged")
	}
}

func TestSendSixHundredBytesInThreeFrames(t *testing.T) {
	testlog.Start(t)
	tx, rx := link.NewPipe(txEndpoint, rxEndpoint)
	table := startReceiver(t, rx)

	payload := testPayload(600)
	res, err := NewSender(tx, testConfig(250)).Send(context.Background(), rxEndpoint, payload)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Frames != 3 || res.Bytes != 600 || res.Retries != 0 || res.TransferID == "" {
		t.Fatalf("unexpected result %+v", res)
	}

	done := table.TakeComplete()
	if len(done) != 1 || done[0].Endpoint != txEndpoint || done[0].Total != 3 {
		t.Fatalf("unexpected completed sessions %+v", done)
	}
	if !bytes.Equal(done[0].Data, payload) {
		t.Fatalf("reassembled payload differs from sent payload")
	}
}

func TestSendEmptyPayloadUsesSingleFrame(t *testing.T) {
	testlog.Start(t)
	tx, rx := link.NewPipe(txEndpoint, rxEndpoint)
	table := startReceiver(t, rx)

	res, err := NewSender(tx, testConfig(247)).Send(context.Background(), rxEndpoint, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Frames != 1 || res.Bytes != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	done := table.TakeComplete()
	if len(done) != 1 || len(done[0].Data) != 0 {
		t.Fatalf("expected one empty completed transfer, got %+v", done)
	}
}

func TestSendRecoversFromLostDataFrames(t *testing.T) {
	testlog.Start(t)
	tx, rx := link.NewPipe(txEndpoint, rxEndpoint)
	var mu sync.Mutex
	seen := map[uint32]int{}
	tx.Hub().SetDrop(func(from, to protocol.Endpoint, data []byte) bool {
		if from != txEndpoint {
			return false
		}
		f, err := frame.Decode(data)
		if err != nil {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		seen[f.Seq]++
		return seen[f.Seq] == 1
	})
	table := startReceiver(t, rx)

	payload := testPayload(1000)
	res, err := NewSender(tx, testConfig(94)).Send(context.Background(), rxEndpoint, payload)
	if err != nil {
		t.Fatalf("send over lossy link: %v", err)
	}
	if res.Frames != 11 || res.Retries != 11 {
		t.Fatalf("expected one retry per frame, got %+v", res)
	}
	done := table.TakeComplete()
	if len(done) != 1 || !bytes.Equal(done[0].Data, payload) {
		t.Fatalf("lossy transfer did not reassemble")
	}
}

func TestSendRetriesExhaustedReportsDeliveredPrefix(t *testing.T) {
	testlog.Start(t)
	tx, rx := link.NewPipe(txEndpoint, rxEndpoint)
	var attemptsOnOne atomic.Int32
	var attemptsOnZero atomic.Int32
	tx.Hub().SetDrop(func(from, to protocol.Endpoint, data []byte) bool {
		if from == txEndpoint {
			if f, err := frame.Decode(data); err == nil {
				switch f.Seq {
				case 0:
					attemptsOnZero.Add(1)
				case 1:
					attemptsOnOne.Add(1)
				}
			}
			return false
		}
		ack, err := frame.DecodeAck(data)
		return err == nil && ack.Seq == 1
	})
	startReceiver(t, rx)

	_, err := NewSender(tx, testConfig(250)).Send(context.Background(), rxEndpoint, testPayload(600))
	var failed *TransferFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected TransferFailedError, got %v", err)
	}
	if !errors.Is(err, protocol.ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted in chain, got %v", err)
	}
	if failed.Seq != 1 || failed.Attempts != 3 || failed.Delivered != 1 || failed.Total != 3 {
		t.Fatalf("unexpected failure detail %+v", failed)
	}
	if attemptsOnOne.Load() != 3 || attemptsOnZero.Load() != 1 {
		t.Fatalf("unexpected attempt counts: seq0=%d seq1=%d", attemptsOnZero.Load(), attemptsOnOne.Load())
	}
}

// duplicateAcker acknowledges every frame twice and replays the previous ack first.
func duplicateAcker(t *testing.T, rx link.Link, frames int) {
	t.Helper()
	go func() {
		ctx := context.Background()
		var prev *uint32
		for handled := 0; handled < frames; {
			in, err := rx.Receive(ctx, time.Second)
			if err != nil {
				return
			}
			f, err := frame.Decode(in.Data)
			if err != nil {
				continue
			}
			if prev != nil {
				_ = rx.Send(ctx, in.From, frame.EncodeAck(*prev))
			}
			_ = rx.Send(ctx, in.From, frame.EncodeAck(f.Seq))
			_ = rx.Send(ctx, in.From, frame.EncodeAck(f.Seq))
			seq := f.Seq
			prev = &seq
			handled++
		}
	}()
}

func TestSendIgnoresDuplicateAndStaleAcks(t *testing.T) {
	testlog.Start(t)
	tx, rx := link.NewPipe(txEndpoint, rxEndpoint)
	duplicateAcker(t, rx, 4)

	res, err := NewSender(tx, testConfig(10)).Send(context.Background(), rxEndpoint, testPayload(40))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Frames != 4 || res.Retries != 0 {
		t.Fatalf("duplicate acks altered sender state: %+v", res)
	}
}

func TestSendIgnoresAcksFromOtherEndpoints(t *testing.T) {
	testlog.Start(t)
	hub := link.NewHub()
	tx := hub.Attach(txEndpoint)
	rx := hub.Attach(rxEndpoint)
	rogue := hub.Attach("00000000DEADBEEF")
	_ = rx

	go func() {
		_ = rogue.Send(context.Background(), txEndpoint, frame.EncodeAck(0))
	}()
	cfg := testConfig(10)
	cfg.MaxRetries = 1
	_, err := NewSender(tx, cfg).Send(context.Background(), rxEndpoint, testPayload(5))
	if !errors.Is(err, protocol.ErrRetriesExhausted) {
		t.Fatalf("ack from a foreign endpoint must not count, got %v", err)
	}
}

func TestConcurrentSendersKeepIndependentSessions(t *testing.T) {
	testlog.Start(t)
	hub := link.NewHub()
	rx := hub.Attach(rxEndpoint)
	table := startReceiver(t, rx)

	senders := []protocol.Endpoint{"0013A20000000001", "0013A20000000002", "0013A20000000003"}
	payloads := map[protocol.Endpoint][]byte{}
	var wg sync.WaitGroup
	for i, ep := range senders {
		payloads[ep] = testPayload(300 + i*170)
		l := hub.Attach(ep)
		wg.Add(1)
		go func(ep protocol.Endpoint, l link.Link) {
			defer wg.Done()
			if _, err := NewSender(l, testConfig(64)).Send(context.Background(), rxEndpoint, payloads[ep]); err != nil {
				t.Errorf("sender %s: %v", ep, err)
			}
		}(ep, l)
	}
	wg.Wait()

	done := table.TakeComplete()
	if len(done) != len(senders) {
		t.Fatalf("expected %d completed sessions, got %d", len(senders), len(done))
	}
	for _, c := range done {
		if !bytes.Equal(c.Data, payloads[c.Endpoint]) {
			t.Fatalf("payload mismatch for %s", c.Endpoint)
		}
	}
}

func TestSendStopsOnContextCancel(t *testing.T) {
	testlog.Start(t)
	tx, _ := link.NewPipe(txEndpoint, rxEndpoint)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSender(tx, testConfig(10)).Send(ctx, rxEndpoint, testPayload(30))
	var failed *TransferFailedError
	if !errors.As(err, &failed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled TransferFailedError, got %v", err)
	}
	if failed.Delivered != 0 {
		t.Fatalf("nothing should be delivered, got %d", failed.Delivered)
	}
}

// flakyLink fails the first n Receive calls with a transient error.
type flakyLink struct {
	link.Link
	mu    sync.Mutex
	fails int
}

var errTransient = errors.New("serial: resource temporarily unavailable")

func (l *flakyLink) Receive(ctx context.Context, timeout time.Duration) (link.Inbound, error) {
	l.mu.Lock()
	if l.fails > 0 {
		l.fails--
		l.mu.Unlock()
		return link.Inbound{}, errTransient
	}
	l.mu.Unlock()
	return l.Link.Receive(ctx, timeout)
}

func TestSendWaitsOutAckWindowAfterReceiveError(t *testing.T) {
	testlog.Start(t)
	tx, rx := link.NewPipe(txEndpoint, rxEndpoint)
	table := startReceiver(t, rx)

	flaky := &flakyLink{Link: tx, fails: 2}
	payload := testPayload(30)
	res, err := NewSender(flaky, testConfig(10)).Send(context.Background(), rxEndpoint, payload)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Frames != 3 || res.Retries != 0 {
		t.Fatalf("transient receive errors must not cost an attempt, got %+v", res)
	}
	done := table.TakeComplete()
	if len(done) != 1 || !bytes.Equal(done[0].Data, payload) {
		t.Fatalf("transfer did not reassemble")
	}
}
