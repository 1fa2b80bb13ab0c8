package session

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/imglink/internal/protocol"
)

// Session is the reassembly state of one inbound transfer from one endpoint.
type Session struct {
	Endpoint protocol.Endpoint
	// ExpectedNext is the last accepted sequence index; -1 before any frame is accepted.
	ExpectedNext int32
	// Total is announced by the frame that created the session and never changes.
	Total        uint32
	Data         []byte
	Frames       int
	CreatedAt    time.Time
	LastActivity time.Time
}

// Complete reports whether every frame 0..Total-1 has been accepted.
func (s *Session) Complete() bool {
	return s.Total > 0 && s.ExpectedNext == int32(s.Total)-1
}

// Idle reports whether the session has been silent longer than timeout.
// Sessions that never accepted a frame have no activity stamp and are never idle.
func (s *Session) Idle(now time.Time, timeout time.Duration) bool {
	if s.LastActivity.IsZero() {
		return false
	}
	return now.Sub(s.LastActivity) > timeout
}

// Accept appends one in-order payload and advances the sequence cursor.
func (s *Session) Accept(seq uint32, payload []byte, at time.Time) {
	s.ExpectedNext = int32(seq)
	s.Data = append(s.Data, payload...)
	s.Frames++
	s.LastActivity = at
}

// Info is a copy-out view of a session for status surfaces.
type Info struct {
	Endpoint     protocol.Endpoint `json:"endpoint"`
	ExpectedNext int32             `json:"expected_next"`
	Total        uint32            `json:"total"`
	Bytes        int               `json:"bytes"`
	Complete     bool              `json:"complete"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
}

func (s *Session) info() Info {
	return Info{
		Endpoint:     s.Endpoint,
		ExpectedNext: s.ExpectedNext,
		Total:        s.Total,
		Bytes:        len(s.Data),
		Complete:     s.Complete(),
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
	}
}

// Completed is a finished transfer removed from the table for persistence.
type Completed struct {
	Endpoint protocol.Endpoint
	Total    uint32
	Data     []byte
}

// Table maps endpoints to at most one session, guarded by a single lock.
type Table struct {
	mu    sync.Mutex
	items map[protocol.Endpoint]*Session
}

func NewTable() *Table {
	return &Table{
		items: make(map[protocol.Endpoint]*Session),
	}
}

// Tx is the locked view handed to Table.With callbacks.
type Tx struct {
	t *Table
}

func (tx Tx) Get(ep protocol.Endpoint) (*Session, bool) {
	s, ok := tx.t.items[ep]
	return s, ok
}

func (tx Tx) Create(ep protocol.Endpoint, total uint32, now time.Time) *Session {
	s := &Session{
		Endpoint:     ep,
		ExpectedNext: -1,
		Total:        total,
		CreatedAt:    now,
	}
	tx.t.items[ep] = s
	return s
}

func (tx Tx) Evict(ep protocol.Endpoint) {
	delete(tx.t.items, ep)
}

// With runs fn while holding the table lock. fn must not block on I/O.
func (t *Table) With(fn func(tx Tx)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(Tx{t: t})
}

// EvictIdle removes incomplete sessions idle longer than timeout.
// Complete sessions are left for TakeComplete so no entry is claimed twice.
func (t *Table) EvictIdle(now time.Time, timeout time.Duration) []protocol.Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	var evicted []protocol.Endpoint
	for ep, s := range t.items {
		if s.Complete() || !s.Idle(now, timeout) {
			continue
		}
		delete(t.items, ep)
		evicted = append(evicted, ep)
	}
	sortEndpoints(evicted)
	return evicted
}

// TakeComplete removes and returns every complete session.
func (t *Table) TakeComplete() []Completed {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Completed
	for ep, s := range t.items {
		if !s.Complete() {
			continue
		}
		delete(t.items, ep)
		out = append(out, Completed{Endpoint: ep, Total: s.Total, Data: s.Data})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Endpoint < out[j].Endpoint
	})
	return out
}

func (t *Table) Get(ep protocol.Endpoint) (Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.items[ep]
	if !ok {
		return Info{}, false
	}
	return s.info(), true
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func (t *Table) List() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Info, 0, len(t.items))
	for _, s := range t.items {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Endpoint < out[j].Endpoint
	})
	return out
}

func sortEndpoints(eps []protocol.Endpoint) {
	sort.Slice(eps, func(i, j int) bool {
		return eps[i] < eps[j]
	})
}
