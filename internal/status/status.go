// Package status is the state shared between a bridge session and the
// outside world: a bounded log, the connected flag, the shutdown request and
// the event sink.
package status

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// LogCapacity is the number of log lines kept; older lines are evicted.
const LogCapacity = 150

// EventKind identifies a status event.
type EventKind uint8

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is emitted to the sink on state changes. Reason is set for
// EventError and, when the session ended abnormally, for EventDisconnected.
type Event struct {
	Kind   EventKind
	Reason error
}

// Sink receives events. It is called from the bridge goroutine and must not block.
type Sink func(Event)

// Snapshot is a copy of the observable state at one point in time.
type Snapshot struct {
	Connected         bool     `json:"connected"`
	ShutdownRequested bool     `json:"shutdown_requested"`
	Log               []string `json:"log"`
	Total             uint64   `json:"total"` // lines ever logged
}

// Status is safe for concurrent use.
type Status struct {
	mu    sync.Mutex
	ring  [LogCapacity]string
	head  int // index of the oldest line
	size  int
	total uint64

	connected atomic.Bool
	shutdown  atomic.Bool

	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	sink Sink
}

// New returns an empty Status. sink may be nil.
func New(sink Sink) *Status {
	return &Status{
		shutdownCh: make(chan struct{}),
		sink:       sink,
	}
}

// ---------------------------------------------------------------------------
// Log
// ---------------------------------------------------------------------------

// Log appends a line, evicting the oldest when full.
func (s *Status) Log(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size < LogCapacity {
		s.ring[(s.head+s.size)%LogCapacity] = line
		s.size++
	} else {
		s.ring[s.head] = line
		s.head = (s.head + 1) % LogCapacity
	}
	s.total++
}

// Logf formats and appends a line.
func (s *Status) Logf(format string, args ...any) {
	s.Log(fmt.Sprintf(format, args...))
}

// Entries returns the retained lines, oldest first.
func (s *Status) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entriesLocked()
}

// Total returns the number of lines ever logged, including evicted ones.
func (s *Status) Total() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Status) entriesLocked() []string {
	out := make([]string, s.size)
	for i := range out {
		out[i] = s.ring[(s.head+i)%LogCapacity]
	}
	return out
}

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

func (s *Status) SetConnected(v bool) { s.connected.Store(v) }
func (s *Status) Connected() bool     { return s.connected.Load() }

// RequestShutdown asks the owning session to stop. Idempotent.
func (s *Status) RequestShutdown() {
	s.shutdown.Store(true)
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

func (s *Status) ShutdownRequested() bool { return s.shutdown.Load() }

// ShutdownSignal is closed on the first RequestShutdown.
func (s *Status) ShutdownSignal() <-chan struct{} { return s.shutdownCh }

// Emit forwards an event to the sink, if any.
func (s *Status) Emit(ev Event) {
	if s.sink != nil {
		s.sink(ev)
	}
}

// Snapshot returns a consistent copy of the observable state.
func (s *Status) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Connected:         s.connected.Load(),
		ShutdownRequested: s.shutdown.Load(),
		Log:               s.entriesLocked(),
		Total:             s.total,
	}
}
