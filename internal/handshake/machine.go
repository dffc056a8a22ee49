// Package handshake implements the connection handshake and liveness state
// machine. It performs no I/O: callers feed it received control messages and
// the current time, and send whatever it asks them to send.
package handshake

import (
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/lanbridge/internal/protocol"
)

// DefaultTimeout bounds the first connect attempt.
const DefaultTimeout = 5 * time.Second

// ErrAlreadyStarted is returned by Start when the machine is not Disconnected.
var ErrAlreadyStarted = errors.New("handshake already started")

// State is the connection state owned by one bridge session.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Event is something the caller must react to after a transition.
type Event uint8

const (
	EventNone      Event = iota
	EventConnected       // HelloAck received while connecting
	EventLiveness        // Pong received while connected
	EventTimeout         // no HelloAck within the timeout
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventConnected:
		return "connected"
	case EventLiveness:
		return "liveness"
	case EventTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("Event(%d)", uint8(e))
	}
}

// Result is the output of one transition: messages to send, in order, and at
// most one event.
type Result struct {
	Send  []protocol.ControlMessage
	Event Event
}

// Config tunes the machine. Zero values select the defaults: DefaultTimeout,
// a single Hello, a bare HelloAck to a peer's Hello, and no keepalive pings.
type Config struct {
	Timeout    time.Duration // upper bound on Connecting
	HelloRetry time.Duration // resend Hello at this interval while Connecting
	Keepalive  time.Duration // send Ping at this interval while Connected

	// ReciprocalHello follows the HelloAck to a peer's Hello with a Hello of
	// our own while Connecting, so a side whose first Hello was lost still
	// collects a HelloAck.
	ReciprocalHello bool
}

// Machine is the handshake state machine. It is not safe for concurrent use;
// the bridge loop owns it.
type Machine struct {
	cfg   Config
	state State

	since     time.Time // entered Connecting
	lastHello time.Time
	lastPing  time.Time
}

// New returns a Disconnected machine.
func New(cfg Config) *Machine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Machine{cfg: cfg}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Since returns when the machine entered Connecting. Zero unless Connecting.
func (m *Machine) Since() time.Time {
	if m.state != Connecting {
		return time.Time{}
	}
	return m.since
}

// Deadline returns when the current connect attempt times out. Zero unless Connecting.
func (m *Machine) Deadline() time.Time {
	if m.state != Connecting {
		return time.Time{}
	}
	return m.since.Add(m.cfg.Timeout)
}

// Timeout returns the configured connect timeout.
func (m *Machine) Timeout() time.Duration { return m.cfg.Timeout }

// Start begins a connect attempt: Disconnected -> Connecting, send Hello.
func (m *Machine) Start(now time.Time) (Result, error) {
	if m.state != Disconnected {
		return Result{}, fmt.Errorf("%w (state %s)", ErrAlreadyStarted, m.state)
	}
	m.state = Connecting
	m.since = now
	m.lastHello = now
	return send(protocol.Hello), nil
}

// Receive applies a control message received from the authenticated peer.
// Messages that have no transition in the current state are ignored.
func (m *Machine) Receive(msg protocol.ControlMessage, now time.Time) Result {
	switch m.state {
	case Connecting:
		switch msg {
		case protocol.Hello:
			if m.cfg.ReciprocalHello {
				return send(protocol.HelloAck, protocol.Hello)
			}
			return send(protocol.HelloAck)
		case protocol.HelloAck:
			m.state = Connected
			m.lastPing = now
			return Result{Event: EventConnected}
		}

	case Connected:
		switch msg {
		case protocol.Ping:
			return send(protocol.Pong)
		case protocol.Pong:
			return Result{Event: EventLiveness}
		case protocol.Hello:
			// peer restarted its session
			return send(protocol.HelloAck)
		}
	}
	return Result{}
}

// Tick advances time. While Connecting it times the attempt out (exactly once,
// the machine returns to Disconnected) and optionally retries Hello. While
// Connected it optionally emits keepalive pings.
func (m *Machine) Tick(now time.Time) Result {
	switch m.state {
	case Connecting:
		if !now.Before(m.since.Add(m.cfg.Timeout)) {
			m.state = Disconnected
			return Result{Event: EventTimeout}
		}
		if m.cfg.HelloRetry > 0 && now.Sub(m.lastHello) >= m.cfg.HelloRetry {
			m.lastHello = now
			return send(protocol.Hello)
		}

	case Connected:
		if m.cfg.Keepalive > 0 && now.Sub(m.lastPing) >= m.cfg.Keepalive {
			m.lastPing = now
			return send(protocol.Ping)
		}
	}
	return Result{}
}

// Stop returns the machine to Disconnected from any state.
func (m *Machine) Stop() {
	m.state = Disconnected
	m.since = time.Time{}
}

func send(msgs ...protocol.ControlMessage) Result {
	return Result{Send: msgs}
}
