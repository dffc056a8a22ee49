package device

import (
	"sync"
	"time"
)

// DefaultPoll bounds how long one read may hold the device.
const DefaultPoll = 100 * time.Millisecond

// Exclusive serializes access to a Device: at most one Read or Write is in
// flight at a time. Reads carry a short deadline so that a reader waiting on
// an idle interface gives writers a turn every poll interval.
type Exclusive struct {
	mu   sync.Mutex
	dev  Device
	poll time.Duration
}

// NewExclusive wraps dev. A non-positive poll selects DefaultPoll.
func NewExclusive(dev Device, poll time.Duration) *Exclusive {
	if poll <= 0 {
		poll = DefaultPoll
	}
	return &Exclusive{dev: dev, poll: poll}
}

// ReadFrame reads one frame into buf. It returns an error satisfying
// IsTimeout when nothing arrived within the poll interval.
func (e *Exclusive) ReadFrame(buf []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.dev.SetReadDeadline(time.Now().Add(e.poll)); err != nil {
		return 0, err
	}
	return e.dev.Read(buf)
}

// WriteFrame writes one frame.
func (e *Exclusive) WriteFrame(frame []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dev.Write(frame)
}

// Close closes the device without taking the lock, so a blocked read is released.
func (e *Exclusive) Close() error { return e.dev.Close() }

func (e *Exclusive) Name() string { return e.dev.Name() }
func (e *Exclusive) IsTAP() bool  { return e.dev.IsTAP() }
