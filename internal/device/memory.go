package device

import (
	"fmt"
	"os"
	"sync"
	"time"
)

const memoryQueueSize = 64

// Memory is an in-process Device. Frames passed to Inject are returned by
// Read; frames passed to Write appear on Written. It needs no privileges and
// backs the bridge tests.
type Memory struct {
	name string
	tap  bool

	in  chan []byte
	out chan []byte

	mu       sync.Mutex
	deadline time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

// NewMemory returns an open in-memory device.
func NewMemory(name string, tap bool) *Memory {
	return &Memory{
		name:   name,
		tap:    tap,
		in:     make(chan []byte, memoryQueueSize),
		out:    make(chan []byte, memoryQueueSize),
		closed: make(chan struct{}),
	}
}

// Inject queues a frame as if the host had sent it through the interface.
func (m *Memory) Inject(frame []byte) error {
	b := make([]byte, len(frame))
	copy(b, frame)

	select {
	case m.in <- b:
		return nil
	case <-m.closed:
		return os.ErrClosed
	}
}

// Written delivers frames written to the device, in order.
func (m *Memory) Written() <-chan []byte { return m.out }

// Closed is closed once the device is closed.
func (m *Memory) Closed() <-chan struct{} { return m.closed }

func (m *Memory) Read(p []byte) (int, error) {
	m.mu.Lock()
	deadline := m.deadline
	m.mu.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case frame := <-m.in:
		if len(frame) > len(p) {
			return 0, fmt.Errorf("memory device: %d-byte frame exceeds %d-byte buffer", len(frame), len(p))
		}
		return copy(p, frame), nil
	case <-expired:
		return 0, os.ErrDeadlineExceeded
	case <-m.closed:
		return 0, os.ErrClosed
	}
}

func (m *Memory) Write(p []byte) (int, error) {
	select {
	case <-m.closed:
		return 0, os.ErrClosed
	default:
	}

	b := make([]byte, len(p))
	copy(b, p)

	select {
	case m.out <- b:
		return len(p), nil
	case <-m.closed:
		return 0, os.ErrClosed
	}
}

func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *Memory) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	m.deadline = t
	m.mu.Unlock()
	return nil
}

func (m *Memory) Name() string { return m.name }
func (m *Memory) IsTAP() bool  { return m.tap }
