// Package bridge runs one bridging session: it owns the virtual interface and
// the UDP socket, drives the handshake, and relays frames in both directions
// until it is shut down or fails.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	pion "github.com/pion/transport/v4"
	"github.com/pion/transport/v4/stdnet"

	"github.com/1ureka/lanbridge/internal/device"
	"github.com/1ureka/lanbridge/internal/handshake"
	"github.com/1ureka/lanbridge/internal/protocol"
	"github.com/1ureka/lanbridge/internal/status"
	"github.com/1ureka/lanbridge/internal/transport"
	"github.com/1ureka/lanbridge/internal/util"
)

var (
	// ErrBind means the session could not acquire its interface or socket.
	ErrBind = errors.New("failed to bind")
	// ErrFatalIO means the interface or socket failed during the session.
	ErrFatalIO = errors.New("fatal I/O error")
	// ErrHandshakeTimeout means the peer did not answer the first Hello in time.
	ErrHandshakeTimeout = errors.New("handshake timed out")
)

// Endpoint is the immutable addressing of one session.
type Endpoint struct {
	BindAddr  string // local UDP address, e.g. "0.0.0.0:9000"
	PeerAddr  string // remote UDP address, e.g. "10.0.0.2:9000"
	VirtualIP string // address of the virtual interface, e.g. "10.0.0.1/24"
}

// Options tunes a session. The zero value is usable.
type Options struct {
	Net        pion.Net                                   // nil: host network stack
	OpenDevice func(device.Config) (device.Device, error) // nil: device.Open
	Device     device.Config                              // Address is taken from Endpoint.VirtualIP
	Handshake  handshake.Config
	FrameSize  int            // interface read buffer, default protocol.MaxFrameSize
	Poll       time.Duration  // interface read deadline, default device.DefaultPoll
	Status     *status.Status // nil: a fresh one built around Sink
	Sink       status.Sink
}

func (o Options) withDefaults() (Options, error) {
	if o.Status == nil {
		o.Status = status.New(o.Sink)
	}
	if o.Net == nil {
		nw, err := stdnet.NewNet()
		if err != nil {
			return o, fmt.Errorf("failed to open host network: %w", err)
		}
		o.Net = nw
	}
	if o.OpenDevice == nil {
		o.OpenDevice = device.Open
	}
	if o.FrameSize <= 0 {
		o.FrameSize = protocol.MaxFrameSize
	}
	return o, nil
}

type datagram struct {
	data []byte
	from net.Addr
}

// Session is a running bridge. Exactly one goroutine (run) owns the handshake
// machine and both I/O handles; readers only feed it through channels.
type Session struct {
	ep     Endpoint
	opts   Options
	status *status.Status

	link *transport.Link
	dev  *device.Exclusive
	hs   *handshake.Machine

	frames    chan []byte
	datagrams chan datagram
	fatal     chan error

	stop    chan struct{}
	readers sync.WaitGroup

	reason error // why run is exiting, nil on a requested shutdown
	done   chan struct{}
	err    error // reason, published when done closes
}

// Connect acquires the virtual interface and the socket, then starts the
// session in the background with a Hello to the peer. It fails with ErrBind,
// and emits an Error event, when either resource cannot be acquired; nothing
// is left running in that case.
func Connect(ctx context.Context, ep Endpoint, opts Options) (*Session, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrBind, err)
		failed(opts.Status, err)
		return nil, err
	}

	s, err := open(ep, opts)
	if err != nil {
		failed(opts.Status, err)
		return nil, err
	}

	util.Stats.AddSession()
	go s.run(ctx)
	return s, nil
}

func failed(st *status.Status, err error) {
	util.LogError("%v", err)
	st.Logf("Network error: %v", err)
	st.Emit(status.Event{Kind: status.EventError, Reason: err})
}

func open(ep Endpoint, opts Options) (*Session, error) {
	if _, err := device.ParseAddress(ep.VirtualIP); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBind, err)
	}

	devCfg := opts.Device
	devCfg.Address = ep.VirtualIP

	dev, err := opts.OpenDevice(devCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open virtual interface: %w", ErrBind, err)
	}

	link, err := transport.Listen(opts.Net, ep.BindAddr, ep.PeerAddr)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("%w: %w", ErrBind, err)
	}

	return &Session{
		ep:        ep,
		opts:      opts,
		status:    opts.Status,
		link:      link,
		dev:       device.NewExclusive(dev, opts.Poll),
		hs:        handshake.New(opts.Handshake),
		frames:    make(chan []byte),
		datagrams: make(chan datagram),
		fatal:     make(chan error, 2),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Status returns the session's shared status surface.
func (s *Session) Status() *status.Status { return s.status }

// Endpoint returns the addressing the session was started with.
func (s *Session) Endpoint() Endpoint { return s.ep }

// LocalAddr returns the bound UDP address.
func (s *Session) LocalAddr() net.Addr { return s.link.LocalAddr() }

// Done is closed once the session has released its interface and socket.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended: nil for a requested shutdown, otherwise
// an error wrapping ErrHandshakeTimeout or ErrFatalIO. Valid after Done.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Shutdown requests the session to stop and waits until it has released
// everything. Safe to call repeatedly and after the session ended on its own.
func (s *Session) Shutdown() {
	s.status.RequestShutdown()
	<-s.done
}

// Shutdown is the free-function form of Session.Shutdown.
func Shutdown(s *Session) {
	if s != nil {
		s.Shutdown()
	}
}

// ---------------------------------------------------------------------------
// Main loop
// ---------------------------------------------------------------------------

func (s *Session) run(ctx context.Context) {
	defer s.teardown()

	s.readers.Add(2)
	go s.readDevice()
	go s.readSocket()

	res, err := s.hs.Start(time.Now())
	if err != nil {
		s.reason = err
		return
	}
	s.logf("Connecting to %s via %s (%s)", s.link.Peer(), s.link.LocalAddr(), s.dev.Name())
	s.apply(res)

	timeout := time.NewTimer(s.hs.Timeout())
	defer timeout.Stop()

	var retry, keepalive <-chan time.Time
	if d := s.opts.Handshake.HelloRetry; d > 0 {
		t := time.NewTicker(d)
		defer t.Stop()
		retry = t.C
	}
	if d := s.opts.Handshake.Keepalive; d > 0 {
		t := time.NewTicker(d)
		defer t.Stop()
		keepalive = t.C
	}

	for s.reason == nil {
		if s.status.ShutdownRequested() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-s.status.ShutdownSignal():
			return

		case frame := <-s.frames:
			s.relayOut(frame)
		case dg := <-s.datagrams:
			s.relayIn(dg)
		case err := <-s.fatal:
			s.reason = fmt.Errorf("%w: %w", ErrFatalIO, err)

		case now := <-timeout.C:
			s.tick(now)
		case now := <-retry:
			s.tick(now)
		case now := <-keepalive:
			s.tick(now)
		}
	}
}

// teardown releases everything in a fixed order and publishes the outcome.
func (s *Session) teardown() {
	close(s.stop)
	s.link.Close()
	s.dev.Close()
	s.readers.Wait()

	s.hs.Stop()
	s.status.SetConnected(false)

	if s.reason != nil {
		util.LogError("bridge session ended: %v", s.reason)
		s.status.Logf("Error: %v", s.reason)
		s.status.Emit(status.Event{Kind: status.EventError, Reason: s.reason})
	}
	s.logf("Disconnected")
	s.status.Emit(status.Event{Kind: status.EventDisconnected, Reason: s.reason})

	s.err = s.reason
	close(s.done)
}

func (s *Session) tick(now time.Time) {
	res := s.hs.Tick(now)
	if res.Event == handshake.EventTimeout {
		s.reason = fmt.Errorf("%w: no answer from %s within %s", ErrHandshakeTimeout, s.link.Peer(), s.hs.Timeout())
		return
	}
	s.apply(res)
}

// apply sends the control messages of a transition and reacts to its event.
func (s *Session) apply(res handshake.Result) {
	for _, msg := range res.Send {
		if err := s.link.Send(protocol.NewControl(msg)); err != nil {
			s.sendFailed(err)
			return
		}
		util.LogDebug("sent %s to %s", msg, s.link.Peer())
	}

	switch res.Event {
	case handshake.EventConnected:
		s.status.SetConnected(true)
		s.logf("Connected to %s", s.link.Peer())
		s.status.Emit(status.Event{Kind: status.EventConnected})
	case handshake.EventLiveness:
		util.LogDebug("peer %s is alive", s.link.Peer())
	}
}

// logf writes a line to the session log and mirrors it to the process log.
func (s *Session) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	s.status.Log(line)
	util.LogInfo("%s", line)
}
