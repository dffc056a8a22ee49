// Package supervisor owns at most one bridge session at a time and serves
// connect/disconnect commands from the outer surfaces (CLI, control server).
package supervisor

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/lanbridge/internal/bridge"
	"github.com/1ureka/lanbridge/internal/status"
	"github.com/1ureka/lanbridge/internal/util"
)

var (
	// ErrNotConnected is returned by Disconnect when no session is running.
	ErrNotConnected = errors.New("no active session")
	// ErrStopped is returned once Run has exited.
	ErrStopped = errors.New("supervisor stopped")
)

// Settings are the parts of every session that do not depend on the peer.
type Settings struct {
	BindAddr  string
	VirtualIP string
	Options   bridge.Options // Status is replaced per session
}

type commandKind uint8

const (
	cmdConnect commandKind = iota
	cmdDisconnect
)

type command struct {
	kind  commandKind
	peer  string
	reply chan error
}

// Supervisor serializes session changes through a command channel drained by Run.
type Supervisor struct {
	settings Settings

	cmds    chan command
	stopped chan struct{}

	mu      sync.RWMutex
	current *bridge.Session
	last    *status.Status // status of the current or most recent session
}

func New(settings Settings) *Supervisor {
	return &Supervisor{
		settings: settings,
		cmds:     make(chan command),
		stopped:  make(chan struct{}),
		last:     status.New(nil),
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// Connect tears down the running session, if any, and starts a new one
// towards host:port. Port 0 selects util.DefaultPort. Invalid input is
// reported in the log and returned.
func (s *Supervisor) Connect(ctx context.Context, host string, port int) error {
	if port == 0 {
		port = util.DefaultPort
	}
	peer, err := util.PeerAddr(host, port)
	if err != nil {
		s.status().Logf("Invalid peer IP/port: %s:%d (%v)", host, port, err)
		return err
	}
	return s.do(ctx, command{kind: cmdConnect, peer: peer})
}

// Disconnect shuts the running session down and waits for it to release everything.
func (s *Supervisor) Disconnect(ctx context.Context) error {
	return s.do(ctx, command{kind: cmdDisconnect})
}

func (s *Supervisor) do(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)

	select {
	case s.cmds <- cmd:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// Observation
// ---------------------------------------------------------------------------

// ObserveLog returns the log of the current or most recent session.
func (s *Supervisor) ObserveLog() []string { return s.status().Entries() }

// ObserveConnected reports whether a session is up and past its handshake.
func (s *Supervisor) ObserveConnected() bool { return s.status().Connected() }

// Snapshot returns the full status of the current or most recent session.
func (s *Supervisor) Snapshot() status.Snapshot { return s.status().Snapshot() }

// Active reports whether a session is running (connecting or connected).
func (s *Supervisor) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

func (s *Supervisor) status() *status.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

// Run serves commands until ctx is cancelled, then shuts the running session down.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.stopped)

	for {
		var done <-chan struct{}
		if cur := s.session(); cur != nil {
			done = cur.Done()
		}

		select {
		case <-ctx.Done():
			s.teardown()
			return

		case cmd := <-s.cmds:
			switch cmd.kind {
			case cmdConnect:
				cmd.reply <- s.connect(ctx, cmd.peer)
			case cmdDisconnect:
				if s.session() == nil {
					cmd.reply <- ErrNotConnected
					continue
				}
				s.teardown()
				cmd.reply <- nil
			}

		case <-done:
			// ended on its own (timeout, fatal error); its status stays observable
			if err := s.session().Err(); err != nil {
				util.LogWarning("session ended: %v", err)
			}
			s.setSession(nil, nil)
		}
	}
}

func (s *Supervisor) connect(ctx context.Context, peer string) error {
	s.teardown()

	st := status.New(s.settings.Options.Sink)
	opts := s.settings.Options
	opts.Status = st
	s.setSession(nil, st)

	sess, err := bridge.Connect(ctx, bridge.Endpoint{
		BindAddr:  s.settings.BindAddr,
		PeerAddr:  peer,
		VirtualIP: s.settings.VirtualIP,
	}, opts)
	if err != nil {
		return err
	}

	s.setSession(sess, st)
	return nil
}

// teardown shuts the running session down, if any, and waits for it.
func (s *Supervisor) teardown() {
	cur := s.session()
	if cur == nil {
		return
	}
	cur.Shutdown()
	s.setSession(nil, nil)
}

func (s *Supervisor) session() *bridge.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// setSession replaces the current session; a nil st keeps the last status.
func (s *Supervisor) setSession(sess *bridge.Session, st *status.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = sess
	if st != nil {
		s.last = st
	}
}
