package bridge

import (
	"fmt"
	"time"

	"github.com/1ureka/lanbridge/internal/device"
	"github.com/1ureka/lanbridge/internal/frame"
	"github.com/1ureka/lanbridge/internal/handshake"
	"github.com/1ureka/lanbridge/internal/protocol"
	"github.com/1ureka/lanbridge/internal/transport"
	"github.com/1ureka/lanbridge/internal/util"
)

// maxDatagramSize fits any UDP payload.
const maxDatagramSize = 64 * 1024

// readErrorBackoff paces a reader after a non-fatal read error.
const readErrorBackoff = 100 * time.Millisecond

// ---------------------------------------------------------------------------
// Interface → peer
// ---------------------------------------------------------------------------

// relayOut forwards one captured frame to the peer. Frames captured before
// the handshake completes are dropped.
func (s *Session) relayOut(f []byte) {
	if s.hs.State() != handshake.Connected {
		util.Stats.AddDropped()
		if util.DebugEnabled() {
			util.LogDebug("dropping outbound frame while %s: %s", s.hs.State(), frame.Describe(f, s.dev.IsTAP()))
		}
		return
	}

	if err := s.link.Send(protocol.NewData(f)); err != nil {
		s.sendFailed(err)
		return
	}

	util.Stats.AddFrameOut()
	if util.DebugEnabled() {
		util.LogDebug("→ %s", frame.Describe(f, s.dev.IsTAP()))
	}
}

// sendFailed ends the session when the socket is gone and only logs otherwise.
func (s *Session) sendFailed(err error) {
	if transport.IsClosed(err) {
		s.reason = fmt.Errorf("%w: send to %s: %w", ErrFatalIO, s.link.Peer(), err)
		return
	}
	util.LogWarning("failed to send to %s: %v", s.link.Peer(), err)
	s.status.Logf("Send error: %v", err)
}

// ---------------------------------------------------------------------------
// Peer → interface
// ---------------------------------------------------------------------------

// relayIn handles one datagram. Datagrams not sent by the configured peer are
// dropped without a trace beyond a counter.
func (s *Session) relayIn(dg datagram) {
	if !s.link.FromPeer(dg.from) {
		util.Stats.AddUnauthorized()
		return
	}

	pkt, err := protocol.Decode(dg.data)
	if err != nil {
		util.Stats.AddMalformed()
		util.LogWarning("dropping datagram from %s: %v", dg.from, err)
		s.status.Logf("Dropped malformed datagram: %v", err)
		return
	}

	switch p := pkt.Payload.(type) {
	case protocol.ControlMessage:
		util.LogDebug("received %s from %s", p, dg.from)
		s.apply(s.hs.Receive(p, time.Now()))

	case protocol.Data:
		if s.hs.State() != handshake.Connected {
			util.Stats.AddDropped()
			util.LogDebug("dropping inbound frame while %s", s.hs.State())
			return
		}
		if _, err := s.dev.WriteFrame(p); err != nil {
			if device.IsFatal(err) {
				s.reason = fmt.Errorf("%w: write %s: %w", ErrFatalIO, s.dev.Name(), err)
				return
			}
			util.LogWarning("failed to write frame to %s: %v", s.dev.Name(), err)
			s.status.Logf("Write error on %s: %v", s.dev.Name(), err)
			return
		}
		util.Stats.AddFrameIn()
		if util.DebugEnabled() {
			util.LogDebug("← %s", frame.Describe(p, s.dev.IsTAP()))
		}
	}
}

// ---------------------------------------------------------------------------
// Readers
// ---------------------------------------------------------------------------

// readDevice pumps frames from the interface into s.frames. Reads time out
// every poll interval so the device lock is released for writers.
func (s *Session) readDevice() {
	defer s.readers.Done()

	buf := make([]byte, s.opts.FrameSize)
	for !s.stopped() {
		n, err := s.dev.ReadFrame(buf)
		if err != nil {
			switch {
			case device.IsTimeout(err), s.stopped():
			case device.IsFatal(err):
				s.reportFatal(fmt.Errorf("read %s: %w", s.dev.Name(), err))
				return
			default:
				util.LogWarning("failed to read from %s: %v", s.dev.Name(), err)
				s.status.Logf("Read error on %s: %v", s.dev.Name(), err)
				select {
				case <-time.After(readErrorBackoff):
				case <-s.stop:
					return
				}
			}
			continue
		}
		if n == 0 {
			continue
		}

		f := make([]byte, n)
		copy(f, buf[:n])

		select {
		case s.frames <- f:
		case <-s.stop:
			return
		}
	}
}

// readSocket pumps datagrams into s.datagrams. It is released by closing the socket.
func (s *Session) readSocket() {
	defer s.readers.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := s.link.Read(buf)
		if err != nil {
			if s.stopped() {
				return
			}
			if transport.IsClosed(err) {
				s.reportFatal(fmt.Errorf("read socket: %w", err))
				return
			}
			util.LogWarning("failed to read from socket: %v", err)
			s.status.Logf("Socket read error: %v", err)
			select {
			case <-time.After(readErrorBackoff):
			case <-s.stop:
				return
			}
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case s.datagrams <- datagram{data: data, from: from}:
		case <-s.stop:
			return
		}
	}
}

func (s *Session) reportFatal(err error) {
	select {
	case s.fatal <- err:
	case <-s.stop:
	}
}

func (s *Session) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}
