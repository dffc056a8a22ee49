// Package transport owns the UDP socket of a bridge session. Sockets are
// created through a pion transport.Net, so the same code runs on the host
// network stack and on a virtual network in tests.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	pion "github.com/pion/transport/v4"

	"github.com/1ureka/lanbridge/internal/protocol"
	"github.com/1ureka/lanbridge/internal/util"
)

// Link is a bound UDP socket aimed at a single peer.
type Link struct {
	conn pion.UDPConn
	peer *net.UDPAddr

	closeOnce sync.Once
	closeErr  error
}

// Listen resolves both endpoints on nw and binds bindAddr.
func Listen(nw pion.Net, bindAddr, peerAddr string) (*Link, error) {
	peer, err := nw.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve peer address %q: %w", peerAddr, err)
	}

	network := "udp4"
	if peer.IP.To4() == nil {
		network = "udp6"
	}

	local, err := nw.ResolveUDPAddr(network, bindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address %q: %w", bindAddr, err)
	}

	conn, err := nw.ListenUDP(network, local)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", local, err)
	}

	return &Link{conn: conn, peer: peer}, nil
}

// Peer returns the only address datagrams are accepted from and sent to.
func (l *Link) Peer() *net.UDPAddr { return l.peer }

// LocalAddr returns the bound address.
func (l *Link) LocalAddr() net.Addr { return l.conn.LocalAddr() }

// FromPeer reports whether addr is the configured peer (IP and port).
func (l *Link) FromPeer(addr net.Addr) bool {
	ua, ok := addr.(*net.UDPAddr)
	if !ok {
		return false
	}
	return ua.Port == l.peer.Port && ua.IP.Equal(l.peer.IP)
}

// Send encodes pkt and writes it to the peer as one datagram.
func (l *Link) Send(pkt *protocol.Packet) error {
	data := protocol.Encode(pkt)

	n, err := l.conn.WriteTo(data, l.peer)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("udp send %d out of %d bytes", n, len(data))
	}

	util.Stats.AddSent(len(data))
	return nil
}

// Read reads one datagram from any source.
func (l *Link) Read(buf []byte) (int, net.Addr, error) {
	n, addr, err := l.conn.ReadFrom(buf)
	if err == nil {
		util.Stats.AddRecv(n)
	}
	return n, addr, err
}

// Close closes the socket, releasing a blocked Read. Safe to call more than once.
func (l *Link) Close() error {
	l.closeOnce.Do(func() { l.closeErr = l.conn.Close() })
	return l.closeErr
}

// IsClosed reports whether err means the socket is closed for good.
func IsClosed(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	// pion vnet reports closure with an unexported errors.New value carrying
	// the same text as net.ErrClosed; only that exact leaf matches.
	for ; err != nil; err = errors.Unwrap(err) {
		if errors.Unwrap(err) == nil && err.Error() == vnetClosedText {
			return true
		}
	}
	return false
}

const vnetClosedText = "use of closed network connection"
