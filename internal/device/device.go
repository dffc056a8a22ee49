// Package device provides the virtual network interface a bridge session
// captures frames from and injects frames into.
package device

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
	"time"
)

// Mode selects the interface flavour.
type Mode string

const (
	ModeTAP Mode = "tap" // Ethernet frames
	ModeTUN Mode = "tun" // IP packets
)

// Defaults for Config.
const (
	DefaultName   = "lanbridge0"
	DefaultMTU    = 1400
	DefaultPrefix = 24
)

// ErrUnsupported is returned by Open on platforms without TUN/TAP support.
var ErrUnsupported = errors.New("virtual interfaces are not supported on this platform")

// Device is an open virtual interface. Read returns one frame per call.
type Device interface {
	io.ReadWriteCloser
	Name() string
	IsTAP() bool
	SetReadDeadline(t time.Time) error
}

// Config describes the interface to create.
type Config struct {
	Name    string // interface name; empty lets the kernel choose
	Mode    Mode
	Address string // virtual IP, optionally with prefix length
	MTU     int
}

// ParseAddress accepts "10.0.0.1" or "10.0.0.1/24"; a bare address gets DefaultPrefix.
func ParseAddress(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid virtual IP %q: %w", s, err)
		}
		return p, nil
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid virtual IP %q: %w", s, err)
	}
	bits := DefaultPrefix
	if addr.Is6() {
		bits = 64
	}
	return netip.PrefixFrom(addr, bits), nil
}

// IsTimeout reports whether err is an expired read deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// IsFatal reports whether err means the device is gone and the session must end.
func IsFatal(err error) bool {
	return errors.Is(err, os.ErrClosed) || errors.Is(err, io.EOF) || isFatalErrno(err)
}
