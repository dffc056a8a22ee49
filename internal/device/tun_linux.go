//go:build linux

package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/songgao/water"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// tunDevice is a water interface whose file descriptor is non-blocking, so
// read deadlines are honoured by the runtime poller.
type tunDevice struct {
	*water.Interface
	file deadliner
}

func (d *tunDevice) SetReadDeadline(t time.Time) error { return d.file.SetReadDeadline(t) }

// Open creates the interface, assigns the virtual address, sets the MTU and
// brings the link up. Requires CAP_NET_ADMIN.
func Open(cfg Config) (Device, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeTAP
	}
	if cfg.MTU <= 0 {
		cfg.MTU = DefaultMTU
	}

	wcfg := water.Config{DeviceType: water.TAP}
	if cfg.Mode == ModeTUN {
		wcfg.DeviceType = water.TUN
	}
	wcfg.PlatformSpecificParams = water.PlatformSpecificParams{Name: cfg.Name}

	ifce, err := water.New(wcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s interface %q: %w", cfg.Mode, cfg.Name, err)
	}

	file, ok := ifce.ReadWriteCloser.(deadliner)
	if !ok {
		ifce.Close()
		return nil, fmt.Errorf("interface %s does not support read deadlines", ifce.Name())
	}

	if err := configureLink(ifce.Name(), cfg.Address, cfg.MTU); err != nil {
		ifce.Close()
		return nil, err
	}

	return &tunDevice{Interface: ifce, file: file}, nil
}

func configureLink(name, address string, mtu int) error {
	prefix, err := ParseAddress(address)
	if err != nil {
		return err
	}

	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("failed to lookup interface %s: %w", name, err)
	}

	addr, err := netlink.ParseAddr(prefix.String())
	if err != nil {
		return fmt.Errorf("failed to parse address %s: %w", prefix, err)
	}
	if err := netlink.AddrAdd(link, addr); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("failed to add address %s to %s: %w", prefix, name, err)
	}

	if err := netlink.LinkSetMTU(link, mtu); err != nil {
		return fmt.Errorf("failed to set MTU %d on %s: %w", mtu, name, err)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to set interface %s up: %w", name, err)
	}

	return nil
}
