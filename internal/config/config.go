// Package config holds the lanbridge configuration and its validation.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/1ureka/lanbridge/internal/device"
	"github.com/1ureka/lanbridge/internal/handshake"
	"github.com/1ureka/lanbridge/internal/util"
)

// Config is the complete configuration of one lanbridge process.
type Config struct {
	Bind          string          `mapstructure:"bind" yaml:"bind"`
	Peer          string          `mapstructure:"peer" yaml:"peer"`
	PeerPort      int             `mapstructure:"peer_port" yaml:"peer_port"`
	VirtualIP     string          `mapstructure:"virtual_ip" yaml:"virtual_ip"`
	StatsInterval time.Duration   `mapstructure:"stats_interval" yaml:"stats_interval"`
	Device        DeviceConfig    `mapstructure:"device" yaml:"device"`
	Handshake     HandshakeConfig `mapstructure:"handshake" yaml:"handshake"`
	Control       ControlConfig   `mapstructure:"control" yaml:"control"`
	Log           LogConfig       `mapstructure:"log" yaml:"log"`
}

// DeviceConfig describes the virtual interface.
type DeviceConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	Mode string `mapstructure:"mode" yaml:"mode"` // tap or tun
	MTU  int    `mapstructure:"mtu" yaml:"mtu"`
}

// HandshakeConfig tunes connection establishment and liveness.
type HandshakeConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	HelloRetry time.Duration `mapstructure:"hello_retry" yaml:"hello_retry"` // 0: single Hello
	Keepalive  time.Duration `mapstructure:"keepalive" yaml:"keepalive"`     // 0: answer pings only

	ReciprocalHello bool `mapstructure:"reciprocal_hello" yaml:"reciprocal_hello"`
}

// ControlConfig configures the WebSocket control server of `lanbridge serve`.
type ControlConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	Token  string `mapstructure:"token" yaml:"token"` // required ?token= when set
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"` // color or json
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// Validate rejects configurations a session could not start with.
func (c *Config) Validate() error {
	var errs []error

	if err := validateHostPort("bind", c.Bind); err != nil {
		errs = append(errs, err)
	}
	if c.Peer != "" && net.ParseIP(c.Peer) == nil {
		errs = append(errs, fmt.Errorf("peer: %q is not an IP address", c.Peer))
	}
	if c.PeerPort < 1 || c.PeerPort > 65535 {
		errs = append(errs, fmt.Errorf("peer_port: %d out of range 1~65535", c.PeerPort))
	}
	if _, err := device.ParseAddress(c.VirtualIP); err != nil {
		errs = append(errs, fmt.Errorf("virtual_ip: %w", err))
	}

	switch device.Mode(c.Device.Mode) {
	case device.ModeTAP, device.ModeTUN:
	default:
		errs = append(errs, fmt.Errorf("device.mode: %q must be tap or tun", c.Device.Mode))
	}
	if c.Device.MTU < 576 || c.Device.MTU > 9000 {
		errs = append(errs, fmt.Errorf("device.mtu: %d out of range 576~9000", c.Device.MTU))
	}

	if c.Handshake.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("handshake.timeout: must be positive, got %s", c.Handshake.Timeout))
	}
	if c.Handshake.HelloRetry < 0 || c.Handshake.Keepalive < 0 {
		errs = append(errs, errors.New("handshake: hello_retry and keepalive must not be negative"))
	}

	if err := validateHostPort("control.listen", c.Control.Listen); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateHostPort(key, addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if host != "" && net.ParseIP(host) == nil {
		return fmt.Errorf("%s: %q is not an IP address", key, host)
	}
	if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("%s: invalid port %q", key, port)
	}
	return nil
}

// DeviceSettings returns the interface settings for a session.
func (c *Config) DeviceSettings() device.Config {
	return device.Config{
		Name:    c.Device.Name,
		Mode:    device.Mode(c.Device.Mode),
		Address: c.VirtualIP,
		MTU:     c.Device.MTU,
	}
}

// HandshakeSettings returns the handshake machine settings.
func (c *Config) HandshakeSettings() handshake.Config {
	return handshake.Config{
		Timeout:    c.Handshake.Timeout,
		HelloRetry: c.Handshake.HelloRetry,
		Keepalive:  c.Handshake.Keepalive,

		ReciprocalHello: c.Handshake.ReciprocalHello,
	}
}

// LogSettings returns the logger settings.
func (c *Config) LogSettings() util.LogOptions {
	return util.LogOptions{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}
