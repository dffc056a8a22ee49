// Package util provides shared utility functions.
package util

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used for both the local bind and the peer when no port is given.
const DefaultPort = 9000

// LocalIP returns the address the host would use to reach the internet. No
// packet is sent; dialing UDP only selects a route.
func LocalIP() (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil, fmt.Errorf("failed to determine local IP: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}

// ParsePort parses a port number. Empty, unparsable and out-of-range input
// all select DefaultPort.
func ParsePort(raw string) int {
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || port < 1 || port > 65535 {
		return DefaultPort
	}
	return port
}

// PeerAddr validates host as an IP address and joins it with port.
func PeerAddr(host string, port int) (string, error) {
	host = strings.TrimSpace(host)
	if net.ParseIP(host) == nil {
		return "", fmt.Errorf("invalid peer IP %q", host)
	}
	if port < 1 || port > 65535 {
		return "", fmt.Errorf("invalid peer port %d: must be 1 ~ 65535", port)
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}
