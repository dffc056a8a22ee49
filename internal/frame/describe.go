// Package frame summarizes captured frames for debug logging.
package frame

import (
	"fmt"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var decodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

// Describe returns a one-line summary of a frame, e.g.
// "Ethernet/IPv4/ICMPv4 10.0.0.1 > 10.0.0.2 (98 bytes)". tap selects Ethernet
// framing; otherwise the IP version is taken from the first nibble.
func Describe(b []byte, tap bool) string {
	if len(b) == 0 {
		return "empty frame"
	}

	first := layers.LayerTypeEthernet
	if !tap {
		switch b[0] >> 4 {
		case 4:
			first = layers.LayerTypeIPv4
		case 6:
			first = layers.LayerTypeIPv6
		default:
			return fmt.Sprintf("unknown frame (%d bytes)", len(b))
		}
	}

	pkt := gopacket.NewPacket(b, first, decodeOptions)

	names := make([]string, 0, 4)
	for _, l := range pkt.Layers() {
		if l.LayerType() == gopacket.LayerTypePayload {
			continue
		}
		names = append(names, l.LayerType().String())
	}
	if len(names) == 0 {
		return fmt.Sprintf("undecodable frame (%d bytes)", len(b))
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(names, "/"))
	if nl := pkt.NetworkLayer(); nl != nil {
		flow := nl.NetworkFlow()
		fmt.Fprintf(&sb, " %s > %s", flow.Src(), flow.Dst())
	}
	fmt.Fprintf(&sb, " (%d bytes)", len(b))
	return sb.String()
}
