// Package protocol defines the packet format exchanged between two bridge peers.
package protocol

import (
	"fmt"
	"math/rand/v2"
)

// ProtocolID tags every datagram of this protocol. Anything else is foreign noise.
const ProtocolID uint32 = 0xDEADBEEF

// Payload discriminants.
const (
	KindControl uint8 = 0x01
	KindData    uint8 = 0x02
)

// HeaderSize is the fixed header size: ID(8) + ProtocolID(4) + Kind(1).
const HeaderSize = 13

// Sizes of the complete control packet and of the data packet prefix.
const (
	ControlSize    = HeaderSize + 1
	DataHeaderSize = HeaderSize + 4
)

// MaxFrameSize is the read buffer used for frames captured from the interface.
const MaxFrameSize = 4096

// ControlMessage is one of the handshake/liveness messages.
type ControlMessage uint8

const (
	Hello    ControlMessage = 0x01 // connection request
	HelloAck ControlMessage = 0x02 // connection accepted
	Ping     ControlMessage = 0x03 // liveness probe
	Pong     ControlMessage = 0x04 // liveness reply
)

func (m ControlMessage) String() string {
	switch m {
	case Hello:
		return "Hello"
	case HelloAck:
		return "HelloAck"
	case Ping:
		return "Ping"
	case Pong:
		return "Pong"
	default:
		return fmt.Sprintf("ControlMessage(0x%02x)", uint8(m))
	}
}

func (m ControlMessage) valid() bool {
	return m >= Hello && m <= Pong
}

// Data is one raw frame captured from (or destined to) the virtual interface.
type Data []byte

// Payload is either a ControlMessage or Data.
type Payload interface {
	kind() uint8
}

func (ControlMessage) kind() uint8 { return KindControl }
func (Data) kind() uint8           { return KindData }

// Packet is the unit carried in one UDP datagram. Packets are built fresh for
// every send and never mutated afterwards.
type Packet struct {
	ID         uint64  // random per packet, informational only
	ProtocolID uint32  // always ProtocolID for packets built by this package
	Payload    Payload // ControlMessage or Data
}

// NewControl builds a control packet with a fresh random ID.
func NewControl(msg ControlMessage) *Packet {
	return &Packet{ID: rand.Uint64(), ProtocolID: ProtocolID, Payload: msg}
}

// NewData builds a data packet with a fresh random ID. The frame is not copied.
func NewData(frame []byte) *Packet {
	return &Packet{ID: rand.Uint64(), ProtocolID: ProtocolID, Payload: Data(frame)}
}
