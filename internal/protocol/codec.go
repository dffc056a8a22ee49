package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Reasons a datagram is rejected by Decode.
var (
	ErrTruncated        = errors.New("truncated packet")
	ErrProtocolMismatch = errors.New("protocol id mismatch")
	ErrUnknownPayload   = errors.New("unknown payload kind")
	ErrUnknownControl   = errors.New("unknown control message")
	ErrTrailingBytes    = errors.New("trailing bytes after payload")
)

// DecodeError describes a malformed or foreign datagram.
type DecodeError struct {
	Err error // one of the Err* reasons above
	Len int   // datagram length
	msg string
}

func (e *DecodeError) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("decode %d-byte datagram: %v", e.Len, e.Err)
	}
	return fmt.Sprintf("decode %d-byte datagram: %v: %s", e.Len, e.Err, e.msg)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(reason error, n int, format string, args ...any) *DecodeError {
	return &DecodeError{Err: reason, Len: n, msg: fmt.Sprintf(format, args...)}
}

// Encode serializes a Packet into a datagram. It panics on a payload type
// outside this package, which can only be a programming error.
func Encode(pkt *Packet) []byte {
	var buf []byte

	switch p := pkt.Payload.(type) {
	case ControlMessage:
		buf = make([]byte, ControlSize)
		buf[HeaderSize] = uint8(p)
	case Data:
		buf = make([]byte, DataHeaderSize+len(p))
		binary.BigEndian.PutUint32(buf[HeaderSize:DataHeaderSize], uint32(len(p)))
		copy(buf[DataHeaderSize:], p)
	default:
		panic(fmt.Sprintf("protocol: cannot encode payload of type %T", pkt.Payload))
	}

	binary.BigEndian.PutUint64(buf[0:8], pkt.ID)
	binary.BigEndian.PutUint32(buf[8:12], pkt.ProtocolID)
	buf[12] = pkt.Payload.kind()
	return buf
}

// Decode deserializes a datagram into a Packet. The input slice is never
// retained. Errors are always *DecodeError.
func Decode(data []byte) (*Packet, error) {
	n := len(data)
	if n < HeaderSize {
		return nil, decodeErr(ErrTruncated, n, "need at least %d bytes", HeaderSize)
	}

	pkt := &Packet{
		ID:         binary.BigEndian.Uint64(data[0:8]),
		ProtocolID: binary.BigEndian.Uint32(data[8:12]),
	}
	if pkt.ProtocolID != ProtocolID {
		return nil, decodeErr(ErrProtocolMismatch, n, "got 0x%08x", pkt.ProtocolID)
	}

	switch data[12] {
	case KindControl:
		if n < ControlSize {
			return nil, decodeErr(ErrTruncated, n, "control packet needs %d bytes", ControlSize)
		}
		msg := ControlMessage(data[HeaderSize])
		if !msg.valid() {
			return nil, decodeErr(ErrUnknownControl, n, "tag 0x%02x", data[HeaderSize])
		}
		if n > ControlSize {
			return nil, decodeErr(ErrTrailingBytes, n, "%d extra", n-ControlSize)
		}
		pkt.Payload = msg

	case KindData:
		if n < DataHeaderSize {
			return nil, decodeErr(ErrTruncated, n, "data packet needs at least %d bytes", DataHeaderSize)
		}
		size := binary.BigEndian.Uint32(data[HeaderSize:DataHeaderSize])
		if uint64(n-DataHeaderSize) < uint64(size) {
			return nil, decodeErr(ErrTruncated, n, "declared %d payload bytes, have %d", size, n-DataHeaderSize)
		}
		end := DataHeaderSize + int(size)
		if n > end {
			return nil, decodeErr(ErrTrailingBytes, n, "%d extra", n-end)
		}
		payload := make([]byte, size)
		copy(payload, data[DataHeaderSize:end])
		pkt.Payload = Data(payload)

	default:
		return nil, decodeErr(ErrUnknownPayload, n, "kind 0x%02x", data[12])
	}

	return pkt, nil
}
