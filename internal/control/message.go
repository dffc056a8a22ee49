// Package control serves the local control surface of `lanbridge serve`:
// a WebSocket for connect/disconnect commands and status pushes, a JSON
// status endpoint, and Prometheus metrics.
package control

import (
	"context"

	"github.com/1ureka/lanbridge/internal/status"
)

// MessageType identifies the kind of control message.
type MessageType string

const (
	MsgTypeConnect    MessageType = "connect"
	MsgTypeDisconnect MessageType = "disconnect"
	MsgTypeResult     MessageType = "result"
	MsgTypeStatus     MessageType = "status"
)

// Command is sent by the client.
type Command struct {
	Type MessageType `json:"type"`
	Host string      `json:"host,omitempty"`
	Port int         `json:"port,omitempty"`
}

// Result answers exactly one Command.
type Result struct {
	Type  MessageType `json:"type"`
	OK    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
}

// StatusUpdate is pushed whenever the observed snapshot changes.
type StatusUpdate struct {
	Type MessageType `json:"type"`
	status.Snapshot
}

// Controller is what the server drives; *supervisor.Supervisor implements it.
type Controller interface {
	Connect(ctx context.Context, host string, port int) error
	Disconnect(ctx context.Context) error
	Snapshot() status.Snapshot
}
