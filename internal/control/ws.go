package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/lanbridge/internal/status"
	"github.com/1ureka/lanbridge/internal/util"
)

const writeWait = 5 * time.Second

// The control server binds to loopback by default; any origin may drive it.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client serializes writes to one WebSocket connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.clients.Add(1)
	defer s.clients.Done()
	defer conn.Close()

	util.LogInfo("Control client connected from %s", r.RemoteAddr)
	defer util.LogInfo("Control client %s left", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{conn: conn}
	readErr := make(chan error, 1)
	go func() { readErr <- s.readCommands(ctx, c) }()

	s.pushStatus(c, readErr)
}

// readCommands handles client commands until the connection fails.
func (s *Server) readCommands(ctx context.Context, c *client) error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			if err := c.send(Result{Type: MsgTypeResult, Error: fmt.Sprintf("invalid command: %v", err)}); err != nil {
				return err
			}
			continue
		}

		if err := c.send(s.execute(ctx, cmd)); err != nil {
			return err
		}
	}
}

func (s *Server) execute(ctx context.Context, cmd Command) Result {
	var err error
	switch cmd.Type {
	case MsgTypeConnect:
		util.LogDebug("control: connect %s:%d", cmd.Host, cmd.Port)
		err = s.ctrl.Connect(ctx, cmd.Host, cmd.Port)
	case MsgTypeDisconnect:
		util.LogDebug("control: disconnect")
		err = s.ctrl.Disconnect(ctx)
	default:
		err = fmt.Errorf("unknown command type %q", cmd.Type)
	}

	if err != nil {
		return Result{Type: MsgTypeResult, Error: err.Error()}
	}
	return Result{Type: MsgTypeResult, OK: true}
}

// pushStatus sends the snapshot once immediately and again whenever it
// changes, until the reader fails or the server stops.
func (s *Server) pushStatus(c *client, readErr <-chan error) {
	ticker := time.NewTicker(s.opts.PushInterval)
	defer ticker.Stop()

	var last *status.Snapshot
	for {
		snap := s.ctrl.Snapshot()
		if last == nil || changed(*last, snap) {
			if err := c.send(StatusUpdate{Type: MsgTypeStatus, Snapshot: snap}); err != nil {
				return
			}
			last = &snap
		}

		select {
		case <-ticker.C:
		case <-readErr:
			return
		case <-s.closing:
			c.mu.Lock()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
				time.Now().Add(writeWait))
			c.mu.Unlock()
			return
		}
	}
}

func changed(a, b status.Snapshot) bool {
	return a.Connected != b.Connected ||
		a.ShutdownRequested != b.ShutdownRequested ||
		a.Total != b.Total ||
		!slices.Equal(a.Log, b.Log)
}
