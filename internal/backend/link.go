package backend

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mudforge/gate/internal/message"
)

// Link is one accepted game engine WebSocket. Its context scopes the
// reader, writer and heartbeat goroutines so superseding or tearing down
// a link never touches client sessions.
type Link struct {
	id     string
	conn   *websocket.Conn
	cancel context.CancelFunc

	// gorilla conns do not allow concurrent writers; heartbeat, writer
	// and the snapshot sender all go through writeMu.
	writeMu sync.Mutex

	lastHeartbeat atomic.Int64 // unix nanos, 0 until the first heartbeat
}

func newLink(conn *websocket.Conn, cancel context.CancelFunc) *Link {
	return &Link{
		id:     uuid.NewString(),
		conn:   conn,
		cancel: cancel,
	}
}

// ID returns the link identifier used in logs.
func (l *Link) ID() string { return l.id }

func (l *Link) write(env message.Envelope) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteJSON(env)
}

// close cancels the link scope and closes the socket. Safe to call more
// than once.
func (l *Link) close() {
	l.cancel()
	l.conn.Close()
}
