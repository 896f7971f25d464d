package control

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventMessage is the wire format for streamed control-plane events.
type EventMessage struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Seq       int64       `json:"seq"`
}

// SessionStatus is the REST view of a migration session.
type SessionStatus struct {
	ID        string `json:"id"`
	Paused    bool   `json:"paused"`
	Cancelled bool   `json:"cancelled"`
}

// TriggerRequest is the body of POST /runs.
type TriggerRequest struct {
	SessionID string `json:"session_id"`
}

type client struct {
	id          string
	conn        *websocket.Conn
	connectedAt time.Time
	writeMu     sync.Mutex
}

// writeJSON serializes access to the connection; gorilla conns do not allow
// concurrent writers.
func (c *client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}
