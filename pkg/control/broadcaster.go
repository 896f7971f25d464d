package control

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// broadcaster fans control-plane events out to every connected stream client.
type broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  zerolog.Logger
	seq     uint64
}

func newBroadcaster(logger zerolog.Logger) *broadcaster {
	return &broadcaster{
		clients: make(map[string]*client),
		logger:  logger,
	}
}

func (b *broadcaster) add(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c.id] = c
}

func (b *broadcaster) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, id)
}

func (b *broadcaster) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *broadcaster) all() []*client {
	b.mu.RLock()
	defer b.mu.RUnlock()

	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	return clients
}

// broadcast sends an event to all connected clients.
func (b *broadcaster) broadcast(event string, data interface{}) {
	msg := EventMessage{
		Type:      "event",
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Seq:       int64(atomic.AddUint64(&b.seq, 1)),
	}

	clients := b.all()
	if len(clients) == 0 {
		return
	}

	failed := 0
	for _, c := range clients {
		if err := c.writeJSON(msg); err != nil {
			b.logger.Warn().
				Err(err).
				Str("clientId", c.id).
				Str("event", event).
				Msg("Failed to broadcast to client")
			failed++
		}
	}

	b.logger.Debug().
		Str("event", event).
		Int64("seq", msg.Seq).
		Int("clients", len(clients)).
		Int("failed", failed).
		Msg("Event broadcast complete")
}
