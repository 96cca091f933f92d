package relay

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pairchat/internal/log"
)

// Hub indexes authenticated connections by user.
type Hub struct {
	mu     sync.RWMutex
	users  map[string]map[*Client]struct{}
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{users: make(map[string]map[*Client]struct{}), logger: logger}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	conns, ok := h.users[c.user]
	if !ok {
		conns = make(map[*Client]struct{})
		h.users[c.user] = conns
	}
	conns[c] = struct{}{}
	n := len(conns)
	h.mu.Unlock()

	h.logger.Debug().Str(log.FieldUserID, c.user).Str(log.FieldConnID, c.ID).Int("connections", n).Msg("client registered")
}

func (h *Hub) unregister(c *Client) {
	if c.user == "" {
		return
	}
	h.mu.Lock()
	conns, ok := h.users[c.user]
	if ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.users, c.user)
		}
	}
	h.mu.Unlock()
	if ok {
		h.logger.Debug().Str(log.FieldUserID, c.user).Str(log.FieldConnID, c.ID).Msg("client unregistered")
	}
}

// deliver queues frame on every connection of user and returns how many
// accepted it. Connections that cannot keep up are dropped.
func (h *Hub) deliver(user string, frame []byte) int {
	var sent int
	var slow []*Client
	h.mu.RLock()
	for c := range h.users[user] {
		if c.queue(frame) {
			sent++
		} else {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn().Str(log.FieldUserID, user).Str(log.FieldConnID, c.ID).Msg("dropping slow client")
		h.unregister(c)
		c.close()
	}
	return sent
}

// Connections returns the number of live connections of user.
func (h *Hub) Connections(user string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[user])
}

// Close ends every connection. Their pumps exit on their own.
func (h *Hub) Close() {
	h.mu.Lock()
	users := h.users
	h.users = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, conns := range users {
		for c := range conns {
			c.close()
		}
	}
}
