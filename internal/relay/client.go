package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pairchat/internal/config"
)

// Client is one websocket connection. A user may hold several.
type Client struct {
	ID   string
	user string // set by the read pump once hello succeeds

	hub    *Hub
	conn   *websocket.Conn
	cfg    config.WebSocketConfig
	logger zerolog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(id string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig, logger zerolog.Logger) *Client {
	size := cfg.SendBuffer
	if size <= 0 {
		size = 256
	}
	return &Client{
		ID:     id,
		hub:    hub,
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		send:   make(chan []byte, size),
	}
}

// queue hands a frame to the write pump. It reports false when the client
// is closed or too slow to keep up.
func (c *Client) queue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close stops the write pump after it flushes queued frames.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump feeds frames to handle until the peer goes away or handle
// returns false.
func (c *Client) readPump(handle func(*Client, []byte) bool) {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.HelloTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		if !handle(c, frame) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
