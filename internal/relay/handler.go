// Package relay forwards live chat events between connected users.
//
// Each connection opens with a hello frame naming its user. After that a
// sendMessage event from one user is delivered as getMessage to every
// connection of the receiver. Nothing is stored; the history API owns
// durability.
package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pairchat/internal/auth"
	"github.com/vovakirdan/pairchat/internal/config"
	"github.com/vovakirdan/pairchat/internal/log"
	"github.com/vovakirdan/pairchat/pairchat"
)

// Error codes sent in error frames. The SDK parses them back into its
// ErrorCode values.
const (
	codeUnauthorized   = "unauthorized"
	codeBadRequest     = "bad_request"
	codeInvalidMessage = "invalid_message"
)

type Handler struct {
	hub      *Hub
	cfg      config.WebSocketConfig
	auth     *auth.Authenticator
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	now      func() time.Time
}

// NewHandler serves websocket upgrades for hub. When a is enabled every
// hello must carry a token it accepts for the named user.
func NewHandler(hub *Hub, cfg config.WebSocketConfig, a *auth.Authenticator, logger zerolog.Logger) *Handler {
	cfg = withDefaults(cfg)
	return &Handler{
		hub:   hub,
		cfg:   cfg,
		auth:  a,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
		now:    time.Now,
	}
}

func withDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = 10 * time.Second
	}
	return cfg
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str(log.FieldClientIP, r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	c := newClient(id, h.hub, conn, h.cfg, h.logger.With().Str(log.FieldConnID, id).Logger())
	go c.writePump()
	go c.readPump(h.handleFrame)
}

// handleFrame processes one inbound frame. Returning false ends the connection.
func (h *Handler) handleFrame(c *Client, frame []byte) bool {
	var env pairchat.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		h.reply(c, codeBadRequest, "malformed frame")
		return c.user != ""
	}

	if c.user == "" {
		return h.hello(c, env)
	}

	switch {
	case env.Type == pairchat.TypeHello:
		h.reply(c, codeBadRequest, "already authenticated")
	case env.Type != pairchat.TypeEvent:
		h.reply(c, codeBadRequest, "unsupported frame type "+env.Type)
	case env.Event == pairchat.EventSendMessage:
		h.forward(c, env.Data)
	default:
		h.reply(c, codeBadRequest, "unknown event "+env.Event)
	}
	return true
}

func (h *Handler) hello(c *Client, env pairchat.Envelope) bool {
	if env.Type != pairchat.TypeHello {
		h.reply(c, codeUnauthorized, "hello required")
		return false
	}
	var hello pairchat.HelloPayload
	if err := pairchat.UnmarshalData(env.Data, &hello); err != nil || hello.User == "" {
		h.reply(c, codeBadRequest, "hello must name a user")
		return false
	}
	if hello.Protocol != 0 && hello.Protocol != pairchat.ProtocolVersion {
		h.reply(c, codeBadRequest, "unsupported protocol version")
		return false
	}
	if err := h.auth.VerifyUser(hello.Token, hello.User); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldUserID, hello.User).Msg("hello rejected")
		h.reply(c, codeUnauthorized, err.Error())
		return false
	}

	c.user = hello.User
	c.logger = c.logger.With().Str(log.FieldUserID, c.user).Logger()
	c.conn.SetReadDeadline(h.now().Add(h.cfg.PongWait))
	h.hub.register(c)
	return true
}

// forward relays a sendMessage to the receiver's connections. The sender is
// taken from the connection, never trusted from the payload.
func (h *Handler) forward(c *Client, data json.RawMessage) {
	var p pairchat.SendMessagePayload
	if err := pairchat.UnmarshalData(data, &p); err != nil {
		h.reply(c, codeBadRequest, "malformed sendMessage")
		return
	}
	if p.SenderID != "" && p.SenderID != c.user {
		h.reply(c, codeUnauthorized, "senderId does not match the connection")
		return
	}
	if p.ReceiverID == "" || p.ReceiverID == c.user || p.Message == "" {
		h.reply(c, codeInvalidMessage, "sendMessage needs a receiverId other than the sender and a message")
		return
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = h.now().UnixMilli()
	}

	raw, err := json.Marshal(pairchat.GetMessagePayload{
		SenderID:  c.user,
		Message:   p.Message,
		ClientID:  p.ClientID,
		CreatedAt: p.CreatedAt,
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal getMessage")
		return
	}
	frame, err := json.Marshal(pairchat.Envelope{Type: pairchat.TypeEvent, Event: pairchat.EventGetMessage, Data: raw})
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal envelope")
		return
	}

	n := h.hub.deliver(p.ReceiverID, frame)
	c.logger.Debug().
		Str(log.FieldEvent, pairchat.EventSendMessage).
		Str("receiver", p.ReceiverID).
		Int("delivered", n).
		Msg("message relayed")
}

func (h *Handler) reply(c *Client, code, msg string) {
	frame, err := json.Marshal(pairchat.Envelope{Type: pairchat.TypeError, Error: &pairchat.Error{Code: code, Msg: msg}})
	if err != nil {
		return
	}
	c.queue(frame)
}
