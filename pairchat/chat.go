package pairchat

import (
	"context"
	"sync"
	"time"
)

// ChatConfig configures a Chat.
type ChatConfig struct {
	Self        string
	History     HistoryStore
	Channel     LiveChannel
	Logger      Logger
	DedupWindow time.Duration
	Retry       RetryPolicy
}

// Chat is the per-login entry point: it holds the shared live channel and at
// most one open RoomSession, and moves the channel listener from room to
// room as the user switches.
type Chat struct {
	cfg    ChatConfig
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	current *RoomSession
	closed  bool
}

// NewChat creates a Chat for the logged-in user cfg.Self.
func NewChat(cfg ChatConfig) (*Chat, error) {
	if cfg.Self == "" {
		return nil, NewError(ErrorInvalidConfig, "empty user")
	}
	if cfg.History == nil || cfg.Channel == nil {
		return nil, NewError(ErrorInvalidConfig, "history store and live channel are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Chat{cfg: cfg, ctx: ctx, cancel: cancel}, nil
}

// Open makes room the current room. The previous room's listener is
// replaced by the new one in a single step, then the previous session is
// closed, so no inbound event is seen by both rooms or attributed to the
// wrong one.
func (c *Chat) Open(room ChatRoom) (*RoomSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, NewError(ErrorSessionClosed, "chat is closed")
	}

	s, err := newRoomSession(c.ctx, SessionConfig{
		Room:        room,
		Self:        c.cfg.Self,
		History:     c.cfg.History,
		Channel:     c.cfg.Channel,
		Logger:      c.cfg.Logger,
		DedupWindow: c.cfg.DedupWindow,
		Retry:       c.cfg.Retry,
	})
	if err != nil {
		return nil, err
	}

	var prev *Subscription
	if c.current != nil {
		prev = c.current.subscription()
	}
	s.attach(c.cfg.Channel.Resubscribe(prev, EventGetMessage, s.handleLive))
	if c.current != nil {
		// Its listener is already gone; shutdown only discards state.
		c.current.shutdown()
	}
	c.current = s
	s.startFetch()

	c.cfg.Logger.Info("room opened", map[string]any{"room_id": room.ID, "peer": s.Peer()})
	return s, nil
}

// Current returns the open session, or nil.
func (c *Chat) Current() *RoomSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// CloseRoom closes the current session, if any.
func (c *Chat) CloseRoom() error {
	c.mu.Lock()
	s := c.current
	c.current = nil
	c.mu.Unlock()
	if s != nil {
		return s.Close()
	}
	return nil
}

// HandleState refreshes the current room when the live channel resumes
// after a gap. Wire it to Channel.OnStateChanged.
func (c *Chat) HandleState(ev StateEvent) {
	if !ev.Resumed() {
		return
	}
	if s := c.Current(); s != nil {
		if err := s.Refresh(); err != nil {
			c.cfg.Logger.Debug("refresh after reconnect skipped", map[string]any{"error": err.Error()})
		}
	}
}

// Close closes the current room and cancels all background work. The live
// channel is not closed; it belongs to the caller.
func (c *Chat) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.CloseRoom()
	c.cancel()
	return err
}
