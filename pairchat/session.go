package pairchat

import (
	"context"
	"sync"
	"time"
)

// emitTimeout bounds how long a send waits for room in the channel's write queue.
const emitTimeout = 5 * time.Second

// SessionConfig describes a room to open.
type SessionConfig struct {
	Room    ChatRoom
	Self    string // current user's uid
	History HistoryStore
	Channel LiveChannel
	Logger  Logger

	// DedupWindow defaults to DefaultDedupWindow.
	DedupWindow time.Duration
	// Retry applies to history fetches. The zero value tries once.
	Retry RetryPolicy
	// Now defaults to time.Now.
	Now func() time.Time
}

// RoomSession owns the displayed message sequence of one open room and its
// listener on the live channel.
//
// Every mutation (history resolved, live event, local send, persist
// result) is applied under one mutex; network calls run outside it.
type RoomSession struct {
	room    ChatRoom
	self    string
	peer    string
	history HistoryStore
	channel LiveChannel
	logger  Logger
	retry   RetryPolicy
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	tl       *timeline
	sub      *Subscription
	closed   bool
	loaded   bool
	fetchGen uint64
	lastErr  error
	updates  chan struct{}
}

// OpenRoom validates the room, arms the getMessage listener, and starts the
// history fetch in the background. The returned session starts empty.
//
// ctx bounds the session's history fetches. Persists outlive both ctx and
// Close so that a sent message still reaches the store; only their results
// are dropped once the session is closed.
func OpenRoom(ctx context.Context, cfg SessionConfig) (*RoomSession, error) {
	s, err := newRoomSession(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.attach(cfg.Channel.Subscribe(EventGetMessage, s.handleLive))
	s.startFetch()
	return s, nil
}

func newRoomSession(ctx context.Context, cfg SessionConfig) (*RoomSession, error) {
	if err := cfg.Room.Validate(cfg.Self); err != nil {
		return nil, err
	}
	if cfg.History == nil || cfg.Channel == nil {
		return nil, NewError(ErrorInvalidConfig, "history store and live channel are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	sctx, cancel := context.WithCancel(ctx)
	return &RoomSession{
		room:    cfg.Room,
		self:    cfg.Self,
		peer:    cfg.Room.Peer(cfg.Self),
		history: cfg.History,
		channel: cfg.Channel,
		logger:  logger,
		retry:   cfg.Retry,
		now:     now,
		ctx:     sctx,
		cancel:  cancel,
		tl:      newTimeline(cfg.Room.ID, cfg.Self, cfg.DedupWindow),
		updates: make(chan struct{}, 1),
	}, nil
}

// Room returns the room this session displays.
func (s *RoomSession) Room() ChatRoom { return s.room }

// Peer returns the other member of the room.
func (s *RoomSession) Peer() string { return s.peer }

// Messages returns a snapshot of the displayed sequence, oldest first.
// It is nil after Close.
func (s *RoomSession) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.tl.messages()
}

// Updates is signalled after every change to the sequence or to Err.
// Signals coalesce; read Messages after receiving one. It is closed by Close.
func (s *RoomSession) Updates() <-chan struct{} { return s.updates }

// Loaded reports whether a history fetch has been applied.
func (s *RoomSession) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Err returns the error of the most recent history fetch, if it failed.
func (s *RoomSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Send shows body immediately as a pending entry and returns it. Emitting
// to the peer and persisting happen in the background; the entry later
// becomes sent or failed, and is never removed.
func (s *RoomSession) Send(body string) (Message, error) {
	if err := validBody(body); err != nil {
		return Message{}, err
	}
	m := Message{
		ProvisionalID: NewProvisionalID(),
		RoomID:        s.room.ID,
		Sender:        s.self,
		Body:          body,
		CreatedAt:     s.now(),
		Status:        StatusPending,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Message{}, NewError(ErrorSessionClosed, "room "+s.room.ID+" is closed")
	}
	s.tl.addLocal(m)
	s.notifyLocked()
	s.mu.Unlock()

	go s.deliver(m)
	return m, nil
}

// Resend retries a failed entry under its original provisional id.
func (s *RoomSession) Resend(provisionalID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return NewError(ErrorSessionClosed, "room "+s.room.ID+" is closed")
	}
	m, err := s.tl.markPending(provisionalID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.notifyLocked()
	s.mu.Unlock()

	go s.deliver(m)
	return nil
}

// Refresh fetches history again, superseding any fetch still in flight.
// Use it after the live channel resumes: events sent during the gap are
// only recoverable from the store.
func (s *RoomSession) Refresh() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return NewError(ErrorSessionClosed, "room "+s.room.ID+" is closed")
	}
	s.startFetch()
	return nil
}

// Close detaches the listener, cancels the history fetch, and discards the
// sequence. Persists already started still run to completion. It is
// idempotent.
func (s *RoomSession) Close() error {
	if sub := s.shutdown(); sub != nil {
		s.channel.Unsubscribe(sub)
	}
	return nil
}

// shutdown closes the session and hands back its subscription without
// removing it, so a caller can swap it for another listener atomically.
func (s *RoomSession) shutdown() *Subscription {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.tl.reset()
	close(s.updates)
	s.mu.Unlock()

	s.cancel()
	s.logger.Debug("room closed", map[string]any{"room_id": s.room.ID})
	return sub
}

func (s *RoomSession) attach(sub *Subscription) {
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
}

func (s *RoomSession) subscription() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

func (s *RoomSession) startFetch() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.fetchGen++
	gen := s.fetchGen
	s.mu.Unlock()

	go func() {
		msgs, err := RetryFetch(s.ctx, s.history, s.room.ID, s.retry)
		s.resolveHistory(gen, msgs, err)
	}()
}

// resolveHistory applies a fetch result unless the session closed or a
// newer fetch started since gen was issued.
func (s *RoomSession) resolveHistory(gen uint64, msgs []Message, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.fetchGen {
		s.logger.Debug("discarding stale history", map[string]any{"room_id": s.room.ID, "generation": gen})
		return
	}
	if err != nil {
		s.lastErr = err
		s.logger.Warn("history fetch failed", map[string]any{"room_id": s.room.ID, "error": err.Error()})
		s.notifyLocked()
		return
	}
	s.tl.resolveHistory(msgs)
	s.loaded = true
	s.lastErr = nil
	s.notifyLocked()
}

func (s *RoomSession) handleLive(data []byte) {
	var p GetMessagePayload
	if err := UnmarshalData(data, &p); err != nil {
		s.logger.Warn("malformed getMessage event", map[string]any{"room_id": s.room.ID, "error": err.Error()})
		return
	}
	// Own echoes are already represented locally; anything not from the
	// peer belongs to another room.
	if p.SenderID == s.self || p.SenderID != s.peer {
		return
	}
	m := messageFromLive(s.room.ID, p, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.tl.receiveLive(m, p.ClientID != "") {
		s.notifyLocked()
	}
}

// deliver emits m to the peer when the channel is up, then persists it.
// Both run detached from the session's cancellation.
func (s *RoomSession) deliver(m Message) {
	detached := context.WithoutCancel(s.ctx)
	if s.channel.Connected() {
		ctx, cancel := context.WithTimeout(detached, emitTimeout)
		err := s.channel.Emit(ctx, EventSendMessage, SendMessagePayload{
			SenderID:   s.self,
			ReceiverID: s.peer,
			Message:    m.Body,
			ClientID:   m.ProvisionalID,
			CreatedAt:  m.CreatedAt.UnixMilli(),
		})
		cancel()
		if err != nil {
			s.logger.Debug("live emit skipped", map[string]any{"room_id": s.room.ID, "error": err.Error()})
		}
	}

	persisted, err := s.history.Persist(detached, PersistRequest{
		RoomID:   s.room.ID,
		Sender:   s.self,
		Body:     m.Body,
		ClientID: m.ProvisionalID,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Debug("persist finished after close", map[string]any{"room_id": s.room.ID, "client_id": m.ProvisionalID, "stored": err == nil})
		return
	}
	if err != nil {
		s.logger.Warn("persist failed", map[string]any{"room_id": s.room.ID, "client_id": m.ProvisionalID, "error": err.Error()})
	}
	if s.tl.reconcile(m.ProvisionalID, persisted, err) {
		s.notifyLocked()
	}
}

func (s *RoomSession) notifyLocked() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
