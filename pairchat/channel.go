package pairchat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/pairchat/pairchat/internal"
)

// LiveChannel is the shared live event connection a RoomSession attaches to.
// One exists per authenticated user; rooms come and go on top of it.
type LiveChannel interface {
	Subscribe(event string, fn EventHandler) *Subscription
	Unsubscribe(sub *Subscription)
	Resubscribe(old *Subscription, event string, fn EventHandler) *Subscription
	Emit(ctx context.Context, event string, payload any) error
	Connected() bool
}

// Channel is the websocket implementation of LiveChannel.
type Channel struct {
	cfg        Config
	logger     Logger
	writeCh    chan Envelope
	dispatcher Dispatcher

	mu     sync.Mutex
	state  ConnectionState
	cancel context.CancelFunc
	done   chan struct{}
}

var _ LiveChannel = (*Channel)(nil)

// NewChannel constructs a channel with provided config.
// Use DefaultConfig() as a starting point and modify as needed.
func NewChannel(cfg Config) *Channel {
	return &Channel{
		cfg:     cfg,
		logger:  noopLogger{},
		writeCh: make(chan Envelope, 64),
	}
}

// SetLogger overrides logger (optional).
func (c *Channel) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
}

// OnError registers callback for relay and connection errors.
func (c *Channel) OnError(fn func(error)) { c.dispatcher.SetOnError(fn) }

// OnStateChanged registers callback for connection state transitions.
func (c *Channel) OnStateChanged(fn StateHandler) { c.dispatcher.SetOnStateChanged(fn) }

// Subscribe registers fn for inbound events named event.
func (c *Channel) Subscribe(event string, fn EventHandler) *Subscription {
	return c.dispatcher.Subscribe(event, fn)
}

// Unsubscribe removes a listener added by Subscribe or Resubscribe.
func (c *Channel) Unsubscribe(sub *Subscription) { c.dispatcher.Unsubscribe(sub) }

// Resubscribe atomically replaces old with a new listener.
func (c *Channel) Resubscribe(old *Subscription, event string, fn EventHandler) *Subscription {
	return c.dispatcher.Resubscribe(old, event, fn)
}

// State returns the current connection state.
func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether events can be emitted right now.
func (c *Channel) Connected() bool { return c.State() == StateConnected }

// Connect dials the relay, sends hello, and starts internal loops.
// After a successful Connect the channel keeps itself connected when
// AutoReconnect is set, until Close.
func (c *Channel) Connect(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return NewError(ErrorConnection, "channel closed")
	case StateDisconnected, StateError:
	default:
		c.mu.Unlock()
		return NewError(ErrorConnection, "already connected")
	}
	if c.cancel != nil {
		c.cancel()
	}
	old := c.state
	c.state = StateConnecting
	c.mu.Unlock()
	c.dispatcher.fireState(StateEvent{OldState: old, NewState: StateConnecting})

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected, err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "client close")
		return NewError(ErrorConnection, "channel closed")
	}
	c.cancel = cancel
	c.done = done
	c.state = StateConnected
	c.mu.Unlock()
	c.dispatcher.fireState(StateEvent{OldState: StateConnecting, NewState: StateConnected})
	c.logger.Info("live channel connected", map[string]any{"url": c.cfg.URL, "user": c.cfg.User})

	go c.supervise(runCtx, conn, done)
	return nil
}

// Emit queues an event for the relay. Delivery is not acknowledged.
func (c *Channel) Emit(ctx context.Context, event string, payload any) error {
	if !c.Connected() {
		return NewError(ErrorNotConnected, "not connected")
	}
	env, err := newEventEnvelope(event, payload)
	if err != nil {
		return WrapError(ErrorSerialization, "failed to marshal "+event, err)
	}

	select {
	case c.writeCh <- env:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return WrapError(ErrorTimeout, "timed out queueing "+event, ctx.Err())
		}
		return ctx.Err()
	}
}

// Close shuts down the channel and its websocket. It is idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	old := c.state
	c.state = StateClosed
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	c.dispatcher.fireState(StateEvent{OldState: old, NewState: StateClosed})
	return nil
}

// setState records a transition unless the channel was closed meanwhile.
func (c *Channel) setState(s ConnectionState, cause error) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == s {
		c.mu.Unlock()
		return
	}
	old := c.state
	c.state = s
	c.mu.Unlock()
	c.dispatcher.fireState(StateEvent{OldState: old, NewState: s, Error: cause})
}

func (c *Channel) dial(ctx context.Context) (*internal.Conn, error) {
	conn, err := internal.Dial(ctx, c.cfg.URL, internal.Options{
		Handshake: c.cfg.HandshakeTimeout,
		Read:      c.cfg.ReadTimeout,
		Write:     c.cfg.WriteTimeout,
		ReadLimit: c.cfg.MaxMessageSize,
	})
	if err != nil {
		return nil, dialError("failed to dial relay", err)
	}

	hello, err := json.Marshal(HelloPayload{
		Protocol: ProtocolVersion,
		Token:    c.cfg.Token,
		User:     c.cfg.User,
	})
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake error")
		return nil, WrapError(ErrorSerialization, "failed to marshal hello", err)
	}
	if err := conn.WriteJSON(ctx, Envelope{Type: TypeHello, Data: hello}); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake error")
		return nil, dialError("failed to send hello", err)
	}
	return conn, nil
}

// supervise owns the connection for the channel's lifetime: it serves the
// current conn and redials when it drops.
func (c *Channel) supervise(ctx context.Context, conn *internal.Conn, done chan struct{}) {
	defer close(done)
	for {
		err := c.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("live channel dropped", map[string]any{"error": errString(err)})
		c.dispatcher.fireError(WrapError(ErrorDisconnected, "live channel dropped", err))

		if !c.cfg.AutoReconnect {
			c.setState(StateDisconnected, err)
			return
		}
		c.setState(StateReconnecting, err)

		conn, err = c.reconnect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("live channel gave up reconnecting", map[string]any{"error": err.Error()})
				c.setState(StateError, err)
			}
			return
		}
		c.setState(StateConnected, nil)
		c.logger.Info("live channel resumed", map[string]any{"url": c.cfg.URL})
	}
}

// serve runs the read and write loops until either fails or ctx ends.
func (c *Channel) serve(ctx context.Context, conn *internal.Conn) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx, conn) })
	g.Go(func() error { return c.writeLoop(gctx, conn) })
	err := g.Wait()
	_ = conn.Close(websocket.StatusNormalClosure, "client close")
	return err
}

func (c *Channel) reconnect(ctx context.Context) (*internal.Conn, error) {
	var lastErr error
	for attempt := 0; c.cfg.MaxReconnectTries == 0 || attempt < c.cfg.MaxReconnectTries; attempt++ {
		t := time.NewTimer(c.cfg.reconnectDelay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}

		conn, err := c.dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		c.logger.Debug("reconnect attempt failed", map[string]any{"attempt": attempt + 1, "error": err.Error()})
	}
	return nil, WrapError(ErrorConnection, "reconnect attempts exhausted", lastErr)
}

func (c *Channel) readLoop(ctx context.Context, conn *internal.Conn) error {
	for {
		var env Envelope
		if err := conn.ReadJSON(ctx, &env); err != nil {
			return err
		}
		c.dispatcher.Dispatch(env)
	}
}

func (c *Channel) writeLoop(ctx context.Context, conn *internal.Conn) error {
	for {
		select {
		case env := <-c.writeCh:
			if err := conn.WriteJSON(ctx, env); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// dialError tells a handshake that ran out of time apart from one that
// was refused.
func dialError(msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(ErrorTimeout, msg, err)
	}
	return WrapError(ErrorConnection, msg, err)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
