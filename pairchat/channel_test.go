package pairchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// startRelayStub serves one websocket per connection and hands it to handle.
func startRelayStub(t *testing.T, handle func(ctx context.Context, n int, ws *websocket.Conn)) string {
	t.Helper()
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		handle(r.Context(), int(atomic.AddInt32(&conns, 1)), ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readHello(ctx context.Context, ws *websocket.Conn) (HelloPayload, error) {
	var env Envelope
	if err := wsjson.Read(ctx, ws, &env); err != nil {
		return HelloPayload{}, err
	}
	var hello HelloPayload
	err := json.Unmarshal(env.Data, &hello)
	return hello, err
}

// drain blocks until the client goes away.
func drain(ctx context.Context, ws *websocket.Conn) {
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			return
		}
	}
}

func TestChannelHelloEmitAndReceive(t *testing.T) {
	hellos := make(chan HelloPayload, 1)
	emitted := make(chan Envelope, 1)
	url := startRelayStub(t, func(ctx context.Context, _ int, ws *websocket.Conn) {
		hello, err := readHello(ctx, ws)
		if err != nil {
			return
		}
		hellos <- hello
		raw, _ := json.Marshal(GetMessagePayload{SenderID: "u2", Message: "hi u1"})
		if err := wsjson.Write(ctx, ws, Envelope{Type: TypeEvent, Event: EventGetMessage, Data: raw}); err != nil {
			return
		}
		var env Envelope
		if err := wsjson.Read(ctx, ws, &env); err != nil {
			return
		}
		emitted <- env
		drain(ctx, ws)
	})

	cfg := DefaultConfig()
	cfg.URL = url
	cfg.User = "u1"
	cfg.Token = "secret"
	cfg.AutoReconnect = false
	c := NewChannel(cfg)

	received := make(chan GetMessagePayload, 1)
	c.Subscribe(EventGetMessage, func(data []byte) {
		var p GetMessagePayload
		if err := json.Unmarshal(data, &p); err == nil {
			received <- p
		}
	})

	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	select {
	case h := <-hellos:
		if h.User != "u1" || h.Token != "secret" || h.Protocol != ProtocolVersion {
			t.Fatalf("unexpected hello %+v", h)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("relay never saw hello")
	}

	select {
	case p := <-received:
		if p.SenderID != "u2" || p.Message != "hi u1" {
			t.Fatalf("unexpected event %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("getMessage not delivered")
	}

	if err := c.Emit(ctx, EventSendMessage, SendMessagePayload{SenderID: "u1", ReceiverID: "u2", Message: "hey"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	select {
	case env := <-emitted:
		var p SendMessagePayload
		if env.Event != EventSendMessage || json.Unmarshal(env.Data, &p) != nil || p.ReceiverID != "u2" || p.Message != "hey" {
			t.Fatalf("unexpected frame %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("relay never got sendMessage")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("expected closed, got %s", c.State())
	}
	if err := c.Connect(ctx); err == nil {
		t.Fatalf("closed channel must not reconnect")
	}
}

func TestChannelReconnectsAfterDrop(t *testing.T) {
	url := startRelayStub(t, func(ctx context.Context, n int, ws *websocket.Conn) {
		if _, err := readHello(ctx, ws); err != nil {
			return
		}
		if n == 1 {
			ws.Close(websocket.StatusGoingAway, "restarting")
			return
		}
		drain(ctx, ws)
	})

	cfg := DefaultConfig()
	cfg.URL = url
	cfg.User = "u1"
	cfg.ReconnectInterval = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	c := NewChannel(cfg)

	states := make(chan StateEvent, 16)
	c.OnStateChanged(func(ev StateEvent) {
		select {
		case states <- ev:
		default:
		}
	})
	errs := make(chan error, 4)
	c.OnError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-states:
			if ev.Resumed() {
				if !c.Connected() {
					t.Fatalf("resumed channel should report connected")
				}
				select {
				case err := <-errs:
					if CodeOf(err) != ErrorDisconnected {
						t.Fatalf("expected disconnected error, got %v", err)
					}
				default:
					t.Fatalf("drop should be reported through OnError")
				}
				return
			}
		case <-deadline:
			t.Fatalf("channel never resumed; state %s", c.State())
		}
	}
}

func TestChannelGivesUpAfterMaxTries(t *testing.T) {
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&conns, 1) > 1 {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		readHello(r.Context(), ws)
		ws.Close(websocket.StatusGoingAway, "bye")
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.User = "u1"
	cfg.ReconnectInterval = 5 * time.Millisecond
	cfg.MaxReconnectTries = 2
	c := NewChannel(cfg)

	failed := make(chan struct{})
	var once atomic.Bool
	c.OnStateChanged(func(ev StateEvent) {
		if ev.NewState == StateError && once.CompareAndSwap(false, true) {
			close(failed)
		}
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	select {
	case <-failed:
	case <-time.After(3 * time.Second):
		t.Fatalf("expected error state; got %s", c.State())
	}
	if got := atomic.LoadInt32(&conns); got != 3 {
		t.Fatalf("expected one connection and two retries, got %d dials", got)
	}
}
