// Package internal carries the live channel's websocket transport.
package internal

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Options bound a connection. Zero values mean no bound.
type Options struct {
	Handshake time.Duration
	Read      time.Duration
	Write     time.Duration
	ReadLimit int64 // largest inbound frame in bytes
}

// Conn is a websocket carrying one JSON document per text frame.
type Conn struct {
	ws   *websocket.Conn
	opts Options
}

// Dial opens a websocket to url.
func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	hctx, cancel := bounded(ctx, opts.Handshake)
	defer cancel()
	ws, _, err := websocket.Dial(hctx, url, nil)
	if err != nil {
		return nil, err
	}
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}
	return &Conn{ws: ws, opts: opts}, nil
}

func (c *Conn) ReadJSON(ctx context.Context, v any) error {
	ctx, cancel := bounded(ctx, c.opts.Read)
	defer cancel()
	return wsjson.Read(ctx, c.ws, v)
}

func (c *Conn) WriteJSON(ctx context.Context, v any) error {
	ctx, cancel := bounded(ctx, c.opts.Write)
	defer cancel()
	return wsjson.Write(ctx, c.ws, v)
}

// Close performs the closing handshake with code.
func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}

func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
