package pairchat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/vovakirdan/pairchat/pairchat/rest"
)

// HistoryStore is the durable message store as seen by a RoomSession.
//
// FetchHistory returns a room's messages in ascending creation order, or an
// error coded ErrorNotFound (unknown room) or ErrorTransient (store
// unreachable; the caller may retry).
//
// Persist stores one message and returns it with PersistedID set. It never
// partially persists: either a full Message comes back or an error does.
//
// Returned messages carry in ProvisionalID the client id the sender
// attached, or "" when the store does not know it.
type HistoryStore interface {
	FetchHistory(ctx context.Context, roomID string) ([]Message, error)
	Persist(ctx context.Context, req PersistRequest) (Message, error)
}

// PersistRequest is one message to store. ClientID makes retries idempotent.
type PersistRequest struct {
	RoomID   string
	Sender   string
	Body     string
	ClientID string
}

// RESTHistory is a HistoryStore backed by the history REST API.
type RESTHistory struct {
	client *rest.Client
}

var _ HistoryStore = (*RESTHistory)(nil)

// NewRESTHistory wraps a REST client.
func NewRESTHistory(client *rest.Client) *RESTHistory {
	return &RESTHistory{client: client}
}

// FetchHistory implements HistoryStore.
func (h *RESTHistory) FetchHistory(ctx context.Context, roomID string) ([]Message, error) {
	records, err := h.client.GetMessages(ctx, roomID)
	if err != nil {
		return nil, classifyStoreError("fetch history of room "+roomID, err)
	}
	out := make([]Message, 0, len(records))
	for _, r := range records {
		out = append(out, MessageFromRecord(r))
	}
	return out, nil
}

// Persist implements HistoryStore.
func (h *RESTHistory) Persist(ctx context.Context, req PersistRequest) (Message, error) {
	rec, err := h.client.PostMessage(ctx, rest.PostMessageRequest{
		ChatRoomID: req.RoomID,
		Sender:     req.Sender,
		Message:    req.Body,
		ClientID:   req.ClientID,
	})
	if err != nil {
		return Message{}, classifyStoreError("persist message", err)
	}
	if rec.ID == "" {
		return Message{}, NewError(ErrorTransient, "store returned a message without identifier")
	}
	return MessageFromRecord(*rec), nil
}

// MessageFromRecord converts a wire record to a Message.
func MessageFromRecord(r rest.MessageRecord) Message {
	return Message{
		ProvisionalID: r.ClientID,
		PersistedID:   r.ID,
		RoomID:        r.ChatRoomID,
		Sender:        r.Sender,
		Body:          r.Message,
		CreatedAt:     r.CreatedAt,
		Status:        StatusSent,
	}
}

// RoomFromRecord converts a wire room to a ChatRoom.
func RoomFromRecord(r rest.RoomRecord) ChatRoom {
	return ChatRoom{ID: r.ID, Members: append([]string(nil), r.Members...), CreatedAt: r.CreatedAt}
}

// classifyStoreError maps transport and HTTP failures onto the error taxonomy.
func classifyStoreError(op string, err error) error {
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusNotFound:
			return WrapError(ErrorNotFound, op, err)
		case apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusForbidden:
			return WrapError(ErrorInvalidRoom, op, err)
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
			return WrapError(ErrorTransient, op, err)
		default:
			return WrapError(ErrorUnknown, op, err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return WrapError(ErrorTransient, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return WrapError(ErrorTransient, op, err)
}

// RetryPolicy bounds RetryFetch.
type RetryPolicy struct {
	Attempts int           // total tries, including the first
	Initial  time.Duration // wait before the second try, doubled after each failure
	Max      time.Duration
}

// DefaultRetryPolicy tries three times over roughly 1.5 seconds.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Initial: 500 * time.Millisecond, Max: 5 * time.Second}

// RetryFetch calls FetchHistory until it succeeds, fails with a
// non-transient error, or the policy is exhausted.
func RetryFetch(ctx context.Context, store HistoryStore, roomID string, p RetryPolicy) ([]Message, error) {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	wait := p.Initial
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
			wait *= 2
			if p.Max > 0 && wait > p.Max {
				wait = p.Max
			}
		}
		var msgs []Message
		msgs, err = store.FetchHistory(ctx, roomID)
		if err == nil {
			return msgs, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
	}
	return nil, err
}
