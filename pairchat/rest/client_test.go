package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestClientSendsBearerAndDecodes(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/messages/room-1" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode([]MessageRecord{{ID: "m1", ChatRoomID: "room-1", Sender: "u1", Message: "hi", CreatedAt: time.Unix(10, 0)}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/api")
	c.SetToken("tok")
	msgs, err := c.GetMessages(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" || msgs[0].Message != "hi" {
		t.Fatalf("unexpected records %+v", msgs)
	}
	if auth != "Bearer tok" {
		t.Fatalf("expected bearer header, got %q", auth)
	}
}

func TestClientPostMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req PostMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(MessageRecord{
			ID: "m9", ChatRoomID: req.ChatRoomID, Sender: req.Sender,
			Message: req.Message, ClientID: req.ClientID, CreatedAt: time.Now(),
		})
	}))
	defer srv.Close()

	rec, err := NewClient(srv.URL).PostMessage(context.Background(), PostMessageRequest{
		ChatRoomID: "room-1", Sender: "u1", Message: "hello", ClientID: "c1",
	})
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if rec.ID != "m9" || rec.ClientID != "c1" || rec.Message != "hello" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestClientErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "room not found"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetRoom(context.Background(), "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "room not found" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestClientSharesConcurrentRoomLookups(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		json.NewEncoder(w).Encode(RoomRecord{ID: "room-1", Members: []string{"u1", "u2"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	var wg sync.WaitGroup
	rooms := make([]*RoomRecord, 4)
	for i := range rooms {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rooms[i], _ = c.FindRoom(context.Background(), "u1", "u2")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected one request, got %d", got)
	}
	for i, r := range rooms {
		if r == nil || r.ID != "room-1" {
			t.Fatalf("lookup %d got %+v", i, r)
		}
	}
	if rooms[0] == rooms[1] {
		t.Fatalf("callers must get their own record")
	}
}
