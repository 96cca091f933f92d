package store

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Store. Data is lost on restart.
type Memory struct {
	mu       sync.RWMutex
	rooms    map[string]Room
	pairs    map[string]string
	byUser   map[string][]string
	messages map[string][]Message
	clients  map[string]Message
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		rooms:    make(map[string]Room),
		pairs:    make(map[string]string),
		byUser:   make(map[string][]string),
		messages: make(map[string][]Message),
		clients:  make(map[string]Message),
	}
}

func (s *Memory) CreateRoom(_ context.Context, a, b string) (Room, error) {
	if err := validatePair(a, b); err != nil {
		return Room{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.pairs[pairKey(a, b)]; ok {
		return cloneRoom(s.rooms[id]), nil
	}
	r := Room{ID: newID(), Members: []string{a, b}, CreatedAt: now()}
	s.rooms[r.ID] = r
	s.pairs[pairKey(a, b)] = r.ID
	s.byUser[a] = append(s.byUser[a], r.ID)
	s.byUser[b] = append(s.byUser[b], r.ID)
	return cloneRoom(r), nil
}

func (s *Memory) GetRoom(_ context.Context, id string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return Room{}, fmt.Errorf("room %s: %w", id, ErrNotFound)
	}
	return cloneRoom(r), nil
}

func (s *Memory) FindRoom(_ context.Context, a, b string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pairs[pairKey(a, b)]
	if !ok {
		return Room{}, fmt.Errorf("room of %s and %s: %w", a, b, ErrNotFound)
	}
	return cloneRoom(s.rooms[id]), nil
}

func (s *Memory) ListRooms(_ context.Context, user string) ([]Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Room, 0, len(s.byUser[user]))
	for _, id := range s.byUser[user] {
		out = append(out, cloneRoom(s.rooms[id]))
	}
	return out, nil
}

func (s *Memory) AppendMessage(_ context.Context, roomID, sender, body, clientID string) (Message, error) {
	if err := validateMessage(roomID, sender, body); err != nil {
		return Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return Message{}, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	if !r.HasMember(sender) {
		return Message{}, ErrNotMember
	}
	if clientID != "" {
		if m, ok := s.clients[roomID+"\x00"+clientID]; ok {
			return m, nil
		}
	}

	m := Message{ID: newID(), RoomID: roomID, Sender: sender, Body: body, ClientID: clientID, CreatedAt: now()}
	s.messages[roomID] = append(s.messages[roomID], m)
	if clientID != "" {
		s.clients[roomID+"\x00"+clientID] = m
	}
	return m, nil
}

func (s *Memory) ListMessages(_ context.Context, roomID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.rooms[roomID]; !ok {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	return append([]Message{}, s.messages[roomID]...), nil
}

func (s *Memory) Close() error { return nil }

func cloneRoom(r Room) Room {
	r.Members = append([]string(nil), r.Members...)
	return r
}
