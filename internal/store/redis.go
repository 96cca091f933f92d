package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vovakirdan/pairchat/internal/config"
)

// Redis stores rooms as JSON strings, each room's messages in a sorted set
// scored by creation time, and each user's rooms in a sorted set.
// A pair key and a per-room clientId key make creation idempotent.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ Store = (*Redis)(nil)

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "pairchat"
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (s *Redis) roomKey(id string) string     { return s.prefix + ":room:" + id }
func (s *Redis) messagesKey(id string) string { return s.prefix + ":room:" + id + ":messages" }
func (s *Redis) pairIndexKey(a, b string) string {
	return s.prefix + ":pair:" + pairKey(a, b)
}
func (s *Redis) userKey(user string) string { return s.prefix + ":user:" + user + ":rooms" }
func (s *Redis) clientKey(roomID, clientID string) string {
	return s.prefix + ":room:" + roomID + ":client:" + clientID
}

func (s *Redis) CreateRoom(ctx context.Context, a, b string) (Room, error) {
	if err := validatePair(a, b); err != nil {
		return Room{}, err
	}
	pk := s.pairIndexKey(a, b)
	id, err := s.client.Get(ctx, pk).Result()
	if err == nil {
		return s.GetRoom(ctx, id)
	}
	if !errors.Is(err, redis.Nil) {
		return Room{}, fmt.Errorf("failed to read pair index: %w", err)
	}

	r := Room{ID: newID(), Members: []string{a, b}, CreatedAt: now()}
	data, err := json.Marshal(r)
	if err != nil {
		return Room{}, fmt.Errorf("failed to marshal room: %w", err)
	}
	// The room exists before the pair index points at it.
	if err := s.client.Set(ctx, s.roomKey(r.ID), data, 0).Err(); err != nil {
		return Room{}, fmt.Errorf("failed to write room: %w", err)
	}
	won, err := s.client.SetNX(ctx, pk, r.ID, 0).Result()
	if err != nil {
		return Room{}, fmt.Errorf("failed to write pair index: %w", err)
	}
	if !won {
		s.client.Del(ctx, s.roomKey(r.ID))
		id, err := s.client.Get(ctx, pk).Result()
		if err != nil {
			return Room{}, fmt.Errorf("failed to read pair index: %w", err)
		}
		return s.GetRoom(ctx, id)
	}

	score := float64(r.CreatedAt.UnixMilli())
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, s.userKey(a), redis.Z{Score: score, Member: r.ID})
		p.ZAdd(ctx, s.userKey(b), redis.Z{Score: score, Member: r.ID})
		return nil
	})
	if err != nil {
		return Room{}, fmt.Errorf("failed to index room: %w", err)
	}
	return r, nil
}

func (s *Redis) GetRoom(ctx context.Context, id string) (Room, error) {
	data, err := s.client.Get(ctx, s.roomKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Room{}, fmt.Errorf("room %s: %w", id, ErrNotFound)
		}
		return Room{}, fmt.Errorf("failed to get room: %w", err)
	}
	var r Room
	if err := json.Unmarshal(data, &r); err != nil {
		return Room{}, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return r, nil
}

func (s *Redis) FindRoom(ctx context.Context, a, b string) (Room, error) {
	id, err := s.client.Get(ctx, s.pairIndexKey(a, b)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Room{}, fmt.Errorf("room of %s and %s: %w", a, b, ErrNotFound)
		}
		return Room{}, fmt.Errorf("failed to read pair index: %w", err)
	}
	return s.GetRoom(ctx, id)
}

func (s *Redis) ListRooms(ctx context.Context, user string) ([]Room, error) {
	ids, err := s.client.ZRange(ctx, s.userKey(user), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	out := make([]Room, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.roomKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load rooms: %w", err)
	}
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var r Room
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal room: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Redis) AppendMessage(ctx context.Context, roomID, sender, body, clientID string) (Message, error) {
	if err := validateMessage(roomID, sender, body); err != nil {
		return Message{}, err
	}
	r, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return Message{}, err
	}
	if !r.HasMember(sender) {
		return Message{}, ErrNotMember
	}

	m := Message{ID: newID(), RoomID: roomID, Sender: sender, Body: body, ClientID: clientID, CreatedAt: now()}
	data, err := json.Marshal(m)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal message: %w", err)
	}

	if clientID == "" {
		if err := s.addMessage(ctx, roomID, m.CreatedAt, data); err != nil {
			return Message{}, err
		}
		return m, nil
	}

	key := s.clientKey(roomID, clientID)
	won, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return Message{}, fmt.Errorf("failed to write client index: %w", err)
	}
	if !won {
		return s.messageByClientID(ctx, roomID, clientID)
	}
	if err := s.addMessage(ctx, roomID, m.CreatedAt, data); err != nil {
		// Release the clientId so a retry appends instead of reporting a
		// message that is not in the history.
		if derr := s.client.Del(context.WithoutCancel(ctx), key).Err(); derr != nil {
			return Message{}, fmt.Errorf("%w (client index not released: %v)", err, derr)
		}
		return Message{}, err
	}
	return m, nil
}

func (s *Redis) addMessage(ctx context.Context, roomID string, at time.Time, data []byte) error {
	if err := s.client.ZAdd(ctx, s.messagesKey(roomID), redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: data,
	}).Err(); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// messageByClientID returns the record stored under clientID. A record
// whose append never landed, because an earlier call stopped between the
// two writes, is appended now so the caller never gets a message missing
// from the history.
func (s *Redis) messageByClientID(ctx context.Context, roomID, clientID string) (Message, error) {
	data, err := s.client.Get(ctx, s.clientKey(roomID, clientID)).Bytes()
	if err != nil {
		return Message{}, fmt.Errorf("failed to read client index: %w", err)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	err = s.client.ZScore(ctx, s.messagesKey(roomID), string(data)).Err()
	switch {
	case errors.Is(err, redis.Nil):
		if err := s.addMessage(ctx, roomID, m.CreatedAt, data); err != nil {
			return Message{}, err
		}
	case err != nil:
		return Message{}, fmt.Errorf("failed to check message: %w", err)
	}
	return m, nil
}

// ListMessages orders by score, then by member bytes. Members start with
// the time-ordered id, so equal timestamps keep creation order.
func (s *Redis) ListMessages(ctx context.Context, roomID string) ([]Message, error) {
	n, err := s.client.Exists(ctx, s.roomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check room: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}

	vals, err := s.client.ZRange(ctx, s.messagesKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	out := make([]Message, 0, len(vals))
	for _, v := range vals {
		var m Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}
