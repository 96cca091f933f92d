package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"
)

// Client provides REST access to the chat history store and room directory.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	lookups    singleflight.Group
}

// NewClient creates a new REST API client.
// baseURL should be the base URL of the API, e.g., "http://localhost:8080/api".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetToken sets the bearer token for requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Room endpoints

// CreateRoom creates the room for a pair of users, or returns the existing one.
func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (*RoomRecord, error) {
	var resp RoomRecord
	if err := c.post(ctx, "/rooms", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRooms returns every room userID is a member of.
func (c *Client) ListRooms(ctx context.Context, userID string) ([]RoomRecord, error) {
	var resp []RoomRecord
	if err := c.get(ctx, "/rooms?userId="+url.QueryEscape(userID), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetRoom returns a room by identifier.
// Concurrent lookups of the same room share one request.
func (c *Client) GetRoom(ctx context.Context, roomID string) (*RoomRecord, error) {
	return c.lookupRoom(ctx, "/rooms/"+url.PathEscape(roomID))
}

// FindRoom returns the room shared by two users, in either order.
func (c *Client) FindRoom(ctx context.Context, first, second string) (*RoomRecord, error) {
	return c.lookupRoom(ctx, "/rooms/find/"+url.PathEscape(first)+"/"+url.PathEscape(second))
}

func (c *Client) lookupRoom(ctx context.Context, path string) (*RoomRecord, error) {
	v, err, _ := c.lookups.Do(path, func() (any, error) {
		var resp RoomRecord
		if err := c.get(ctx, path, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
	if err != nil {
		return nil, err
	}
	room := *v.(*RoomRecord)
	return &room, nil
}

// Message history endpoints

// GetMessages returns a room's history in ascending creation order.
func (c *Client) GetMessages(ctx context.Context, roomID string) ([]MessageRecord, error) {
	var resp []MessageRecord
	if err := c.get(ctx, "/messages/"+url.PathEscape(roomID), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// PostMessage persists a message and returns the stored record.
func (c *Client) PostMessage(ctx context.Context, req PostMessageRequest) (*MessageRecord, error) {
	var resp MessageRecord
	if err := c.post(ctx, "/messages", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Helper methods

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	if dest != nil {
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
