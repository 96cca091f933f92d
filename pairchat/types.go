package pairchat

import "encoding/json"

const (
	ProtocolVersion = 1

	// Frame types.
	TypeHello = "hello"
	TypeEvent = "event"
	TypeError = "error"

	// EventGetMessage is delivered by the relay for messages addressed to the current user.
	EventGetMessage = "getMessage"
	// EventSendMessage is emitted to the relay for messages addressed to a peer.
	EventSendMessage = "sendMessage"
)

// Envelope is the JSON frame exchanged with the relay in both directions.
type Envelope struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// HelloPayload initiates the session.
type HelloPayload struct {
	Protocol int    `json:"protocol,omitempty"`
	Token    string `json:"token,omitempty"`
	User     string `json:"user"`
}

// SendMessagePayload is the outbound sendMessage event.
type SendMessagePayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
	ClientID   string `json:"clientId,omitempty"`
	CreatedAt  int64  `json:"createdAt,omitempty"` // unix millis
}

// GetMessagePayload is the inbound getMessage event.
// Only senderId and message are guaranteed; older relays omit the rest.
type GetMessagePayload struct {
	SenderID  string `json:"senderId"`
	Message   string `json:"message"`
	ClientID  string `json:"clientId,omitempty"`
	CreatedAt int64  `json:"createdAt,omitempty"` // unix millis
}

// Error describes a relay protocol error.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}

// UnmarshalData decodes RawMessage into target.
func UnmarshalData(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}

func newEventEnvelope(event string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: TypeEvent, Event: event, Data: raw}, nil
}
