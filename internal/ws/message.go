package ws

import "encoding/json"

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	// Client to server requests.
	MessageTypeJoin      MessageType = "collab:join"
	MessageTypeLeave     MessageType = "collab:leave"
	MessageTypeHeartbeat MessageType = "collab:heartbeat"
	MessageTypePresence  MessageType = "presence:update"

	// Server to client messages.
	MessageTypeReply          MessageType = "reply"
	MessageTypeMemberJoined   MessageType = "collab:member:joined"
	MessageTypeMemberLeft     MessageType = "collab:member:left"
	MessageTypePresenceUpdate MessageType = "collab:presence"
	MessageTypeRoster         MessageType = "collab:presence:roster"
)

// Message is the envelope for all WebSocket communication. ID correlates a
// request with its reply and is empty on pushed events.
type Message struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage marshals payload into a message.
func NewMessage(msgType MessageType, id string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: msgType, ID: id}, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}

	return Message{Type: msgType, ID: id, Payload: raw}, nil
}

// JoinPayload asks to enter a diagram room.
type JoinPayload struct {
	DocumentID string `json:"documentId"`
	SinceSeq   *int64 `json:"sinceSeq,omitempty"`
}

// OKPayload is the reply to requests without a result.
type OKPayload struct {
	OK      bool `json:"ok"`
	Skipped bool `json:"skipped,omitempty"`
}

// AckPayload confirms an operation. AckSeq is null for a deduplicated retry.
type AckPayload struct {
	AckSeq     *int64 `json:"ackSeq"`
	ServerTime int64  `json:"serverTime,omitempty"`
	Dedup      bool   `json:"dedup,omitempty"`
}

// ErrorPayload reports a failed request.
type ErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// Retryable tells the client to resend the same request later.
	Retryable bool `json:"retryable,omitempty"`
}
