package chat

import "encoding/json"

// RawMessage is the message payload as the backend emits it. Producers are
// not uniform: sent_at may be an RFC3339 string, a legacy date-time string or
// a component array, and content may carry a double-encoded envelope. Only
// the normalizer is allowed to interpret this shape.
type RawMessage struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	SenderID       int64           `json:"sender_id"`
	Content        string          `json:"content"`
	Kind           string          `json:"kind,omitempty"`
	Attachment     string          `json:"attachment,omitempty"`
	SentAt         json.RawMessage `json:"sent_at,omitempty"`
}

// Event types carried on the realtime channel.
const (
	EventMessage     = "message"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
	EventReadReceipt = "read_receipt"
)

// Event is one frame on the realtime channel, discriminated by Type.
type Event struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	UserID         int64       `json:"user_id,omitempty"`
	MessageIDs     []string    `json:"message_ids,omitempty"`
	Message        *RawMessage `json:"message,omitempty"`
}
