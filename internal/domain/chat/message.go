package chat

import (
	"sort"
	"strings"
	"time"
)

// Kind classifies a message payload.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindFile     Kind = "file"
	KindDocument Kind = "document"
)

// ParseKind maps a wire kind to a known Kind, defaulting to text.
func ParseKind(raw string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindImage:
		return KindImage
	case KindVideo:
		return KindVideo
	case KindFile:
		return KindFile
	case KindDocument:
		return KindDocument
	default:
		return KindText
	}
}

// ProvisionalPrefix marks locally generated ids that have not been confirmed
// by the server yet.
const ProvisionalPrefix = "temp-"

// Message is the canonical in-memory message record. Every raw server shape
// is converted to this form at the ingestion boundary before any other
// component sees it.
type Message struct {
	ID             string
	ConversationID string
	SenderID       int64
	Content        string
	Kind           Kind
	AttachmentURL  string
	CreatedAt      time.Time
	Provisional    bool
	// Degraded marks messages whose timestamp could not be parsed and was
	// replaced with the local clock; display only, never persisted back.
	Degraded bool
}

// Own reports whether the message was authored by the given principal.
func (m Message) Own(selfID int64) bool {
	return m.SenderID == selfID
}

// IsProvisionalID reports whether the id is a locally generated one.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// SortByCreatedAt orders messages ascending by timestamp. The sort is stable
// so that arrival order breaks ties regardless of which path delivered the
// message first.
func SortByCreatedAt(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}

// TypingEvent is an inbound or outbound typing signal for one conversation.
type TypingEvent struct {
	ConversationID string `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	Typing         bool   `json:"is_typing"`
}
