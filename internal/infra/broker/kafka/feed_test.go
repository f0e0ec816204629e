package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"chatsync/internal/domain/chat"
)

func TestDispatchFiltersConversations(t *testing.T) {
	var got []chat.Message
	h := groupHandler{
		conversationID: "c-1",
		normalizer:     chat.Normalizer{},
		onMessage:      func(m chat.Message) { got = append(got, m) },
	}

	h.dispatch(chat.Event{
		Type:           chat.EventMessage,
		ConversationID: "c-other",
		Message:        &chat.RawMessage{ID: "m-ignored", SentAt: json.RawMessage(`"2024-03-05T14:30:00Z"`)},
	})
	h.dispatch(chat.Event{
		Type:           chat.EventMessage,
		ConversationID: "c-1",
		Message:        &chat.RawMessage{ID: "m-kept", SentAt: json.RawMessage(`"2024-03-05T14:30:00Z"`)},
	})

	if len(got) != 1 || got[0].ID != "m-kept" {
		t.Fatalf("dispatched = %+v, want only m-kept", got)
	}
	want := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	if !got[0].CreatedAt.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", got[0].CreatedAt, want)
	}
}

func TestDispatchTypingEvents(t *testing.T) {
	var got []chat.TypingEvent
	h := groupHandler{
		conversationID: "c-1",
		onTyping:       func(e chat.TypingEvent) { got = append(got, e) },
	}

	h.dispatch(chat.Event{Type: chat.EventTypingStart, ConversationID: "c-1", UserID: 7})
	h.dispatch(chat.Event{Type: chat.EventTypingStop, ConversationID: "c-1", UserID: 7})
	h.dispatch(chat.Event{Type: chat.EventTypingStart, ConversationID: "c-2", UserID: 9})

	if len(got) != 2 {
		t.Fatalf("events = %+v, want 2 for c-1", got)
	}
	if !got[0].Typing || got[1].Typing {
		t.Fatalf("typing flags = %v %v", got[0].Typing, got[1].Typing)
	}
}

func TestDispatchIgnoresMalformedFrames(t *testing.T) {
	h := groupHandler{conversationID: "c-1"}
	// No callbacks registered and no message payload: must not panic.
	h.dispatch(chat.Event{Type: chat.EventMessage, ConversationID: "c-1"})
	h.dispatch(chat.Event{Type: chat.EventReadReceipt, ConversationID: "c-1"})
	h.dispatch(chat.Event{Type: "unknown", ConversationID: "c-1"})
}
