package devserver

import (
	"fmt"
	"sync"
	"time"

	"chatsync/internal/domain/chat"
)

// Store keeps conversations, messages and uploaded blobs in memory. It backs
// the reference server only; production persistence lives behind the real
// backend and is out of scope here.
type Store struct {
	mu       sync.RWMutex
	known    map[string]bool
	messages map[string][]chat.RawMessage
	uploads  map[string]upload
	nextID   int64
}

type upload struct {
	contentType string
	data        []byte
}

// NewStore returns an empty store with the given conversations seeded.
func NewStore(conversations ...string) *Store {
	s := &Store{
		known:    make(map[string]bool),
		messages: make(map[string][]chat.RawMessage),
		uploads:  make(map[string]upload),
	}
	for _, id := range conversations {
		s.known[id] = true
	}
	return s
}

// EnsureConversation marks a conversation as existing.
func (s *Store) EnsureConversation(conversationID string) {
	s.mu.Lock()
	s.known[conversationID] = true
	s.mu.Unlock()
}

// Append stores a new message and returns the confirmed payload.
func (s *Store) Append(conversationID string, senderID int64, content, kind, attachment string) chat.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known[conversationID] = true
	s.nextID++
	raw := chat.RawMessage{
		ID:             fmt.Sprintf("m-%d", s.nextID),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Kind:           kind,
		Attachment:     attachment,
		SentAt:         []byte(fmt.Sprintf("%q", time.Now().UTC().Format(time.RFC3339Nano))),
	}
	s.messages[conversationID] = append(s.messages[conversationID], raw)
	return raw
}

// List returns the messages of a conversation; ok is false when the
// conversation does not exist.
func (s *Store) List(conversationID string) (messages []chat.RawMessage, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.known[conversationID] {
		return nil, false
	}
	out := make([]chat.RawMessage, len(s.messages[conversationID]))
	copy(out, s.messages[conversationID])
	return out, true
}

// Delete removes a message; false when it was not present.
func (s *Store) Delete(conversationID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.messages[conversationID]
	for i := range list {
		if list[i].ID == messageID {
			s.messages[conversationID] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// SaveUpload stores a blob under the given object name.
func (s *Store) SaveUpload(name, contentType string, data []byte) {
	s.mu.Lock()
	s.uploads[name] = upload{contentType: contentType, data: data}
	s.mu.Unlock()
}

// Upload returns a stored blob.
func (s *Store) Upload(name string) (contentType string, data []byte, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.uploads[name]
	return u.contentType, u.data, ok
}
