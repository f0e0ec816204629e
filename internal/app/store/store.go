// Package store holds the ordered message sequence for the active
// conversation and settles provisional sends against server-confirmed
// echoes. It is the only owner of that sequence: transport callbacks, poll
// ticks and user actions all mutate it through the operations below, every
// one of which is a total function over the in-memory state.
package store

import (
	"fmt"
	"sync"

	"chatsync/internal/domain/chat"
)

// State describes the lifecycle of the active conversation's sequence.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "empty"
	}
}

// Snapshot is a read-only copy of the store handed to the presentation
// layer. Mutating it has no effect on the store.
type Snapshot struct {
	ConversationID string
	State          State
	Messages       []chat.Message
}

// Store is the optimistic message store. All operations are conversation
// tagged: an operation whose conversation id does not match the active one
// is discarded, which is what invalidates in-flight work after a switch.
type Store struct {
	mu        sync.Mutex
	convID    string
	state     State
	messages  []chat.Message
	tempSeq   int64
	listeners map[int64]func()
	nextSub   int64
}

// New returns an empty store with no active conversation.
func New() *Store {
	return &Store{listeners: make(map[int64]func())}
}

// Subscribe registers a change listener and returns its cancel func. The
// listener is invoked after every mutation that changed visible state; it
// must not call back into the store synchronously.
func (s *Store) Subscribe(fn func()) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Snapshot returns a copy of the current sequence.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := make([]chat.Message, len(s.messages))
	copy(messages, s.messages)
	return Snapshot{ConversationID: s.convID, State: s.state, Messages: messages}
}

// Switch clears the sequence and all provisional bookkeeping, making
// newConversationID the active conversation in the loading state. Late
// results tagged with the old conversation id will no-op from here on.
func (s *Store) Switch(newConversationID string) {
	s.mu.Lock()
	s.convID = newConversationID
	s.state = StateLoading
	s.messages = nil
	s.mu.Unlock()
	s.notify()
}

// Load replaces the full sequence after a history fetch. The store becomes
// ready even when messages is empty: an empty conversation is a normal
// state, not an error.
func (s *Store) Load(conversationID string, messages []chat.Message) {
	s.mu.Lock()
	if s.convID != conversationID {
		s.mu.Unlock()
		return
	}
	s.messages = make([]chat.Message, len(messages))
	copy(s.messages, messages)
	chat.SortByCreatedAt(s.messages)
	s.state = StateReady
	s.mu.Unlock()
	s.notify()
}

// InsertProvisional appends an unconfirmed message and returns its generated
// provisional id. The message is visible to the presentation layer
// immediately, before any network round-trip settles it. Returns "" when the
// conversation is no longer active.
func (s *Store) InsertProvisional(conversationID string, m chat.Message) string {
	s.mu.Lock()
	if s.convID != conversationID {
		s.mu.Unlock()
		return ""
	}
	s.tempSeq++
	id := fmt.Sprintf("%s%d", chat.ProvisionalPrefix, s.tempSeq)
	m.ID = id
	m.ConversationID = conversationID
	m.Provisional = true
	s.messages = append(s.messages, m)
	s.mu.Unlock()
	s.notify()
	return id
}

// Reconcile replaces the provisional message with the server-confirmed one.
// A missing provisional id is a no-op: a conversation switch may have
// cleared the slate while the send was in flight. If the confirmed durable
// id already exists in the sequence (the echo raced in over the realtime
// feed), the provisional entry is dropped instead of duplicated.
func (s *Store) Reconcile(conversationID, provisionalID string, confirmed chat.Message) {
	s.mu.Lock()
	if s.convID != conversationID {
		s.mu.Unlock()
		return
	}
	idx := s.indexOf(provisionalID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	confirmed.ConversationID = conversationID
	confirmed.Provisional = false
	if s.indexOf(confirmed.ID) >= 0 {
		s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	} else {
		s.messages[idx] = confirmed
		chat.SortByCreatedAt(s.messages)
	}
	s.mu.Unlock()
	s.notify()
}

// Rollback removes a provisional message after a failed send. No-op when the
// id is unknown.
func (s *Store) Rollback(conversationID, provisionalID string) {
	s.mu.Lock()
	if s.convID != conversationID {
		s.mu.Unlock()
		return
	}
	idx := s.indexOf(provisionalID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	s.mu.Unlock()
	s.notify()
}

// Merge inserts incoming messages, suppressing any whose durable id is
// already present. Poll results and realtime events are both fed through
// here, so applying the same batch twice or two batches in either order
// yields the same final sequence.
func (s *Store) Merge(conversationID string, incoming []chat.Message) {
	s.mu.Lock()
	if s.convID != conversationID || len(incoming) == 0 {
		s.mu.Unlock()
		return
	}
	added := false
	for _, m := range incoming {
		if m.ID == "" || s.indexOf(m.ID) >= 0 {
			continue
		}
		m.ConversationID = conversationID
		s.messages = append(s.messages, m)
		added = true
	}
	if !added {
		s.mu.Unlock()
		return
	}
	chat.SortByCreatedAt(s.messages)
	s.mu.Unlock()
	s.notify()
}

// Remove deletes a message by durable id. Idempotent: removing an id that is
// not present changes nothing.
func (s *Store) Remove(conversationID, messageID string) {
	s.mu.Lock()
	if s.convID != conversationID {
		s.mu.Unlock()
		return
	}
	idx := s.indexOf(messageID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) indexOf(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
