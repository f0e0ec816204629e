// Package session owns the lifecycle of the active conversation: one store,
// one realtime subscription and one poll loop at a time, switched together.
// It is the only surface the presentation layer talks to.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"chatsync/internal/app/schedule"
	"chatsync/internal/app/store"
	"chatsync/internal/domain/chat"
)

// Backend is the REST side of the chat transport.
type Backend interface {
	History(ctx context.Context, conversationID string) ([]chat.Message, error)
	SendText(ctx context.Context, conversationID, content string) (chat.Message, error)
	SendMedia(ctx context.Context, conversationID, filename string, content io.Reader, size int64, kind chat.Kind) (chat.Message, error)
	Delete(ctx context.Context, conversationID, messageID string) error
	MarkRead(ctx context.Context, conversationID string, messageIDs []string) error
}

// Feed is the realtime side: one subscription per conversation plus
// best-effort typing publishes.
type Feed interface {
	Subscribe(ctx context.Context, conversationID string, onMessage func(chat.Message), onTyping func(chat.TypingEvent)) (io.Closer, error)
	PublishTyping(ctx context.Context, conversationID string, typing bool) error
}

// Config carries session settings.
type Config struct {
	// SelfID is the locally authenticated principal; used to derive message
	// ownership in snapshots.
	SelfID       int64
	PollInterval time.Duration
}

// Session coordinates the optimistic store, the transport and the polling
// fallback for the active conversation.
type Session struct {
	cfg     Config
	backend Backend
	feed    Feed
	store   *store.Store
	poller  *schedule.Poller
	logger  *slog.Logger

	mu       sync.Mutex
	convID   string
	sub      io.Closer
	onTyping func(chat.TypingEvent)
}

// New wires a session; the transport and feed are injected, never pulled
// from shared globals.
func New(cfg Config, backend Backend, feed Feed, logger *slog.Logger) *Session {
	s := &Session{
		cfg:     cfg,
		backend: backend,
		feed:    feed,
		store:   store.New(),
		logger:  logger,
	}
	s.poller = &schedule.Poller{
		Interval: cfg.PollInterval,
		Fetch:    backend.History,
		Apply:    s.store.Merge,
		Logger:   logger,
	}
	return s
}

// Open makes conversationID the active conversation. Teardown of the
// previous one happens in a fixed order: poller stopped, subscription
// closed, store cleared; only then is the new history loaded. A realtime
// subscribe failure is tolerated, the poll loop covers delivery until the
// next Open.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("session: conversation id required")
	}

	s.mu.Lock()
	s.poller.Stop()
	if s.sub != nil {
		_ = s.sub.Close()
		s.sub = nil
	}
	s.convID = conversationID
	s.mu.Unlock()
	s.store.Switch(conversationID)

	history, err := s.backend.History(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("session: load history: %w", err)
	}
	s.store.Load(conversationID, history)

	sub, err := s.feed.Subscribe(ctx, conversationID, s.handleIncoming, s.handleTyping)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("realtime subscribe failed, polling only", "conversation_id", conversationID, "error", err)
		}
	} else {
		s.mu.Lock()
		if s.convID == conversationID {
			s.sub = sub
		} else {
			// Lost a switch race; this subscription belongs to a stale view.
			_ = sub.Close()
		}
		s.mu.Unlock()
	}

	s.poller.Start(ctx, conversationID)
	return nil
}

// Send inserts a provisional message, posts it and settles the outcome. The
// provisional bubble is visible before the request leaves; a failed send
// always rolls it back.
func (s *Session) Send(ctx context.Context, content string) error {
	conversationID := s.conversation()
	if conversationID == "" {
		return fmt.Errorf("session: no active conversation")
	}
	provisionalID := s.store.InsertProvisional(conversationID, chat.Message{
		SenderID:  s.cfg.SelfID,
		Content:   content,
		Kind:      chat.KindText,
		CreatedAt: time.Now(),
	})
	confirmed, err := s.backend.SendText(ctx, conversationID, content)
	if err != nil {
		s.store.Rollback(conversationID, provisionalID)
		return err
	}
	s.store.Reconcile(conversationID, provisionalID, confirmed)
	return nil
}

// SendFile uploads media with the same optimistic lifecycle as Send.
func (s *Session) SendFile(ctx context.Context, filename string, content io.Reader, size int64, kind chat.Kind) error {
	conversationID := s.conversation()
	if conversationID == "" {
		return fmt.Errorf("session: no active conversation")
	}
	provisionalID := s.store.InsertProvisional(conversationID, chat.Message{
		SenderID:  s.cfg.SelfID,
		Content:   filename,
		Kind:      kind,
		CreatedAt: time.Now(),
	})
	confirmed, err := s.backend.SendMedia(ctx, conversationID, filename, content, size, kind)
	if err != nil {
		s.store.Rollback(conversationID, provisionalID)
		return err
	}
	s.store.Reconcile(conversationID, provisionalID, confirmed)
	return nil
}

// Delete removes a message remotely, then locally. A rejected delete leaves
// the message visible.
func (s *Session) Delete(ctx context.Context, messageID string) error {
	conversationID := s.conversation()
	if conversationID == "" {
		return fmt.Errorf("session: no active conversation")
	}
	if err := s.backend.Delete(ctx, conversationID, messageID); err != nil {
		return err
	}
	s.store.Remove(conversationID, messageID)
	return nil
}

// MarkRead reports the given messages as read.
func (s *Session) MarkRead(ctx context.Context, messageIDs []string) error {
	conversationID := s.conversation()
	if conversationID == "" {
		return fmt.Errorf("session: no active conversation")
	}
	return s.backend.MarkRead(ctx, conversationID, messageIDs)
}

// SetTyping publishes a typing signal. Best effort: failures are logged and
// swallowed.
func (s *Session) SetTyping(ctx context.Context, typing bool) {
	conversationID := s.conversation()
	if conversationID == "" {
		return
	}
	if err := s.feed.PublishTyping(ctx, conversationID, typing); err != nil {
		if s.logger != nil {
			s.logger.Debug("typing publish dropped", "conversation_id", conversationID, "error", err)
		}
	}
}

// Snapshot returns the current ordered sequence for rendering.
func (s *Session) Snapshot() store.Snapshot {
	return s.store.Snapshot()
}

// SelfID returns the authenticated principal id for ownership checks.
func (s *Session) SelfID() int64 { return s.cfg.SelfID }

// Subscribe registers a store change listener.
func (s *Session) Subscribe(fn func()) (cancel func()) {
	return s.store.Subscribe(fn)
}

// OnTyping registers the handler for inbound typing signals.
func (s *Session) OnTyping(fn func(chat.TypingEvent)) {
	s.mu.Lock()
	s.onTyping = fn
	s.mu.Unlock()
}

// Close tears the session down: poller stopped, subscription closed, store
// cleared.
func (s *Session) Close() error {
	s.mu.Lock()
	s.poller.Stop()
	sub := s.sub
	s.sub = nil
	s.convID = ""
	s.mu.Unlock()
	s.store.Switch("")
	if sub != nil {
		return sub.Close()
	}
	return nil
}

func (s *Session) conversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

func (s *Session) handleIncoming(m chat.Message) {
	// The store drops messages tagged with an inactive conversation.
	s.store.Merge(m.ConversationID, []chat.Message{m})
}

func (s *Session) handleTyping(event chat.TypingEvent) {
	if event.UserID == s.cfg.SelfID {
		return
	}
	s.mu.Lock()
	fn := s.onTyping
	s.mu.Unlock()
	if fn != nil {
		fn(event)
	}
}
