package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/internal/domain/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 << 10
	sendBufferSize = 64
)

// ErrNoSubscription is returned when a typing publish has no live feed to
// ride on. Best-effort callers swallow it.
var ErrNoSubscription = errors.New("transport: no active realtime subscription")

// WSFeed opens realtime subscriptions over a websocket edge. One
// subscription serves one conversation; inbound frames for other
// conversations are dropped at this boundary.
type WSFeed struct {
	URL        string
	Token      string
	Normalizer chat.Normalizer
	Logger     *slog.Logger
	Dialer     *websocket.Dialer

	mu     sync.Mutex
	active *wsSubscription
}

// Subscribe dials the feed for one conversation and starts the read/write
// pumps. Inbound message payloads are normalized before the callback sees
// them; the returned handle unsubscribes on Close.
func (f *WSFeed) Subscribe(ctx context.Context, conversationID string, onMessage func(chat.Message), onTyping func(chat.TypingEvent)) (io.Closer, error) {
	u, err := url.Parse(f.URL)
	if err != nil {
		return nil, &NetworkError{Op: "subscribe", Err: err}
	}
	q := u.Query()
	q.Set("conversation_id", conversationID)
	if f.Token != "" {
		q.Set("token", f.Token)
	}
	u.RawQuery = q.Encode()

	dialer := f.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, &NetworkError{Op: "subscribe", Err: err}
	}

	sub := &wsSubscription{
		feed:           f,
		conversationID: conversationID,
		conn:           conn,
		send:           make(chan chat.Event, sendBufferSize),
		done:           make(chan struct{}),
		onMessage:      onMessage,
		onTyping:       onTyping,
	}

	f.mu.Lock()
	f.active = sub
	f.mu.Unlock()

	go sub.writePump()
	go sub.readPump()
	return sub, nil
}

// PublishTyping sends a typing signal over the active subscription.
// Fire-and-forget: a full send buffer drops the signal rather than blocking.
func (f *WSFeed) PublishTyping(ctx context.Context, conversationID string, typing bool) error {
	f.mu.Lock()
	sub := f.active
	f.mu.Unlock()
	if sub == nil || sub.conversationID != conversationID {
		return ErrNoSubscription
	}
	eventType := chat.EventTypingStart
	if !typing {
		eventType = chat.EventTypingStop
	}
	event := chat.Event{Type: eventType, ConversationID: conversationID}
	select {
	case sub.send <- event:
		return nil
	case <-sub.done:
		return ErrNoSubscription
	default:
		return nil
	}
}

type wsSubscription struct {
	feed           *WSFeed
	conversationID string
	conn           *websocket.Conn
	send           chan chat.Event
	done           chan struct{}
	once           sync.Once
	onMessage      func(chat.Message)
	onTyping       func(chat.TypingEvent)
}

// Close unsubscribes and releases the connection.
func (s *wsSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "unsubscribe"),
			time.Now().Add(writeWait))
		err = s.conn.Close()
		s.feed.mu.Lock()
		if s.feed.active == s {
			s.feed.active = nil
		}
		s.feed.mu.Unlock()
	})
	return err
}

func (s *wsSubscription) readPump() {
	defer s.Close()
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var event chat.Event
		if err := s.conn.ReadJSON(&event); err != nil {
			if s.feed.Logger != nil && !s.closed() {
				s.feed.Logger.Warn("realtime read failed", "conversation_id", s.conversationID, "error", err)
			}
			return
		}
		s.dispatch(event)
	}
}

func (s *wsSubscription) dispatch(event chat.Event) {
	if event.ConversationID != "" && event.ConversationID != s.conversationID {
		return
	}
	switch event.Type {
	case chat.EventMessage:
		if event.Message == nil || s.onMessage == nil {
			return
		}
		s.onMessage(s.feed.Normalizer.Normalize(*event.Message))
	case chat.EventTypingStart, chat.EventTypingStop:
		if s.onTyping == nil {
			return
		}
		s.onTyping(chat.TypingEvent{
			ConversationID: s.conversationID,
			UserID:         event.UserID,
			Typing:         event.Type == chat.EventTypingStart,
		})
	}
}

func (s *wsSubscription) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()
	for {
		select {
		case <-s.done:
			return
		case event := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *wsSubscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
