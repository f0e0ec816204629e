// Package kafka is the broker-backed realtime feed, used where the
// websocket edge is not reachable. Chat events for all conversations travel
// on one topic keyed by conversation id; each subscription filters for its
// own conversation.
package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"chatsync/internal/domain/chat"
)

// Feed consumes chat events from a Kafka topic and publishes typing signals
// back through a sync producer.
type Feed struct {
	Brokers     []string
	TopicPrefix string
	GroupID     string
	Normalizer  chat.Normalizer
	Logger      *slog.Logger

	mu       sync.Mutex
	producer *Producer
}

func (f *Feed) topic() string {
	return f.TopicPrefix + ".events"
}

// Subscribe joins a consumer group on the events topic. The group id gets a
// unique suffix so every client instance sees the full stream rather than
// sharing partitions.
func (f *Feed) Subscribe(ctx context.Context, conversationID string, onMessage func(chat.Message), onTyping func(chat.TypingEvent)) (io.Closer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	groupID := f.GroupID + "-" + uuid.NewString()
	group, err := sarama.NewConsumerGroup(f.Brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{group: group, cancel: cancel}
	handler := groupHandler{
		conversationID: conversationID,
		normalizer:     f.Normalizer,
		onMessage:      onMessage,
		onTyping:       onTyping,
	}
	go func() {
		for {
			if err := group.Consume(runCtx, []string{f.topic()}, handler); err != nil {
				if f.Logger != nil && runCtx.Err() == nil {
					f.Logger.Warn("kafka consume failed", "topic", f.topic(), "error", err)
				}
				return
			}
			if runCtx.Err() != nil {
				return
			}
		}
	}()
	return sub, nil
}

// PublishTyping emits a typing event onto the shared topic.
func (f *Feed) PublishTyping(ctx context.Context, conversationID string, typing bool) error {
	producer, err := f.ensureProducer()
	if err != nil {
		return err
	}
	eventType := chat.EventTypingStart
	if !typing {
		eventType = chat.EventTypingStop
	}
	return producer.Publish(chat.Event{Type: eventType, ConversationID: conversationID})
}

func (f *Feed) ensureProducer() (*Producer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.producer != nil {
		return f.producer, nil
	}
	producer, err := NewProducer(f.Brokers, f.topic(), nil)
	if err != nil {
		return nil, err
	}
	f.producer = producer
	return producer, nil
}

// Close releases the producer; subscriptions close individually.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.producer == nil {
		return nil
	}
	err := f.producer.Close()
	f.producer = nil
	return err
}

type subscription struct {
	group  sarama.ConsumerGroup
	cancel context.CancelFunc
	once   sync.Once
	err    error
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.group.Close()
	})
	return s.err
}

type groupHandler struct {
	conversationID string
	normalizer     chat.Normalizer
	onMessage      func(chat.Message)
	onTyping       func(chat.TypingEvent)
}

func (groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var event chat.Event
		if err := json.Unmarshal(message.Value, &event); err != nil {
			sess.MarkMessage(message, "")
			continue
		}
		h.dispatch(event)
		sess.MarkMessage(message, "")
	}
	return nil
}

func (h groupHandler) dispatch(event chat.Event) {
	if event.ConversationID != h.conversationID {
		return
	}
	switch event.Type {
	case chat.EventMessage:
		if event.Message != nil && h.onMessage != nil {
			h.onMessage(h.normalizer.Normalize(*event.Message))
		}
	case chat.EventTypingStart, chat.EventTypingStop:
		if h.onTyping != nil {
			h.onTyping(chat.TypingEvent{
				ConversationID: event.ConversationID,
				UserID:         event.UserID,
				Typing:         event.Type == chat.EventTypingStart,
			})
		}
	}
}
