// Package schedule drives the polling fallback: realtime delivery is
// preferred but not assumed reliable, so the active conversation is
// re-fetched on a fixed interval and the result merged into the store.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chatsync/internal/domain/chat"
)

// FetchFunc loads the current message window for a conversation.
type FetchFunc func(ctx context.Context, conversationID string) ([]chat.Message, error)

// ApplyFunc feeds a fetched window into the store.
type ApplyFunc func(conversationID string, messages []chat.Message)

// DefaultInterval masks realtime delivery gaps without hammering the
// backend.
const DefaultInterval = 20 * time.Second

// Poller runs one repeating refresh loop for the active conversation. A tick
// that is still in flight when the next one fires is skipped, not queued, so
// a slow backend never stacks concurrent fetches for the same conversation.
type Poller struct {
	Interval time.Duration
	Fetch    FetchFunc
	Apply    ApplyFunc
	Logger   *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	inFlight atomic.Bool
}

// Start begins polling conversationID. Any previous loop is stopped first;
// the poller serves exactly one conversation at a time.
func (p *Poller) Start(ctx context.Context, conversationID string) {
	p.Stop()

	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(loopCtx, conversationID, interval)
}

// Stop cancels the current loop. It must be called when the active
// conversation changes or the view goes away; a leaked loop would keep
// merging stale data into a detached store.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Poller) run(ctx context.Context, conversationID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.inFlight.CompareAndSwap(false, true) {
				if p.Logger != nil {
					p.Logger.Debug("poll tick skipped, previous still in flight", "conversation_id", conversationID)
				}
				continue
			}
			go p.tick(ctx, conversationID)
		}
	}
}

func (p *Poller) tick(ctx context.Context, conversationID string) {
	defer p.inFlight.Store(false)
	messages, err := p.Fetch(ctx, conversationID)
	if err != nil {
		// A failed tick is silent towards the user: the realtime feed or
		// the next tick covers the gap.
		if p.Logger != nil && ctx.Err() == nil {
			p.Logger.Warn("poll fetch failed", "conversation_id", conversationID, "error", err)
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	p.Apply(conversationID, messages)
}
