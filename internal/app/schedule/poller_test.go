package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatsync/internal/domain/chat"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPollerFetchesAndApplies(t *testing.T) {
	var applied atomic.Int64
	var mu sync.Mutex
	var gotConv string

	p := &Poller{
		Interval: 10 * time.Millisecond,
		Fetch: func(ctx context.Context, conversationID string) ([]chat.Message, error) {
			return []chat.Message{{ID: "m-1"}}, nil
		},
		Apply: func(conversationID string, messages []chat.Message) {
			mu.Lock()
			gotConv = conversationID
			mu.Unlock()
			applied.Add(1)
		},
	}
	p.Start(context.Background(), "c-1")
	defer p.Stop()

	waitFor(t, time.Second, func() bool { return applied.Load() >= 2 })
	mu.Lock()
	defer mu.Unlock()
	if gotConv != "c-1" {
		t.Fatalf("applied conversation = %q, want c-1", gotConv)
	}
}

func TestPollerSkipsOverlappingTicks(t *testing.T) {
	var inFlight atomic.Int64
	var overlapped atomic.Bool
	var calls atomic.Int64

	p := &Poller{
		Interval: 5 * time.Millisecond,
		Fetch: func(ctx context.Context, conversationID string) ([]chat.Message, error) {
			calls.Add(1)
			if inFlight.Add(1) > 1 {
				overlapped.Store(true)
			}
			defer inFlight.Add(-1)
			time.Sleep(40 * time.Millisecond)
			return nil, nil
		},
		Apply: func(string, []chat.Message) {},
	}
	p.Start(context.Background(), "c-1")
	waitFor(t, time.Second, func() bool { return calls.Load() >= 3 })
	p.Stop()

	if overlapped.Load() {
		t.Fatal("ticks overlapped while a fetch was in flight")
	}
}

func TestPollerErrorIsSilent(t *testing.T) {
	var calls atomic.Int64
	var applied atomic.Int64

	p := &Poller{
		Interval: 5 * time.Millisecond,
		Fetch: func(ctx context.Context, conversationID string) ([]chat.Message, error) {
			calls.Add(1)
			return nil, errors.New("backend down")
		},
		Apply: func(string, []chat.Message) { applied.Add(1) },
	}
	p.Start(context.Background(), "c-1")
	defer p.Stop()

	waitFor(t, time.Second, func() bool { return calls.Load() >= 3 })
	if applied.Load() != 0 {
		t.Fatalf("apply ran %d times on failed fetches", applied.Load())
	}
}

func TestPollerStopCeasesTicks(t *testing.T) {
	var calls atomic.Int64
	p := &Poller{
		Interval: 5 * time.Millisecond,
		Fetch: func(ctx context.Context, conversationID string) ([]chat.Message, error) {
			calls.Add(1)
			return nil, nil
		},
		Apply: func(string, []chat.Message) {},
	}
	p.Start(context.Background(), "c-1")
	waitFor(t, time.Second, func() bool { return calls.Load() >= 1 })
	p.Stop()

	settled := calls.Load()
	time.Sleep(50 * time.Millisecond)
	if calls.Load() > settled+1 {
		t.Fatalf("fetch kept firing after stop: %d -> %d", settled, calls.Load())
	}
}

func TestPollerRestartReplacesLoop(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)

	p := &Poller{
		Interval: 5 * time.Millisecond,
		Fetch: func(ctx context.Context, conversationID string) ([]chat.Message, error) {
			mu.Lock()
			seen[conversationID]++
			mu.Unlock()
			return nil, nil
		},
		Apply: func(string, []chat.Message) {},
	}
	p.Start(context.Background(), "c-1")
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["c-1"] >= 1
	})

	p.Start(context.Background(), "c-2")
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["c-2"] >= 2
	})
	p.Stop()

	mu.Lock()
	c1 := seen["c-1"]
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if seen["c-1"] > c1+1 {
		t.Fatalf("old loop still polling c-1 after restart")
	}
}
