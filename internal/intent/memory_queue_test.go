package intent

import (
	"context"
	"sync"
	"testing"
	"time"

	xerrors "VelocityVault/internal/errors"
)

func TestMemoryQueueDeliversToWorkers(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		done = make(chan struct{})
	)
	go func() {
		_ = q.Consume(ctx, 2, func(_ context.Context, id string) error {
			mu.Lock()
			defer mu.Unlock()
			seen[id] = true
			if len(seen) == 3 {
				close(done)
			}
			return nil
		})
	}()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Publish(ctx, id); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("not all intents consumed: %v", seen)
	}
}

func TestMemoryQueuePublishAfterClose(t *testing.T) {
	q := NewMemoryQueue(1)
	_ = q.Close()
	_ = q.Close()
	if err := q.Publish(context.Background(), "a"); xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("expected queue failure, got %v", err)
	}
}

func TestMemoryQueueSkipsQueuedDuplicates(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := q.Publish(ctx, "0xabc-1"); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if q.Len() != 1 {
		t.Fatalf("queued duplicates: len = %d", q.Len())
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	got := make(chan string, 4)
	go func() {
		_ = q.Consume(runCtx, 1, func(_ context.Context, id string) error {
			got <- id
			return nil
		})
	}()
	select {
	case id := <-got:
		if id != "0xabc-1" {
			t.Fatalf("unexpected intent %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("intent not consumed")
	}

	// 取走之后允许再次排队
	if err := q.Publish(ctx, "0xabc-1"); err != nil {
		t.Fatalf("Publish after consume: %v", err)
	}
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatalf("republished intent not consumed")
	}
}
