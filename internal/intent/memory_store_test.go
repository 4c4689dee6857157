package intent

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	xerrors "VelocityVault/internal/errors"
)

func newTestIntent(id string, maxRetries int) *TradeIntent {
	return &TradeIntent{
		ID:         id,
		User:       ZeroAddress,
		Action:     "buy",
		Asset:      "BTC",
		Amount:     "25",
		Timestamp:  1700000000000,
		Status:     StatusPending,
		MaxRetries: maxRetries,
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tick := int64(0)
	store.now = func() time.Time {
		tick++
		return time.UnixMilli(1700000000000 + tick)
	}

	if err := store.Create(ctx, newTestIntent("a", 2)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, newTestIntent("a", 2)); !stdErrors.Is(err, ErrIntentConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	claimed, err := store.Claim(ctx, "a")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed intent %+v", claimed)
	}
	if _, err := store.Claim(ctx, "a"); !stdErrors.Is(err, ErrIntentConflict) {
		t.Fatalf("running intent should not be claimed twice, got %v", err)
	}

	if err := store.MarkFailed(ctx, "a", CodeIntentProcessing, "vault timeout", false); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	again, err := store.Claim(ctx, "a")
	if err != nil || again.Attempts != 2 || again.LastError != "" {
		t.Fatalf("retry claim = %+v, %v", again, err)
	}

	if err := store.MarkSucceeded(ctx, "a", ExecutionResult{ExecutionID: "0x01", Returned: "26.25"}); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}
	if _, err := store.Claim(ctx, "a"); !stdErrors.Is(err, ErrIntentCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}
	got, _ := store.Get(ctx, "a")
	if got.Result == nil || got.Result.Returned != "26.25" {
		t.Fatalf("result not stored: %+v", got)
	}
	got.Result.Returned = "mutated"
	if fresh, _ := store.Get(ctx, "a"); fresh.Result.Returned != "26.25" {
		t.Fatalf("Get must return a copy")
	}

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "a"); !stdErrors.Is(err, ErrIntentNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestMemoryStoreTerminalFailureExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Create(ctx, newTestIntent("b", 3))
	if _, err := store.Claim(ctx, "b"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "b", xerrors.CodeValidation, "bad amount", true); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	intent, err := store.Claim(ctx, "b")
	if !stdErrors.Is(err, ErrIntentExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if intent.Attempts != 3 || intent.ErrorCode != string(xerrors.CodeValidation) {
		t.Fatalf("unexpected intent %+v", intent)
	}
}

func TestMemoryStoreListAndStats(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tick := int64(0)
	store.now = func() time.Time {
		tick++
		return time.UnixMilli(tick)
	}
	for _, id := range []string{"x", "y", "z"} {
		_ = store.Create(ctx, newTestIntent(id, 3))
	}
	_, _ = store.Claim(ctx, "y")
	_ = store.MarkSucceeded(ctx, "z", ExecutionResult{})

	all, _ := store.List(ctx, 0)
	if len(all) != 3 || all[0].ID != "z" || all[1].ID != "y" {
		t.Fatalf("unexpected order %v", ids(all))
	}
	pending, _ := store.List(ctx, 10, StatusPending)
	if len(pending) != 1 || pending[0].ID != "x" {
		t.Fatalf("unexpected pending %v", ids(pending))
	}
	limited, _ := store.List(ctx, 1)
	if len(limited) != 1 {
		t.Fatalf("limit not applied: %v", ids(limited))
	}

	stats, _ := store.Stats(ctx)
	want := Stats{Total: 3, Pending: 1, Running: 1, Succeeded: 1}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
}

func ids(intents []*TradeIntent) []string {
	out := make([]string, 0, len(intents))
	for _, in := range intents {
		out = append(out, in.ID)
	}
	return out
}
