package search

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestBatcher_FlushesOnSize(t *testing.T) {
	var mu sync.Mutex
	var flushed [][]batchOp
	done := make(chan struct{}, 1)

	apply := func(ctx context.Context, ops []batchOp) error {
		mu.Lock()
		flushed = append(flushed, ops)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}

	b := newBatcher(2, time.Hour, apply, func(batchOp, error) {}, discardLogger())
	b.start()
	defer b.stop()

	b.enqueue(batchOp{kind: opUpsert, doc: MessageDoc{ID: "1"}})
	b.enqueue(batchOp{kind: opUpsert, doc: MessageDoc{ID: "2"}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for size-triggered flush")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 1 || len(flushed[0]) != 2 {
		t.Fatalf("flushed = %+v, want one batch of 2", flushed)
	}
}

func TestBatcher_FlushesOnTimeout(t *testing.T) {
	done := make(chan []batchOp, 1)
	apply := func(ctx context.Context, ops []batchOp) error {
		done <- ops
		return nil
	}

	b := newBatcher(100, 20*time.Millisecond, apply, func(batchOp, error) {}, discardLogger())
	b.start()
	defer b.stop()

	b.enqueue(batchOp{kind: opUpsert, doc: MessageDoc{ID: "only"}})

	select {
	case ops := <-done:
		if len(ops) != 1 {
			t.Fatalf("flushed %d ops, want 1", len(ops))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timeout-triggered flush")
	}
}

func TestBatcher_RetriesThenDeadLetters(t *testing.T) {
	var calls int
	var mu sync.Mutex
	apply := func(ctx context.Context, ops []batchOp) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("index unreachable")
	}

	dead := make(chan batchOp, 1)
	onDead := func(op batchOp, err error) {
		dead <- op
	}

	b := newBatcher(1, 10*time.Millisecond, apply, onDead, discardLogger())
	b.start()
	defer b.stop()

	b.enqueue(batchOp{kind: opUpsert, doc: MessageDoc{ID: "flaky"}})

	for i := 0; i < maxApplyAttempts; i++ {
		select {
		case <-dead:
			mu.Lock()
			defer mu.Unlock()
			if calls != maxApplyAttempts {
				t.Errorf("apply called %d times, want %d", calls, maxApplyAttempts)
			}
			return
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for dead-letter")
		}
	}
}
