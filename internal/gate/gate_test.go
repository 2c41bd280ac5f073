package gate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestGate_Drain_ResolvesInFIFOOrder(t *testing.T) {
	g := New(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]int, 3)
	wg.Add(3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			defer wg.Done()
			v, err := g.Defer(ctx, func(ctx context.Context) (any, error) {
				return i, nil
			})
			if err != nil {
				t.Error(err)
			}
			results[i] = v.(int)
		}()
		// Enqueue sequentially so arrival order is deterministic.
		waitUntil(t, func() bool { return g.Len() == i+1 })
	}

	g.Drain(ctx, func() bool { return false })
	wg.Wait()

	for i, v := range results {
		if v != i {
			t.Errorf("expected FIFO resolution order, got %v", results)
		}
	}
}

func TestGate_Drain_PausesOnNewSyncCycle(t *testing.T) {
	g := New(nil)
	ctx := context.Background()

	resultCh := make(chan error, 1)
	go func() {
		_, err := g.Defer(ctx, func(ctx context.Context) (any, error) {
			return nil, nil
		})
		resultCh <- err
	}()
	waitUntil(t, func() bool { return g.Len() == 1 })

	// isSyncingNow reports true, so Drain must not run the queued op.
	g.Drain(ctx, func() bool { return true })

	select {
	case <-resultCh:
		t.Fatal("expected the deferred op not to run while a new cycle is syncing")
	case <-time.After(50 * time.Millisecond):
	}

	if g.Len() != 1 {
		t.Errorf("expected the item to remain queued, got len=%d", g.Len())
	}

	// A subsequent drain with syncing cleared should run it.
	g.Drain(ctx, func() bool { return false })
	select {
	case err := <-resultCh:
		if err != nil {
			t.Errorf("expected op to succeed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for deferred op to run")
	}
}

func TestGate_Clear_RejectsQueuedOperations(t *testing.T) {
	g := New(nil)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := g.Defer(ctx, func(ctx context.Context) (any, error) {
			return nil, nil
		})
		errCh <- err
	}()
	waitUntil(t, func() bool { return g.Len() == 1 })

	g.Clear()

	select {
	case err := <-errCh:
		if err != ErrCancelled {
			t.Errorf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation")
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
