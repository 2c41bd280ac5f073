// Package syncstate implements the Sync State Coordinator: a single
// coherent sync-cycle lifecycle shared by multiple sync drivers (memos,
// shelf entries). It never talks to the network.
package syncstate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/readingjournal/syncengine/internal/eventbus"
)

// PendingCounter reports how many outbox items still need to run; it is
// satisfied by the Outbox Queue.
type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

// Coordinator tracks one sync cycle's lifecycle.
type Coordinator struct {
	bus     *eventbus.Hub
	counter PendingCounter
	log     *slog.Logger

	mu             sync.Mutex
	isSyncing      bool
	pendingCount   int
	processedCount int
	syncStartTime  time.Time
	completedOnce  bool
	done           chan struct{}
}

// New constructs a Coordinator. counter is queried by CheckComplete.
func New(bus *eventbus.Hub, counter PendingCounter, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{bus: bus, counter: counter, log: log, done: make(chan struct{})}
}

// Start transitions the coordinator to active. It is idempotent: only
// the first call in a cycle has any effect, and its return value reports
// whether this call was the one that started the cycle.
func (c *Coordinator) Start(pending int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isSyncing {
		return false
	}
	c.isSyncing = true
	c.pendingCount = pending
	c.processedCount = 0
	c.syncStartTime = time.Now().UTC()
	c.completedOnce = false
	c.done = make(chan struct{})
	c.bus.Publish(eventbus.TopicSyncStart, eventbus.SyncEvent{PendingCount: pending})
	return true
}

// UpdateProgress accumulates processed count and sets the known
// remaining count, called by sync drivers as they complete items.
func (c *Coordinator) UpdateProgress(delta, remaining int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processedCount += delta
	c.pendingCount = remaining
	c.bus.Publish(eventbus.TopicSyncProgress, eventbus.SyncEvent{
		PendingCount: c.pendingCount, ProcessedCount: c.processedCount,
	})
}

// CheckComplete inspects the Outbox's PENDING count; if it is zero, the
// cycle transitions to complete and sync:complete is emitted exactly
// once. Safe to call repeatedly — only the first zero-observation after
// Start fires the event.
func (c *Coordinator) CheckComplete(ctx context.Context) (bool, error) {
	pending, err := c.counter.CountPending(ctx)
	if err != nil {
		return false, err
	}
	if pending > 0 {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completedOnce {
		return true, nil
	}
	c.completedOnce = true
	c.isSyncing = false
	c.log.InfoContext(ctx, "sync cycle complete", "component", "syncstate", "action", "check_complete",
		"processed_count", c.processedCount, "duration_ms", time.Since(c.syncStartTime).Milliseconds())
	c.bus.Publish(eventbus.TopicSyncComplete, eventbus.SyncEvent{ProcessedCount: c.processedCount})
	close(c.done)
	return true, nil
}

// IsSyncing reports whether a cycle is currently active.
func (c *Coordinator) IsSyncing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isSyncing
}

// WaitForComplete blocks until sync:complete fires for the current cycle
// or timeout elapses, returning false on timeout rather than erroring.
func (c *Coordinator) WaitForComplete(ctx context.Context, timeout time.Duration) bool {
	c.mu.Lock()
	done := c.done
	alreadyDone := !c.isSyncing && c.completedOnce
	c.mu.Unlock()

	if alreadyDone {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
