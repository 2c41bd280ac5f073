// Package gate implements the Request Gate: a pure FIFO scheduling layer
// for user operations deferred while a sync cycle is in progress. It
// never reorders, batches, or coalesces.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrCancelled is returned to every operation still queued when Clear is
// called.
var ErrCancelled = errors.New("gate: operation cancelled")

// Op is a deferred user operation; it runs with the context active at
// drain time, not the context active when it was deferred.
type Op func(ctx context.Context) (any, error)

type deferredOp struct {
	op     Op
	result chan opResult
}

type opResult struct {
	value any
	err   error
}

// Gate is a FIFO queue of deferred operations.
type Gate struct {
	log *slog.Logger

	mu       sync.Mutex
	queue    []*deferredOp
	draining bool
}

// New constructs an empty Gate.
func New(log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{log: log}
}

// Defer enqueues op and blocks until it runs (during a Drain) or is
// cancelled (via Clear). Arrival order is preserved: Defer appends to
// the tail, Drain processes from the head.
func (g *Gate) Defer(ctx context.Context, op Op) (any, error) {
	d := &deferredOp{op: op, result: make(chan opResult, 1)}

	g.mu.Lock()
	g.queue = append(g.queue, d)
	g.mu.Unlock()

	select {
	case r := <-d.result:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports how many operations are currently queued.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Drain runs queued operations strictly in arrival order. If
// isSyncingNow reports true partway through (a new sync cycle started),
// draining pauses immediately, leaving the remaining items queued for
// the next Drain call (triggered by the next sync:complete).
func (g *Gate) Drain(ctx context.Context, isSyncingNow func() bool) {
	g.mu.Lock()
	if g.draining {
		g.mu.Unlock()
		return
	}
	g.draining = true
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.draining = false
		g.mu.Unlock()
	}()

	for {
		if isSyncingNow != nil && isSyncingNow() {
			g.log.InfoContext(ctx, "gate drain paused: new sync cycle started", "component", "gate", "action", "drain_pause")
			return
		}

		g.mu.Lock()
		if len(g.queue) == 0 {
			g.mu.Unlock()
			return
		}
		next := g.queue[0]
		g.queue = g.queue[1:]
		g.mu.Unlock()

		value, err := next.op(ctx)
		next.result <- opResult{value: value, err: err}
	}
}

// Clear rejects every queued operation with ErrCancelled and empties the
// queue.
func (g *Gate) Clear() {
	g.mu.Lock()
	queue := g.queue
	g.queue = nil
	g.mu.Unlock()

	for _, d := range queue {
		d.result <- opResult{err: ErrCancelled}
	}
}
