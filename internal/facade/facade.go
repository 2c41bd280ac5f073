package facade

import (
	"context"
	"errors"
	"log/slog"

	"github.com/readingjournal/syncengine/internal/gate"
	"github.com/readingjournal/syncengine/internal/remote"
	"github.com/readingjournal/syncengine/internal/types"
)

// WriteOutcome tells the caller which path a write took, so UI code can
// render the right feedback (spec.md §7's "optimistic view" vs "sync is
// deferred" messaging).
type WriteOutcome string

const (
	// WriteServerConfirmed means the remote call succeeded synchronously;
	// the returned entity carries the server's view.
	WriteServerConfirmed WriteOutcome = "server_confirmed"
	// WriteQueued means the write was persisted locally and handed to the
	// Outbox; the Sync Engine will replay it later (whether or not it
	// passed through the Request Gate on the way in).
	WriteQueued WriteOutcome = "queued"
)

// Facade is the Public Service Facade.
type Facade struct {
	memoStore  MemoStore
	shelfStore ShelfStore
	outbox     Enqueuer
	remote     RemotePort
	gate       Deferrer
	probe      ProbeState
	coord      CoordinatorState
	trigger    CycleTrigger
	log        *slog.Logger
}

// New constructs a Facade wired to its collaborators. trigger may be nil
// — the best-effort engine kick is skipped in that case.
func New(memoStore MemoStore, shelfStore ShelfStore, ob Enqueuer, remoteClient RemotePort,
	g Deferrer, probe ProbeState, coord CoordinatorState, trigger CycleTrigger, log *slog.Logger) *Facade {
	if log == nil {
		log = slog.Default()
	}
	return &Facade{
		memoStore: memoStore, shelfStore: shelfStore, outbox: ob, remote: remoteClient,
		gate: g, probe: probe, coord: coord, trigger: trigger, log: log,
	}
}

// hasSyncingOutboxItem reports whether localRef has an outbox item
// currently SYNCING — the CREATE (or UPDATE) the Sync Engine is mid-
// replay on, which a DELETE must wait behind rather than cancel out
// from under (spec.md §8 scenario S2).
func (f *Facade) hasSyncingOutboxItem(ctx context.Context, localRef string) (bool, error) {
	items, err := f.outbox.GetByLocalRef(ctx, localRef)
	if err != nil {
		return false, err
	}
	for _, item := range items {
		if item.Status == types.OutboxSyncing {
			return true, nil
		}
	}
	return false, nil
}

// runWrite implements the three-way write policy from spec.md §4.G:
// offline goes straight to queueFirst; online-but-syncing defers
// queueFirst through the Request Gate; online-and-idle tries
// serverFirst first and falls back to queueFirst only on a
// network-class failure. Any other error (4xx, auth-expired) surfaces
// unchanged.
func (f *Facade) runWrite(ctx context.Context, serverFirst, queueFirst gate.Op) (any, error) {
	isOnline, _, _ := f.probe.State()
	switch {
	case !isOnline:
		return queueFirst(ctx)
	case f.coord.IsSyncing():
		return f.gate.Defer(ctx, queueFirst)
	default:
		result, err := serverFirst(ctx)
		if err == nil {
			return result, nil
		}
		if !isNetworkClassFailure(err) {
			return nil, err
		}
		f.log.WarnContext(ctx, "server-first write fell back to queue", "component", "facade",
			"action", "write_fallback", "error", err)
		return queueFirst(ctx)
	}
}

// isNetworkClassFailure reports whether err matches spec.md §7's
// network-class bucket (transient network failure or server 5xx) as
// opposed to a 4xx that should surface to the caller verbatim.
func isNetworkClassFailure(err error) bool {
	return errors.Is(err, remote.ErrNetworkTransient) || errors.Is(err, remote.ErrServer5xx)
}

// maybeTriggerCycle best-effort kicks the Sync Engine after a
// store-first write lands, so a connection that's already back online
// doesn't wait for the next scheduled probe tick.
func (f *Facade) maybeTriggerCycle() {
	if f.trigger == nil {
		return
	}
	go func() {
		ctx := context.Background()
		if err := f.trigger.RunCycle(ctx); err != nil {
			f.log.WarnContext(ctx, "best-effort engine trigger failed", "component", "facade",
				"action", "trigger_cycle", "error", err)
		}
	}()
}
