package syncengine

import "errors"

// ErrMissingServerRef is the invariant-violation sentinel (spec.md §7)
// returned when an UPDATE or DELETE outbox item reaches the claim step
// without a serverRef — it must always have one by invariant §3.3/§3.4,
// so this indicates a code bug, not a transient condition.
var ErrMissingServerRef = errors.New("syncengine: outbox item missing serverRef for update/delete")
