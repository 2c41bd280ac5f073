package facade

import "errors"

// ErrOffline is returned by reads with no viable local fallback (the
// aggregate today-flow read model, which doesn't map onto a single
// entity table) when the Probe reports the client is offline.
var ErrOffline = errors.New("facade: offline and no local fallback for this read")

// ErrNotYetSynced is returned by a write that has no queued/offline
// equivalent — it can only ever run against a serverId the entity
// doesn't have yet because its CREATE hasn't landed.
var ErrNotYetSynced = errors.New("facade: entity has no serverId yet")
