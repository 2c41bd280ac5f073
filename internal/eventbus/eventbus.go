// Package eventbus is a typed publish-subscribe hub, the explicit
// replacement for a string-keyed global event emitter: topics are a
// closed enum and each carries a concrete payload type.
package eventbus

import "sync"

// Topic is a closed set of event names the engine emits.
type Topic string

const (
	TopicNetworkOnlineStart  Topic = "network:online:start"
	TopicNetworkOnline       Topic = "network:online"
	TopicNetworkOfflineStart Topic = "network:offline:start"
	TopicNetworkOffline      Topic = "network:offline"
	TopicSyncStart           Topic = "sync:start"
	TopicSyncProgress        Topic = "sync:progress"
	TopicSyncComplete        Topic = "sync:complete"
)

// NetworkEvent is the payload for network:* topics.
type NetworkEvent struct {
	IsOnline            bool
	IsLocalReachable    bool
	IsExternalReachable bool
}

// SyncEvent is the payload for sync:* topics.
type SyncEvent struct {
	PendingCount   int
	ProcessedCount int
}

// Handler receives a published payload. Handlers run synchronously on
// the publishing goroutine's call to Publish; slow handlers should hand
// off work themselves.
type Handler func(payload any)

// Hub is a minimal in-process pub/sub registry, one subscriber list per
// topic, modeled on the registry-then-dispatch shape used elsewhere in
// this codebase for plugin lookups.
type Hub struct {
	mu   sync.RWMutex
	subs map[Topic][]Handler
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{subs: make(map[Topic][]Handler)}
}

// Subscribe registers a handler for a topic. Handlers are never
// unregistered individually in this engine's lifetime; the Hub lives for
// the process lifetime of the composition root that owns it.
func (h *Hub) Subscribe(topic Topic, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[topic] = append(h.subs[topic], handler)
}

// Publish invokes every handler registered for topic, in registration
// order. It never panics on a nil/empty subscriber list.
func (h *Hub) Publish(topic Topic, payload any) {
	h.mu.RLock()
	handlers := append([]Handler(nil), h.subs[topic]...)
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(payload)
	}
}
