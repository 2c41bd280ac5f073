package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/readingjournal/syncengine/internal/eventbus"
)

func TestProber_NotifyOnline_PublishesOnlineWhenHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bus := eventbus.New()
	var events []eventbus.Topic
	bus.Subscribe(eventbus.TopicNetworkOnlineStart, func(any) { events = append(events, eventbus.TopicNetworkOnlineStart) })
	bus.Subscribe(eventbus.TopicNetworkOnline, func(any) { events = append(events, eventbus.TopicNetworkOnline) })

	p := New(srv.URL, "", bus, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.NotifyOnline(ctx)

	isOnline, isLocal, isExternal := p.State()
	if !isOnline || !isLocal {
		t.Errorf("expected online+local reachable, got online=%v local=%v", isOnline, isLocal)
	}
	if !isExternal {
		t.Errorf("expected external reachable when no external path configured")
	}
	if len(events) != 2 || events[0] != eventbus.TopicNetworkOnlineStart || events[1] != eventbus.TopicNetworkOnline {
		t.Errorf("expected online:start then online events, got %v", events)
	}
}

func TestProber_NotifyOffline_PublishesOfflineEvents(t *testing.T) {
	bus := eventbus.New()
	var events []eventbus.Topic
	bus.Subscribe(eventbus.TopicNetworkOfflineStart, func(any) { events = append(events, eventbus.TopicNetworkOfflineStart) })
	bus.Subscribe(eventbus.TopicNetworkOffline, func(any) { events = append(events, eventbus.TopicNetworkOffline) })

	p := New("http://example.invalid", "", bus, nil)
	p.NotifyOffline(context.Background())

	isOnline, _, _ := p.State()
	if isOnline {
		t.Error("expected offline state")
	}
	if len(events) != 2 {
		t.Errorf("expected 2 offline events, got %v", events)
	}
}

func TestProber_ExternalDependencyDown_StillReportsOnline(t *testing.T) {
	srv := http.NewServeMux()
	srv.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	srv.HandleFunc("/health/aladin", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) })
	ts := httptest.NewServer(srv)
	defer ts.Close()

	bus := eventbus.New()
	p := New(ts.URL, "/health/aladin", bus, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.NotifyOnline(ctx)

	isOnline, isLocal, isExternal := p.State()
	if !isOnline || !isLocal {
		t.Errorf("expected online+local reachable even with external down, got online=%v local=%v", isOnline, isLocal)
	}
	if isExternal {
		t.Error("expected external reachable to be false")
	}
}
