// Package probe implements the Network Probe: it decides whether the
// remote API is reachable and whether a required external dependency is
// reachable, and emits network:* events as that assessment changes.
package probe

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/readingjournal/syncengine/internal/eventbus"
)

const (
	stabilisationDelay   = 1 * time.Second
	localCheckTimeout    = 3 * time.Second
	externalCheckTimeout = 5 * time.Second
	localRetryDelay      = 5 * time.Second
)

// Prober tracks connectivity state and publishes network:* events.
type Prober struct {
	baseURL      string
	externalPath string
	client       *http.Client
	bus          *eventbus.Hub
	log          *slog.Logger

	mu                  sync.Mutex
	isOnline            bool
	isLocalReachable    bool
	isExternalReachable bool
}

// New constructs a Prober against baseURL's /health endpoint and
// externalPath (e.g. "/health/aladin") for the dependency-probe stage.
func New(baseURL, externalPath string, bus *eventbus.Hub, log *slog.Logger) *Prober {
	if log == nil {
		log = slog.Default()
	}
	return &Prober{
		baseURL:      baseURL,
		externalPath: externalPath,
		client:       &http.Client{},
		bus:          bus,
		log:          log,
	}
}

// State returns the current connectivity assessment.
func (p *Prober) State() (isOnline, isLocalReachable, isExternalReachable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isOnline, p.isLocalReachable, p.isExternalReachable
}

// NotifyOffline seeds the probe from an "offline" transport-level signal.
func (p *Prober) NotifyOffline(ctx context.Context) {
	p.mu.Lock()
	wasOnline := p.isOnline
	p.isOnline = false
	p.isLocalReachable = false
	p.isExternalReachable = false
	p.mu.Unlock()

	p.bus.Publish(eventbus.TopicNetworkOfflineStart, eventbus.NetworkEvent{})
	if wasOnline {
		p.log.InfoContext(ctx, "network went offline", "component", "probe", "action", "offline")
	}
	p.bus.Publish(eventbus.TopicNetworkOffline, eventbus.NetworkEvent{})
}

// NotifyOnline seeds the probe from an "online" transport-level signal:
// it waits out a stabilisation window, then runs the two-stage check.
func (p *Prober) NotifyOnline(ctx context.Context) {
	p.bus.Publish(eventbus.TopicNetworkOnlineStart, eventbus.NetworkEvent{})

	select {
	case <-time.After(stabilisationDelay):
	case <-ctx.Done():
		return
	}

	p.runCheck(ctx)
}

// runCheck performs the two-stage reachability check: a HEAD on the
// local API's /health with a 3s timeout, then a GET on the external
// dependency probe with a 5s timeout. A local failure retries after 5s
// without publishing a state change; an external failure still reports
// online with a degraded external flag.
func (p *Prober) runCheck(ctx context.Context) {
	for {
		if p.checkLocal(ctx) {
			break
		}
		select {
		case <-time.After(localRetryDelay):
			continue
		case <-ctx.Done():
			return
		}
	}

	external := p.checkExternal(ctx)

	p.mu.Lock()
	p.isOnline = true
	p.isLocalReachable = true
	p.isExternalReachable = external
	p.mu.Unlock()

	p.log.InfoContext(ctx, "network reachability assessed", "component", "probe", "action", "check",
		"is_local_reachable", true, "is_external_reachable", external)
	p.bus.Publish(eventbus.TopicNetworkOnline, eventbus.NetworkEvent{
		IsOnline: true, IsLocalReachable: true, IsExternalReachable: external,
	})
}

func (p *Prober) checkLocal(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, localCheckTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, p.baseURL+"/api/v1/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (p *Prober) checkExternal(ctx context.Context) bool {
	if p.externalPath == "" {
		return true
	}
	reqCtx, cancel := context.WithTimeout(ctx, externalCheckTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.baseURL+p.externalPath, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
