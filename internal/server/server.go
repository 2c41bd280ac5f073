// Package server implements a reference Remote HTTP API (spec.md §6): the
// boundary the Sync Engine and Facade talk to. It is an in-memory stand-in
// for the real reading-journal backend, sized for exercising the sync
// protocol end to end — idempotent CREATE, conflict disambiguation,
// configurable fault injection for retry/backoff testing — not as a
// production datastore.
package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Server is the reference Remote HTTP API.
type Server struct {
	mu sync.Mutex

	apiKey string
	log    *slog.Logger
	clock  func() time.Time
	faults *FaultInjector

	nextMemoID int64
	memos      map[int64]memoRecord

	nextShelfID int64
	shelf       map[int64]shelfRecord

	idempotency map[string]idempotentResult
}

type idempotentResult struct {
	status int
	body   []byte
}

// New constructs a Server. apiKey, when non-empty, is required as a Bearer
// token on every request but the two health endpoints (/api/v1/health
// and /api/v1/health/aladin) (spec.md §6's NFR8 public-health
// carve-out, mirrored from the teacher's AuthMiddleware).
func New(apiKey string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		apiKey:      apiKey,
		log:         log,
		clock:       time.Now,
		faults:      NewFaultInjector(),
		memos:       make(map[int64]memoRecord),
		shelf:       make(map[int64]shelfRecord),
		idempotency: make(map[string]idempotentResult),
	}
}

// Faults exposes the fault injector so tests and operators can arm
// scripted 503s/delays without reaching into server internals.
func (s *Server) Faults() *FaultInjector { return s.faults }

// Router builds the chi router for this server.
func (s *Server) Router() *chi.Mux {
	return NewRouter(s)
}

func (s *Server) now() time.Time { return s.clock() }
