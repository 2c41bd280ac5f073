package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires every endpoint in spec.md §6's table.
func NewRouter(s *Server) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.faultMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Head("/health", s.handleHealth)
		r.Get("/health/aladin", s.handleHealthAladin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/memos", s.handleCreateMemo)
			r.Put("/memos/{id}", s.handleUpdateMemo)
			r.Delete("/memos/{id}", s.handleDeleteMemo)
			r.Get("/memos/today-flow", s.handleTodayFlow)
			r.Get("/memos/books/{userBookId}", s.handleMemosByBook)
			r.Get("/memos/dates", s.handleMemoDates)

			r.Get("/user/books", s.handleListShelfEntries)
			r.Post("/user/books", s.handleCreateShelfEntry)
			r.Put("/user/books/{userBookId}", s.handleUpdateShelfEntry)
			r.Delete("/user/books/{userBookId}", s.handleDeleteShelfEntry)
			r.Post("/user/books/{userBookId}/start-reading", s.handleStartReading)
		})
	})

	return r
}
