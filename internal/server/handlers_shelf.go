package server

import (
	"encoding/json"
	"net/http"
	"sort"
)

// handleListShelfEntries implements GET /api/v1/user/books.
func (s *Server) handleListShelfEntries(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]shelfRecord, 0, len(s.shelf))
	for _, e := range s.shelf {
		out = append(out, e)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserBookID < out[j].UserBookID })
	writeJSON(w, http.StatusOK, out)
}

// handleCreateShelfEntry implements POST /api/v1/user/books. A repeated
// Idempotency-Key replays the original response. Adding a bookId already
// on the shelf is a conflict: the response carries existingId so the Sync
// Engine's disambiguation path can adopt it instead of failing loudly
// (spec.md §7).
func (s *Server) handleCreateShelfEntry(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		writeProblem(w, r, http.StatusBadRequest, "Idempotency-Key header is required")
		return
	}

	s.mu.Lock()
	if cached, ok := s.idempotency[key]; ok {
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(cached.status)
		w.Write(cached.body)
		return
	}
	s.mu.Unlock()

	var req shelfCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.BookID == "" {
		writeProblem(w, r, http.StatusUnprocessableEntity, "bookId is required")
		return
	}

	s.mu.Lock()
	for _, existing := range s.shelf {
		if existing.BookID == req.BookID {
			s.mu.Unlock()
			writeConflict(w, r, existing.UserBookID)
			return
		}
	}

	s.nextShelfID++
	rec := shelfRecord{
		UserBookID: s.nextShelfID, BookID: req.BookID, ISBN: req.ISBN, Title: req.Title, Author: req.Author,
		Publisher: req.Publisher, PubDate: req.PubDate, Description: req.Description, CoverURL: req.CoverURL,
		TotalPages: req.TotalPages, MainGenre: req.MainGenre, Category: orDefault(req.Category, "ToRead"),
	}
	s.shelf[rec.UserBookID] = rec
	body, _ := json.Marshal(rec)
	s.idempotency[key] = idempotentResult{status: http.StatusOK, body: body}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// handleUpdateShelfEntry implements PUT /api/v1/user/books/{userBookId}
// with the partial reading-state payload the Facade sends.
func (s *Server) handleUpdateShelfEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "userBookId")
	if !ok {
		return
	}
	var req shelfReadingStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	s.mu.Lock()
	rec, exists := s.shelf[id]
	if !exists {
		s.mu.Unlock()
		writeProblem(w, r, http.StatusNotFound, "Shelf entry not found")
		return
	}
	rec.Category = req.Category
	rec.Expectation = req.Expectation
	rec.LastReadPage = req.LastReadPage
	rec.LastReadAt = req.LastReadAt
	rec.ReadingFinishedDate = req.ReadingFinishedDate
	rec.PurchaseType = req.PurchaseType
	rec.Rating = req.Rating
	rec.Review = req.Review
	s.shelf[id] = rec
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteShelfEntry implements DELETE /api/v1/user/books/{userBookId}.
func (s *Server) handleDeleteShelfEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "userBookId")
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.shelf, id)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// handleStartReading implements
// POST /api/v1/user/books/{userBookId}/start-reading.
func (s *Server) handleStartReading(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "userBookId")
	if !ok {
		return
	}
	var req startReadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	s.mu.Lock()
	rec, exists := s.shelf[id]
	if !exists {
		s.mu.Unlock()
		writeProblem(w, r, http.StatusNotFound, "Shelf entry not found")
		return
	}
	rec.Category = "Reading"
	rec.LastReadAt = &req.ReadingStartDate
	rec.LastReadPage = req.ReadingProgress
	if req.PurchaseType != "" {
		rec.PurchaseType = req.PurchaseType
	}
	s.shelf[id] = rec
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, rec)
}
