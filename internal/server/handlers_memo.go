package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleCreateMemo implements POST /api/v1/memos. A repeated
// Idempotency-Key returns the original response verbatim instead of
// creating a second row (spec.md §8 property 1).
func (s *Server) handleCreateMemo(w http.ResponseWriter, r *http.Request) {
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

	var req memoCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.UserBookID == "" {
		writeProblem(w, r, http.StatusUnprocessableEntity, "userBookId is required")
		return
	}

	now := s.now()
	s.mu.Lock()
	s.nextMemoID++
	rec := memoRecord{
		ID: s.nextMemoID, UserBookID: req.UserBookID, PageNumber: req.PageNumber,
		Content: req.Content, Tags: req.Tags, MemoStartTime: req.MemoStartTime,
		CreatedAt: now, UpdatedAt: now,
	}
	s.memos[rec.ID] = rec
	body, _ := json.Marshal(rec)
	s.idempotency[key] = idempotentResult{status: http.StatusOK, body: body}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// handleUpdateMemo implements PUT /api/v1/memos/{id}.
func (s *Server) handleUpdateMemo(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req memoCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	s.mu.Lock()
	rec, exists := s.memos[id]
	if !exists {
		s.mu.Unlock()
		writeProblem(w, r, http.StatusNotFound, "Memo not found")
		return
	}
	rec.UserBookID = req.UserBookID
	rec.PageNumber = req.PageNumber
	rec.Content = req.Content
	rec.Tags = req.Tags
	rec.MemoStartTime = req.MemoStartTime
	rec.UpdatedAt = s.now()
	s.memos[id] = rec
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteMemo implements DELETE /api/v1/memos/{id}. Deleting a
// nonexistent id is treated as success (spec.md §7: "not-found on DELETE
// is treated as success" server-side too, for idempotent replay).
func (s *Server) handleDeleteMemo(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.memos, id)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// handleTodayFlow implements GET /api/v1/memos/today-flow.
func (s *Server) handleTodayFlow(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byBook := make(map[string][]memoRecord)
	byTag := make(map[string][]memoRecord)
	for _, m := range s.memos {
		byBook[m.UserBookID] = append(byBook[m.UserBookID], m)
		for _, tag := range m.Tags {
			byTag[tag] = append(byTag[tag], m)
		}
	}

	resp := map[string]any{
		"memosByBook":    byBook,
		"memosByTag":     byTag,
		"totalMemoCount": len(s.memos),
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMemosByBook implements GET /api/v1/memos/books/{userBookId}.
func (s *Server) handleMemosByBook(w http.ResponseWriter, r *http.Request) {
	userBookID := chi.URLParam(r, "userBookId")

	s.mu.Lock()
	var out []memoRecord
	for _, m := range s.memos {
		if m.UserBookID == userBookID {
			out = append(out, m)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].MemoStartTime.Before(out[j].MemoStartTime) })
	if out == nil {
		out = []memoRecord{}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleMemoDates implements GET /api/v1/memos/dates?year&month, a list
// of YYYY-MM-DD strings on which a memo exists.
func (s *Server) handleMemoDates(w http.ResponseWriter, r *http.Request) {
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))
	month, _ := strconv.Atoi(r.URL.Query().Get("month"))

	s.mu.Lock()
	seen := make(map[string]bool)
	for _, m := range s.memos {
		if year != 0 && m.MemoStartTime.Year() != year {
			continue
		}
		if month != 0 && int(m.MemoStartTime.Month()) != month {
			continue
		}
		seen[m.MemoStartTime.Format("2006-01-02")] = true
	}
	s.mu.Unlock()

	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	writeJSON(w, http.StatusOK, dates)
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
