// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ottrec/ottrec/internal/recording"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleListRecordings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Recordings())
}

func (s *Server) handleScheduleRecording(w http.ResponseWriter, r *http.Request) {
	var rec recording.Recording
	if !decodeBody(w, r, &rec) {
		return
	}
	created, err := s.svc.ScheduleRecording(r.Context(), rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.svc.Recording(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateRecording(w http.ResponseWriter, r *http.Request) {
	var rec recording.Recording
	if !decodeBody(w, r, &rec) {
		return
	}
	rec.ID = chi.URLParam(r, "id")
	updated, err := s.svc.UpdateRecording(r.Context(), rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleCancelRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.CancelRecording(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, "hours must be a positive integer")
			return
		}
		hours = parsed
	}
	writeJSON(w, http.StatusOK, s.svc.GetUpcomingRecordings(time.Duration(hours)*time.Hour))
}

// handleConflicts answers whether a window collides with an existing
// scheduled recording. Purely advisory; scheduling is never blocked.
func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		writeBadRequest(w, "start must be RFC3339")
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		writeBadRequest(w, "end must be RFC3339")
		return
	}
	if !start.Before(end) {
		writeBadRequest(w, "end must be after start")
		return
	}
	conflict := s.svc.HasConflictingRecording(start, end, q.Get("exclude"))
	writeJSON(w, http.StatusOK, map[string]bool{"conflict": conflict})
}

func (s *Server) handleListRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.SeriesRules())
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule recording.SeriesRule
	if !decodeBody(w, r, &rule) {
		return
	}
	created, err := s.svc.AddSeriesRule(r.Context(), rule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.svc.SeriesRule(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule recording.SeriesRule
	if !decodeBody(w, r, &rule) {
		return
	}
	rule.ID = chi.URLParam(r, "id")
	updated, err := s.svc.UpdateSeriesRule(r.Context(), rule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RemoveSeriesRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleRunRule(w http.ResponseWriter, r *http.Request) {
	reports, err := s.svc.RunSeriesRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleRunAllRules(w http.ResponseWriter, r *http.Request) {
	reports, err := s.svc.RunSeriesRule(r.Context(), "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}
