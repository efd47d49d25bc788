package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"tinypaste/internal/paste"
)

const (
	maxMergeBody = 64 << 10
	readyTimeout = 2 * time.Second
)

type mergeRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) apiList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageNum, _ := strconv.Atoi(q.Get("page"))
	size, err := strconv.Atoi(q.Get("size"))
	if err != nil {
		size = s.pageSize
	}
	page, err := s.svc.List(r.Context(), pageNum, size)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) apiMerge(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMergeBody)

	var ids []string
	if isJSONBody(r) {
		var req mergeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.badRequest(w, r, "Unable to parse request")
			return
		}
		ids = req.IDs
	} else {
		if err := r.ParseForm(); err != nil {
			s.badRequest(w, r, "Unable to parse form")
			return
		}
		ids = r.PostForm["ids"]
	}

	pid, preview, err := s.svc.Merge(r.Context(), ids)
	if err != nil {
		s.failure(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Str("paste_id", pid).Int("sources", len(ids)).Msg("pastes merged")
	if wantsHTML(r) {
		http.Redirect(w, r, "/p/"+pid, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"paste_id": pid,
		"view_url": s.viewURL(r, pid),
		"preview":  preview,
	})
}

func (s *Server) apiDelete(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "id")
	removed, err := s.svc.Delete(r.Context(), pid)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if !removed {
		s.failure(w, r, paste.ErrNotFound)
		return
	}

	hlog.FromRequest(r).Info().Str("paste_id", pid).Msg("paste deleted")
	if wantsHTML(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := s.svc.Ping(ctx); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("readiness check failed")
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// failure maps a service error onto the response mode of r. Storage errors
// are logged and answered with a generic message.
func (s *Server) failure(w http.ResponseWriter, r *http.Request, err error) {
	kind := paste.KindOf(err)
	if kind == paste.KindStorage {
		hlog.FromRequest(r).Error().Err(err).Msg("internal error")
	}

	if wantsHTML(r) {
		switch kind {
		case paste.KindValidation:
			s.renderAdmin(w, r, http.StatusBadRequest, adminPageData{Error: err.Error()})
		case paste.KindNotFound:
			s.render(w, r, http.StatusNotFound, "error", errorPageData{Message: err.Error()})
		default:
			s.render(w, r, http.StatusInternalServerError, "error", errorPageData{Message: "Internal server error"})
		}
		return
	}

	status := http.StatusInternalServerError
	msg := "internal error"
	switch kind {
	case paste.KindValidation:
		status, msg = http.StatusBadRequest, err.Error()
	case paste.KindNotFound:
		status, msg = http.StatusNotFound, err.Error()
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"code":    paste.CodeOf(err),
		"error":   msg,
	})
}

// wantsHTML reports whether the client is a browser expecting pages and
// redirects rather than JSON.
func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
