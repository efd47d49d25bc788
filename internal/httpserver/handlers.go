package httpserver

import (
	"bytes"
	"encoding/json"
	"html/template"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"github.com/skip2/go-qrcode"

	"tinypaste/internal/metrics"
	"tinypaste/internal/paste"
	"tinypaste/internal/text"
)

const siteName = "tinypaste"

type loginPageData struct {
	Error string
}

type adminPageData struct {
	Error    string
	Content  string
	MaxBytes int
	Page     paste.Page
}

type viewPageData struct {
	ID        string
	CreatedAt time.Time
	Length    int
	Content   string
	Canonical string
}

type errorPageData struct {
	Message string
}

type titled interface {
	PageTitle() string
}

func (d loginPageData) PageTitle() string {
	return "Log in · " + siteName
}

func (d adminPageData) PageTitle() string {
	return "Pastes · " + siteName
}

func (d viewPageData) PageTitle() string {
	if d.ID != "" {
		return d.ID + " · " + siteName
	}
	return "View Paste · " + siteName
}

func (d errorPageData) PageTitle() string {
	if d.Message == "" {
		return siteName
	}
	return d.Message + " · " + siteName
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if !s.gate.IsAuthenticated(r) {
		s.render(w, r, http.StatusOK, "login", loginPageData{})
		return
	}
	s.renderAdmin(w, r, http.StatusOK, adminPageData{})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.render(w, r, http.StatusBadRequest, "login", loginPageData{Error: "Unable to parse form"})
		return
	}
	if !s.gate.Authenticate(r.PostFormValue("password")) {
		metrics.LoginAttempts.WithLabelValues("failure").Inc()
		hlog.FromRequest(r).Warn().Str("client", ClientIP(r, s.trustProxy)).Msg("admin login failed")
		s.render(w, r, http.StatusForbidden, "login", loginPageData{Error: "Invalid password"})
		return
	}
	if err := s.gate.Login(w, s.isSecureRequest(r)); err != nil {
		s.serverError(w, r, err)
		return
	}
	metrics.LoginAttempts.WithLabelValues("success").Inc()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.gate.Logout(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type createRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	// Normalization can shrink the body (CRLF, stripped controls), so the raw
	// cap is looser than the canonical limit enforced by the service.
	r.Body = http.MaxBytesReader(w, r.Body, int64(2*s.svc.MaxBytes())+4096)

	content, err := readContent(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = paste.ErrTooLarge
		} else {
			s.badRequest(w, r, "Unable to parse request")
			return
		}
	}

	var pid string
	if err == nil {
		pid, err = s.svc.Create(r.Context(), content)
	}
	if err != nil {
		if wantsHTML(r) && paste.KindOf(err) == paste.KindValidation {
			s.renderAdmin(w, r, http.StatusBadRequest, adminPageData{Error: createMessage(err, s.svc.MaxBytes()), Content: content})
			return
		}
		s.failure(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().Str("paste_id", pid).Msg("paste created")
	if wantsHTML(r) {
		http.Redirect(w, r, "/p/"+pid, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"paste_id": pid,
		"view_url": s.viewURL(r, pid),
		"raw_url":  s.rawURL(r, pid),
	})
}

func readContent(r *http.Request) (string, error) {
	if isJSONBody(r) {
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", err
		}
		return req.Content, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.PostFormValue("content"), nil
}

func createMessage(err error, maxBytes int) string {
	if errors.Is(err, paste.ErrTooLarge) {
		return "Content exceeds the " + strconv.Itoa(maxBytes) + " byte limit"
	}
	return "Content cannot be empty"
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Paste(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.pageFailure(w, r, err)
		return
	}
	// Identity on canonical text.
	content := text.Normalize(p.Content)
	metrics.PastesServed.WithLabelValues("html").Inc()
	s.render(w, r, http.StatusOK, "view", viewPageData{
		ID:        p.ID,
		CreatedAt: p.CreatedAt,
		Length:    text.RuneLen(content),
		Content:   content,
		Canonical: s.viewURL(r, p.ID),
	})
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	content, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.pageFailure(w, r, err)
		return
	}
	content = text.Normalize(content)
	metrics.PastesServed.WithLabelValues("raw").Inc()

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(content)))
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, content)
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Paste(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.pageFailure(w, r, err)
		return
	}

	png, err := qrcode.Encode(s.viewURL(r, p.ID), qrcode.Medium, 256)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	metrics.PastesServed.WithLabelValues("qr").Inc()
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Server) renderAdmin(w http.ResponseWriter, r *http.Request, status int, data adminPageData) {
	pageNum, _ := strconv.Atoi(r.URL.Query().Get("page"))
	page, err := s.svc.List(r.Context(), pageNum, s.pageSize)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	data.Page = page
	data.MaxBytes = s.svc.MaxBytes()
	s.render(w, r, status, "admin", data)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	title := siteName
	if t, ok := data.(titled); ok {
		if pt := t.PageTitle(); pt != "" {
			title = pt
		}
	}
	body := &bytes.Buffer{}
	bodyTemplate := name + "-body"
	if err := s.templates.ExecuteTemplate(body, bodyTemplate, data); err != nil {
		s.handleTemplateError(w, r, status, bodyTemplate, err)
		return
	}
	layoutBuf := &bytes.Buffer{}
	layoutData := struct {
		Title string
		Admin bool
		Body  template.HTML
	}{
		Title: title,
		Admin: s.gate.IsAuthenticated(r),
		Body:  template.HTML(body.String()),
	}
	if err := s.templates.ExecuteTemplate(layoutBuf, "layout", layoutData); err != nil {
		s.handleTemplateError(w, r, status, "layout", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = layoutBuf.WriteTo(w)
}

func (s *Server) handleTemplateError(w http.ResponseWriter, r *http.Request, status int, name string, err error) {
	hlog.FromRequest(r).Error().Err(err).Str("template", name).Msg("render template")
	http.Error(w, "Template error", status)
}

// pageFailure answers public page routes, which are always HTML.
func (s *Server) pageFailure(w http.ResponseWriter, r *http.Request, err error) {
	if paste.KindOf(err) == paste.KindNotFound {
		s.notFound(w, r)
		return
	}
	s.serverError(w, r, err)
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	hlog.FromRequest(r).Error().Err(err).Msg("internal error")
	s.render(w, r, http.StatusInternalServerError, "error", errorPageData{Message: "Internal server error"})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusNotFound, "error", errorPageData{Message: "Paste not found"})
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	if wantsHTML(r) {
		s.render(w, r, http.StatusBadRequest, "error", errorPageData{Message: msg})
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"code":    "BAD_REQUEST",
		"error":   msg,
	})
}

func isJSONBody(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}
