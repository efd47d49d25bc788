package httpserver

import (
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"tinypaste/internal/admin"
	"tinypaste/internal/paste"
	"tinypaste/web"
)

// Config captures server configuration.
type Config struct {
	Service    *paste.Service
	Gate       *admin.Gate
	Throttle   *admin.Throttle
	PageSize   int
	TrustProxy bool
	BaseURL    string
	Logger     zerolog.Logger
}

// Server wraps HTTP handling logic.
type Server struct {
	svc        *paste.Service
	gate       *admin.Gate
	throttle   *admin.Throttle
	router     chi.Router
	templates  *template.Template
	pageSize   int
	trustProxy bool
	baseURL    *url.URL
	logger     zerolog.Logger
}

// New constructs a new Server instance.
func New(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("paste service required")
	}
	if cfg.Gate == nil {
		return nil, errors.New("admin gate required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = paste.DefaultPageSize
	}
	tmpl, err := template.New("layout").Funcs(template.FuncMap{
		"formatTime": func(t time.Time) string {
			return t.UTC().Format("2006-01-02 15:04:05")
		},
		"formatSize": func(size int) string {
			if size < 1024 {
				return fmt.Sprintf("%d B", size)
			}
			const unit = 1024.0
			kb := float64(size)
			for _, suffix := range []string{"KB", "MB", "GB"} {
				kb /= unit
				if kb < unit {
					return fmt.Sprintf("%.1f %s", kb, suffix)
				}
			}
			return fmt.Sprintf("%d B", size)
		},
		"inc": func(n int) int { return n + 1 },
		"dec": func(n int) int { return n - 1 },
	}).ParseFS(web.Templates, "templates/*.tmpl")
	if err != nil {
		return nil, errors.Wrap(err, "parse templates")
	}

	var parsedBase *url.URL
	if cfg.BaseURL != "" {
		parsedBase, err = url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "invalid base url")
		}
		if parsedBase.Scheme == "" || parsedBase.Host == "" {
			return nil, errors.New("base url must include scheme and host")
		}
		parsedBase.Path = strings.TrimSuffix(parsedBase.Path, "/")
	}

	srv := &Server{
		svc:        cfg.Service,
		gate:       cfg.Gate,
		throttle:   cfg.Throttle,
		router:     chi.NewRouter(),
		templates:  tmpl,
		pageSize:   cfg.PageSize,
		trustProxy: cfg.TrustProxy,
		baseURL:    parsedBase,
		logger:     cfg.Logger,
	}
	srv.routes()
	return srv, nil
}

// Handler returns the underlying router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(hlog.NewHandler(s.logger))
	r.Use(requestID)
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(observe)
	// text/plain stays uncompressed so raw responses keep their Content-Length.
	r.Use(middleware.Compress(5, "text/html", "text/css", "application/json"))
	r.Use(middleware.Recoverer)

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(web.Static))))

	login := s.throttle.Middleware(func(r *http.Request) string {
		return ClientIP(r, s.trustProxy)
	})

	r.Get("/", s.handleIndex)
	r.With(login).Post("/", s.handleLogin)
	r.With(login).Post("/login", s.handleLogin)
	r.Get("/logout", s.handleLogout)

	r.With(s.gate.Require).Post("/pastes", s.handleCreate)
	r.With(s.gate.Require).Post("/create", s.handleCreate)

	r.Route("/p/{id}", func(pr chi.Router) {
		pr.Get("/", s.handleView)
		pr.Get("/raw", s.handleRaw)
		pr.Get("/qr", s.handleQR)
	})
	r.Get("/view/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/p/"+url.PathEscape(chi.URLParam(r, "id")), http.StatusMovedPermanently)
	})

	r.Route("/api", func(ar chi.Router) {
		ar.Use(s.gate.Require)
		ar.Get("/pastes", s.apiList)
		ar.Post("/pastes", s.handleCreate)
		ar.Delete("/pastes/{id}", s.apiDelete)
		ar.Post("/delete/{id}", s.apiDelete)
		ar.Post("/merge", s.apiMerge)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())
}

func (s *Server) isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if s.baseURL != nil && s.baseURL.Scheme == "https" {
		return true
	}
	if s.trustProxy {
		proto := strings.ToLower(r.Header.Get("X-Forwarded-Proto"))
		if proto == "https" {
			return true
		}
	}
	return false
}

// canonicalURL builds the absolute link for path, preferring the configured base URL.
func (s *Server) canonicalURL(r *http.Request, path string) string {
	if s.baseURL != nil {
		u := *s.baseURL
		u.Path = strings.TrimSuffix(u.Path, "/") + path
		return u.String()
	}

	scheme := "http"
	if s.isSecureRequest(r) {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}

func (s *Server) viewURL(r *http.Request, id string) string {
	return s.canonicalURL(r, "/p/"+id)
}

func (s *Server) rawURL(r *http.Request, id string) string {
	return s.canonicalURL(r, "/p/"+id+"/raw")
}
