package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"wisepi/internal/config"
	appLog "wisepi/internal/log"
	"wisepi/internal/model"
	"wisepi/internal/quote"
)

// Server provides the dashboard page and its small JSON API.
type Server struct {
	cfg *config.Config
	mux *http.ServeMux

	// quotes is separate from the device loop's source so browser traffic
	// never advances the panel's cache.
	quotes *quote.Source
	ttl    time.Duration

	status  func() model.Status
	preview func() image.Image
	now     func() time.Time
}

// Options are the read-only views the server exposes.
type Options struct {
	Quotes *quote.Source
	// Status returns the scheduler snapshot. Optional.
	Status func() model.Status
	// Preview returns the last presented image or nil. Optional.
	Preview func() image.Image
}

// embeddedStatic contains the dashboard page.
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, opts Options) *Server {
	s := &Server{
		cfg:     cfg,
		mux:     http.NewServeMux(),
		quotes:  opts.Quotes,
		ttl:     time.Duration(cfg.RefreshIntervalSeconds) * time.Second,
		status:  opts.Status,
		preview: opts.Preview,
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Event(appLog.TagWeb, "HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// 빈 사용자명 또는 비밀번호가 설정된 경우에는 비활성화로 취급한다.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health 는 항상 무인증으로 노출한다.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="WisePi", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Event(appLog.TagWeb, "starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Event(appLog.TagWeb, "HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/quote", s.handleQuote)
	s.mux.HandleFunc("/api/theme", s.handleTheme)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/preview.png", s.handlePreview)

	// All non-/api/* and non-/preview.png paths fall back to the embedded page.
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// quoteResponse is the JSON response shape for /api/quote.
type quoteResponse struct {
	Quote    string `json:"quote"`
	Author   string `json:"author"`
	Cached   bool   `json:"cached"`
	Fallback bool   `json:"fallback,omitempty"`
}

// handleQuote serves the cached quote, refreshing it when older than the
// configured refresh interval.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if s.quotes == nil {
		writeError(w, http.StatusServiceUnavailable, "quote source unavailable")
		return
	}
	res, err := s.quotes.Get(r.Context(), s.now(), s.ttl)
	if err != nil {
		appLog.EventError(appLog.TagWeb, "api quote failed", err)
		writeError(w, http.StatusServiceUnavailable, "failed to fetch quote")
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{
		Quote:    res.Quote.Text,
		Author:   res.Quote.Author,
		Cached:   res.Cached,
		Fallback: res.Fallback,
	})
}

func (s *Server) handleTheme(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Theme)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusNotFound, "device loop not running")
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

// handlePreview encodes the last presented frame.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var img image.Image
	if s.preview != nil {
		img = s.preview()
	}
	if img == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, img); err != nil {
		appLog.EventError(appLog.TagWeb, "failed to encode preview", err)
	}
}

// staticFileServer returns an http.Handler that serves the embedded
// dashboard from internal/web/static.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// 절대 /api/* 요청은 정적 UI에서 서빙하지 않는다.
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
