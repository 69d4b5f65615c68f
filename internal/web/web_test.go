package web

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wisepi/internal/config"
	"wisepi/internal/model"
	"wisepi/internal/quote"
)

type stubFetcher struct {
	q   model.Quote
	err error
}

func (f stubFetcher) Fetch(context.Context) (model.Quote, error) { return f.q, f.err }

func newTestServer(t *testing.T, f quote.Fetcher, fallback []model.Quote, opts Options) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	opts.Quotes = quote.NewSource(f, fallback)
	s := NewServer(cfg, opts)
	s.now = func() time.Time { return time.Unix(101, 0) }
	return s
}

func do(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestQuoteEndpoint(t *testing.T) {
	s := newTestServer(t, stubFetcher{q: model.Quote{Text: "Stay curious.", Author: "Anon"}}, nil, Options{})
	h := s.Handler()

	rec := do(t, h, "/api/quote")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var body quoteResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Quote != "Stay curious." || body.Author != "Anon" || body.Cached {
		t.Fatalf("body=%+v", body)
	}

	rec = do(t, h, "/api/quote")
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Cached {
		t.Fatal("second call not served from cache")
	}
}

func TestQuoteFallbackAndFailure(t *testing.T) {
	offline := stubFetcher{err: errors.New("offline")}
	fb := []model.Quote{{Text: "a"}, {Text: "b"}, {Text: "c"}}

	rec := do(t, newTestServer(t, offline, fb, Options{}).Handler(), "/api/quote")
	var body quoteResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || !body.Fallback || body.Quote != "c" {
		t.Fatalf("status=%d body=%+v", rec.Code, body)
	}

	rec = do(t, newTestServer(t, offline, nil, Options{}).Handler(), "/api/quote")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestStatusAndPreview(t *testing.T) {
	var img image.Image
	s := newTestServer(t, stubFetcher{}, nil, Options{
		Status:  func() model.Status { return model.Status{State: "running", BacklightMode: model.BacklightNone} },
		Preview: func() image.Image { return img },
	})
	h := s.Handler()

	rec := do(t, h, "/api/status")
	var st model.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.State != "running" || st.BacklightMode != model.BacklightNone {
		t.Fatalf("status=%+v", st)
	}

	if rec := do(t, h, "/preview.png"); rec.Code != http.StatusNotFound {
		t.Fatalf("preview before render: %d", rec.Code)
	}
	img = image.NewRGBA(image.Rect(0, 0, 4, 3))
	rec = do(t, h, "/preview.png")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("status=%d type=%s", rec.Code, rec.Header().Get("Content-Type"))
	}
	decoded, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Bounds().Dx() != 4 {
		t.Fatalf("bounds=%v", decoded.Bounds())
	}
}

func TestThemeAndStatic(t *testing.T) {
	h := newTestServer(t, stubFetcher{}, nil, Options{}).Handler()

	rec := do(t, h, "/api/theme")
	var theme map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&theme); err != nil {
		t.Fatal(err)
	}
	if theme["background"] == "" {
		t.Fatalf("theme=%v", theme)
	}

	rec = do(t, h, "/")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/api/quote") {
		t.Fatalf("index status=%d", rec.Code)
	}
	if rec := do(t, h, "/api/unknown"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown api=%d", rec.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	s := newTestServer(t, stubFetcher{q: model.Quote{Text: "x", Author: "y"}}, nil, Options{})
	s.cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	h := s.Handler()

	if rec := do(t, h, "/health"); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health=%d %q", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, "/api/quote"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated=%d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/quote", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated=%d", rec.Code)
	}
}
