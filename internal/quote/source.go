// Package quote provides the quote source: a TTL cache in front of a
// remote fetcher with a deterministic rotation through a static fallback
// list when fetching fails.
package quote

import (
	"context"
	"errors"
	"sync"
	"time"

	appLog "wisepi/internal/log"
	"wisepi/internal/model"
)

// ErrNoQuote is returned when fetching failed and there is no fallback list.
var ErrNoQuote = errors.New("quote: fetch failed and no fallback quotes configured")

// Result is what Get returns alongside the quote.
type Result struct {
	Quote    model.Quote
	Cached   bool
	Fallback bool
}

// Source owns the last good quote and the time it was stored.
type Source struct {
	fetcher  Fetcher
	fallback []model.Quote

	mu        sync.Mutex
	last      *model.Quote
	lastFetch time.Time
	lastWasFb bool
	fetches   int
}

// NewSource creates a Source. fallback is copied.
func NewSource(f Fetcher, fallback []model.Quote) *Source {
	fb := make([]model.Quote, len(fallback))
	copy(fb, fallback)
	return &Source{fetcher: f, fallback: fb}
}

// Get returns the cached quote while it is younger than ttl, otherwise it
// fetches. Failures never propagate as long as a fallback exists: the
// fallback at index floor(now) mod len is used and cached like a fetched
// quote so a flapping network does not cause a fetch per call.
func (s *Source) Get(ctx context.Context, now time.Time, ttl time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last != nil && now.Sub(s.lastFetch) < ttl {
		return Result{Quote: *s.last, Cached: true, Fallback: s.lastWasFb}, nil
	}

	s.fetches++
	q, err := s.fetcher.Fetch(ctx)
	if err == nil {
		appLog.Event(appLog.TagHTTP, "fetched quote", "author", q.Author)
		s.store(q, now, false)
		return Result{Quote: q}, nil
	}

	appLog.EventError(appLog.TagHTTP, "fetch failed", err)
	if len(s.fallback) == 0 {
		return Result{}, ErrNoQuote
	}
	q = s.fallback[fallbackIndex(now, len(s.fallback))]
	s.store(q, now, true)
	return Result{Quote: q, Fallback: true}, nil
}

// LastFetch reports when the cache was last filled.
func (s *Source) LastFetch() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFetch
}

// Fetches counts attempts made against the fetcher.
func (s *Source) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func (s *Source) store(q model.Quote, now time.Time, fallback bool) {
	s.last = &q
	s.lastFetch = now
	s.lastWasFb = fallback
}

func fallbackIndex(now time.Time, n int) int {
	// Unix truncates toward the earlier second, i.e. floor.
	idx := now.Unix() % int64(n)
	if idx < 0 {
		idx += int64(n)
	}
	return int(idx)
}
