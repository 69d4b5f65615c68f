package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appLog "wisepi/internal/log"
	"wisepi/internal/model"
)

const (
	// DefaultURL returns `[{"q": "...", "a": "...", ...}]`.
	DefaultURL = "https://zenquotes.io/api/random"

	DefaultTimeout = 8 * time.Second

	userAgent      = "wise-pi/1.0"
	maxPayloadSize = 64 << 10
)

// Fetcher retrieves one quote from a remote source.
type Fetcher interface {
	Fetch(ctx context.Context) (model.Quote, error)
}

// HTTPFetcher fetches from a single JSON endpoint whose first array element
// carries the quote text ("q") and author ("a").
type HTTPFetcher struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPFetcher creates a fetcher bounded by timeout. The timeout applies
// both to the http.Client and to a context deadline per request.
func NewHTTPFetcher(url string, timeout time.Duration) *HTTPFetcher {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPFetcher{
		url:     url,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type upstreamItem struct {
	Q *string `json:"q"`
	A *string `json:"a"`
}

// Fetch implements Fetcher. Any deviation from the expected shape is an
// error.
func (f *HTTPFetcher) Fetch(ctx context.Context) (model.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return model.Quote{}, fmt.Errorf("quote: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return model.Quote{}, fmt.Errorf("quote: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		appLog.Event(appLog.TagHTTP, "bad status", "status", resp.StatusCode)
		return model.Quote{}, fmt.Errorf("quote: unexpected status %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize))
	if err != nil {
		return model.Quote{}, fmt.Errorf("quote: read response: %w", err)
	}

	var items []upstreamItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return model.Quote{}, fmt.Errorf("quote: decode response: %w", err)
	}
	if len(items) == 0 {
		return model.Quote{}, errors.New("quote: empty response array")
	}
	if items[0].Q == nil || items[0].A == nil {
		return model.Quote{}, errors.New("quote: response is missing q/a fields")
	}

	return model.Quote{
		Text:   strings.TrimSpace(*items[0].Q),
		Author: strings.TrimSpace(*items[0].A),
	}, nil
}
