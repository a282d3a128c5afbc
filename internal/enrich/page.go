package enrich

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// maxPageBytes caps how much of a detail page is read.
const maxPageBytes = 1 << 20

// PageFetcher retrieves a detail page.
type PageFetcher interface {
	Page(ctx context.Context, url string) ([]byte, error)
}

// HTTPPages fetches detail pages with a single GET per URL.
type HTTPPages struct {
	client    *http.Client
	userAgent string
}

// NewHTTPPages creates an HTTPPages with the given per-request timeout.
func NewHTTPPages(timeout time.Duration, userAgent string) *HTTPPages {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if userAgent == "" {
		userAgent = "tender-sync/1.0"
	}
	return &HTTPPages{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 16,
			},
		},
		userAgent: userAgent,
	}
}

// Page implements PageFetcher.
func (h *HTTPPages) Page(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "page: create request")
	}
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "page: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, eris.Wrap(err, "page: read body")
	}

	if blocked, bt := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("page: blocked (%s)", bt)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("page: status %d", resp.StatusCode)
	}
	return body, nil
}
