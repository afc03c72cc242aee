// Package fetcher turns a URL into a parsed HTML document.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"sslv-scraper/models"
)

// maxPageBytes caps how much of a response body is parsed.
const maxPageBytes = 4 << 20

// Fetcher returns the parsed markup of a page. Every failure is reported
// wrapped in models.ErrFetch.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
}

// Func adapts a plain function to the Fetcher interface.
type Func func(ctx context.Context, url string) (*goquery.Document, error)

func (f Func) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	return f(ctx, url)
}

// RateLimited spaces out calls to the wrapped Fetcher. One RateLimited shared
// by all workers bounds the aggregate request rate against the site.
type RateLimited struct {
	next    Fetcher
	limiter *rate.Limiter
}

// WithLimiter wraps next so every Fetch waits for a limiter token first.
func WithLimiter(next Fetcher, limiter *rate.Limiter) *RateLimited {
	return &RateLimited{next: next, limiter: limiter}
}

func (r *RateLimited) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: waiting to fetch %s: %v", models.ErrFetch, url, err)
	}
	return r.next.Fetch(ctx, url)
}

// parseDocument reads at most maxPageBytes from body into a goquery document.
func parseDocument(body io.Reader, url string) (*goquery.Document, error) {
	raw, err := io.ReadAll(io.LimitReader(body, maxPageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrFetch, url, err)
	}
	if len(raw) > maxPageBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", models.ErrFetch, url, maxPageBytes)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", models.ErrFetch, url, err)
	}
	return doc, nil
}
