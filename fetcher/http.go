package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"

	"sslv-scraper/models"
	"sslv-scraper/utils"
)

// HTTPOptions configures HTTPFetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// HTTPFetcher fetches pages with plain GET requests, retrying transient
// failures (connection errors, 429, 5xx).
type HTTPFetcher struct {
	client    *retryablehttp.Client
	userAgent string
	logger    *utils.Logger
}

// NewHTTPFetcher builds an HTTPFetcher.
func NewHTTPFetcher(opts HTTPOptions, logger *utils.Logger) *HTTPFetcher {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.MaxRetries
	rc.RetryWaitMin = opts.RetryWaitMin
	rc.RetryWaitMax = opts.RetryWaitMax
	if rc.RetryWaitMin <= 0 {
		rc.RetryWaitMin = 500 * time.Millisecond
	}
	if rc.RetryWaitMax < rc.RetryWaitMin {
		rc.RetryWaitMax = 4 * rc.RetryWaitMin
	}
	rc.HTTPClient.Timeout = opts.Timeout
	rc.Logger = leveledLogger{logger}

	return &HTTPFetcher{client: rc, userAgent: opts.UserAgent, logger: logger}
}

// Fetch GETs url and parses the response body.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request for %s: %v", models.ErrFetch, url, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "lv,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", models.ErrFetch, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s: status %d", models.ErrFetch, url, resp.StatusCode)
	}

	f.logger.Debug("[fetch] %s -> %d", url, resp.StatusCode)
	return parseDocument(resp.Body, url)
}

// leveledLogger routes retryablehttp's key/value log calls to utils.Logger.
type leveledLogger struct {
	l *utils.Logger
}

func (a leveledLogger) Error(msg string, kv ...interface{}) { a.l.Error("[fetch] %s", joinKV(msg, kv)) }
func (a leveledLogger) Warn(msg string, kv ...interface{})  { a.l.Warn("[fetch] %s", joinKV(msg, kv)) }
func (a leveledLogger) Info(msg string, kv ...interface{})  { a.l.Debug("[fetch] %s", joinKV(msg, kv)) }
func (a leveledLogger) Debug(msg string, kv ...interface{}) { a.l.Debug("[fetch] %s", joinKV(msg, kv)) }

func joinKV(msg string, kv []interface{}) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	return b.String()
}
