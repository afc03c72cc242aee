package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"sslv-scraper/models"
	"sslv-scraper/utils"
)

func newTestFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:    "sslv-scraper-test",
		Timeout:      2 * time.Second,
		MaxRetries:   2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}, utils.Discard())
}

func TestHTTPFetcherParsesPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "sslv-scraper-test" {
			t.Errorf("User-Agent = %q; want sslv-scraper-test", ua)
		}
		w.Write([]byte(`<html><body><table id="page_main"><tr><td class="ads_opt">2</td></tr></table></body></html>`))
	}))
	defer srv.Close()

	doc, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := doc.Find("td.ads_opt").Text(); got != "2" {
		t.Errorf("td.ads_opt = %q; want %q", got, "2")
	}
}

func TestHTTPFetcherNotFoundIsFetchError(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	if !errors.Is(err, models.ErrFetch) {
		t.Fatalf("Fetch error = %v; want ErrFetch", err)
	}
	if calls != 1 {
		t.Errorf("404 should not be retried; got %d calls", calls)
	}
}

func TestHTTPFetcherRetriesServerErrors(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`<html><body>ok</body></html>`))
	}))
	defer srv.Close()

	if _, err := newTestFetcher().Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d; want 3", calls)
	}
}

func TestHTTPFetcherGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	if !errors.Is(err, models.ErrFetch) {
		t.Errorf("Fetch error = %v; want ErrFetch", err)
	}
}

func TestRateLimitedSpacesCalls(t *testing.T) {
	var stamps []time.Time
	inner := Func(func(ctx context.Context, url string) (*goquery.Document, error) {
		stamps = append(stamps, time.Now())
		return nil, nil
	})

	f := WithLimiter(inner, utils.NewSpacingLimiter(50*time.Millisecond))
	for i := 0; i < 3; i++ {
		if _, err := f.Fetch(context.Background(), "https://ss.lv/"); err != nil {
			t.Fatalf("Fetch: %v", err)
		}
	}
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < 40*time.Millisecond {
			t.Errorf("gap %d = %v; want >= 50ms", i, gap)
		}
	}
}

func TestRateLimitedCancelled(t *testing.T) {
	inner := Func(func(ctx context.Context, url string) (*goquery.Document, error) {
		t.Error("inner fetcher should not run after cancellation")
		return nil, nil
	})
	limiter := utils.NewSpacingLimiter(time.Hour)
	limiter.Allow() // drain the initial token

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := WithLimiter(inner, limiter).Fetch(ctx, "https://ss.lv/"); !errors.Is(err, models.ErrFetch) {
		t.Errorf("Fetch error = %v; want ErrFetch", err)
	}
}

func TestHTTPFetcherTimeoutIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{
		Timeout:      50 * time.Millisecond,
		MaxRetries:   1,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
	}, utils.Discard())

	start := time.Now()
	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, models.ErrFetch) {
		t.Fatalf("Fetch error = %v; want ErrFetch", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Fetch took %v; the timeout was not applied", elapsed)
	}
}

func TestBrowserFetcherRendersPage(t *testing.T) {
	if findChromeBinary() == "" {
		t.Skip("no Chrome binary found")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><span id="show_cnt_stat">152</span></body></html>`))
	}))
	defer srv.Close()

	b, err := NewBrowserFetcher(BrowserOptions{Timeout: 30 * time.Second}, utils.Discard())
	if err != nil {
		t.Fatalf("NewBrowserFetcher: %v", err)
	}
	defer b.Close()

	// two fetches share the same browser
	for i := 0; i < 2; i++ {
		doc, err := b.Fetch(context.Background(), srv.URL)
		if err != nil {
			t.Fatalf("Fetch %d: %v", i, err)
		}
		if got := doc.Find("span#show_cnt_stat").Text(); got != "152" {
			t.Errorf("Fetch %d: view count = %q; want 152", i, got)
		}
	}
}
