package fetcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"sslv-scraper/models"
	"sslv-scraper/utils"
)

// BrowserOptions configures BrowserFetcher.
type BrowserOptions struct {
	UserAgent string
	ChromeBin string
	Timeout   time.Duration
	Retry     *utils.RetryConfig
}

// BrowserFetcher renders pages in headless Chrome and returns the final DOM.
// Used when the site starts serving script-built markup to plain clients.
type BrowserFetcher struct {
	opts        BrowserOptions
	logger      *utils.Logger
	browserCtx  context.Context
	cancelAlloc context.CancelFunc
	cancelQuiet context.CancelFunc
}

// NewBrowserFetcher launches one headless Chrome shared by every Fetch. Call
// Close when done.
func NewBrowserFetcher(opts BrowserOptions, logger *utils.Logger) (*BrowserFetcher, error) {
	chromeBin := opts.ChromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	logger.Info("[fetch] Using browser binary: %s", chromeBin)

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	)
	if opts.UserAgent != "" {
		execOpts = append(execOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if chromeBin != "" {
		execOpts = append(execOpts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), execOpts...)

	// Suppress chromedp log noise
	quietCtx, cancelQuiet := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	// Start the browser now; tabs opened from quietCtx reuse it.
	if err := chromedp.Run(quietCtx); err != nil {
		cancelQuiet()
		cancelAlloc()
		return nil, fmt.Errorf("%w: start browser: %v", models.ErrFetch, err)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Retry == nil {
		opts.Retry = &utils.RetryConfig{MaxAttempts: 1, Logger: logger}
	}

	return &BrowserFetcher{
		opts:        opts,
		logger:      logger,
		browserCtx:  quietCtx,
		cancelAlloc: cancelAlloc,
		cancelQuiet: cancelQuiet,
	}, nil
}

// Fetch navigates a fresh tab of the shared browser to url and parses the rendered document.
func (b *BrowserFetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	var html string

	err := b.opts.Retry.Do(ctx, "render "+url, func(ctx context.Context) error {
		tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
		defer cancelTab()

		tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.opts.Timeout)
		defer cancelTimeout()

		// follow the caller's cancellation as well as the tab timeout
		stop := context.AfterFunc(ctx, cancelTimeout)
		defer stop()

		return chromedp.Run(tabCtx,
			chromedp.Navigate(url),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: render %s: %v", models.ErrFetch, url, err)
	}

	b.logger.Debug("[fetch] rendered %s (%d bytes)", url, len(html))
	return parseDocument(strings.NewReader(html), url)
}

// Close shuts the browser down.
func (b *BrowserFetcher) Close() {
	b.cancelQuiet()
	b.cancelAlloc()
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
