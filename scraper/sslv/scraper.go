package sslv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"

	"sslv-scraper/fetcher"
	"sslv-scraper/models"
	"sslv-scraper/services"
	"sslv-scraper/utils"
)

// Options controls which pages a Scraper visits.
type Options struct {
	SearchPages    []string
	Origin         string
	Marker         string
	MaxListings    int // 0 = no cap
	MaxConcurrency int
	RunID          string
}

// RawRecorder receives the label/value pairs of each listing before they are
// normalized.
type RawRecorder interface {
	Record(listingID string, fields []models.RawField) error
}

// Scraper drives link harvesting and per-listing assembly.
type Scraper struct {
	opts       Options
	fetcher    fetcher.Fetcher
	normalizer *services.Normalizer
	logger     *utils.Logger
	raw        RawRecorder
}

// New creates a Scraper. f should already carry the politeness limiter; every
// request the Scraper makes goes through it.
func New(opts Options, f fetcher.Fetcher, n *services.Normalizer, logger *utils.Logger) *Scraper {
	if opts.Marker == "" {
		opts.Marker = "msg"
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	return &Scraper{opts: opts, fetcher: f, normalizer: n, logger: logger}
}

// WithRawRecorder sets a recorder for raw label/value pairs.
func (s *Scraper) WithRawRecorder(r RawRecorder) *Scraper {
	s.raw = r
	return s
}

// Run harvests every search page, then assembles each distinct listing.
// Failures of a single listing are logged and counted, never returned.
func (s *Scraper) Run(ctx context.Context) (*models.RunOutput, error) {
	out := models.NewRunOutput(s.opts.RunID, time.Now())
	defer func() { out.FinishedAt = time.Now() }()

	urls, err := s.collectLinks(ctx)
	if err != nil {
		return out, err
	}

	if s.opts.MaxListings > 0 && len(urls) > s.opts.MaxListings {
		s.logger.Info("[sslv] Capping %d listings to %d", len(urls), s.opts.MaxListings)
		urls = urls[:s.opts.MaxListings]
	}
	s.logger.Info("[sslv] Assembling %d listings (concurrency %d)", len(urls), s.opts.MaxConcurrency)

	pool := utils.NewWorkerPool(s.opts.MaxConcurrency)
	pool.OnPanic(func(recovered any) {
		s.logger.Error("[sslv] Listing worker: %v", utils.PanicError(recovered))
		out.MarkFailed()
	})

	for i, url := range urls {
		n := i + 1
		err := pool.Submit(ctx, func() {
			s.assembleInto(ctx, out, url, n, len(urls))
		})
		if err != nil {
			s.logger.Warn("[sslv] Stopping before %s: %v", url, err)
			break
		}
	}
	pool.Wait()

	s.logger.Info("[sslv] Run complete: %d records, %d failed", out.Len(), out.Failed())
	return out, ctx.Err()
}

func (s *Scraper) assembleInto(ctx context.Context, out *models.RunOutput, url string, n, total int) {
	s.logger.Info("[sslv] Extracting listing %d/%d: %s", n, total, url)

	rec, err := s.Assemble(ctx, url)
	if err != nil {
		s.logger.Warn("[sslv] Skipping %s: %v", url, err)
		out.MarkFailed()
		return
	}
	if !out.Add(rec) {
		s.logger.Warn("[sslv] Dropping %s: listing id %s already recorded from another URL", url, rec.ID)
	}
}

// collectLinks fetches the search pages and returns the union of their
// listing links. The site answers an out-of-range page with page 1, so the
// same link can show up on several pages.
func (s *Scraper) collectLinks(ctx context.Context) ([]string, error) {
	set := utils.NewURLSet()
	var failed int

	for _, page := range s.opts.SearchPages {
		doc, err := s.fetcher.Fetch(ctx, page)
		if err != nil {
			failed++
			s.logger.Warn("[sslv] Search page %s failed: %v", page, err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		links := HarvestLinks(doc, s.opts.Origin, s.opts.Marker)
		added := set.AddAll(links)
		s.logger.Info("[sslv] %s: %d links, %d new", page, len(links), added)
	}

	if len(s.opts.SearchPages) > 0 && failed == len(s.opts.SearchPages) {
		return nil, fmt.Errorf("%w: all %d search pages failed", models.ErrFetch, failed)
	}
	return set.List(), nil
}

// Assemble builds the record for one listing page. The page is fetched once
// and every cell class is read from the same document. Malformed URLs and
// failed fetches are returned as errors; a page without the listing table
// still yields a record with N/A fields.
func (s *Scraper) Assemble(ctx context.Context, url string) (*models.ListingRecord, error) {
	id, err := models.ListingIDFromURL(url)
	if err != nil {
		return nil, err
	}

	doc, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	rec := models.NewListingRecord(id, url)
	rec.Fields[models.FieldViewCount] = services.CleanViewCount(viewCount(doc))

	names, err := CellTexts(doc, SelectorOptionNames)
	if err != nil {
		s.logger.Warn("[sslv] %s: %v", id, err)
		return rec, nil
	}
	values, _ := CellTexts(doc, SelectorOptionValues)

	table := models.PairCells(names, values)
	rec.Raw = rawPairs(names, values)
	for f, v := range s.normalizer.NormalizeAll(id, table) {
		rec.Fields[f] = v
	}

	s.fillPrice(rec, doc)
	s.fillListedAt(rec, doc)

	if s.raw != nil {
		if err := s.raw.Record(id, rec.Raw); err != nil {
			s.logger.Warn("[sslv] Raw dump for %s failed: %v", id, err)
		}
	}
	return rec, nil
}

func (s *Scraper) fillPrice(rec *models.ListingRecord, doc *goquery.Document) {
	cells, _ := CellTexts(doc, SelectorPrice)
	if len(cells) == 0 {
		s.logger.Debug("[sslv] %s: no price cell", rec.ID)
		return
	}
	rec.RawPrice = cells[0]
	price, perSqm, err := services.SplitPrice(cells[0])
	if err != nil {
		s.logger.Debug("[sslv] %s: %v", rec.ID, err)
	}
	rec.Fields[models.FieldPrice] = price
	rec.Fields[models.FieldPricePerSqm] = perSqm
}

func (s *Scraper) fillListedAt(rec *models.ListingRecord, doc *goquery.Document) {
	cells, _ := CellTexts(doc, SelectorFooter)
	date, clock, err := services.ParseFooter(cells)
	if err != nil {
		if errors.Is(err, models.ErrMarkupShape) {
			s.logger.Warn("[sslv] %s: %v", rec.ID, err)
		} else {
			s.logger.Debug("[sslv] %s: %v", rec.ID, err)
		}
	}
	rec.Fields[models.FieldListedDate] = date
	rec.Fields[models.FieldListedTime] = clock
}

func rawPairs(names, values []string) []models.RawField {
	n := len(names)
	if len(values) < n {
		n = len(values)
	}
	pairs := make([]models.RawField, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, models.RawField{Label: names[i], Value: values[i]})
	}
	return pairs
}
