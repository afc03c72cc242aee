package sslv

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"sslv-scraper/fetcher"
	"sslv-scraper/models"
)

// Cell classes inside the listing table.
const (
	SelectorOptionNames  = "ads_opt_name"
	SelectorOptionValues = "ads_opt"
	SelectorPrice        = "ads_price"
	SelectorFooter       = "msg_footer"
)

const (
	mainTableSelector = "table#page_main"
	viewCountSelector = "span#show_cnt_stat"
)

// CellTexts returns the trimmed text of every td.<class> cell of the main
// listing table, in document order. A page without the table is reported as
// models.ErrMarkupShape.
func CellTexts(doc *goquery.Document, class string) ([]string, error) {
	table := doc.Find(mainTableSelector).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("%w: no %s", models.ErrMarkupShape, mainTableSelector)
	}

	var cells []string
	table.Find("td." + class).Each(func(_ int, td *goquery.Selection) {
		cells = append(cells, strings.TrimSpace(td.Text()))
	})
	return cells, nil
}

// TableReader fetches a listing page and reads one cell class from it. It is
// the standalone per-selector read; Scraper.Assemble fetches once and calls
// CellTexts for each class instead, with the same result.
type TableReader struct {
	Fetcher fetcher.Fetcher
}

// Read returns the td.<class> texts of the page at url. On any failure the
// slice is empty, so callers can treat the field as absent.
func (r TableReader) Read(ctx context.Context, url, class string) ([]string, error) {
	doc, err := r.Fetcher.Fetch(ctx, url)
	if err != nil {
		return []string{}, err
	}
	cells, err := CellTexts(doc, class)
	if err != nil {
		return []string{}, err
	}
	return cells, nil
}

func viewCount(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find(viewCountSelector).First().Text())
}
