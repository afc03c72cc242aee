package sslv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sslv-scraper/fetcher"
	"sslv-scraper/models"
	"sslv-scraper/services"
	"sslv-scraper/utils"
)

const listingPath = "/msg/lv/real-estate/flats/ogre-and-reg/ogre/"

func listingPage(street, floor, price string) string {
	return fmt.Sprintf(`<html><body>
<table id="page_main"><tr><td>
<table>
<tr><td class="ads_opt_name">Iela:</td><td class="ads_opt">%s <a href="#map">[Karte]</a></td></tr>
<tr><td class="ads_opt_name">Istabas:</td><td class="ads_opt">2</td></tr>
<tr><td class="ads_opt_name">Platība:</td><td class="ads_opt">49 m²</td></tr>
<tr><td class="ads_opt_name">Stāvs:</td><td class="ads_opt">%s</td></tr>
<tr><td class="ads_opt_name">Sērija:</td><td class="ads_opt">602.</td></tr>
<tr><td class="ads_opt_name">Mājas tips:</td><td class="ads_opt">Paneļu</td></tr>
</table>
<table><tr><td class="ads_price">%s</td></tr></table>
<table><tr>
<td class="msg_footer">Ogre</td><td class="msg_footer">Rakstīt</td>
<td class="msg_footer">Datums: 03.06.2024 14:22</td>
</tr></table>
</td></tr></table>
<span id="show_cnt_stat">152</span>
</body></html>`, street, floor, price)
}

func searchResults(ids ...string) string {
	body := `<html><body><a href="/lv/real-estate/flats/ogre-and-reg/ogre/sell/">Pārdod</a>`
	for _, id := range ids {
		body += fmt.Sprintf(`<a href="%s%s.html">%s</a>`, listingPath, id, id)
	}
	return body + `</body></html>`
}

// newSite serves three search pages: page 2 redirects to page 1 as the real
// site does for out-of-range pages.
func newSite(t *testing.T, hits *sync.Map) *httptest.Server {
	t.Helper()
	pages := map[string]string{
		"/sell/":           searchResults("aaaaa", "bbbbb"),
		"/sell/page3.html": searchResults("bbbbb", "ccccc", "ddddd", "eeeee") + `<a href="/msg/short.html">x</a>`,
		listingPath + "aaaaa.html": listingPage("Skolas iela 12", "2/9", "38 000 € (775.51 €/m²)"),
		listingPath + "bbbbb.html": listingPage("Brīvības iela 3", "5/5", "47 000 € (1 000 €/m²)"),
		listingPath + "ccccc.html": listingPage("Rīgas iela 7", "1", "pēc vienošanās"),
		listingPath + "ddddd.html": `<html><body><p>Sludinājums ir dzēsts</p></body></html>`,
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			n, _ := hits.LoadOrStore(r.URL.Path, new(atomic.Int64))
			n.(*atomic.Int64).Add(1)
		}
		if r.URL.Path == "/sell/page2.html" {
			http.Redirect(w, r, "/sell/", http.StatusFound)
			return
		}
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(body))
	}))
}

func newScraper(srv *httptest.Server, concurrency int) *Scraper {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 2 * time.Second}, utils.Discard())
	opts := Options{
		SearchPages:    []string{srv.URL + "/sell/", srv.URL + "/sell/page2.html", srv.URL + "/sell/page3.html"},
		Origin:         srv.URL,
		Marker:         "msg",
		MaxConcurrency: concurrency,
		RunID:          "test-run",
	}
	return New(opts, f, services.NewNormalizer(utils.Discard()), utils.Discard())
}

func TestRunEndToEnd(t *testing.T) {
	srv := newSite(t, nil)
	defer srv.Close()

	out, err := newScraper(srv, 1).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantIDs := []string{"aaaaa", "bbbbb", "ccccc", "ddddd"}
	gotIDs := out.IDs()
	if len(gotIDs) != len(wantIDs) {
		t.Fatalf("IDs = %v; want %v", gotIDs, wantIDs)
	}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Errorf("IDs[%d] = %q; want %q", i, gotIDs[i], wantIDs[i])
		}
	}
	// eeeee is a 404, /msg/short.html has no id segment
	if out.Failed() != 2 {
		t.Errorf("Failed = %d; want 2", out.Failed())
	}

	a, _ := out.Record("aaaaa")
	want := map[models.CanonicalField]string{
		models.FieldStreet:             "Skolas iela 12",
		models.FieldRoomCount:          "2",
		models.FieldFloorArea:          "49",
		models.FieldApartmentFloor:     "2",
		models.FieldBuildingFloorCount: "9",
		models.FieldHouseSeries:        "602.",
		models.FieldHouseType:          "Paneļu",
		models.FieldAmenities:          models.NotAvailable,
		models.FieldPrice:              "38 000 ",
		models.FieldPricePerSqm:        "775.51 €/m²",
		models.FieldListedDate:         "03.06.2024",
		models.FieldListedTime:         "14:22",
		models.FieldViewCount:          "152",
	}
	for f, v := range want {
		if got := a.Get(f); got != v {
			t.Errorf("aaaaa %s = %q; want %q", f, got, v)
		}
	}
	if a.URL != srv.URL+listingPath+"aaaaa.html" {
		t.Errorf("aaaaa URL = %q", a.URL)
	}
}

func TestRunTolerantFields(t *testing.T) {
	srv := newSite(t, nil)
	defer srv.Close()

	out, err := newScraper(srv, 1).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	c, ok := out.Record("ccccc")
	if !ok {
		t.Fatal("ccccc missing")
	}
	if c.Get(models.FieldApartmentFloor) != "1" || c.Get(models.FieldBuildingFloorCount) != models.NotAvailable {
		t.Errorf("ccccc floors = %q/%q; want 1/N/A",
			c.Get(models.FieldApartmentFloor), c.Get(models.FieldBuildingFloorCount))
	}
	if c.Get(models.FieldPrice) != models.NotAvailable {
		t.Errorf("ccccc price = %q; want N/A", c.Get(models.FieldPrice))
	}

	d, ok := out.Record("ddddd")
	if !ok {
		t.Fatal("page without the listing table should still give a record")
	}
	for _, f := range models.CanonicalFields() {
		if got := d.Get(f); got != models.NotAvailable {
			t.Errorf("ddddd %s = %q; want N/A", f, got)
		}
	}
}

func TestRunFetchesEachListingOnce(t *testing.T) {
	var hits sync.Map
	srv := newSite(t, &hits)
	defer srv.Close()

	if _, err := newScraper(srv, 1).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, id := range []string{"aaaaa", "bbbbb", "ccccc"} {
		n, ok := hits.Load(listingPath + id + ".html")
		if !ok || n.(*atomic.Int64).Load() != 1 {
			t.Errorf("%s fetched more or less than once", id)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	srv := newSite(t, nil)
	defer srv.Close()

	first, err := newScraper(srv, 1).Run(context.Background())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := newScraper(srv, 3).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	a, b := first.SortedIDs(), second.SortedIDs()
	if fmt.Sprint(a) != fmt.Sprint(b) {
		t.Errorf("keys differ between runs: %v vs %v", a, b)
	}
}

func TestRunMaxListings(t *testing.T) {
	srv := newSite(t, nil)
	defer srv.Close()

	s := newScraper(srv, 1)
	s.opts.MaxListings = 2
	out, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Len() != 2 {
		t.Errorf("Len = %d; want 2", out.Len())
	}
}

func TestRunAllSearchPagesFail(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newScraper(srv, 1).Run(context.Background())
	if !errors.Is(err, models.ErrFetch) {
		t.Errorf("Run error = %v; want ErrFetch", err)
	}
}

func TestAssembleMalformedURL(t *testing.T) {
	srv := newSite(t, nil)
	defer srv.Close()

	_, err := newScraper(srv, 1).Assemble(context.Background(), srv.URL+"/msg/short.html")
	if !errors.Is(err, models.ErrMalformedURL) {
		t.Errorf("Assemble error = %v; want ErrMalformedURL", err)
	}
}

type memRecorder struct {
	mu   sync.Mutex
	rows map[string][]models.RawField
}

func (m *memRecorder) Record(id string, fields []models.RawField) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id] = fields
	return nil
}

func TestAssembleRecordsRawPairs(t *testing.T) {
	srv := newSite(t, nil)
	defer srv.Close()

	rec := &memRecorder{rows: make(map[string][]models.RawField)}
	s := newScraper(srv, 1).WithRawRecorder(rec)

	r, err := s.Assemble(context.Background(), srv.URL+listingPath+"aaaaa.html")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	raw := rec.rows["aaaaa"]
	if len(raw) != 6 || len(r.Raw) != 6 {
		t.Fatalf("raw pairs = %d (record %d); want 6", len(raw), len(r.Raw))
	}
	if raw[0].Label != "Iela:" || raw[0].Value != "Skolas iela 12 [Karte]" {
		t.Errorf("first raw pair = %+v", raw[0])
	}
}

func TestTableReader(t *testing.T) {
	srv := newSite(t, nil)
	defer srv.Close()

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 2 * time.Second}, utils.Discard())
	r := TableReader{Fetcher: f}

	footer, err := r.Read(context.Background(), srv.URL+listingPath+"aaaaa.html", SelectorFooter)
	if err != nil || len(footer) != 3 {
		t.Fatalf("Read footer = %v, %v; want 3 cells", footer, err)
	}

	cells, err := r.Read(context.Background(), srv.URL+listingPath+"ddddd.html", SelectorOptionNames)
	if !errors.Is(err, models.ErrMarkupShape) || cells == nil || len(cells) != 0 {
		t.Errorf("Read without table = %v, %v; want empty, ErrMarkupShape", cells, err)
	}

	cells, err = r.Read(context.Background(), srv.URL+listingPath+"zzzzz.html", SelectorOptionNames)
	if !errors.Is(err, models.ErrFetch) || len(cells) != 0 {
		t.Errorf("Read of missing page = %v, %v; want empty, ErrFetch", cells, err)
	}
}

// newSlowSite serves one search page linking a fast and a slow listing. The
// slow listing holds the request until the client gives up. If onSlow is set
// it is called when the slow listing is first requested.
func newSlowSite(t *testing.T, onSlow func()) *httptest.Server {
	t.Helper()
	var once sync.Once
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sell/":
			w.Write([]byte(searchResults("fffff", "sssss")))
		case listingPath + "fffff.html":
			w.Write([]byte(listingPage("Skolas iela 12", "2/9", "38 000 € (775.51 €/m²)")))
		case listingPath + "sssss.html":
			if onSlow != nil {
				once.Do(onSlow)
			}
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestRunTimedOutListingIsSkipped(t *testing.T) {
	srv := newSlowSite(t, nil)
	defer srv.Close()

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 100 * time.Millisecond}, utils.Discard())
	s := New(Options{
		SearchPages: []string{srv.URL + "/sell/"},
		Origin:      srv.URL,
		RunID:       "test-run",
	}, f, services.NewNormalizer(utils.Discard()), utils.Discard())

	out, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := out.Record("fffff"); !ok {
		t.Error("fast listing missing")
	}
	if _, ok := out.Record("sssss"); ok {
		t.Error("timed-out listing should not be recorded")
	}
	if out.Failed() != 1 {
		t.Errorf("Failed = %d; want 1", out.Failed())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := newSlowSite(t, cancel)
	defer srv.Close()

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 10 * time.Second}, utils.Discard())
	s := New(Options{
		SearchPages: []string{srv.URL + "/sell/"},
		Origin:      srv.URL,
		RunID:       "test-run",
	}, f, services.NewNormalizer(utils.Discard()), utils.Discard())

	type result struct {
		out *models.RunOutput
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := s.Run(ctx)
		done <- result{out, err}
	}()

	select {
	case res := <-done:
		if !errors.Is(res.err, context.Canceled) {
			t.Errorf("Run error = %v; want context.Canceled", res.err)
		}
		if _, ok := res.out.Record("sssss"); ok {
			t.Error("cancelled listing should not be recorded")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRunWarnsOnDuplicateListingID(t *testing.T) {
	page := listingPage("Skolas iela 12", "2/9", "38 000 € (775.51 €/m²)")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sell/":
			w.Write([]byte(`<html><body>
<a href="` + listingPath + `aaaaa.html">a</a>
<a href="/msg/ru/real-estate/flats/ogre-and-reg/ogre/aaaaa.html">a again</a>
</body></html>`))
		case listingPath + "aaaaa.html", "/msg/ru/real-estate/flats/ogre-and-reg/ogre/aaaaa.html":
			w.Write([]byte(page))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var logs bytes.Buffer
	logger := utils.NewLoggerTo(&logs, &logs)
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 2 * time.Second}, utils.Discard())
	s := New(Options{
		SearchPages: []string{srv.URL + "/sell/"},
		Origin:      srv.URL,
		RunID:       "test-run",
	}, f, services.NewNormalizer(utils.Discard()), logger)

	out, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Len() != 1 {
		t.Errorf("Len = %d; want 1", out.Len())
	}
	if !strings.Contains(logs.String(), "already recorded from another URL") {
		t.Errorf("duplicate listing id was not logged:\n%s", logs.String())
	}
}
