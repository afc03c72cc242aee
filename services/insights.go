package services

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"sslv-scraper/models"
	"sslv-scraper/utils"
)

var amountRe = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Generate summarizes the records of a run. Prices that do not parse as a
// number are left out of the price statistics.
func (s *InsightService) Generate(out *models.RunOutput) *models.InsightReport {
	report := &models.InsightReport{
		MissingByField:  make(map[models.CanonicalField]int),
		ListingsByRooms: make(map[string]int),
	}
	if out == nil {
		return report
	}

	records := out.Records()
	report.TotalListings = len(records)
	report.FailedListings = out.Failed()

	var priceTotal, perSqmTotal float64
	var priced, perSqmCount int

	for _, r := range records {
		for _, f := range models.CanonicalFields() {
			if r.Get(f) == models.NotAvailable {
				report.MissingByField[f]++
			}
		}
		if rooms := r.Get(models.FieldRoomCount); rooms != models.NotAvailable {
			report.ListingsByRooms[rooms]++
		}

		if price, ok := ParseAmount(r.Get(models.FieldPrice)); ok {
			if priced == 0 || price < report.MinPrice {
				report.MinPrice = price
			}
			if priced == 0 || price > report.MaxPrice {
				report.MaxPrice = price
				report.MostExpensive = r
			}
			priceTotal += price
			priced++
		}
		if perSqm, ok := ParseAmount(r.Get(models.FieldPricePerSqm)); ok {
			perSqmTotal += perSqm
			perSqmCount++
		}
	}

	if priced > 0 {
		report.AveragePrice = round2(priceTotal / float64(priced))
		report.MinPrice = round2(report.MinPrice)
		report.MaxPrice = round2(report.MaxPrice)
	}
	if perSqmCount > 0 {
		report.AveragePerSqm = round2(perSqmTotal / float64(perSqmCount))
	}

	s.logger.Debug("[insights] %d records, %d priced, %d failed", report.TotalListings, priced, report.FailedListings)
	return report
}

// ParseAmount reads the number out of a price text such as "38 000 " or
// "1 000 €/m²". Grouping spaces are dropped and a decimal comma is accepted.
func ParseAmount(raw string) (float64, bool) {
	if raw == models.NotAvailable {
		return 0, false
	}
	compact := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' || r == '\t' {
			return -1
		}
		return r
	}, raw)

	m := amountRe.FindString(compact)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (s *InsightService) Print(w io.Writer, r *models.InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  SS.LV FLATS FOR SALE: RUN SUMMARY\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Listings scraped : \033[1m%d\033[0m\n", r.TotalListings)
	fmt.Fprintf(w, "  Listings skipped : \033[1m%d\033[0m\n", r.FailedListings)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Price Statistics\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.AveragePrice > 0 {
		fmt.Fprintf(w, "  Average price : \033[1;32m%.2f €\033[0m\n", r.AveragePrice)
		fmt.Fprintf(w, "  Minimum price : \033[1;32m%.2f €\033[0m\n", r.MinPrice)
		fmt.Fprintf(w, "  Maximum price : \033[1;32m%.2f €\033[0m\n", r.MaxPrice)
		if r.AveragePerSqm > 0 {
			fmt.Fprintf(w, "  Average per m²: \033[1;32m%.2f €\033[0m\n", r.AveragePerSqm)
		}
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	if r.MostExpensive != nil {
		fmt.Fprintf(w, "\033[1;33m  Most Expensive Listing\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  Listing: %s\n", r.MostExpensive.ID)
		fmt.Fprintf(w, "  %s\n", r.MostExpensive.URL)
		fmt.Fprintf(w, "  Street : %s\n", r.MostExpensive.Get(models.FieldStreet))
		fmt.Fprintf(w, "  Price  : \033[1;31m%s€\033[0m\n", r.MostExpensive.Get(models.FieldPrice))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\033[1;33m  Listings by Room Count\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.ListingsByRooms) == 0 {
		fmt.Fprintf(w, "  No room data\n")
	} else {
		rooms := make([]string, 0, len(r.ListingsByRooms))
		for k := range r.ListingsByRooms {
			rooms = append(rooms, k)
		}
		sort.Strings(rooms)
		for _, k := range rooms {
			cnt := r.ListingsByRooms[k]
			fmt.Fprintf(w, "  %-10s %s (%d)\n", truncate(k, 10), strings.Repeat("█", cnt), cnt)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Missing Fields\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	missing := false
	for _, f := range models.CanonicalFields() {
		if cnt := r.MissingByField[f]; cnt > 0 {
			name := string(f)
			if label, ok := LabelFor(f); ok {
				name += " (" + label + ")"
			}
			fmt.Fprintf(w, "  %-34s %d\n", name, cnt)
			missing = true
		}
	}
	if !missing {
		fmt.Fprintf(w, "  Every field present\n")
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
