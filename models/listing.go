package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// NotAvailable is stored for every field the listing page did not yield.
const NotAvailable = "N/A"

// CanonicalField names one normalized listing attribute.
type CanonicalField string

const (
	FieldStreet             CanonicalField = "street"
	FieldRoomCount          CanonicalField = "room_count"
	FieldFloorArea          CanonicalField = "floor_area"
	FieldApartmentFloor     CanonicalField = "apartment_floor"
	FieldBuildingFloorCount CanonicalField = "building_floor_count"
	FieldHouseSeries        CanonicalField = "house_series"
	FieldHouseType          CanonicalField = "house_type"
	FieldAmenities          CanonicalField = "amenities"
	FieldPrice              CanonicalField = "price"
	FieldPricePerSqm        CanonicalField = "price_per_sqm"
	FieldListedDate         CanonicalField = "listed_date"
	FieldListedTime         CanonicalField = "listed_time"
	FieldViewCount          CanonicalField = "view_count"
)

// CanonicalFields returns every field a ListingRecord holds, in output order.
func CanonicalFields() []CanonicalField {
	return []CanonicalField{
		FieldStreet, FieldRoomCount, FieldFloorArea, FieldApartmentFloor,
		FieldBuildingFloorCount, FieldHouseSeries, FieldHouseType, FieldAmenities,
		FieldPrice, FieldPricePerSqm, FieldListedDate, FieldListedTime, FieldViewCount,
	}
}

// listingIDSegment is the position of "<id>.html" in a URL split on "/":
// https: | "" | ss.lv | msg | lv | real-estate | flats | <region> | <city> | <id>.html
const listingIDSegment = 9

// ListingIDFromURL derives the short listing identifier from a listing URL,
// e.g. ".../ogre-and-reg/ogre/dlonf.html" -> "dlonf".
func ListingIDFromURL(rawURL string) (string, error) {
	parts := strings.Split(strings.TrimSpace(rawURL), "/")
	if len(parts) <= listingIDSegment {
		return "", fmt.Errorf("%w: %q has %d path segments", ErrMalformedURL, rawURL, len(parts))
	}
	id, _, _ := strings.Cut(parts[listingIDSegment], ".")
	if id == "" {
		return "", fmt.Errorf("%w: %q has an empty id segment", ErrMalformedURL, rawURL)
	}
	return id, nil
}

// FieldTable maps raw localized option labels to their raw values.
type FieldTable map[string]string

// PairCells zips label and value cells positionally. Pairs beyond the shorter
// sequence are dropped; a repeated label keeps the last value seen.
func PairCells(labels, values []string) FieldTable {
	n := len(labels)
	if len(values) < n {
		n = len(values)
	}
	table := make(FieldTable, n)
	for i := 0; i < n; i++ {
		table[labels[i]] = values[i]
	}
	return table
}

// ListingRecord is the assembled, normalized view of one listing page.
type ListingRecord struct {
	ID     string
	URL    string
	Fields map[CanonicalField]string

	// Raw keeps the label/value pairs in page order for the legacy encoding
	// and the raw CSV dump. It is not part of the records encoding.
	Raw []RawField
	// RawPrice is the price cell text before splitting.
	RawPrice string
}

// RawField is one label/value pair as it appeared on the page.
type RawField struct {
	Label string
	Value string
}

// NewListingRecord returns a record with every canonical field set to N/A.
func NewListingRecord(id, url string) *ListingRecord {
	fields := make(map[CanonicalField]string, len(CanonicalFields()))
	for _, f := range CanonicalFields() {
		fields[f] = NotAvailable
	}
	return &ListingRecord{ID: id, URL: url, Fields: fields}
}

// Get returns the field value, N/A when unset.
func (r *ListingRecord) Get(f CanonicalField) string {
	if v, ok := r.Fields[f]; ok {
		return v
	}
	return NotAvailable
}

// MarshalJSON emits the canonical fields plus listing_id and url.
func (r *ListingRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(r.Fields)+2)
	for f, v := range r.Fields {
		out[string(f)] = v
	}
	out["listing_id"] = r.ID
	out["url"] = r.URL
	return json.Marshal(out)
}

// RunOutput collects the records of one run keyed by listing ID.
// It is safe for concurrent use.
type RunOutput struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	mu      sync.Mutex
	records map[string]*ListingRecord
	order   []string
	failed  int
}

// NewRunOutput creates an empty RunOutput.
func NewRunOutput(runID string, startedAt time.Time) *RunOutput {
	return &RunOutput{
		RunID:     runID,
		StartedAt: startedAt,
		records:   make(map[string]*ListingRecord),
	}
}

// Add inserts a record. It returns false when the ID is already present.
func (o *RunOutput) Add(r *ListingRecord) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.records[r.ID]; exists {
		return false
	}
	o.records[r.ID] = r
	o.order = append(o.order, r.ID)
	return true
}

// MarkFailed counts a listing that could not be assembled.
func (o *RunOutput) MarkFailed() {
	o.mu.Lock()
	o.failed++
	o.mu.Unlock()
}

// Failed returns the number of skipped listings.
func (o *RunOutput) Failed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failed
}

// Len returns the number of records.
func (o *RunOutput) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.records)
}

// Record returns the record for id.
func (o *RunOutput) Record(id string) (*ListingRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.records[id]
	return r, ok
}

// IDs returns the listing IDs in insertion order.
func (o *RunOutput) IDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.order...)
}

// SortedIDs returns the listing IDs in lexical order.
func (o *RunOutput) SortedIDs() []string {
	ids := o.IDs()
	sort.Strings(ids)
	return ids
}

// Records returns the records in insertion order.
func (o *RunOutput) Records() []*ListingRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*ListingRecord, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.records[id])
	}
	return out
}

// InsightReport summarizes a finished run.
type InsightReport struct {
	TotalListings   int
	FailedListings  int
	MissingByField  map[CanonicalField]int
	AveragePrice    float64
	MinPrice        float64
	MaxPrice        float64
	AveragePerSqm   float64
	MostExpensive   *ListingRecord
	ListingsByRooms map[string]int
}
