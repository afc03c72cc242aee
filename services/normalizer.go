package services

import (
	"fmt"
	"strings"

	"sslv-scraper/models"
	"sslv-scraper/utils"
)

const (
	mapLinkMarker = "[Karte]"
	currencySign  = "€"
	footerPrefix  = "Datums:"

	// footerDateIndex is the position of the "Datums: ..." cell among the
	// msg_footer cells of a listing page.
	footerDateIndex = 2
)

// fieldLabels maps table-sourced fields to the option label ss.lv prints in
// front of the value. Two fields share "Stāvs:" ("2/9" = floor 2 of 9).
var fieldLabels = map[models.CanonicalField]string{
	models.FieldStreet:             "Iela:",
	models.FieldRoomCount:          "Istabas:",
	models.FieldFloorArea:          "Platība:",
	models.FieldApartmentFloor:     "Stāvs:",
	models.FieldBuildingFloorCount: "Stāvs:",
	models.FieldHouseSeries:        "Sērija:",
	models.FieldHouseType:          "Mājas tips:",
	models.FieldAmenities:          "Ērtības:",
}

// LabelFor returns the page label a table-sourced field is read from.
func LabelFor(f models.CanonicalField) (string, bool) {
	label, ok := fieldLabels[f]
	return label, ok
}

// TableFields lists the fields read from the option table, in output order.
func TableFields() []models.CanonicalField {
	var out []models.CanonicalField
	for _, f := range models.CanonicalFields() {
		if _, ok := fieldLabels[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Normalizer turns raw option-table values into canonical field values.
type Normalizer struct {
	logger *utils.Logger
}

// NewNormalizer creates a Normalizer with the given logger.
func NewNormalizer(logger *utils.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize looks up the label of field in table and cleans the value. A
// label missing from the page yields N/A without error; a value that cannot
// be cleaned yields N/A and an error wrapping models.ErrNormalization.
func (n *Normalizer) Normalize(field models.CanonicalField, table models.FieldTable) (string, error) {
	label, ok := LabelFor(field)
	if !ok {
		return models.NotAvailable, fmt.Errorf("%w: %s is not an option-table field", models.ErrNormalization, field)
	}
	raw, ok := table[label]
	if !ok {
		return models.NotAvailable, nil
	}

	value, err := cleanValue(field, raw)
	if err != nil {
		return models.NotAvailable, err
	}
	return value, nil
}

// NormalizeAll runs Normalize for every option-table field. Failed fields are
// logged at debug level and left as N/A.
func (n *Normalizer) NormalizeAll(listingID string, table models.FieldTable) map[models.CanonicalField]string {
	out := make(map[models.CanonicalField]string, len(fieldLabels))
	for _, f := range TableFields() {
		v, err := n.Normalize(f, table)
		if err != nil {
			n.logger.Debug("[normalize] %s %s: %v", listingID, f, err)
		}
		out[f] = v
	}
	return out
}

func cleanValue(field models.CanonicalField, raw string) (string, error) {
	switch field {
	case models.FieldStreet:
		return strings.TrimSpace(strings.ReplaceAll(raw, mapLinkMarker, "")), nil

	case models.FieldFloorArea:
		// "49 m²" -> "49"
		tokens := strings.Fields(raw)
		if len(tokens) == 0 {
			return "", fmt.Errorf("%w: floor_area %q is empty", models.ErrNormalization, raw)
		}
		return tokens[0], nil

	case models.FieldApartmentFloor:
		// "2/9" -> "2"
		first, _, _ := strings.Cut(raw, "/")
		return strings.TrimSpace(first), nil

	case models.FieldBuildingFloorCount:
		// "2/9" -> "9"
		parts := strings.Split(raw, "/")
		if len(parts) < 2 {
			return "", fmt.Errorf("%w: building_floor_count %q has no '/'", models.ErrNormalization, raw)
		}
		return strings.TrimSpace(parts[1]), nil

	default:
		return raw, nil
	}
}

// SplitPrice splits the combined price cell "TOTAL € (PER_SQM €/m²)".
// The total keeps the text before the first currency sign as-is, so
// "38 000 € (775.51 €/m²)" gives "38 000 " and "775.51 €/m²".
func SplitPrice(raw string) (price, perSqm string, err error) {
	idx := strings.Index(raw, currencySign)
	if idx < 0 {
		return models.NotAvailable, models.NotAvailable,
			fmt.Errorf("%w: price %q has no %s", models.ErrNormalization, raw, currencySign)
	}
	price = raw[:idx]

	open := strings.Index(raw, "(")
	if open < 0 {
		return price, models.NotAvailable,
			fmt.Errorf("%w: price %q has no per-m² part", models.ErrNormalization, raw)
	}
	perSqm = raw[open+1:]
	if end := strings.Index(perSqm, ")"); end >= 0 {
		perSqm = perSqm[:end]
	}
	perSqm = strings.TrimSpace(perSqm)
	if perSqm == "" {
		return price, models.NotAvailable,
			fmt.Errorf("%w: price %q has an empty per-m² part", models.ErrNormalization, raw)
	}
	return price, perSqm, nil
}

// ParseFooter reads listed date and time from the msg_footer cells. The date
// cell is taken by position, so the cell count and its "Datums:" prefix are
// checked first: a shifted layout is reported instead of read as a date.
func ParseFooter(cells []string) (date, clock string, err error) {
	if len(cells) <= footerDateIndex {
		return models.NotAvailable, models.NotAvailable,
			fmt.Errorf("%w: footer has %d cells, date expected at index %d",
				models.ErrMarkupShape, len(cells), footerDateIndex)
	}

	cell := strings.TrimSpace(cells[footerDateIndex])
	if !strings.HasPrefix(cell, footerPrefix) {
		return models.NotAvailable, models.NotAvailable,
			fmt.Errorf("%w: footer cell %d is %q, not a %s line",
				models.ErrMarkupShape, footerDateIndex, cell, footerPrefix)
	}

	tokens := strings.Fields(strings.TrimPrefix(cell, footerPrefix))
	if len(tokens) == 0 {
		return models.NotAvailable, models.NotAvailable,
			fmt.Errorf("%w: footer %q carries no date", models.ErrNormalization, cell)
	}

	date, clock = tokens[0], models.NotAvailable
	if len(tokens) > 1 {
		clock = tokens[1]
	}
	return date, clock, nil
}

// CleanViewCount trims the view counter text; blank becomes N/A.
func CleanViewCount(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return models.NotAvailable
	}
	return v
}
