package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sslv-scraper/models"
	"sslv-scraper/utils"
)

// Output encodings.
const (
	EncodingRecords = "records"
	EncodingLegacy  = "legacy"
)

const artifactTimeLayout = "2006-01-02T15-04-05"

// ArtifactName builds "<prefix>_<YYYY-MM-DDTHH-MM-SS>.json".
func ArtifactName(prefix string, ts time.Time) string {
	return fmt.Sprintf("%s_%s.json", prefix, ts.Format(artifactTimeLayout))
}

// EncodeRunOutput serializes the run as a JSON object keyed by listing ID.
// "records" maps each ID to its canonical fields; "legacy" maps it to the
// flat list of "Label:Value" lines followed by apt_price and listed_date.
func EncodeRunOutput(out *models.RunOutput, encoding string) ([]byte, error) {
	var doc any
	switch encoding {
	case "", EncodingRecords:
		records := make(map[string]*models.ListingRecord, out.Len())
		for _, r := range out.Records() {
			records[r.ID] = r
		}
		doc = records
	case EncodingLegacy:
		lines := make(map[string][]string, out.Len())
		for _, r := range out.Records() {
			lines[r.ID] = legacyLines(r)
		}
		doc = lines
	default:
		return nil, fmt.Errorf("storage: unknown encoding %q", encoding)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("storage: encode run output: %w", err)
	}
	return buf.Bytes(), nil
}

func legacyLines(r *models.ListingRecord) []string {
	lines := make([]string, 0, len(r.Raw)+2)
	for _, f := range r.Raw {
		lines = append(lines, f.Label+f.Value)
	}
	price := r.RawPrice
	if price == "" {
		price = models.NotAvailable
	}
	lines = append(lines, "apt_price:"+price)
	lines = append(lines, "listed_date:"+r.Get(models.FieldListedDate))
	return lines
}

// Deliver writes the artifact to dir and then hands it to sink. The local
// copy is kept whatever the sink does; an upload failure is returned wrapped
// in models.ErrSinkUpload together with the local path.
func Deliver(ctx context.Context, dir string, a Artifact, sink Sink, logger *utils.Logger) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("storage: create output dir: %w", err)
	}
	path := filepath.Join(dir, a.Name)
	if err := os.WriteFile(path, a.Body, 0644); err != nil {
		return "", fmt.Errorf("storage: write %q: %w", path, err)
	}
	logger.Info("[sink] Wrote %s (%d records, %d bytes)", path, a.RecordCount, len(a.Body))

	if sink == nil {
		return path, nil
	}
	if err := sink.Upload(ctx, a); err != nil {
		return path, fmt.Errorf("%w: %s: %v (local copy kept at %s)", models.ErrSinkUpload, a.Name, err, path)
	}
	return path, nil
}
