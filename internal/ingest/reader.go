package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enrolytics/uidwatch/internal/config"
	"github.com/enrolytics/uidwatch/internal/golden"
	"github.com/enrolytics/uidwatch/internal/metrics"
)

// Loader reads every source CSV under a dataset root and normalizes the
// rows. Faulty rows and unclassifiable files are skipped, counted, and
// reported; they never abort the load.
type Loader struct {
	root        string
	schemas     *SchemaSet
	dateFormats []string
}

// NewLoader creates a loader for one dataset root.
func NewLoader(root string, sources map[string]config.SourceConfig) *Loader {
	return &Loader{
		root:    root,
		schemas: NewSchemaSet(sources),
		dateFormats: []string{
			"02-01-2006", // dd-mm-yyyy, the upstream release format
			"2006-01-02",
			"02/01/2006",
		},
	}
}

// Load walks the dataset root and returns the normalized rows from every
// classifiable CSV file, with the audit report.
func (l *Loader) Load(ctx context.Context) ([]golden.SourceRow, *Report, error) {
	var paths []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".csv") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to walk dataset root %s: %w", l.root, err)
	}
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("no CSV files found under %s", l.root)
	}

	report := &Report{}
	var rows []golden.SourceRow
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		fileRows, fr := l.loadFile(path)
		report.addFile(fr)
		rows = append(rows, fileRows...)
	}

	log.Info().
		Int("files_read", report.FilesRead).
		Int("files_skipped", report.FilesSkipped).
		Int("rows_mapped", report.RowsMapped).
		Int("rows_skipped", report.RowsSkipped).
		Msg("Dataset load complete")

	return rows, report, nil
}

// loadFile classifies and reads a single CSV file.
func (l *Loader) loadFile(path string) ([]golden.SourceRow, FileReport) {
	fr := FileReport{Path: path}

	file, err := os.Open(path)
	if err != nil {
		fr.Skipped = true
		fr.Reason = fmt.Sprintf("open failed: %v", err)
		metrics.FilesSkipped.Inc()
		return nil, fr
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // ragged rows are handled per-field

	header, err := reader.Read()
	if err != nil {
		fr.Skipped = true
		fr.Reason = fmt.Sprintf("header read failed: %v", err)
		metrics.FilesSkipped.Inc()
		return nil, fr
	}

	kind, ok := l.schemas.KindForPath(filepath.Dir(path), filepath.Base(path))
	if !ok {
		kind, ok = l.schemas.KindForHeader(header)
	}
	if !ok {
		// SchemaMismatch: the file matches no known kind.
		fr.Skipped = true
		fr.Reason = "no source kind matches filename or header signature"
		metrics.FilesSkipped.Inc()
		log.Warn().Str("path", path).Msg("Skipping file: schema mismatch")
		return nil, fr
	}
	fr.Kind = kind

	schema, _ := l.schemas.Schema(kind)
	cols, ok := schema.Resolve(header)
	if !ok {
		fr.Skipped = true
		fr.Reason = fmt.Sprintf("header missing required fields for kind %s", kind)
		metrics.FilesSkipped.Inc()
		log.Warn().Str("path", path).Str("kind", string(kind)).Msg("Skipping file: required columns absent")
		return nil, fr
	}

	var rows []golden.SourceRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// row-level CSV fault, recoverable
			fr.RowsRead++
			fr.RowsSkipped++
			continue
		}
		fr.RowsRead++

		row, err := l.parseRow(kind, cols, record)
		if err != nil {
			// MalformedRecord: skip and count, ingestion continues.
			fr.RowsSkipped++
			metrics.RowsSkipped.WithLabelValues(string(kind)).Inc()
			continue
		}
		rows = append(rows, row)
		fr.RowsMapped++
	}

	metrics.RowsRead.WithLabelValues(string(kind)).Add(float64(fr.RowsRead))
	log.Debug().
		Str("path", path).
		Str("kind", string(kind)).
		Int("read", fr.RowsRead).
		Int("mapped", fr.RowsMapped).
		Int("skipped", fr.RowsSkipped).
		Msg("Source file ingested")

	return rows, fr
}

// parseRow converts one CSV record into a normalized source row.
func (l *Loader) parseRow(kind golden.Kind, cols ColumnMap, record []string) (golden.SourceRow, error) {
	row := golden.SourceRow{Kind: kind}

	var err error
	if row.State, err = l.field(record, cols, fieldState); err != nil {
		return row, err
	}
	if row.District, err = l.field(record, cols, fieldDistrict); err != nil {
		return row, err
	}
	if row.Pincode, err = l.field(record, cols, fieldPincode); err != nil {
		return row, err
	}

	rawDate, err := l.field(record, cols, fieldDate)
	if err != nil {
		return row, err
	}
	if row.Date, err = l.parseDate(rawDate); err != nil {
		return row, err
	}

	if row.Counts.Age05, err = l.count(record, cols, fieldAge05); err != nil {
		return row, err
	}
	if row.Counts.Age517, err = l.count(record, cols, fieldAge517); err != nil {
		return row, err
	}
	if row.Counts.Age18Plus, err = l.count(record, cols, fieldAge18); err != nil {
		return row, err
	}

	return row, nil
}

// field extracts a required text field, canonicalizing whitespace.
func (l *Loader) field(record []string, cols ColumnMap, name string) (string, error) {
	idx, ok := cols[name]
	if !ok || idx >= len(record) {
		return "", fmt.Errorf("missing field %s", name)
	}
	v := strings.TrimSpace(record[idx])
	if v == "" {
		return "", fmt.Errorf("empty field %s", name)
	}
	return v, nil
}

// count extracts an optional non-negative count column; absent columns
// or empty cells read as zero.
func (l *Loader) count(record []string, cols ColumnMap, name string) (int64, error) {
	idx, ok := cols[name]
	if !ok || idx >= len(record) {
		return 0, nil
	}
	raw := strings.TrimSpace(record[idx])
	if raw == "" {
		return 0, nil
	}
	// count columns sometimes arrive as "123.0" from spreadsheet exports
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f == float64(int64(f)) {
		raw = strconv.FormatInt(int64(f), 10)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s is not an integer: %q", name, raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("field %s is negative: %d", name, n)
	}
	return n, nil
}

// parseDate tries each accepted date layout and normalizes to UTC midnight.
func (l *Loader) parseDate(raw string) (time.Time, error) {
	for _, layout := range l.dateFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}
