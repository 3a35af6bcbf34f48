// Package ingest discovers source CSV files, resolves their headers
// against configured alias tables, and normalizes rows into canonical
// source rows. Per-row and per-file faults are collected into an audit
// report and never raised as hard failures.
package ingest

import (
	"strings"

	"github.com/enrolytics/uidwatch/internal/config"
	"github.com/enrolytics/uidwatch/internal/golden"
)

// canonical field names every source kind shares.
const (
	fieldState    = "state"
	fieldDistrict = "district"
	fieldPincode  = "pincode"
	fieldDate     = "date"
	fieldAge05    = "age_0_5"
	fieldAge517   = "age_5_17"
	fieldAge18    = "age_18_plus"
)

var requiredFields = []string{fieldState, fieldDistrict, fieldPincode, fieldDate}

// Schema resolves raw CSV headers into canonical column positions for
// one source kind. Resolution is driven entirely by the alias table;
// unmatched columns are dropped, never guessed.
type Schema struct {
	kind    golden.Kind
	aliases map[string]string // canonical header form -> canonical field
}

// NewSchema builds a schema for one source kind from its alias table.
func NewSchema(kind golden.Kind, src config.SourceConfig) *Schema {
	s := &Schema{kind: kind, aliases: make(map[string]string)}
	for field, names := range src.Aliases {
		for _, name := range names {
			s.aliases[canonHeader(name)] = field
		}
	}
	return s
}

// ColumnMap maps canonical field names to column indices for one file.
type ColumnMap map[string]int

// Resolve maps a header row to canonical columns. The boolean reports
// whether every required field was found; count columns are optional
// and default to zero when absent.
func (s *Schema) Resolve(header []string) (ColumnMap, bool) {
	cols := make(ColumnMap)
	for i, h := range header {
		field, ok := s.aliases[canonHeader(h)]
		if !ok {
			continue // unmatched columns are dropped
		}
		if _, dup := cols[field]; !dup {
			cols[field] = i
		}
	}
	for _, field := range requiredFields {
		if _, ok := cols[field]; !ok {
			return cols, false
		}
	}
	return cols, true
}

// Kind returns the source kind this schema maps.
func (s *Schema) Kind() golden.Kind { return s.kind }

// canonHeader folds a header name to its canonical comparison form:
// lowercase with spaces, hyphens and underscores removed. "Age 0 5",
// "age_0_5" and "AGE-0-5" all compare equal.
func canonHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "")
	h = strings.ReplaceAll(h, "-", "")
	h = strings.ReplaceAll(h, "_", "")
	// strip a UTF-8 BOM left by spreadsheet exports
	h = strings.TrimPrefix(h, "\ufeff")
	return h
}

// SchemaSet holds the schemas for all configured source kinds and
// classifies files against them.
type SchemaSet struct {
	schemas map[golden.Kind]*Schema
	sources map[golden.Kind]config.SourceConfig
}

// NewSchemaSet builds schemas for every configured source kind.
func NewSchemaSet(sources map[string]config.SourceConfig) *SchemaSet {
	set := &SchemaSet{
		schemas: make(map[golden.Kind]*Schema),
		sources: make(map[golden.Kind]config.SourceConfig),
	}
	for name, src := range sources {
		kind := golden.Kind(name)
		set.schemas[kind] = NewSchema(kind, src)
		set.sources[kind] = src
	}
	return set
}

// Schema returns the schema for a kind, if configured.
func (s *SchemaSet) Schema(kind golden.Kind) (*Schema, bool) {
	sc, ok := s.schemas[kind]
	return sc, ok
}

// KindForPath infers a file's source kind from its parent directory
// name or filename substrings. Returns false when the path alone is not
// conclusive; the caller then falls back to header-signature inference.
func (s *SchemaSet) KindForPath(dir, file string) (golden.Kind, bool) {
	dir = strings.ToLower(dir)
	file = strings.ToLower(file)
	for kind, src := range s.sources {
		if src.DirName != "" && strings.Contains(dir, strings.ToLower(src.DirName)) {
			return kind, true
		}
	}
	for kind, src := range s.sources {
		for _, pat := range src.FilePatterns {
			if strings.Contains(file, strings.ToLower(pat)) {
				return kind, true
			}
		}
	}
	return "", false
}

// KindForHeader infers a file's source kind from its header signature:
// the kind whose schema resolves all required fields and at least one
// count column wins. Ambiguous or unresolvable headers return false.
func (s *SchemaSet) KindForHeader(header []string) (golden.Kind, bool) {
	var match golden.Kind
	matches := 0
	for kind, schema := range s.schemas {
		cols, ok := schema.Resolve(header)
		if !ok {
			continue
		}
		if _, hasCount := anyCountColumn(cols); !hasCount {
			continue
		}
		match = kind
		matches++
	}
	if matches != 1 {
		return "", false
	}
	return match, true
}

func anyCountColumn(cols ColumnMap) (string, bool) {
	for _, f := range []string{fieldAge05, fieldAge517, fieldAge18} {
		if _, ok := cols[f]; ok {
			return f, true
		}
	}
	return "", false
}
