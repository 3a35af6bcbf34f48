package golden

import (
	"sort"

	"github.com/rs/zerolog/log"
)

// MergeStats reports what the merger saw while folding source rows.
type MergeStats struct {
	RowsIn        int          `json:"rows_in"`
	Records       int          `json:"records"`
	DistinctKeys  int          `json:"distinct_keys"`
	DuplicateRows map[Kind]int `json:"duplicate_rows"`
	RowsByKind    map[Kind]int `json:"rows_by_kind"`
}

// Merge full-outer-joins normalized rows from all three streams on the
// canonical key. A key seen in only one stream still yields a Record with
// the other streams zero-filled. Duplicate rows for the same key within a
// single stream are summed, treated as partial resubmissions, and counted
// in the returned stats. The result is sorted by key for stable downstream
// iteration.
func Merge(rows []SourceRow) ([]Record, MergeStats) {
	stats := MergeStats{
		RowsIn:        len(rows),
		DuplicateRows: make(map[Kind]int),
		RowsByKind:    make(map[Kind]int),
	}

	byKey := make(map[Key]*Record)
	seen := make(map[Kind]map[Key]bool)
	for _, k := range Kinds() {
		seen[k] = make(map[Key]bool)
	}

	for _, row := range rows {
		key := row.Key()
		rec, ok := byKey[key]
		if !ok {
			rec = &Record{Key: key}
			byKey[key] = rec
		}

		if seen[row.Kind][key] {
			stats.DuplicateRows[row.Kind]++
		}
		seen[row.Kind][key] = true
		stats.RowsByKind[row.Kind]++

		switch row.Kind {
		case KindEnrolment:
			rec.Enrol.Add(row.Counts)
		case KindDemographic:
			rec.Demo.Add(row.Counts)
		case KindBiometric:
			rec.Bio.Add(row.Counts)
		}
	}

	records := make([]Record, 0, len(byKey))
	for _, rec := range byKey {
		records = append(records, *rec)
	}
	sortRecords(records)

	stats.Records = len(records)
	stats.DistinctKeys = len(byKey)

	log.Info().
		Int("rows_in", stats.RowsIn).
		Int("records", stats.Records).
		Int("dup_enrolment", stats.DuplicateRows[KindEnrolment]).
		Int("dup_demographic", stats.DuplicateRows[KindDemographic]).
		Int("dup_biometric", stats.DuplicateRows[KindBiometric]).
		Msg("Golden record merge complete")

	return records, stats
}

// sortRecords orders records by (state, district, pincode, date) so that
// every consumer sees the same stable row order.
func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i].Key, records[j].Key
		if a.State != b.State {
			return a.State < b.State
		}
		if a.District != b.District {
			return a.District < b.District
		}
		if a.Pincode != b.Pincode {
			return a.Pincode < b.Pincode
		}
		return a.Date.Before(b.Date)
	})
}
