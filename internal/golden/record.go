// Package golden builds the canonical merged dataset from normalized
// source rows. One Record exists per (state, district, pincode, date)
// key; sources with no row for a key contribute zeros.
package golden

import (
	"fmt"
	"time"
)

// Kind identifies one of the three source streams.
type Kind string

const (
	KindEnrolment   Kind = "enrolment"
	KindDemographic Kind = "demographic"
	KindBiometric   Kind = "biometric"
)

// Kinds lists every source stream in canonical order.
func Kinds() []Kind {
	return []Kind{KindEnrolment, KindDemographic, KindBiometric}
}

// Metric identifies one aggregated count series.
type Metric string

const (
	MetricEnrolment  Metric = "enrolment_total"
	MetricDemoUpdate Metric = "demo_update_total"
	MetricBioUpdate  Metric = "bio_update_total"
)

// Metrics lists every metric in canonical order.
func Metrics() []Metric {
	return []Metric{MetricEnrolment, MetricDemoUpdate, MetricBioUpdate}
}

// MetricForKind maps a source stream to the metric it feeds.
func MetricForKind(k Kind) Metric {
	switch k {
	case KindEnrolment:
		return MetricEnrolment
	case KindDemographic:
		return MetricDemoUpdate
	default:
		return MetricBioUpdate
	}
}

// Key is the canonical join key across all three streams.
type Key struct {
	State    string
	District string
	Pincode  string
	Date     time.Time // UTC midnight
}

// String renders the key for logs and diagnostics.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s@%s", k.State, k.District, k.Pincode, k.Date.Format("2006-01-02"))
}

// Buckets holds the per-age-band counts a single source reports.
type Buckets struct {
	Age05     int64 `json:"age_0_5"`
	Age517    int64 `json:"age_5_17"`
	Age18Plus int64 `json:"age_18_plus"`
}

// Total is the per-source count consumed by aggregation and scoring.
func (b Buckets) Total() int64 {
	return b.Age05 + b.Age517 + b.Age18Plus
}

// Add accumulates another bucket set into this one.
func (b *Buckets) Add(o Buckets) {
	b.Age05 += o.Age05
	b.Age517 += o.Age517
	b.Age18Plus += o.Age18Plus
}

// SourceRow is a normalized row from one source file. It is ephemeral:
// rows exist only between the normalizer and the merger.
type SourceRow struct {
	Kind     Kind
	State    string
	District string
	Pincode  string
	Date     time.Time
	Counts   Buckets
}

// Key returns the join key for this row.
func (r SourceRow) Key() Key {
	return Key{State: r.State, District: r.District, Pincode: r.Pincode, Date: r.Date}
}

// Record is the golden record: the fully merged, zero-filled canonical
// row. Absence of a source for a key is represented by zero counts, not
// by a missing record.
type Record struct {
	Key   Key
	Enrol Buckets
	Demo  Buckets
	Bio   Buckets
}

// MetricValue returns the total for one metric series.
func (r Record) MetricValue(m Metric) int64 {
	switch m {
	case MetricEnrolment:
		return r.Enrol.Total()
	case MetricDemoUpdate:
		return r.Demo.Total()
	default:
		return r.Bio.Total()
	}
}

// EnrolTotal returns the summed enrolment count across age bands.
func (r Record) EnrolTotal() int64 { return r.Enrol.Total() }

// DemoTotal returns the summed demographic-update count across age bands.
func (r Record) DemoTotal() int64 { return r.Demo.Total() }

// BioTotal returns the summed biometric-update count across age bands.
func (r Record) BioTotal() int64 { return r.Bio.Total() }
