// Package alerts merges scorer and explainer output into the ordered,
// deduplicated feed handed to the presentation layer.
package alerts

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/enrolytics/uidwatch/internal/anomaly"
	"github.com/enrolytics/uidwatch/internal/explain"
	"github.com/enrolytics/uidwatch/internal/golden"
	"github.com/enrolytics/uidwatch/internal/hierarchy"
	"github.com/enrolytics/uidwatch/internal/metrics"
)

// Alert is the unit handed to the presentation layer: a flagged node,
// its anomaly score, and its explanation.
type Alert struct {
	ID          string              `json:"id"`
	NodeID      hierarchy.NodeID    `json:"node_id"`
	Level       hierarchy.Level     `json:"level"`
	State       string              `json:"state"`
	Metric      golden.Metric       `json:"metric"`
	Period      string              `json:"period"`
	Score       anomaly.Score       `json:"score"`
	Explanation explain.Explanation `json:"explanation"`
	CreatedAt   time.Time           `json:"created_at"`
}

// dedupeKey identifies an alert within one dataset version.
type dedupeKey struct {
	node   hierarchy.NodeID
	metric golden.Metric
	period string
}

// Assembler accumulates alerts for one dataset version, deduplicating
// repeated recomputation of the same (node, metric, period).
type Assembler struct {
	seen map[dedupeKey]bool
	feed []Alert
	now  func() time.Time
}

// NewAssembler creates an assembler for one dataset version.
func NewAssembler() *Assembler {
	return &Assembler{
		seen: make(map[dedupeKey]bool),
		now:  time.Now,
	}
}

// Add folds one scored-and-explained finding into the feed. Repeated
// submissions for the same (node, metric, period) are dropped.
func (a *Assembler) Add(score anomaly.Score, exp explain.Explanation) {
	key := dedupeKey{node: score.NodeID, metric: score.Metric, period: score.Period}
	if a.seen[key] {
		return
	}
	a.seen[key] = true

	segs := score.NodeID.Segments()
	state := ""
	if len(segs) > 0 {
		state = segs[0]
	}

	a.feed = append(a.feed, Alert{
		ID:          uuid.NewString(),
		NodeID:      score.NodeID,
		Level:       score.Level,
		State:       state,
		Metric:      score.Metric,
		Period:      score.Period,
		Score:       score,
		Explanation: exp,
		CreatedAt:   a.now(),
	})
	metrics.AlertsEmitted.WithLabelValues(string(exp.Severity)).Inc()
}

// Feed returns the assembled alerts ordered by severity descending,
// then by absolute percent deviation descending.
func (a *Assembler) Feed() []Alert {
	out := make([]Alert, len(a.feed))
	copy(out, a.feed)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Explanation.Severity.Rank(), out[j].Explanation.Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return math.Abs(out[i].Explanation.PctDeviation) > math.Abs(out[j].Explanation.PctDeviation)
	})

	log.Info().Int("alerts", len(out)).Msg("Alert feed assembled")
	return out
}

// Filter narrows a feed by level, state, and minimum severity. Zero
// values leave that dimension unfiltered.
type Filter struct {
	Level       hierarchy.Level
	State       string
	MinSeverity explain.Severity
}

// Apply returns the alerts matching the filter, preserving feed order.
func (f Filter) Apply(feed []Alert) []Alert {
	var out []Alert
	for _, alert := range feed {
		if f.Level != "" && alert.Level != f.Level {
			continue
		}
		if f.State != "" && alert.State != f.State {
			continue
		}
		if f.MinSeverity != "" && alert.Explanation.Severity.Rank() < f.MinSeverity.Rank() {
			continue
		}
		out = append(out, alert)
	}
	return out
}
