// Package explain converts a bare anomaly score into a human-readable
// causal statement grounded in peer-baseline statistics. The narrative
// is a pure function of the numeric fields, so it is unit-testable with
// closed-form arithmetic.
package explain

import (
	"fmt"
	"math"

	"github.com/enrolytics/uidwatch/internal/config"
	"github.com/enrolytics/uidwatch/internal/golden"
	"github.com/enrolytics/uidwatch/internal/hierarchy"
)

// Severity grades how far a flagged node sits from its peer baseline.
type Severity string

const (
	// SeverityNone marks a deviation below every alerting cut; such
	// findings are explained but never surfaced as alerts.
	SeverityNone     Severity = ""
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for sorting; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityModerate:
		return 1
	default:
		return 0
	}
}

// Direction reports which side of the baseline the observation sits on.
type Direction string

const (
	DirectionSurge   Direction = "surge"
	DirectionDeficit Direction = "deficit"
)

// Explanation carries the peer-baseline statistics for one flagged
// (node, metric) pair and the narrative derived from them.
type Explanation struct {
	NodeID       hierarchy.NodeID `json:"node_id"`
	Metric       golden.Metric    `json:"metric"`
	Observed     int64            `json:"observed"`
	BaselineMean float64          `json:"baseline_mean"`
	BaselineStd  float64          `json:"baseline_std"`
	ZScore       float64          `json:"z_score"`
	ZValid       bool             `json:"z_valid"` // false when peer spread is degenerate
	PctDeviation float64          `json:"pct_deviation"`
	PeerCount    int              `json:"peer_count"`
	Severity     Severity         `json:"severity"`
	Direction    Direction        `json:"direction"`
	Narrative    string           `json:"narrative"`
}

// degenerateStd is the spread below which a z-score is meaningless and
// the percent-over-mean fallback applies.
const degenerateStd = 1e-9

// Explainer computes peer baselines and severity-graded narratives.
type Explainer struct {
	cfg config.ExplainConfig
}

// NewExplainer creates an explainer with the given tier cut points.
func NewExplainer(cfg config.ExplainConfig) *Explainer {
	return &Explainer{cfg: cfg}
}

// Explain builds the explanation for one flagged node against its
// sibling set under the same parent and period. The flagged node itself
// is excluded from the baseline so it cannot bias its own peer mean.
func (e *Explainer) Explain(node hierarchy.Node, siblings []hierarchy.Node, metric golden.Metric) Explanation {
	observed := node.MetricValue(metric)

	var peers []float64
	for _, sib := range siblings {
		if sib.ID == node.ID {
			continue
		}
		peers = append(peers, float64(sib.MetricValue(metric)))
	}
	mean, std := meanStd(peers)

	exp := Explanation{
		NodeID:       node.ID,
		Metric:       metric,
		Observed:     observed,
		BaselineMean: mean,
		BaselineStd:  std,
		PeerCount:    len(peers),
	}

	exp.PctDeviation = pctDeviation(float64(observed), mean)
	if exp.PctDeviation >= 0 {
		exp.Direction = DirectionSurge
	} else {
		exp.Direction = DirectionDeficit
	}

	if std > degenerateStd {
		exp.ZValid = true
		exp.ZScore = (float64(observed) - mean) / std
		exp.Severity = e.severityFromZ(exp.ZScore)
	} else {
		exp.Severity = e.severityFromPct(exp.PctDeviation)
	}

	exp.Narrative = Render(exp)
	return exp
}

// severityFromZ grades by |z|. The moderate cut is the alerting floor:
// a flagged node below it reads SeverityNone and is not surfaced.
func (e *Explainer) severityFromZ(z float64) Severity {
	switch abs := math.Abs(z); {
	case abs >= e.cfg.ZCritical:
		return SeverityCritical
	case abs >= e.cfg.ZHigh:
		return SeverityHigh
	case abs >= e.cfg.ZModerate:
		return SeverityModerate
	default:
		return SeverityNone
	}
}

// severityFromPct grades by |percent deviation| when the z-score is
// unusable, with the same alerting floor.
func (e *Explainer) severityFromPct(pct float64) Severity {
	switch abs := math.Abs(pct); {
	case abs >= e.cfg.PctCritical:
		return SeverityCritical
	case abs >= e.cfg.PctHigh:
		return SeverityHigh
	case abs >= e.cfg.PctModerate:
		return SeverityModerate
	default:
		return SeverityNone
	}
}

// Render produces the narrative from the numeric fields alone. Percent
// deviation is shown to one decimal place.
func Render(exp Explanation) string {
	label := metricLabel(exp.Metric)
	direction := "above"
	if exp.Direction == DirectionDeficit {
		direction = "below"
	}
	severity := string(exp.Severity)
	if exp.Severity == SeverityNone {
		severity = "marginal"
	}

	if exp.ZValid {
		return fmt.Sprintf("%s %s: %s (%d) is %.1f%% %s the peer baseline of %.2f (z-score %.1f)",
			severity, exp.Direction, label, exp.Observed, math.Abs(exp.PctDeviation), direction, exp.BaselineMean, exp.ZScore)
	}
	return fmt.Sprintf("%s %s: %s (%d) is %.1f%% %s the peer baseline of %.2f (peer spread degenerate)",
		severity, exp.Direction, label, exp.Observed, math.Abs(exp.PctDeviation), direction, exp.BaselineMean)
}

func metricLabel(m golden.Metric) string {
	switch m {
	case golden.MetricEnrolment:
		return "enrolments"
	case golden.MetricDemoUpdate:
		return "demographic updates"
	default:
		return "biometric updates"
	}
}

// meanStd computes the mean and sample standard deviation of peers.
func meanStd(values []float64) (float64, float64) {
	n := len(values)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)
	if n < 2 {
		return mean, 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(n-1))
}

// pctDeviation computes the signed percent deviation from the baseline.
// A zero baseline with nonzero observation reads as the observation in
// percent over a unit baseline, keeping the value finite and ordered.
func pctDeviation(observed, mean float64) float64 {
	if mean == 0 {
		if observed == 0 {
			return 0
		}
		return observed * 100
	}
	return (observed - mean) / mean * 100
}
