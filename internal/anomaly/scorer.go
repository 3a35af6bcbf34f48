package anomaly

import (
	"context"
	"hash/fnv"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/enrolytics/uidwatch/internal/config"
	"github.com/enrolytics/uidwatch/internal/golden"
	"github.com/enrolytics/uidwatch/internal/hierarchy"
)

// Status reports whether a sibling set produced usable scores.
type Status string

const (
	// StatusOK means every sample received a score.
	StatusOK Status = "ok"
	// StatusNotEnoughData means the sibling set was below the minimum
	// size for a meaningful baseline; no scores are fabricated.
	StatusNotEnoughData Status = "not_enough_data"
)

// Score is the anomaly score attached to one (node, metric, period).
type Score struct {
	NodeID   hierarchy.NodeID `json:"node_id"`
	Level    hierarchy.Level  `json:"level"`
	Metric   golden.Metric    `json:"metric"`
	Period   string           `json:"period"`
	Observed int64            `json:"observed"`
	Score    float64          `json:"score"` // normalized into [0,1]
	Flagged  bool             `json:"flagged"`
	Seed     int64            `json:"seed"` // ensemble seed that produced the score
}

// Result is the scoring outcome for one sibling set.
type Result struct {
	Status  Status  `json:"status"`
	Scores  []Score `json:"scores,omitempty"`
	Cutoff  float64 `json:"cutoff,omitempty"` // score of the last flagged sample
	Flagged int     `json:"flagged"`
}

// Scorer fits a randomized isolation ensemble per sibling set.
type Scorer struct {
	cfg config.ScoringConfig
}

// NewScorer creates a scorer with the given ensemble parameters.
func NewScorer(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// ScoreSiblings scores one sibling set for one metric. The feature
// vector per sample is the raw count plus the count normalized by the
// peer mean. Sibling sets smaller than the configured minimum return
// StatusNotEnoughData. A zero-variance set yields all-zero scores.
//
// The ensemble seed is derived from the configured root seed and the
// (parent, metric, period) identity, so every sibling group scores
// identically across runs and independently of execution order.
func (s *Scorer) ScoreSiblings(ctx context.Context, siblings []hierarchy.Node, metric golden.Metric, period hierarchy.Period) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := len(siblings)
	if n < s.cfg.MinSiblings {
		return &Result{Status: StatusNotEnoughData}, nil
	}

	parent := hierarchy.NodeID("")
	level := siblings[0].Level
	if n > 0 {
		parent = siblings[0].Parent
	}
	seed := groupSeed(s.cfg.Seed, parent, metric, period)

	values := make([]int64, n)
	for i, node := range siblings {
		values[i] = node.MetricValue(metric)
	}

	features, degenerate := buildFeatures(values)
	result := &Result{Status: StatusOK, Scores: make([]Score, n)}
	for i, node := range siblings {
		result.Scores[i] = Score{
			NodeID:   node.ID,
			Level:    level,
			Metric:   metric,
			Period:   period.String(),
			Observed: values[i],
			Seed:     seed,
		}
	}
	if degenerate {
		// zero spread across all samples: nothing is anomalous
		return result, nil
	}

	f, err := fitForest(ctx, features, s.cfg.Trees, s.cfg.Subsample, seed)
	if err != nil {
		return nil, err
	}
	for i := range result.Scores {
		result.Scores[i].Score = f.score(features[i])
	}

	s.flag(result)

	log.Debug().
		Str("parent", string(parent)).
		Str("metric", string(metric)).
		Str("period", period.String()).
		Int("siblings", n).
		Int("flagged", result.Flagged).
		Msg("Sibling set scored")

	return result, nil
}

// flag marks the top tail of the score distribution per the configured
// percentile. Candidates are ranked by score descending with ties broken
// by stable original-row order, so a sample sitting exactly on the
// cutoff is included or excluded deterministically.
func (s *Scorer) flag(result *Result) {
	n := len(result.Scores)
	flagCount := int(math.Ceil(float64(n) * (1 - s.cfg.FlagPercentile)))
	if flagCount <= 0 {
		return
	}
	if flagCount > n {
		flagCount = n
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := result.Scores[order[a]].Score, result.Scores[order[b]].Score
		if sa != sb {
			return sa > sb
		}
		return order[a] < order[b]
	})

	for rank := 0; rank < flagCount; rank++ {
		idx := order[rank]
		result.Scores[idx].Flagged = true
		result.Cutoff = result.Scores[idx].Score
	}
	result.Flagged = flagCount
}

// buildFeatures assembles the (raw, rate-vs-peer-mean) feature matrix.
// The boolean reports a fully degenerate set: zero variance across all
// samples, for which no score is computed.
func buildFeatures(values []int64) ([][featureDims]float64, bool) {
	var sum int64
	allEqual := true
	for _, v := range values {
		sum += v
		if v != values[0] {
			allEqual = false
		}
	}
	mean := float64(sum) / float64(len(values))

	features := make([][featureDims]float64, len(values))
	for i, v := range values {
		features[i][0] = float64(v)
		if mean > 0 {
			features[i][1] = float64(v) / mean
		}
	}
	return features, allEqual
}

// groupSeed derives a stable per-sibling-group seed from the root seed
// and the group identity.
func groupSeed(root int64, parent hierarchy.NodeID, metric golden.Metric, period hierarchy.Period) int64 {
	h := fnv.New64a()
	h.Write([]byte(parent))
	h.Write([]byte{0})
	h.Write([]byte(metric))
	h.Write([]byte{0})
	h.Write([]byte(period.String()))
	return subSeed(root, int(h.Sum64()%math.MaxInt32))
}
