package alerts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enrolytics/uidwatch/internal/anomaly"
	"github.com/enrolytics/uidwatch/internal/explain"
	"github.com/enrolytics/uidwatch/internal/golden"
	"github.com/enrolytics/uidwatch/internal/hierarchy"
)

func finding(pin string, metric golden.Metric, severity explain.Severity, pct float64) (anomaly.Score, explain.Explanation) {
	id := hierarchy.MakeNodeID("Kerala", "Ernakulam", pin)
	score := anomaly.Score{
		NodeID:  id,
		Level:   hierarchy.LevelPincode,
		Metric:  metric,
		Period:  "all",
		Flagged: true,
	}
	exp := explain.Explanation{
		NodeID:       id,
		Metric:       metric,
		Severity:     severity,
		PctDeviation: pct,
	}
	return score, exp
}

func TestFeed_OrderedBySeverityThenDeviation(t *testing.T) {
	a := NewAssembler()
	a.Add(finding("682001", golden.MetricBioUpdate, explain.SeverityModerate, 60))
	a.Add(finding("682002", golden.MetricBioUpdate, explain.SeverityCritical, 400))
	a.Add(finding("682003", golden.MetricBioUpdate, explain.SeverityHigh, -150))
	a.Add(finding("682004", golden.MetricBioUpdate, explain.SeverityCritical, 900))

	feed := a.Feed()
	require.Len(t, feed, 4)
	assert.Equal(t, hierarchy.MakeNodeID("Kerala", "Ernakulam", "682004"), feed[0].NodeID, "largest critical deviation leads")
	assert.Equal(t, hierarchy.MakeNodeID("Kerala", "Ernakulam", "682002"), feed[1].NodeID)
	assert.Equal(t, explain.SeverityHigh, feed[2].Explanation.Severity)
	assert.Equal(t, explain.SeverityModerate, feed[3].Explanation.Severity)
}

func TestFeed_DeficitSortsByMagnitude(t *testing.T) {
	a := NewAssembler()
	a.Add(finding("682001", golden.MetricEnrolment, explain.SeverityHigh, 80))
	a.Add(finding("682002", golden.MetricEnrolment, explain.SeverityHigh, -95))

	feed := a.Feed()
	require.Len(t, feed, 2)
	assert.Equal(t, hierarchy.MakeNodeID("Kerala", "Ernakulam", "682002"), feed[0].NodeID, "a -95% deficit outranks an +80% surge at equal severity")
}

func TestAdd_DeduplicatesNodeMetricPeriod(t *testing.T) {
	a := NewAssembler()
	score, exp := finding("682001", golden.MetricBioUpdate, explain.SeverityHigh, 120)
	a.Add(score, exp)
	a.Add(score, exp)
	a.Add(finding("682001", golden.MetricDemoUpdate, explain.SeverityHigh, 120))

	feed := a.Feed()
	assert.Len(t, feed, 2, "same node under a different metric is a distinct alert")
}

func TestAdd_PopulatesIdentityFields(t *testing.T) {
	a := NewAssembler()
	a.Add(finding("682001", golden.MetricBioUpdate, explain.SeverityCritical, 500))

	feed := a.Feed()
	require.Len(t, feed, 1)
	alert := feed[0]
	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, "Kerala", alert.State, "state extracted from the node path")
	assert.Equal(t, hierarchy.LevelPincode, alert.Level)
	assert.False(t, alert.CreatedAt.IsZero())
}

func TestFilter_Apply(t *testing.T) {
	a := NewAssembler()
	a.Add(finding("682001", golden.MetricBioUpdate, explain.SeverityModerate, 60))
	a.Add(finding("682002", golden.MetricBioUpdate, explain.SeverityCritical, 400))
	sd, se := finding("560001", golden.MetricBioUpdate, explain.SeverityHigh, 200)
	sd.NodeID = hierarchy.MakeNodeID("Karnataka", "Bengaluru", "560001")
	se.NodeID = sd.NodeID
	a.Add(sd, se)
	feed := a.Feed()

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"empty filter keeps all", Filter{}, 3},
		{"by state", Filter{State: "Karnataka"}, 1},
		{"by min severity", Filter{MinSeverity: explain.SeverityHigh}, 2},
		{"by level", Filter{Level: hierarchy.LevelPincode}, 3},
		{"combined", Filter{State: "Kerala", MinSeverity: explain.SeverityCritical}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, tt.filter.Apply(feed), tt.want)
		})
	}
}

func TestFilter_PreservesFeedOrder(t *testing.T) {
	a := NewAssembler()
	a.Add(finding("682001", golden.MetricBioUpdate, explain.SeverityCritical, 300))
	a.Add(finding("682002", golden.MetricBioUpdate, explain.SeverityCritical, 700))
	feed := Filter{MinSeverity: explain.SeverityModerate}.Apply(a.Feed())

	require.Len(t, feed, 2)
	assert.Equal(t, hierarchy.MakeNodeID("Kerala", "Ernakulam", "682002"), feed[0].NodeID)
}
