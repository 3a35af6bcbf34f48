package hierarchy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enrolytics/uidwatch/internal/golden"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func record(state, district, pincode, date string, enrol, demo, bio int64) golden.Record {
	return golden.Record{
		Key:   golden.Key{State: state, District: district, Pincode: pincode, Date: day(date)},
		Enrol: golden.Buckets{Age18Plus: enrol},
		Demo:  golden.Buckets{Age18Plus: demo},
		Bio:   golden.Buckets{Age18Plus: bio},
	}
}

func fixtureRecords() []golden.Record {
	return []golden.Record{
		record("Kerala", "Ernakulam", "682001", "2025-01-01", 10, 5, 2),
		record("Kerala", "Ernakulam", "682002", "2025-01-01", 20, 15, 4),
		record("Kerala", "Thrissur", "680001", "2025-01-01", 7, 3, 1),
		record("Kerala", "Thrissur", "680001", "2025-01-02", 9, 1, 6),
		record("Goa", "North Goa", "403001", "2025-01-01", 100, 50, 25),
	}
}

func TestBuild_ExactSumInvariantAcrossLevels(t *testing.T) {
	tree, err := Build(fixtureRecords(), WholeWindow)
	require.NoError(t, err)

	states := tree.States()
	require.Len(t, states, 2)

	for _, state := range states {
		districts := tree.Children(state.ID)
		for _, m := range golden.Metrics() {
			var sum int64
			for _, d := range districts {
				sum += d.MetricValue(m)
			}
			assert.Equal(t, state.MetricValue(m), sum,
				"state %s metric %s must equal the exact sum of its districts", state.Name, m)
		}

		for _, district := range districts {
			pincodes := tree.Children(district.ID)
			for _, m := range golden.Metrics() {
				var sum int64
				for _, p := range pincodes {
					sum += p.MetricValue(m)
				}
				assert.Equal(t, district.MetricValue(m), sum,
					"district %s metric %s must equal the exact sum of its pincodes", district.Name, m)
			}
		}
	}
}

func TestBuild_AggregatesAcrossDates(t *testing.T) {
	tree, err := Build(fixtureRecords(), WholeWindow)
	require.NoError(t, err)

	kerala, ok := tree.Node(MakeNodeID("Kerala"))
	require.True(t, ok)
	assert.Equal(t, int64(46), kerala.MetricValue(golden.MetricEnrolment))

	thrissurPin, ok := tree.Node(MakeNodeID("Kerala", "Thrissur", "680001"))
	require.True(t, ok)
	assert.Equal(t, int64(16), thrissurPin.MetricValue(golden.MetricEnrolment),
		"the same pincode on two dates folds into one node")
	assert.Equal(t, LevelPincode, thrissurPin.Level)
	assert.Equal(t, MakeNodeID("Kerala", "Thrissur"), thrissurPin.Parent)
}

func TestBuild_PeriodFiltering(t *testing.T) {
	tree, err := Build(fixtureRecords(), Day(day("2025-01-02")))
	require.NoError(t, err)

	states := tree.States()
	require.Len(t, states, 1, "only Kerala has records on the second date")
	assert.Equal(t, "Kerala", states[0].Name)
	assert.Equal(t, int64(9), states[0].MetricValue(golden.MetricEnrolment))
}

func TestTree_ChildrenMemoized(t *testing.T) {
	tree, err := Build(fixtureRecords(), WholeWindow)
	require.NoError(t, err)

	id := MakeNodeID("Kerala")
	first := tree.Children(id)
	second := tree.Children(id)
	assert.Equal(t, first, second)

	assert.Nil(t, tree.Children(MakeNodeID("Kerala", "Ernakulam", "682001")), "pincodes are leaves")
}

func TestNodeID_Navigation(t *testing.T) {
	id := MakeNodeID("Kerala", "Ernakulam", "682001")
	assert.Equal(t, []string{"Kerala", "Ernakulam", "682001"}, id.Segments())
	assert.Equal(t, MakeNodeID("Kerala", "Ernakulam"), id.Parent())
	assert.Equal(t, MakeNodeID("Kerala"), id.Parent().Parent())
	assert.Equal(t, NodeID(""), id.Parent().Parent().Parent())
}

func TestConsistencyFault_Diagnostics(t *testing.T) {
	fault := &ConsistencyFault{
		Node:      MakeNodeID("Kerala", "Ernakulam"),
		Metric:    golden.MetricBioUpdate,
		NodeTotal: 100,
		ChildSum:  90,
	}
	msg := fault.Error()
	assert.Contains(t, msg, "Kerala|Ernakulam")
	assert.Contains(t, msg, "bio_update_total")
	assert.Contains(t, msg, "100")
	assert.Contains(t, msg, "90")
}

func TestBuild_EmptyPeriodYieldsEmptyTree(t *testing.T) {
	tree, err := Build(fixtureRecords(), Day(day("2030-01-01")))
	require.NoError(t, err)
	assert.Empty(t, tree.States())
}

func TestPeriod_String(t *testing.T) {
	assert.Equal(t, "all", WholeWindow.String())
	assert.Equal(t, "2025-01-02..2025-01-02", Day(day("2025-01-02")).String())
}
