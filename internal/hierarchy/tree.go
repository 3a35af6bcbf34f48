// Package hierarchy rolls golden records up into the State → District →
// Pincode containment tree. Node totals are exact integer sums of their
// children; a violation of that invariant is a fatal consistency fault
// for the aggregation run, never a silently wrong total.
package hierarchy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/enrolytics/uidwatch/internal/golden"
)

// Level names one tier of the containment tree.
type Level string

const (
	LevelState    Level = "state"
	LevelDistrict Level = "district"
	LevelPincode  Level = "pincode"
)

// NodeID addresses one node as its path from the root, segments joined
// with '|' (geography names may contain '/').
type NodeID string

const idSep = "|"

// MakeNodeID builds an ID from path segments.
func MakeNodeID(segments ...string) NodeID {
	return NodeID(strings.Join(segments, idSep))
}

// Segments splits an ID back into its path segments.
func (id NodeID) Segments() []string {
	if id == "" {
		return nil
	}
	return strings.Split(string(id), idSep)
}

// Parent returns the containing node's ID, or "" for a state.
func (id NodeID) Parent() NodeID {
	segs := id.Segments()
	if len(segs) <= 1 {
		return ""
	}
	return MakeNodeID(segs[:len(segs)-1]...)
}

// Period bounds the dates a tree aggregates over. The zero Period spans
// the whole snapshot.
type Period struct {
	From time.Time
	To   time.Time
}

// WholeWindow is the period covering every date in the snapshot.
var WholeWindow = Period{}

// Contains reports whether a record date falls inside the period.
func (p Period) Contains(d time.Time) bool {
	if !p.From.IsZero() && d.Before(p.From) {
		return false
	}
	if !p.To.IsZero() && d.After(p.To) {
		return false
	}
	return true
}

// String renders the period for cache keys and logs.
func (p Period) String() string {
	if p.From.IsZero() && p.To.IsZero() {
		return "all"
	}
	return p.From.Format("2006-01-02") + ".." + p.To.Format("2006-01-02")
}

// Day returns the period covering a single date.
func Day(d time.Time) Period { return Period{From: d, To: d} }

// Node is one aggregated tier entry. It holds a back-reference to its
// parent for navigation and owns its aggregated counts.
type Node struct {
	ID     NodeID
	Level  Level
	Name   string
	Parent NodeID

	Enrol golden.Buckets
	Demo  golden.Buckets
	Bio   golden.Buckets
}

// MetricValue returns the node total for one metric series.
func (n Node) MetricValue(m golden.Metric) int64 {
	switch m {
	case golden.MetricEnrolment:
		return n.Enrol.Total()
	case golden.MetricDemoUpdate:
		return n.Demo.Total()
	default:
		return n.Bio.Total()
	}
}

func (n *Node) add(r golden.Record) {
	n.Enrol.Add(r.Enrol)
	n.Demo.Add(r.Demo)
	n.Bio.Add(r.Bio)
}

// ConsistencyFault reports a violated exact-sum invariant. It indicates
// an aggregation defect, not noisy input, and aborts the run.
type ConsistencyFault struct {
	Node      NodeID
	Metric    golden.Metric
	NodeTotal int64
	ChildSum  int64
}

func (f *ConsistencyFault) Error() string {
	return fmt.Sprintf("consistency fault at %s: %s node total %d != child sum %d",
		f.Node, f.Metric, f.NodeTotal, f.ChildSum)
}

// Tree is the aggregated containment hierarchy for one period. State
// nodes are materialized at build time; district and pincode children
// are computed lazily on navigation and memoized, so a full-country
// snapshot does not eagerly expand every branch.
type Tree struct {
	period  Period
	records []golden.Record // records within the period, snapshot-owned

	states []Node

	mu       sync.Mutex
	children map[NodeID][]Node
}

// Build aggregates golden records into a tree for the given period and
// verifies the state-level exact-sum invariant before returning.
func Build(records []golden.Record, period Period) (*Tree, error) {
	var scoped []golden.Record
	for _, r := range records {
		if period.Contains(r.Key.Date) {
			scoped = append(scoped, r)
		}
	}

	t := &Tree{
		period:   period,
		records:  scoped,
		children: make(map[NodeID][]Node),
	}
	t.states = t.aggregate("", LevelState)

	if err := t.Verify(); err != nil {
		return nil, err
	}
	return t, nil
}

// Period returns the date window this tree aggregates.
func (t *Tree) Period() Period { return t.period }

// States returns the root tier of the tree.
func (t *Tree) States() []Node {
	out := make([]Node, len(t.states))
	copy(out, t.states)
	return out
}

// Children returns the child tier under a node, computing and memoizing
// it on first navigation. A state yields districts, a district yields
// pincodes; pincodes are leaves.
func (t *Tree) Children(id NodeID) []Node {
	segs := id.Segments()
	var level Level
	switch len(segs) {
	case 1:
		level = LevelDistrict
	case 2:
		level = LevelPincode
	default:
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if kids, ok := t.children[id]; ok {
		return kids
	}
	kids := t.aggregate(id, level)
	t.children[id] = kids
	return kids
}

// Node looks up a single node by ID at any level.
func (t *Tree) Node(id NodeID) (Node, bool) {
	segs := id.Segments()
	if len(segs) == 0 {
		return Node{}, false
	}
	tier := t.states
	if len(segs) > 1 {
		tier = t.Children(id.Parent())
	}
	for _, n := range tier {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// aggregate folds the scoped records into nodes at one level under the
// given parent prefix.
func (t *Tree) aggregate(parent NodeID, level Level) []Node {
	prefix := parent.Segments()
	byName := make(map[string]*Node)

	for _, r := range t.records {
		path := []string{r.Key.State, r.Key.District, r.Key.Pincode}
		if !pathMatches(path, prefix) {
			continue
		}
		name := path[len(prefix)]
		node, ok := byName[name]
		if !ok {
			node = &Node{
				ID:     MakeNodeID(append(append([]string{}, prefix...), name)...),
				Level:  level,
				Name:   name,
				Parent: parent,
			}
			byName[name] = node
		}
		node.add(r)
	}

	nodes := make([]Node, 0, len(byName))
	for _, n := range byName {
		nodes = append(nodes, *n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes
}

func pathMatches(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i, p := range prefix {
		if path[i] != p {
			return false
		}
	}
	return true
}

// Verify checks the exact-sum invariant for every non-leaf node and
// every metric: sum(children.metric) == node.metric in integer
// arithmetic. The first violation is returned as a ConsistencyFault.
func (t *Tree) Verify() error {
	for _, state := range t.states {
		if err := t.verifyNode(state); err != nil {
			return err
		}
		for _, district := range t.Children(state.ID) {
			if err := t.verifyNode(district); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Tree) verifyNode(n Node) error {
	kids := t.Children(n.ID)
	for _, m := range golden.Metrics() {
		var sum int64
		for _, k := range kids {
			sum += k.MetricValue(m)
		}
		if sum != n.MetricValue(m) {
			return &ConsistencyFault{Node: n.ID, Metric: m, NodeTotal: n.MetricValue(m), ChildSum: sum}
		}
	}
	return nil
}
