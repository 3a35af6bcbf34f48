// Package pipeline orchestrates the batch stages: ingest, golden merge,
// hierarchical aggregation, anomaly scoring, explanation, and alert
// assembly. The caller owns an explicit Dataset handle; a reload
// produces a new versioned handle instead of mutating shared state, so
// in-flight work can be cancelled and caches invalidated wholesale.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/enrolytics/uidwatch/internal/alerts"
	"github.com/enrolytics/uidwatch/internal/anomaly"
	"github.com/enrolytics/uidwatch/internal/config"
	"github.com/enrolytics/uidwatch/internal/explain"
	"github.com/enrolytics/uidwatch/internal/golden"
	"github.com/enrolytics/uidwatch/internal/hierarchy"
	"github.com/enrolytics/uidwatch/internal/ingest"
	"github.com/enrolytics/uidwatch/internal/metrics"
)

// Dataset is one immutable ingested snapshot. Rebuilt wholesale on
// every reload, never patched incrementally.
type Dataset struct {
	Version   string            `json:"version"`
	Records   []golden.Record   `json:"-"`
	Report    *ingest.Report    `json:"report"`
	Merge     golden.MergeStats `json:"merge"`
	CreatedAt time.Time         `json:"created_at"`
}

// Mirror persists golden records and alerts outside the process. The
// Postgres store implements it; runs proceed when mirroring fails.
type Mirror interface {
	SaveDataset(ctx context.Context, ds *Dataset) error
	SaveAlerts(ctx context.Context, version string, feed []alerts.Alert) error
}

// Pipeline wires the stages over a caller-owned dataset handle.
type Pipeline struct {
	cfg       *config.Config
	scorer    *anomaly.Scorer
	explainer *explain.Explainer
	cache     Cache
	mirror    Mirror

	mu           sync.Mutex
	current      *Dataset
	reloadCancel context.CancelFunc
	reloadGen    uint64
}

// Option customizes pipeline construction.
type Option func(*Pipeline)

// WithCache overrides the score cache backend.
func WithCache(c Cache) Option { return func(p *Pipeline) { p.cache = c } }

// WithMirror attaches an external mirror for golden records and alerts.
func WithMirror(m Mirror) Option { return func(p *Pipeline) { p.mirror = m } }

// New builds a pipeline from configuration.
func New(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		scorer:    anomaly.NewScorer(cfg.Scoring),
		explainer: explain.NewExplainer(cfg.Explain),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cache == nil {
		if cfg.Cache.Backend == "redis" {
			p.cache = NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisDB)
		} else {
			p.cache = NewMemoryCache()
		}
	}
	return p
}

// Reload ingests the dataset root into a fresh versioned snapshot. A
// reload already in flight is superseded: its context is cancelled and
// the new one proceeds. The handle becomes current only on success.
func (p *Pipeline) Reload(ctx context.Context) (*Dataset, error) {
	p.mu.Lock()
	if p.reloadCancel != nil {
		p.reloadCancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	p.reloadCancel = cancel
	p.reloadGen++
	gen := p.reloadGen
	p.mu.Unlock()
	defer cancel()

	started := time.Now()
	loader := ingest.NewLoader(p.cfg.DatasetRoot, p.cfg.Sources)
	rows, report, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("dataset load failed: %w", err)
	}
	metrics.StageDuration.WithLabelValues("ingest").Observe(time.Since(started).Seconds())

	mergeStart := time.Now()
	records, stats := golden.Merge(rows)
	metrics.StageDuration.WithLabelValues("merge").Observe(time.Since(mergeStart).Seconds())
	for kind, n := range stats.DuplicateRows {
		metrics.DuplicateRows.WithLabelValues(string(kind)).Add(float64(n))
	}
	metrics.DatasetRecords.Set(float64(len(records)))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds := &Dataset{
		Version:   uuid.NewString(),
		Records:   records,
		Report:    report,
		Merge:     stats,
		CreatedAt: time.Now(),
	}

	if !p.install(ds, gen) {
		return nil, fmt.Errorf("reload superseded by a newer reload")
	}

	// version bump: every cached aggregate and score is now stale
	p.cache.Invalidate(ctx)

	log.Info().
		Str("version", ds.Version).
		Int("records", len(records)).
		Dur("elapsed", time.Since(started)).
		Msg("Dataset snapshot loaded")

	return ds, nil
}

// install publishes a loaded snapshot unless a newer reload registered
// after this one started. A stale reload must neither clobber the newer
// snapshot nor clear the newer reload's cancel registration.
func (p *Pipeline) install(ds *Dataset, gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.reloadGen {
		return false
	}
	p.current = ds
	p.reloadCancel = nil
	return true
}

// Dataset returns the current snapshot handle, or nil before the first
// successful reload.
func (p *Pipeline) Dataset() *Dataset {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// RunResult is the output of one full scoring pass.
type RunResult struct {
	Version       string          `json:"version"`
	Period        string          `json:"period"`
	Scores        []anomaly.Score `json:"scores"`
	Alerts        []alerts.Alert  `json:"alerts"`
	SkippedGroups int             `json:"skipped_groups"` // sibling sets below the minimum size
	Elapsed       time.Duration   `json:"elapsed"`
}

// siblingGroup is one independent unit of scoring work.
type siblingGroup struct {
	parent   hierarchy.NodeID
	siblings []hierarchy.Node
}

// Run executes aggregation, scoring, explanation, and assembly over the
// current snapshot for one period. The caller bounds the run with its
// context. A consistency fault aborts the run with diagnostic detail.
func (p *Pipeline) Run(ctx context.Context, ds *Dataset, period hierarchy.Period) (*RunResult, error) {
	if ds == nil {
		return nil, fmt.Errorf("no dataset snapshot loaded")
	}
	started := time.Now()

	aggStart := time.Now()
	tree, err := hierarchy.Build(ds.Records, period)
	if err != nil {
		return nil, fmt.Errorf("aggregation failed: %w", err)
	}
	metrics.StageDuration.WithLabelValues("aggregate").Observe(time.Since(aggStart).Seconds())

	groups := collectGroups(tree)

	// Score groups in parallel. Each (group, metric) cell lands in its
	// own slot, so assembly order never depends on scheduling.
	scoreStart := time.Now()
	metricsList := golden.Metrics()
	results := make([][]*anomaly.Result, len(groups))
	for i := range results {
		results[i] = make([]*anomaly.Result, len(metricsList))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for gi, group := range groups {
		for mi, metric := range metricsList {
			gi, mi, group, metric := gi, mi, group, metric
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				key := cacheKey(ds.Version, string(group.parent), string(metric), period.String())
				if cached, ok := p.cache.Get(gctx, key); ok {
					results[gi][mi] = cached
					return nil
				}
				res, err := p.scorer.ScoreSiblings(gctx, group.siblings, metric, period)
				if err != nil {
					return err
				}
				p.cache.Set(gctx, key, res)
				results[gi][mi] = res
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scoring failed: %w", err)
	}
	metrics.StageDuration.WithLabelValues("score").Observe(time.Since(scoreStart).Seconds())

	// Explain flagged nodes and assemble the feed in deterministic
	// group order.
	assembler := alerts.NewAssembler()
	run := &RunResult{Version: ds.Version, Period: period.String()}
	for gi, group := range groups {
		byID := make(map[hierarchy.NodeID]hierarchy.Node, len(group.siblings))
		for _, node := range group.siblings {
			byID[node.ID] = node
		}
		for _, res := range results[gi] {
			if res.Status == anomaly.StatusNotEnoughData {
				run.SkippedGroups++
				continue
			}
			run.Scores = append(run.Scores, res.Scores...)
			for _, score := range res.Scores {
				if !score.Flagged {
					continue
				}
				node := byID[score.NodeID]
				exp := p.explainer.Explain(node, group.siblings, score.Metric)
				if exp.Severity == explain.SeverityNone {
					// flagged by rank but inside the moderate tolerance
					continue
				}
				assembler.Add(score, exp)
			}
		}
	}
	run.Alerts = assembler.Feed()
	run.Elapsed = time.Since(started)

	if p.mirror != nil {
		if err := p.mirror.SaveDataset(ctx, ds); err != nil {
			log.Warn().Err(err).Msg("Golden record mirror write failed; continuing in-memory only")
		}
		if err := p.mirror.SaveAlerts(ctx, ds.Version, run.Alerts); err != nil {
			log.Warn().Err(err).Msg("Alert mirror write failed; continuing in-memory only")
		}
	}

	log.Info().
		Str("version", ds.Version).
		Str("period", period.String()).
		Int("scores", len(run.Scores)).
		Int("alerts", len(run.Alerts)).
		Int("skipped_groups", run.SkippedGroups).
		Dur("elapsed", run.Elapsed).
		Msg("Pipeline run complete")

	return run, nil
}

// collectGroups enumerates every sibling set in the tree in stable
// order: the states, then each state's districts, then each district's
// pincodes.
func collectGroups(tree *hierarchy.Tree) []siblingGroup {
	var groups []siblingGroup
	states := tree.States()
	if len(states) > 0 {
		groups = append(groups, siblingGroup{parent: "", siblings: states})
	}
	for _, state := range states {
		districts := tree.Children(state.ID)
		if len(districts) > 0 {
			groups = append(groups, siblingGroup{parent: state.ID, siblings: districts})
		}
		for _, district := range districts {
			pincodes := tree.Children(district.ID)
			if len(pincodes) > 0 {
				groups = append(groups, siblingGroup{parent: district.ID, siblings: pincodes})
			}
		}
	}
	return groups
}

// QueryRecords returns the golden records matching the given geography
// filters from a snapshot; empty filter values match everything. This
// is the queryable table boundary the presentation layer consumes.
func QueryRecords(ds *Dataset, state, district, pincode string) []golden.Record {
	if ds == nil {
		return nil
	}
	var out []golden.Record
	for _, r := range ds.Records {
		if state != "" && r.Key.State != state {
			continue
		}
		if district != "" && r.Key.District != district {
			continue
		}
		if pincode != "" && r.Key.Pincode != pincode {
			continue
		}
		out = append(out, r)
	}
	return out
}
