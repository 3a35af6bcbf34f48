// Package postgres mirrors the golden record table and alert feed into
// PostgreSQL so the presentation layer can query them out of process.
// Writes run behind a circuit breaker: a dead database degrades the
// pipeline to in-memory-only output instead of failing runs.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/enrolytics/uidwatch/internal/alerts"
	"github.com/enrolytics/uidwatch/internal/pipeline"
)

// Store writes dataset snapshots and alert feeds to PostgreSQL.
type Store struct {
	db      *sqlx.DB
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// NewStore opens the mirror database and prepares the schema.
func NewStore(dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{
		db:      db,
		timeout: 30 * time.Second,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "postgres-mirror",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Mirror breaker state change")
			},
		}),
	}

	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS golden_records (
	dataset_version  TEXT        NOT NULL,
	state            TEXT        NOT NULL,
	district         TEXT        NOT NULL,
	pincode          TEXT        NOT NULL,
	date             DATE        NOT NULL,
	enrol_0_5        BIGINT      NOT NULL,
	enrol_5_17       BIGINT      NOT NULL,
	enrol_18_plus    BIGINT      NOT NULL,
	demo_0_5         BIGINT      NOT NULL,
	demo_5_17        BIGINT      NOT NULL,
	demo_18_plus     BIGINT      NOT NULL,
	bio_0_5          BIGINT      NOT NULL,
	bio_5_17         BIGINT      NOT NULL,
	bio_18_plus      BIGINT      NOT NULL,
	PRIMARY KEY (dataset_version, state, district, pincode, date)
);

CREATE TABLE IF NOT EXISTS alerts (
	id               TEXT        PRIMARY KEY,
	dataset_version  TEXT        NOT NULL,
	node_id          TEXT        NOT NULL,
	level            TEXT        NOT NULL,
	state            TEXT        NOT NULL,
	metric           TEXT        NOT NULL,
	period           TEXT        NOT NULL,
	severity         TEXT        NOT NULL,
	score            DOUBLE PRECISION NOT NULL,
	explanation      JSONB       NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	UNIQUE (dataset_version, node_id, metric, period)
);

CREATE INDEX IF NOT EXISTS idx_alerts_version_severity ON alerts (dataset_version, severity);
CREATE INDEX IF NOT EXISTS idx_golden_version_geo ON golden_records (dataset_version, state, district);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to prepare mirror schema: %w", err)
	}
	return nil
}

// SaveDataset mirrors every golden record of a snapshot under its
// dataset version.
func (s *Store) SaveDataset(ctx context.Context, ds *pipeline.Dataset) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.saveDataset(ctx, ds)
	})
	return err
}

func (s *Store) saveDataset(ctx context.Context, ds *pipeline.Dataset) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin mirror tx: %w", err)
	}
	defer tx.Rollback()

	const insert = `
		INSERT INTO golden_records
		(dataset_version, state, district, pincode, date,
		 enrol_0_5, enrol_5_17, enrol_18_plus,
		 demo_0_5, demo_5_17, demo_18_plus,
		 bio_0_5, bio_5_17, bio_18_plus)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (dataset_version, state, district, pincode, date) DO NOTHING`

	for _, r := range ds.Records {
		if _, err := tx.ExecContext(ctx, insert,
			ds.Version, r.Key.State, r.Key.District, r.Key.Pincode, r.Key.Date,
			r.Enrol.Age05, r.Enrol.Age517, r.Enrol.Age18Plus,
			r.Demo.Age05, r.Demo.Age517, r.Demo.Age18Plus,
			r.Bio.Age05, r.Bio.Age517, r.Bio.Age18Plus,
		); err != nil {
			return fmt.Errorf("failed to mirror golden record %s: %w", r.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mirror tx: %w", err)
	}

	log.Info().Str("version", ds.Version).Int("records", len(ds.Records)).Msg("Golden records mirrored")
	return nil
}

// SaveAlerts mirrors the assembled alert feed for one dataset version.
// Re-running the same version upserts rather than duplicating.
func (s *Store) SaveAlerts(ctx context.Context, version string, feed []alerts.Alert) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.saveAlerts(ctx, version, feed)
	})
	return err
}

func (s *Store) saveAlerts(ctx context.Context, version string, feed []alerts.Alert) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const insert = `
		INSERT INTO alerts
		(id, dataset_version, node_id, level, state, metric, period, severity, score, explanation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (dataset_version, node_id, metric, period) DO UPDATE SET
			severity = EXCLUDED.severity,
			score = EXCLUDED.score,
			explanation = EXCLUDED.explanation`

	for _, a := range feed {
		expJSON, err := json.Marshal(a.Explanation)
		if err != nil {
			return fmt.Errorf("failed to marshal explanation: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, insert,
			a.ID, version, a.NodeID, a.Level, a.State, a.Metric, a.Period,
			a.Explanation.Severity, a.Score.Score, expJSON, a.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to mirror alert %s: %w", a.ID, err)
		}
	}

	log.Info().Str("version", version).Int("alerts", len(feed)).Msg("Alert feed mirrored")
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
