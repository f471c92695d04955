package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"EdgeLab/internal/domain/models"
	domrepo "EdgeLab/internal/domain/repository"
	pkgch "EdgeLab/pkg/clickhouse"
	applogger "EdgeLab/pkg/logger"
)

// ClickHouseStore implements HypothesisStore and ObservationStore on a
// shared connection pool. The transition log is append-only; snapshots use
// a ReplacingMergeTree so reads with FINAL see the latest row per
// hypothesis.
type ClickHouseStore struct {
	ch *pkgch.Client
	db *sql.DB
	l  *applogger.Logger
}

func NewClickHouseStore(ch *pkgch.Client, l *applogger.Logger) *ClickHouseStore {
	return &ClickHouseStore{ch: ch, db: ch.DB(), l: l}
}

var (
	_ domrepo.HypothesisStore  = (*ClickHouseStore)(nil)
	_ domrepo.ObservationStore = (*ClickHouseStore)(nil)
)

func schemaStatements() []string {
	return []string{
		`CREATE DATABASE IF NOT EXISTS edgelab`,
		`CREATE TABLE IF NOT EXISTS edgelab.bars (
			ts     DateTime64(3, 'UTC'),
			symbol LowCardinality(String),
			open   Float64,
			high   Float64,
			low    Float64,
			close  Float64,
			volume Float64
		) ENGINE = MergeTree
		PARTITION BY toYYYYMMDD(ts)
		ORDER BY (symbol, ts)`,
		`CREATE TABLE IF NOT EXISTS edgelab.hypothesis_transitions (
			ts            DateTime64(3, 'UTC'),
			hypothesis_id String,
			symbol        LowCardinality(String),
			from_status   LowCardinality(String),
			to_status     LowCardinality(String),
			reason        LowCardinality(String),
			n             UInt64,
			mean          Float64,
			hit_rate      Float64
		) ENGINE = MergeTree
		ORDER BY (hypothesis_id, ts)`,
		`CREATE TABLE IF NOT EXISTS edgelab.hypothesis_snapshots (
			snap_ts     DateTime64(3, 'UTC'),
			hypothesis_id String,
			symbol      LowCardinality(String),
			feature     LowCardinality(String),
			op          LowCardinality(String),
			threshold   Float64,
			direction   Int8,
			horizon     UInt16,
			strategy    LowCardinality(String),
			parent_id   String,
			status      LowCardinality(String),
			created_at  DateTime64(3, 'UTC'),
			status_at   DateTime64(3, 'UTC'),
			promoted_at DateTime64(3, 'UTC'),
			n           UInt64,
			wins        UInt64,
			mean        Float64,
			m2          Float64,
			llr         Float64
		) ENGINE = ReplacingMergeTree(snap_ts)
		ORDER BY hypothesis_id`,
	}
}

func (s *ClickHouseStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, schemaStatements())
}

func (s *ClickHouseStore) AppendTransition(ctx context.Context, ev *models.TransitionEvent) error {
	const q = `INSERT INTO edgelab.hypothesis_transitions
		(ts, hypothesis_id, symbol, from_status, to_status, reason, n, mean, hit_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		ev.At,
		ev.HypothesisID,
		ev.Symbol,
		string(ev.From),
		string(ev.To),
		ev.Reason,
		uint64(ev.N),
		ev.Mean,
		ev.HitRate,
	)
	if err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	return nil
}

func (s *ClickHouseStore) SaveSnapshots(ctx context.Context, hyps []*models.Hypothesis) error {
	if len(hyps) == 0 {
		return nil
	}
	now := time.Now().UTC()
	const chunkSize = 500
	for start := 0; start < len(hyps); start += chunkSize {
		end := start + chunkSize
		if end > len(hyps) {
			end = len(hyps)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*19)
		for _, h := range hyps[start:end] {
			if h == nil || h.ID == "" {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				now,
				h.ID,
				h.Symbol,
				h.Predicate.Feature,
				string(h.Predicate.Op),
				h.Predicate.Threshold,
				int8(h.Prediction.Direction),
				uint16(h.Prediction.Horizon),
				h.Strategy,
				h.ParentID,
				string(h.Status),
				h.CreatedAt,
				h.StatusAt,
				writeTime(h.PromotedAt),
				uint64(h.Stats.N),
				uint64(h.Stats.Wins),
				h.Stats.Mean,
				h.Stats.M2,
				h.Stats.LLR,
			)
		}
		if len(values) == 0 {
			continue
		}
		q := "INSERT INTO edgelab.hypothesis_snapshots (snap_ts, hypothesis_id, symbol, feature, op, threshold, direction, horizon, strategy, parent_id, status, created_at, status_at, promoted_at, n, wins, mean, m2, llr) VALUES " + strings.Join(values, ",")
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("save snapshots: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseStore) LoadSnapshots(ctx context.Context) ([]*models.Hypothesis, error) {
	start := time.Now()
	const q = `
		SELECT hypothesis_id, symbol, feature, op, threshold, direction, horizon,
		       strategy, parent_id, status, created_at, status_at, promoted_at,
		       n, wins, mean, m2, llr
		FROM edgelab.hypothesis_snapshots FINAL
	`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Hypothesis, 0, 256)
	for rows.Next() {
		var (
			h          models.Hypothesis
			op         string
			direction  int8
			horizon    uint16
			status     string
			promotedAt time.Time
			n, wins    uint64
		)
		if err := rows.Scan(&h.ID, &h.Symbol, &h.Predicate.Feature, &op, &h.Predicate.Threshold,
			&direction, &horizon, &h.Strategy, &h.ParentID, &status,
			&h.CreatedAt, &h.StatusAt, &promotedAt,
			&n, &wins, &h.Stats.Mean, &h.Stats.M2, &h.Stats.LLR); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		h.Predicate.Op = models.Op(op)
		h.Prediction.Direction = models.Direction(direction)
		h.Prediction.Horizon = int(horizon)
		h.Status = models.Status(status)
		h.PromotedAt = readTime(promotedAt)
		h.Stats.N = int64(n)
		h.Stats.Wins = int64(wins)
		out = append(out, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Info("clickhouse snapshots loaded",
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (s *ClickHouseStore) Transitions(ctx context.Context, hypothesisID string, limit int) ([]*models.TransitionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT ts, hypothesis_id, symbol, from_status, to_status, reason, n, mean, hit_rate
		FROM edgelab.hypothesis_transitions
		WHERE hypothesis_id = ?
		ORDER BY ts DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, q, hypothesisID, limit)
	if err != nil {
		return nil, fmt.Errorf("get transitions: %w", err)
	}
	defer rows.Close()

	out := make([]*models.TransitionEvent, 0, limit)
	for rows.Next() {
		var (
			ev       models.TransitionEvent
			from, to string
			n        uint64
		)
		if err := rows.Scan(&ev.At, &ev.HypothesisID, &ev.Symbol, &from, &to, &ev.Reason, &n, &ev.Mean, &ev.HitRate); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		ev.From = models.Status(from)
		ev.To = models.Status(to)
		ev.N = int64(n)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) StoreBatch(ctx context.Context, obs []*models.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	const chunkSize = 2000
	for start := 0; start < len(obs); start += chunkSize {
		end := start + chunkSize
		if end > len(obs) {
			end = len(obs)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*7)
		for _, o := range obs[start:end] {
			if o == nil || o.Symbol == "" || o.Timestamp.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, o.Timestamp, o.Symbol, o.Open, o.High, o.Low, o.Close, o.Volume)
		}
		if len(values) == 0 {
			continue
		}
		q := "INSERT INTO edgelab.bars (ts, symbol, open, high, low, close, volume) VALUES " + strings.Join(values, ",")
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("store bars: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseStore) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Observation, error) {
	if limit <= 0 {
		limit = 1000
	}
	const q = `
		SELECT ts, symbol, open, high, low, close, volume
		FROM edgelab.bars
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, q, symbol, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	tmp := make([]*models.Observation, 0, limit)
	for rows.Next() {
		var o models.Observation
		if err := rows.Scan(&o.Timestamp, &o.Symbol, &o.Open, &o.High, &o.Low, &o.Close, &o.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		tmp = append(tmp, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	// reverse to ASC
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	return tmp, nil
}

func (s *ClickHouseStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseStore) Close() error {
	return nil // pool managed by pkg client
}

// DateTime64 cannot hold Go's zero time; unset timestamps round-trip through
// the epoch instead.
func writeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return t
}

func readTime(t time.Time) time.Time {
	if t.Unix() == 0 {
		return time.Time{}
	}
	return t
}
