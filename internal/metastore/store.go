package metastore

import (
	"context"
	"database/sql"
	"time"

	"github.com/athenamind/athena/internal/envelope"
)

// Store is the C6 meta store, backed by the shared relational substrate.
// It owns no other layer's data; it is a pure aggregation sink the
// consolidator and operational callers write quality metrics into.
type Store struct {
	writer *sql.DB
	reader *sql.DB
	now    func() time.Time
}

// New creates a meta store.
func New(writer, reader *sql.DB) *Store {
	return &Store{writer: writer, reader: reader, now: time.Now}
}

// Record appends a single metric observation. Meta metrics are append-only
// counters, not mutated rows, so Summary can recompute aggregates over any
// time window without losing history.
func (s *Store) Record(ctx context.Context, layer, domain, metric string, value float64) error {
	if layer == "" || domain == "" || metric == "" {
		return envelope.New(envelope.KindInvalidInput, "layer, domain, and metric are required")
	}
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO meta_metrics (layer, domain, metric, value, updated_at) VALUES (?, ?, ?, ?, ?)`,
		layer, domain, metric, value, s.now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return envelope.Wrap(envelope.KindInternal, "record meta metric", err)
	}
	return nil
}

// Summary returns the mean and observation count per (layer, domain,
// metric) triple matching filters.
func (s *Store) Summary(ctx context.Context, f Filters) ([]Aggregate, error) {
	query := `SELECT layer, domain, metric, AVG(value), COUNT(*) FROM meta_metrics WHERE 1=1`
	var args []any
	if f.Layer != "" {
		query += " AND layer = ?"
		args = append(args, f.Layer)
	}
	if f.Domain != "" {
		query += " AND domain = ?"
		args = append(args, f.Domain)
	}
	if !f.Since.IsZero() {
		query += " AND updated_at >= ?"
		args = append(args, f.Since.Format(time.RFC3339Nano))
	}
	query += " GROUP BY layer, domain, metric ORDER BY layer, domain, metric"

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, envelope.Wrap(envelope.KindInternal, "summarize meta metrics", err)
	}
	defer rows.Close()

	var out []Aggregate
	for rows.Next() {
		var a Aggregate
		if err := rows.Scan(&a.Layer, &a.Domain, &a.Metric, &a.Mean, &a.Count); err != nil {
			return nil, envelope.Wrap(envelope.KindInternal, "scan meta aggregate", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Latest returns the single most recent value recorded for (layer, domain,
// metric), or ok=false if none exists.
func (s *Store) Latest(ctx context.Context, layer, domain, metric string) (float64, bool, error) {
	var v float64
	err := s.reader.QueryRowContext(ctx, `
		SELECT value FROM meta_metrics WHERE layer = ? AND domain = ? AND metric = ? ORDER BY id DESC LIMIT 1`,
		layer, domain, metric,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, envelope.Wrap(envelope.KindInternal, "latest meta metric", err)
	}
	return v, true, nil
}
