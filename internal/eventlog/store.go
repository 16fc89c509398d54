package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/athenamind/athena/internal/envelope"
)

// Store is the C1 event log backed by the shared relational substrate.
type Store struct {
	writer *sql.DB
	reader *sql.DB
}

// New creates an event log store over the given writer/reader handles.
func New(writer, reader *sql.DB) *Store {
	return &Store{writer: writer, reader: reader}
}

// Insert appends a fully-formed event (fingerprint and novelty already
// computed by the write pipeline) and assigns it a monotonic id. Insert is
// atomic: a failure leaves no partial row.
func (s *Store) Insert(ctx context.Context, d Draft, fingerprint string, novelty float32) (Event, error) {
	argsJSON, err := json.Marshal(d.Context.Arguments)
	if err != nil {
		return Event{}, envelope.Wrap(envelope.KindInvalidInput, "marshal context arguments", err)
	}

	res, err := s.writer.ExecContext(ctx, `
		INSERT INTO events (timestamp_us, session_id, event_type, description, ctx_file, ctx_line, ctx_function, ctx_module, ctx_arguments, outcome, fingerprint, novelty)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Timestamp.UnixMicro(), d.SessionID, d.EventType, d.Description,
		d.Context.File, d.Context.Line, d.Context.Function, d.Context.Module, string(argsJSON),
		string(d.Outcome), fingerprint, novelty,
	)
	if err != nil {
		return Event{}, envelope.Wrap(envelope.KindInternal, "insert event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Event{}, envelope.Wrap(envelope.KindInternal, "read inserted event id", err)
	}

	return Event{
		ID:          uint64(id),
		Timestamp:   d.Timestamp,
		SessionID:   d.SessionID,
		EventType:   d.EventType,
		Description: d.Description,
		Context:     d.Context,
		Outcome:     d.Outcome,
		Fingerprint: fingerprint,
		Novelty:     novelty,
	}, nil
}

// FindByFingerprint returns the most recent event with the given
// fingerprint inserted at or after `since`, used by the write pipeline's
// dedup window check. ok is false if no such event exists.
func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string, since time.Time) (Event, bool, error) {
	row := s.reader.QueryRowContext(ctx, `
		SELECT id, timestamp_us, session_id, event_type, description, ctx_file, ctx_line, ctx_function, ctx_module, ctx_arguments, outcome, fingerprint, novelty
		FROM events
		WHERE fingerprint = ? AND timestamp_us >= ?
		ORDER BY timestamp_us DESC LIMIT 1`,
		fingerprint, since.UnixMicro(),
	)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, envelope.Wrap(envelope.KindInternal, "query fingerprint", err)
	}
	return ev, true, nil
}

// RangeQuery returns events within [from, to] ordered by timestamp
// ascending, optionally filtered by session or event type.
func (s *Store) RangeQuery(ctx context.Context, from, to time.Time, filters Filters) ([]Event, error) {
	query := `SELECT id, timestamp_us, session_id, event_type, description, ctx_file, ctx_line, ctx_function, ctx_module, ctx_arguments, outcome, fingerprint, novelty
		FROM events WHERE timestamp_us BETWEEN ? AND ?`
	args := []any{from.UnixMicro(), to.UnixMicro()}
	if filters.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filters.SessionID)
	}
	if filters.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, filters.EventType)
	}
	query += " ORDER BY timestamp_us ASC, id ASC"

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, envelope.Wrap(envelope.KindInternal, "range query", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// QueryBySession returns all events for a session, in insertion (id) order —
// within a single session, events are totally ordered by insertion order.
func (s *Store) QueryBySession(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, timestamp_us, session_id, event_type, description, ctx_file, ctx_line, ctx_function, ctx_module, ctx_arguments, outcome, fingerprint, novelty
		FROM events WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, envelope.Wrap(envelope.KindInternal, "query by session", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// RecentDescriptions returns up to n of the most recently inserted
// descriptions, used by the write pipeline's novelty scoring ring.
func (s *Store) RecentDescriptions(ctx context.Context, n int) ([]string, error) {
	rows, err := s.reader.QueryContext(ctx, `SELECT description FROM events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, envelope.Wrap(envelope.KindInternal, "recent descriptions", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ByIDs returns the events matching the given ids, in the order the ids
// were given (missing ids are simply omitted, not an error) — used by the
// consolidator and procedure extraction to fetch a specific event set.
func (s *Store) ByIDs(ctx context.Context, ids []uint64) ([]Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `SELECT id, timestamp_us, session_id, event_type, description, ctx_file, ctx_line, ctx_function, ctx_module, ctx_arguments, outcome, fingerprint, novelty
		FROM events WHERE id IN (` + joinPlaceholders(placeholders) + `)`
	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, envelope.Wrap(envelope.KindInternal, "query events by id", err)
	}
	defer rows.Close()
	fetched, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[uint64]Event, len(fetched))
	for _, ev := range fetched {
		byID[ev.ID] = ev
	}
	ordered := make([]Event, 0, len(ids))
	for _, id := range ids {
		if ev, ok := byID[id]; ok {
			ordered = append(ordered, ev)
		}
	}
	return ordered, nil
}

func joinPlaceholders(ph []string) string {
	out := ph[0]
	for _, p := range ph[1:] {
		out += "," + p
	}
	return out
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEvent(row scannable) (Event, error) {
	var (
		ev        Event
		tsUS      int64
		ctxFile   sql.NullString
		ctxLine   sql.NullInt64
		ctxFunc   sql.NullString
		ctxModule sql.NullString
		ctxArgs   string
		outcome   string
	)
	if err := row.Scan(&ev.ID, &tsUS, &ev.SessionID, &ev.EventType, &ev.Description,
		&ctxFile, &ctxLine, &ctxFunc, &ctxModule, &ctxArgs, &outcome, &ev.Fingerprint, &ev.Novelty); err != nil {
		return Event{}, err
	}
	ev.Timestamp = time.UnixMicro(tsUS)
	ev.Outcome = Outcome(outcome)
	ev.Context = Context{
		File:     ctxFile.String,
		Line:     int(ctxLine.Int64),
		Function: ctxFunc.String,
		Module:   ctxModule.String,
	}
	if ctxArgs != "" && ctxArgs != "null" {
		_ = json.Unmarshal([]byte(ctxArgs), &ev.Context.Arguments)
	}
	return ev, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
