package procedure

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/athenamind/athena/internal/envelope"
	"github.com/athenamind/athena/internal/eventlog"
	"github.com/google/uuid"
)

// Store is the C3 procedure store: versioned workflows with Bayesian-
// smoothed effectiveness counters, backed by the shared relational
// substrate.
type Store struct {
	writer *sql.DB
	reader *sql.DB
	events *eventlog.Store
	now    func() time.Time
}

// New creates a procedure store. events is used only by ExtractFromEvents
// to read the event descriptions a draft is built from.
func New(writer, reader *sql.DB, events *eventlog.Store) *Store {
	return &Store{writer: writer, reader: reader, events: events, now: time.Now}
}

// ExtractFromEvents builds a procedure draft from an ordered event
// sequence: each event becomes a step whose action is the event's
// description and whose tool is its event type, with the event's outcome
// feeding the step's on_failure hint. This is a
// coarse first pass; the consolidator's refinement (clustering,
// coherence scoring) happens upstream of this call.
func (s *Store) ExtractFromEvents(ctx context.Context, eventIDs []uint64, category string) (Draft, error) {
	if len(eventIDs) == 0 {
		return Draft{}, envelope.New(envelope.KindInvalidInput, "extract_from_events requires at least one event id")
	}
	evs, err := s.events.ByIDs(ctx, eventIDs)
	if err != nil {
		return Draft{}, err
	}
	if len(evs) == 0 {
		return Draft{}, envelope.New(envelope.KindNotFound, "none of the given event ids were found")
	}

	steps := make([]Step, 0, len(evs))
	for i, ev := range evs {
		onFailure := ""
		if ev.Outcome == eventlog.OutcomeFailure {
			onFailure = "retry or escalate"
		}
		steps = append(steps, Step{
			Order:     i + 1,
			Action:    ev.Description,
			Tool:      ev.EventType,
			Expected:  string(eventlog.OutcomeSuccess),
			OnFailure: onFailure,
		})
	}

	return Draft{
		Name:             fmt.Sprintf("procedure from %d events", len(evs)),
		Category:         category,
		ContextPredicate: evs[0].Context.Module,
		Steps:            steps,
	}, nil
}

// SaveVersion persists draft as a new version. If predecessorID names an
// existing procedure, the draft becomes the next version of it (version =
// predecessor's current version + 1); otherwise a new procedure is
// created at version 1.
func (s *Store) SaveVersion(ctx context.Context, draft Draft, predecessorID string) (string, error) {
	if draft.Name == "" || draft.Category == "" || len(draft.Steps) == 0 {
		return "", envelope.New(envelope.KindInvalidInput, "name, category, and at least one step are required")
	}

	stepsJSON, err := json.Marshal(draft.Steps)
	if err != nil {
		return "", envelope.Wrap(envelope.KindInternal, "marshal steps", err)
	}

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return "", envelope.Wrap(envelope.KindInternal, "begin save_version tx", err)
	}
	defer tx.Rollback()

	var (
		procedureID        string
		version             uint32 = 1
		predecessorVersion *uint32
	)

	if predecessorID != "" {
		var currentVersion uint32
		err := tx.QueryRowContext(ctx, `SELECT id, current_version FROM procedures WHERE id = ?`, predecessorID).Scan(&procedureID, &currentVersion)
		if err == sql.ErrNoRows {
			return "", envelope.New(envelope.KindNotFound, "predecessor procedure not found: "+predecessorID)
		}
		if err != nil {
			return "", envelope.Wrap(envelope.KindInternal, "lookup predecessor", err)
		}
		version = currentVersion + 1
		predecessorVersion = &currentVersion

		if _, err := tx.ExecContext(ctx, `UPDATE procedures SET current_version = ? WHERE id = ?`, version, procedureID); err != nil {
			return "", envelope.Wrap(envelope.KindInternal, "bump current_version", err)
		}
	} else {
		procedureID = uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO procedures (id, name, category, context_predicate, current_version) VALUES (?, ?, ?, ?, ?)`,
			procedureID, draft.Name, draft.Category, draft.ContextPredicate, version,
		); err != nil {
			return "", envelope.Wrap(envelope.KindInternal, "insert procedure", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO procedure_versions (procedure_id, version, predecessor_version, steps, effectiveness, executions, successes, created_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?)`,
		procedureID, version, predecessorVersion, string(stepsJSON), effectiveness(0, 0), s.now().Format(time.RFC3339Nano),
	); err != nil {
		return "", envelope.Wrap(envelope.KindInternal, "insert procedure_version", err)
	}

	if err := tx.Commit(); err != nil {
		return "", envelope.Wrap(envelope.KindInternal, "commit save_version", err)
	}
	return procedureID, nil
}

// List returns the current version of every procedure, optionally filtered
// by category and a minimum effectiveness.
func (s *Store) List(ctx context.Context, category string, minEffectiveness *float32) ([]Procedure, error) {
	query := `
		SELECT p.id, p.name, p.category, p.context_predicate, v.version, v.predecessor_version, v.steps, v.effectiveness, v.executions, v.successes, v.created_at
		FROM procedures p
		JOIN procedure_versions v ON v.procedure_id = p.id AND v.version = p.current_version
		WHERE 1=1`
	var args []any
	if category != "" {
		query += " AND p.category = ?"
		args = append(args, category)
	}
	if minEffectiveness != nil {
		query += " AND v.effectiveness >= ?"
		args = append(args, *minEffectiveness)
	}
	query += " ORDER BY p.id ASC"

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, envelope.Wrap(envelope.KindInternal, "list procedures", err)
	}
	defer rows.Close()

	var out []Procedure
	for rows.Next() {
		p, err := scanProcedure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordExecution updates a procedure's (successes, executions) counters
// and recomputes its Bayesian-smoothed effectiveness.
func (s *Store) RecordExecution(ctx context.Context, procedureID string, success bool) (float32, error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, envelope.Wrap(envelope.KindInternal, "begin record_execution tx", err)
	}
	defer tx.Rollback()

	var version uint32
	if err := tx.QueryRowContext(ctx, `SELECT current_version FROM procedures WHERE id = ?`, procedureID).Scan(&version); err != nil {
		if err == sql.ErrNoRows {
			return 0, envelope.New(envelope.KindNotFound, "procedure not found: "+procedureID)
		}
		return 0, envelope.Wrap(envelope.KindInternal, "lookup procedure", err)
	}

	var executions, successes uint32
	if err := tx.QueryRowContext(ctx, `SELECT executions, successes FROM procedure_versions WHERE procedure_id = ? AND version = ?`, procedureID, version).Scan(&executions, &successes); err != nil {
		return 0, envelope.Wrap(envelope.KindInternal, "lookup counters", err)
	}

	executions++
	if success {
		successes++
	}
	newEffectiveness := effectiveness(successes, executions)

	if _, err := tx.ExecContext(ctx, `
		UPDATE procedure_versions SET executions = ?, successes = ?, effectiveness = ? WHERE procedure_id = ? AND version = ?`,
		executions, successes, newEffectiveness, procedureID, version,
	); err != nil {
		return 0, envelope.Wrap(envelope.KindInternal, "update counters", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, envelope.Wrap(envelope.KindInternal, "commit record_execution", err)
	}
	return newEffectiveness, nil
}

// Rollback points a procedure's current version back to its predecessor,
// returning the predecessor's version, or ok=false if the current version
// has no predecessor (it is the first version).
func (s *Store) Rollback(ctx context.Context, procedureID string) (version uint32, ok bool, err error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, envelope.Wrap(envelope.KindInternal, "begin rollback tx", err)
	}
	defer tx.Rollback()

	var currentVersion uint32
	if err := tx.QueryRowContext(ctx, `SELECT current_version FROM procedures WHERE id = ?`, procedureID).Scan(&currentVersion); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, envelope.New(envelope.KindNotFound, "procedure not found: "+procedureID)
		}
		return 0, false, envelope.Wrap(envelope.KindInternal, "lookup procedure", err)
	}

	var predecessorVersion sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT predecessor_version FROM procedure_versions WHERE procedure_id = ? AND version = ?`, procedureID, currentVersion).Scan(&predecessorVersion); err != nil {
		return 0, false, envelope.Wrap(envelope.KindInternal, "lookup predecessor_version", err)
	}
	if !predecessorVersion.Valid {
		return 0, false, nil
	}

	newCurrent := uint32(predecessorVersion.Int64)
	if _, err := tx.ExecContext(ctx, `UPDATE procedures SET current_version = ? WHERE id = ?`, newCurrent, procedureID); err != nil {
		return 0, false, envelope.Wrap(envelope.KindInternal, "rollback current_version", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, envelope.Wrap(envelope.KindInternal, "commit rollback", err)
	}
	return newCurrent, true, nil
}

func scanProcedure(rows *sql.Rows) (Procedure, error) {
	var (
		p                   Procedure
		predecessorVersion  sql.NullInt64
		stepsJSON           string
		createdAt           string
	)
	if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.ContextPredicate, &p.Version, &predecessorVersion, &stepsJSON, &p.Effectiveness, &p.Executions, &p.Successes, &createdAt); err != nil {
		return Procedure{}, envelope.Wrap(envelope.KindInternal, "scan procedure", err)
	}
	if predecessorVersion.Valid {
		v := uint32(predecessorVersion.Int64)
		p.PredecessorVersion = &v
	}
	if err := json.Unmarshal([]byte(stepsJSON), &p.Steps); err != nil {
		return Procedure{}, envelope.Wrap(envelope.KindInternal, "unmarshal steps", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return p, nil
}
