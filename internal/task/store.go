package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/athenamind/athena/internal/envelope"
	"github.com/google/uuid"
)

// Store is the C4 task store, backed by the shared relational substrate.
type Store struct {
	writer *sql.DB
	reader *sql.DB
	now    func() time.Time
}

// New creates a task store.
func New(writer, reader *sql.DB) *Store {
	return &Store{writer: writer, reader: reader, now: time.Now}
}

// Create inserts a task in StatusPending, rejecting it if any declared
// dependency does not exist or if the dependency set would introduce a
// cycle (checked by DFS over the existing dependency graph).
func (s *Store) Create(ctx context.Context, d Draft) (Task, error) {
	if d.Title == "" {
		return Task{}, envelope.New(envelope.KindInvalidInput, "title is required")
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}

	id := uuid.NewString()
	if len(d.Dependencies) > 0 {
		cyclic, err := s.wouldCycle(ctx, id, d.Dependencies)
		if err != nil {
			return Task{}, err
		}
		if cyclic {
			return Task{}, envelope.New(envelope.KindInvalidInput, "dependency set introduces a cycle")
		}
	}

	t := Task{
		ID:           id,
		Title:        d.Title,
		Status:       StatusPending,
		Priority:     d.Priority,
		CreatedAt:    s.now(),
		Deadline:     d.Deadline,
		Triggers:     d.Triggers,
		Dependencies: d.Dependencies,
	}

	depsJSON, _ := json.Marshal(t.Dependencies)

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, envelope.Wrap(envelope.KindInternal, "begin create tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, title, status, priority, created_at, deadline, completed_at, dependencies)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?)`,
		t.ID, t.Title, string(t.Status), string(t.Priority), formatTime(t.CreatedAt), formatTimePtr(t.Deadline), string(depsJSON),
	)
	if err != nil {
		return Task{}, envelope.Wrap(envelope.KindInternal, "insert task", err)
	}

	for _, tr := range t.Triggers {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_triggers (task_id, kind, predicate) VALUES (?, ?, ?)`, t.ID, string(tr.Kind), tr.Predicate); err != nil {
			return Task{}, envelope.Wrap(envelope.KindInternal, "insert task trigger", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Task{}, envelope.Wrap(envelope.KindInternal, "commit create task", err)
	}
	return t, nil
}

// Get fetches a task by id.
func (s *Store) Get(ctx context.Context, id string) (Task, error) {
	row := s.reader.QueryRowContext(ctx, `
		SELECT id, title, status, priority, created_at, deadline, completed_at, dependencies FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, envelope.New(envelope.KindNotFound, "task not found: "+id)
	}
	if err != nil {
		return Task{}, envelope.Wrap(envelope.KindInternal, "scan task", err)
	}
	t.Triggers, err = s.triggersFor(ctx, id)
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

// List returns tasks matching filters, ordered by creation time.
func (s *Store) List(ctx context.Context, f Filters) ([]Task, error) {
	query := `SELECT id, title, status, priority, created_at, deadline, completed_at, dependencies FROM tasks WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.Priority != "" {
		query += " AND priority = ?"
		args = append(args, string(f.Priority))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, envelope.Wrap(envelope.KindInternal, "list tasks", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		t.Triggers, err = s.triggersFor(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Update replaces a task's title, priority, deadline, dependencies, and
// triggers in place, re-running the DFS cycle check against the resulting
// dependency graph whenever Dependencies changes. Status, CreatedAt, and
// CompletedAt are not settable here; use Transition for status changes.
func (s *Store) Update(ctx context.Context, id string, patch Task) (Task, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if patch.Title == "" {
		return Task{}, envelope.New(envelope.KindInvalidInput, "title is required")
	}
	if patch.Priority == "" {
		patch.Priority = PriorityMedium
	}

	cyclic, err := s.wouldCycle(ctx, id, patch.Dependencies)
	if err != nil {
		return Task{}, err
	}
	if cyclic {
		return Task{}, envelope.New(envelope.KindInvalidInput, "dependency set introduces a cycle")
	}

	depsJSON, _ := json.Marshal(patch.Dependencies)

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, envelope.Wrap(envelope.KindInternal, "begin update tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET title = ?, priority = ?, deadline = ?, dependencies = ? WHERE id = ?`,
		patch.Title, string(patch.Priority), formatTimePtr(patch.Deadline), string(depsJSON), id,
	)
	if err != nil {
		return Task{}, envelope.Wrap(envelope.KindInternal, "update task", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_triggers WHERE task_id = ?`, id); err != nil {
		return Task{}, envelope.Wrap(envelope.KindInternal, "clear task triggers", err)
	}
	for _, tr := range patch.Triggers {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_triggers (task_id, kind, predicate) VALUES (?, ?, ?)`, id, string(tr.Kind), tr.Predicate); err != nil {
			return Task{}, envelope.Wrap(envelope.KindInternal, "insert task trigger", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Task{}, envelope.Wrap(envelope.KindInternal, "commit update task", err)
	}

	existing.Title = patch.Title
	existing.Priority = patch.Priority
	existing.Deadline = patch.Deadline
	existing.Dependencies = patch.Dependencies
	existing.Triggers = patch.Triggers
	return existing, nil
}

// Delete removes a task and its triggers. Other tasks that declared it as
// a dependency are left with a dangling reference, tolerated the same way
// facts tolerate a purged source event: callers resolve a missing
// dependency id as satisfied-or-absent rather than dereferencing it.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.writer.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return envelope.Wrap(envelope.KindInternal, "delete task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return envelope.Wrap(envelope.KindInternal, "delete task rows affected", err)
	}
	if n == 0 {
		return envelope.New(envelope.KindNotFound, "task not found: "+id)
	}
	if _, err := s.writer.ExecContext(ctx, `DELETE FROM task_triggers WHERE task_id = ?`, id); err != nil {
		return envelope.Wrap(envelope.KindInternal, "delete task triggers", err)
	}
	return nil
}

// Transition moves a task to a new status, enforcing the lifecycle state
// machine: pending -> active -> {completed, cancelled, blocked};
// blocked -> active; completed and cancelled are terminal.
func (s *Store) Transition(ctx context.Context, id string, to Status) (Task, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if t.Status == to {
		return t, nil
	}
	if !legalTransition(t.Status, to) {
		return Task{}, envelope.New(envelope.KindInvalidInput, "illegal transition "+string(t.Status)+" -> "+string(to))
	}

	var completedAt *time.Time
	if to == StatusCompleted {
		now := s.now()
		completedAt = &now
	}

	_, err = s.writer.ExecContext(ctx, `UPDATE tasks SET status = ?, completed_at = ? WHERE id = ?`,
		string(to), formatTimePtr(completedAt), id)
	if err != nil {
		return Task{}, envelope.Wrap(envelope.KindInternal, "update task status", err)
	}

	t.Status = to
	t.CompletedAt = completedAt
	return t, nil
}

// ActivateDue transitions pending/blocked tasks with a time trigger whose
// predicate (an RFC3339 timestamp) is at or before now into StatusActive.
func (s *Store) ActivateDue(ctx context.Context, now time.Time) ([]Task, error) {
	candidates, err := s.pendingOrBlockedWithTrigger(ctx, TriggerTime)
	if err != nil {
		return nil, err
	}

	var activated []Task
	for _, t := range candidates {
		for _, tr := range t.Triggers {
			if tr.Kind != TriggerTime {
				continue
			}
			due, err := time.Parse(time.RFC3339, tr.Predicate)
			if err != nil || due.After(now) {
				continue
			}
			updated, err := s.Transition(ctx, t.ID, StatusActive)
			if err != nil {
				return nil, err
			}
			activated = append(activated, updated)
			break
		}
	}
	return activated, nil
}

// NotifyEvent transitions pending/blocked tasks whose event trigger
// predicate matches eventType into StatusActive.
func (s *Store) NotifyEvent(ctx context.Context, eventType string) ([]Task, error) {
	candidates, err := s.pendingOrBlockedWithTrigger(ctx, TriggerEvent)
	if err != nil {
		return nil, err
	}

	var activated []Task
	for _, t := range candidates {
		for _, tr := range t.Triggers {
			if tr.Kind != TriggerEvent || tr.Predicate != eventType {
				continue
			}
			updated, err := s.Transition(ctx, t.ID, StatusActive)
			if err != nil {
				return nil, err
			}
			activated = append(activated, updated)
			break
		}
	}
	return activated, nil
}

func (s *Store) pendingOrBlockedWithTrigger(ctx context.Context, kind TriggerKind) ([]Task, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT DISTINCT t.id, t.title, t.status, t.priority, t.created_at, t.deadline, t.completed_at, t.dependencies
		FROM tasks t JOIN task_triggers tt ON tt.task_id = t.id
		WHERE tt.kind = ? AND t.status IN (?, ?)`,
		string(kind), string(StatusPending), string(StatusBlocked))
	if err != nil {
		return nil, envelope.Wrap(envelope.KindInternal, "query triggerable tasks", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		t.Triggers, err = s.triggersFor(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) triggersFor(ctx context.Context, taskID string) ([]Trigger, error) {
	rows, err := s.reader.QueryContext(ctx, `SELECT kind, predicate FROM task_triggers WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, envelope.Wrap(envelope.KindInternal, "query task triggers", err)
	}
	defer rows.Close()
	var out []Trigger
	for rows.Next() {
		var tr Trigger
		if err := rows.Scan(&tr.Kind, &tr.Predicate); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// wouldCycle reports whether setting taskID's dependency set to newDeps
// would create a cycle in the dependency graph, via DFS from each proposed
// dependency looking for a path back to taskID. taskID's existing edges
// (if any, e.g. on Update) are replaced rather than appended to, so a
// dependency being dropped can't itself cause a false-positive cycle.
func (s *Store) wouldCycle(ctx context.Context, taskID string, newDeps []string) (bool, error) {
	graph, err := s.loadDependencyGraph(ctx)
	if err != nil {
		return false, err
	}
	graph[taskID] = newDeps

	visited := make(map[string]bool)
	var dfs func(node string) bool
	dfs = func(node string) bool {
		if node == taskID {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true
		for _, next := range graph[node] {
			if dfs(next) {
				return true
			}
		}
		return false
	}

	for _, dep := range newDeps {
		visited = make(map[string]bool)
		visited[taskID] = true // prevent walking back through taskID's own just-added edges
		for _, next := range graph[dep] {
			if dfs(next) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *Store) loadDependencyGraph(ctx context.Context) (map[string][]string, error) {
	rows, err := s.reader.QueryContext(ctx, `SELECT id, dependencies FROM tasks`)
	if err != nil {
		return nil, envelope.Wrap(envelope.KindInternal, "load dependency graph", err)
	}
	defer rows.Close()

	graph := make(map[string][]string)
	for rows.Next() {
		var id, depsJSON string
		if err := rows.Scan(&id, &depsJSON); err != nil {
			return nil, err
		}
		var deps []string
		_ = json.Unmarshal([]byte(depsJSON), &deps)
		graph[id] = deps
	}
	return graph, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (Task, error) {
	var (
		t           Task
		status      string
		priority    string
		createdAt   string
		deadline    sql.NullString
		completedAt sql.NullString
		depsJSON    string
	)
	if err := row.Scan(&t.ID, &t.Title, &status, &priority, &createdAt, &deadline, &completedAt, &depsJSON); err != nil {
		return Task{}, err
	}
	t.Status = Status(status)
	t.Priority = Priority(priority)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if deadline.Valid {
		d, _ := time.Parse(time.RFC3339Nano, deadline.String)
		t.Deadline = &d
	}
	if completedAt.Valid {
		c, _ := time.Parse(time.RFC3339Nano, completedAt.String)
		t.CompletedAt = &c
	}
	_ = json.Unmarshal([]byte(depsJSON), &t.Dependencies)
	return t, nil
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}
