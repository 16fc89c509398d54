// Package task implements C4, tasks and goals with lifecycle state,
// dependency DAGs, and time/event/file trigger predicates.
package task

import "time"

// Status is a task's lifecycle state. The legal transitions are
// pending -> active -> {completed, cancelled, blocked} and
// blocked -> active; completed and cancelled are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusBlocked   Status = "blocked"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Priority ranks a task's urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// TriggerKind classifies what a task trigger watches.
type TriggerKind string

const (
	TriggerTime  TriggerKind = "time"
	TriggerEvent TriggerKind = "event"
	TriggerFile  TriggerKind = "file"
)

// Trigger fires a task out of a blocked/pending state when its predicate
// matches; the predicate's syntax is trigger-kind specific (an RFC3339
// timestamp for time, an event_type for event, a glob for file).
type Trigger struct {
	Kind      TriggerKind
	Predicate string
}

// Task is a goal with lifecycle state, optional deadline, and dependency
// set. Invariant: Status == StatusCompleted implies CompletedAt != nil.
type Task struct {
	ID           string
	Title        string
	Status       Status
	Priority     Priority
	CreatedAt    time.Time
	Deadline     *time.Time
	CompletedAt  *time.Time
	Triggers     []Trigger
	Dependencies []string
}

// Draft is a caller-supplied task before id/created_at assignment.
type Draft struct {
	Title        string
	Priority     Priority
	Deadline     *time.Time
	Triggers     []Trigger
	Dependencies []string
}

// Filters narrows a task list query.
type Filters struct {
	Status   Status
	Priority Priority
}

func legalTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusActive
	case StatusActive:
		return to == StatusCompleted || to == StatusCancelled || to == StatusBlocked
	case StatusBlocked:
		return to == StatusActive
	default: // completed, cancelled: terminal
		return false
	}
}
