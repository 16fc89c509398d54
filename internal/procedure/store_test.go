package procedure

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/athenamind/athena/internal/envelope"
	"github.com/athenamind/athena/internal/eventlog"
	"github.com/athenamind/athena/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *eventlog.Store) {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "procedures.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	events := eventlog.New(db.Writer(), db.Reader())
	return New(db.Writer(), db.Reader(), events), events
}

func insertEvent(t *testing.T, events *eventlog.Store, desc, eventType string) eventlog.Event {
	t.Helper()
	ev, err := events.Insert(context.Background(), eventlog.Draft{
		Timestamp:   time.Now(),
		SessionID:   "s1",
		EventType:   eventType,
		Description: desc,
		Outcome:     eventlog.OutcomeSuccess,
	}, "fp-"+desc, 1.0)
	if err != nil {
		t.Fatalf("insert event: %v", err)
	}
	return ev
}

func TestExtractFromEventsBuildsOrderedSteps(t *testing.T) {
	store, events := newTestStore(t)
	ctx := context.Background()

	e1 := insertEvent(t, events, "clone repo", "git")
	e2 := insertEvent(t, events, "run migrations", "db")

	draft, err := store.ExtractFromEvents(ctx, []uint64{e1.ID, e2.ID}, "deploy")
	if err != nil {
		t.Fatalf("extract_from_events: %v", err)
	}
	if len(draft.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(draft.Steps))
	}
	if draft.Steps[0].Action != "clone repo" || draft.Steps[1].Action != "run migrations" {
		t.Fatalf("steps not in event order: %+v", draft.Steps)
	}
}

func TestSaveVersionAndListRoundtrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	draft := Draft{Name: "deploy service", Category: "ops", Steps: []Step{{Order: 1, Action: "build"}}}
	id, err := store.SaveVersion(ctx, draft, "")
	if err != nil {
		t.Fatalf("save_version: %v", err)
	}

	list, err := store.List(ctx, "ops", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != id {
		t.Fatalf("expected listed procedure %s, got %+v", id, list)
	}
	if list[0].Version != 1 {
		t.Fatalf("expected version 1, got %d", list[0].Version)
	}
	if list[0].Effectiveness != 0.5 {
		t.Fatalf("expected prior effectiveness 0.5 with no executions, got %f", list[0].Effectiveness)
	}
}

func TestSaveVersionAppendsNewVersionKeepingPredecessor(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.SaveVersion(ctx, Draft{Name: "deploy", Category: "ops", Steps: []Step{{Order: 1, Action: "build"}}}, "")
	if err != nil {
		t.Fatalf("save_version v1: %v", err)
	}

	_, err = store.SaveVersion(ctx, Draft{Name: "deploy", Category: "ops", Steps: []Step{{Order: 1, Action: "build"}, {Order: 2, Action: "test"}}}, id)
	if err != nil {
		t.Fatalf("save_version v2: %v", err)
	}

	list, err := store.List(ctx, "ops", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected a single procedure row (latest version only), got %d", len(list))
	}
	if list[0].Version != 2 {
		t.Fatalf("expected current version 2, got %d", list[0].Version)
	}
	if list[0].PredecessorVersion == nil || *list[0].PredecessorVersion != 1 {
		t.Fatalf("expected predecessor version 1, got %+v", list[0].PredecessorVersion)
	}
}

func TestRecordExecutionUpdatesEffectiveness(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, _ := store.SaveVersion(ctx, Draft{Name: "deploy", Category: "ops", Steps: []Step{{Order: 1, Action: "build"}}}, "")

	eff, err := store.RecordExecution(ctx, id, true)
	if err != nil {
		t.Fatalf("record_execution: %v", err)
	}
	// (1 + 1) / (1 + 1 + 1) = 2/3
	want := float32(2.0 / 3.0)
	if diff := eff - want; diff > 1e-4 || diff < -1e-4 {
		t.Fatalf("effectiveness = %f, want %f", eff, want)
	}

	eff2, err := store.RecordExecution(ctx, id, false)
	if err != nil {
		t.Fatalf("record_execution: %v", err)
	}
	if eff2 >= eff {
		t.Fatalf("expected effectiveness to drop after a failure: %f -> %f", eff, eff2)
	}
}

func TestRollbackRestoresPredecessor(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, _ := store.SaveVersion(ctx, Draft{Name: "deploy", Category: "ops", Steps: []Step{{Order: 1, Action: "build"}}}, "")
	_, err := store.SaveVersion(ctx, Draft{Name: "deploy", Category: "ops", Steps: []Step{{Order: 1, Action: "build"}, {Order: 2, Action: "test"}}}, id)
	if err != nil {
		t.Fatalf("save_version v2: %v", err)
	}

	version, ok, err := store.Rollback(ctx, id)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if !ok || version != 1 {
		t.Fatalf("expected rollback to version 1, got version=%d ok=%v", version, ok)
	}

	_, ok, err = store.Rollback(ctx, id)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if ok {
		t.Fatalf("expected rollback from version 1 (no predecessor) to report ok=false")
	}
}

func TestSaveVersionRejectsEmptyDraft(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.SaveVersion(ctx, Draft{}, "")
	if envelope.KindOf(err) != envelope.KindInvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}
