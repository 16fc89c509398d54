package memcore

import (
	"context"
	"testing"
	"time"

	"github.com/athenamind/athena/internal/envelope"
	"github.com/athenamind/athena/internal/eventlog"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	cfg := LoadConfig()
	cfg.SQLitePath = ":memory:"
	cfg.QdrantAddr = ""
	cfg.NATSURL = ""
	cfg.EmbedEndpoint = ""
	cfg.ValidateEndpoint = ""

	core, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open core: %v", err)
	}
	t.Cleanup(func() { core.Close(context.Background()) })
	return core
}

func TestRememberThenRecallFindsFact(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	env, err := core.Remember(ctx, RememberRequest{Content: "deploys happen on Fridays", Domain: "ops"})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if env.Status != envelope.StatusOK {
		t.Fatalf("expected ok status, got %s", env.Status)
	}

	res, err := core.Recall(ctx, RecallRequest{Query: "deploys happen on Fridays", K: 5, Filters: map[string]string{"layer": "C2"}})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(res.Data.Items) == 0 {
		t.Fatalf("expected recall to find the just-stored fact")
	}
}

func TestRememberRejectsEmptyContent(t *testing.T) {
	core := newTestCore(t)
	_, err := core.Remember(context.Background(), RememberRequest{Domain: "ops"})
	if envelope.KindOf(err) != envelope.KindInvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestEpisodicRecordsEvent(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	draft := eventlog.Draft{
		Timestamp:   time.Now(),
		SessionID:   "sess-1",
		EventType:   "deploy",
		Description: "deployed service A",
		Outcome:     eventlog.OutcomeSuccess,
	}
	env, err := core.Episodic(ctx, EpisodicRequest{Draft: draft})
	if err != nil {
		t.Fatalf("episodic: %v", err)
	}
	if env.Data.Description != "deployed service A" {
		t.Fatalf("unexpected event description: %q", env.Data.Description)
	}
}

func TestConsolidateOnEmptyWindowIsNoop(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	now := time.Now()
	env, err := core.Consolidate(ctx, ConsolidateRequest{Domain: "ops", From: now.Add(-time.Hour), To: now})
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if env.Data.FactsWritten != 0 {
		t.Fatalf("expected no facts written for an empty window, got %d", env.Data.FactsWritten)
	}
}

func TestRecallRejectsEmptyQuery(t *testing.T) {
	core := newTestCore(t)
	_, err := core.Recall(context.Background(), RecallRequest{})
	if envelope.KindOf(err) != envelope.KindInvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}
