// Package eventbus wires NATS as the ingest transport for C10 (write
// pipeline) and as the trigger fan-out for C7 (consolidation): external
// producers publish raw event drafts, and scheduled or manual triggers
// request a consolidation run over a time window — both over plain JSON
// subjects via pkg/natsutil's typed Publish/Subscribe/Request helpers,
// trace propagation included.
package eventbus

import (
	"context"
	"log/slog"
	"time"

	"github.com/athenamind/athena/internal/consolidate"
	"github.com/athenamind/athena/internal/envelope"
	"github.com/athenamind/athena/internal/eventlog"
	"github.com/athenamind/athena/internal/writepipeline"
	"github.com/athenamind/athena/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

const (
	// SubjectIngest carries raw event drafts bound for the write pipeline.
	SubjectIngest = "athena.events.ingest"
	// SubjectConsolidateTrigger requests a consolidation run.
	SubjectConsolidateTrigger = "athena.consolidate.trigger"
	// SubjectConsolidateResult reports a completed consolidation run.
	SubjectConsolidateResult = "athena.consolidate.result"
)

// IngestMessage is the wire shape for SubjectIngest.
type IngestMessage struct {
	Draft eventlog.Draft `json:"draft"`
}

// ConsolidateTrigger is the wire shape for SubjectConsolidateTrigger.
type ConsolidateTrigger struct {
	Domain string    `json:"domain"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
}

// ConsolidateResult is the wire shape for SubjectConsolidateResult,
// reporting only the counts external subscribers need — the full
// consolidate.Result (including written fact content) stays internal.
type ConsolidateResult struct {
	Domain        string `json:"domain"`
	FactsWritten  int    `json:"facts_written"`
	ProceduresWritten int `json:"procedures_written"`
	Deferred      int    `json:"deferred"`
	Err           string `json:"err,omitempty"`
}

// Bus connects the write pipeline and consolidator to NATS subjects.
type Bus struct {
	nc           *nats.Conn
	pipeline     *writepipeline.Pipeline
	consolidator *consolidate.Engine
	log          *slog.Logger
}

// Connect dials url and returns a Bus ready to Start.
func Connect(url string, pipeline *writepipeline.Pipeline, consolidator *consolidate.Engine, log *slog.Logger) (*Bus, error) {
	if log == nil {
		log = slog.Default()
	}
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, envelope.Wrap(envelope.KindDependencyUnavailable, "connect nats "+url, err)
	}
	return &Bus{nc: nc, pipeline: pipeline, consolidator: consolidator, log: log}, nil
}

// Start subscribes the ingest and consolidation-trigger handlers. It
// returns once both subscriptions are registered; delivery continues on
// NATS's own goroutines until Close.
func (b *Bus) Start(ctx context.Context) error {
	if _, err := natsutil.Subscribe(b.nc, SubjectIngest, b.handleIngest); err != nil {
		return envelope.Wrap(envelope.KindDependencyUnavailable, "subscribe "+SubjectIngest, err)
	}
	if _, err := natsutil.Subscribe(b.nc, SubjectConsolidateTrigger, b.handleConsolidateTrigger); err != nil {
		return envelope.Wrap(envelope.KindDependencyUnavailable, "subscribe "+SubjectConsolidateTrigger, err)
	}
	return nil
}

func (b *Bus) handleIngest(ctx context.Context, msg IngestMessage) {
	if _, err := b.pipeline.RecordEvent(ctx, msg.Draft); err != nil {
		b.log.Warn("ingest rejected", "component", "eventbus", "op", "ingest", "err", err)
	}
}

func (b *Bus) handleConsolidateTrigger(ctx context.Context, msg ConsolidateTrigger) {
	start := time.Now()
	res, err := b.consolidator.Run(ctx, msg.Domain, msg.From, msg.To)
	out := ConsolidateResult{
		Domain:            msg.Domain,
		FactsWritten:      len(res.Facts),
		ProceduresWritten: len(res.Procedures),
		Deferred:          len(res.Deferred),
	}
	if err != nil {
		out.Err = err.Error()
		b.log.Error("consolidation run failed", "component", "eventbus", "op", "consolidate", "domain", msg.Domain, "err", err, "duration", time.Since(start))
	} else {
		b.log.Info("consolidation run complete", "component", "eventbus", "op", "consolidate", "domain", msg.Domain, "facts", out.FactsWritten, "duration", time.Since(start))
	}
	if pubErr := natsutil.Publish(ctx, b.nc, SubjectConsolidateResult, out); pubErr != nil {
		b.log.Warn("publish consolidate result failed", "component", "eventbus", "err", pubErr)
	}
}

// PublishIngest publishes a single event draft for asynchronous ingestion.
func (b *Bus) PublishIngest(ctx context.Context, d eventlog.Draft) error {
	return natsutil.Publish(ctx, b.nc, SubjectIngest, IngestMessage{Draft: d})
}

// TriggerConsolidation publishes a consolidation request for domain over
// [from, to].
func (b *Bus) TriggerConsolidation(ctx context.Context, domain string, from, to time.Time) error {
	return natsutil.Publish(ctx, b.nc, SubjectConsolidateTrigger, ConsolidateTrigger{Domain: domain, From: from, To: to})
}

// Close closes the NATS connection; subscriptions are not drained first.
func (b *Bus) Close() {
	b.nc.Close()
}
