package memcore

import (
	"context"
	"time"

	"github.com/athenamind/athena/internal/envelope"
	"github.com/athenamind/athena/internal/eventlog"
	"github.com/athenamind/athena/internal/graphstore"
	"github.com/athenamind/athena/internal/metastore"
	"github.com/athenamind/athena/internal/procedure"
	"github.com/athenamind/athena/internal/ratelimit"
	"github.com/athenamind/athena/internal/router"
	"github.com/athenamind/athena/internal/task"
)

// This file implements the operation-family request/response handling for
// the ten families the request surface exposes over a shared envelope.
// Each handler validates input, enforces its family's rate-limit bucket,
// calls the relevant store, and returns a classified envelope.Error on
// failure rather than a raw one — cmd/athenad's HTTP layer only needs to
// marshal what these return.

// RememberRequest is the remember operation's input: record a fact.
type RememberRequest struct {
	Content           string   `json:"content"`
	Domain            string   `json:"domain"`
	SourceEventIDs    []uint64 `json:"source_event_ids"`
	InitialConfidence float32  `json:"initial_confidence"`
}

// Remember stores a fact (C2), gated by the remember rate-limit bucket.
func (c *Core) Remember(ctx context.Context, req RememberRequest) (envelope.Envelope[factResponse], error) {
	if err := c.RateLimits.Allow(ratelimit.FamilyRemember, time.Now()); err != nil {
		return envelope.Envelope[factResponse]{}, err
	}
	if req.Content == "" {
		return envelope.Envelope[factResponse]{}, envelope.New(envelope.KindInvalidInput, "content is required")
	}
	if req.InitialConfidence <= 0 {
		req.InitialConfidence = 0.5
	}
	start := time.Now()
	f, err := c.Facts.StoreFact(ctx, req.Content, req.Domain, req.SourceEventIDs, req.InitialConfidence)
	if err != nil {
		return envelope.Envelope[factResponse]{}, err
	}
	resp := factResponse{ID: f.ID, Content: f.Content, Domain: f.Domain, Confidence: f.Confidence}
	return envelope.OK(resp, envelope.Metadata{ElapsedMS: time.Since(start).Milliseconds()}).WithConfidence(f.Confidence), nil
}

type factResponse struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Domain     string  `json:"domain"`
	Confidence float32 `json:"confidence"`
}

// EpisodicRequest is the episodic operation's input: record an event
// through the write pipeline.
type EpisodicRequest struct {
	Draft eventlog.Draft `json:"draft"`
}

// Episodic records a raw event (C1 via C10's write pipeline), gated by the
// episodic rate-limit bucket (falls back to the recall budget, per
// ratelimit.DefaultFallback).
func (c *Core) Episodic(ctx context.Context, req EpisodicRequest) (envelope.Envelope[eventlog.Event], error) {
	if err := c.RateLimits.Allow(ratelimit.FamilyEpisodic, time.Now()); err != nil {
		return envelope.Envelope[eventlog.Event]{}, err
	}
	start := time.Now()
	ev, err := c.Pipeline.RecordEvent(ctx, req.Draft)
	if err != nil {
		return envelope.Envelope[eventlog.Event]{}, err
	}
	return envelope.OK(ev, envelope.Metadata{ElapsedMS: time.Since(start).Milliseconds()}), nil
}

// RecallRequest is the recall operation's input: a cross-layer query.
type RecallRequest struct {
	Query   string            `json:"query"`
	K       int               `json:"k"`
	Cursor  string            `json:"cursor"`
	Filters map[string]string `json:"filters"`
}

// Recall dispatches a query through the router (C8), gated by the recall
// rate-limit bucket.
func (c *Core) Recall(ctx context.Context, req RecallRequest) (envelope.Envelope[router.Result], error) {
	if err := c.RateLimits.Allow(ratelimit.FamilyRecall, time.Now()); err != nil {
		return envelope.Envelope[router.Result]{}, err
	}
	if req.Query == "" {
		return envelope.Envelope[router.Result]{}, envelope.New(envelope.KindInvalidInput, "query is required")
	}
	start := time.Now()
	res, err := c.Router.Query(ctx, router.Query{Text: req.Query, K: req.K, Cursor: req.Cursor, Filters: req.Filters})
	if err != nil {
		return envelope.Envelope[router.Result]{}, err
	}
	meta := envelope.Metadata{
		ElapsedMS:      time.Since(start).Milliseconds(),
		VectorDisabled: res.VectorDisabled,
		LayerBreakdown: breakdownStrings(res.LayerBreakdown),
	}
	page := envelope.Pagination{Total: res.Total, Returned: len(res.Items), HasMore: res.HasMore, NextCursor: res.NextCursor}
	if res.Partial {
		return envelope.Partial(res, meta).WithPagination(page), nil
	}
	return envelope.OK(res, meta).WithPagination(page), nil
}

func breakdownStrings(m map[router.Layer]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

// ConsolidateRequest is the consolidate operation's input: a domain and
// time window to consolidate (C7).
type ConsolidateRequest struct {
	Domain string    `json:"domain"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
}

// Consolidate runs a consolidation pass, gated by the consolidate
// rate-limit bucket (the tightest of the named budgets).
func (c *Core) Consolidate(ctx context.Context, req ConsolidateRequest) (envelope.Envelope[consolidateResponse], error) {
	if err := c.RateLimits.Allow(ratelimit.FamilyConsolidate, time.Now()); err != nil {
		return envelope.Envelope[consolidateResponse]{}, err
	}
	if req.Domain == "" {
		return envelope.Envelope[consolidateResponse]{}, envelope.New(envelope.KindInvalidInput, "domain is required")
	}
	start := time.Now()
	res, err := c.Consolidator.Run(ctx, req.Domain, req.From, req.To)
	if err != nil {
		return envelope.Envelope[consolidateResponse]{}, err
	}
	resp := consolidateResponse{
		FactsWritten:      len(res.Facts),
		ProceduresWritten: len(res.Procedures),
		GraphEdges:        res.GraphEdges,
		Deferred:          len(res.Deferred),
		SlowPathCalls:     res.SlowPathCalls,
	}
	meta := envelope.Metadata{ElapsedMS: time.Since(start).Milliseconds(), VectorDisabled: res.VectorDisabled}
	if res.Partial || len(res.Deferred) > 0 {
		return envelope.Partial(resp, meta), nil
	}
	return envelope.OK(resp, meta), nil
}

type consolidateResponse struct {
	FactsWritten      int `json:"facts_written"`
	ProceduresWritten int `json:"procedures_written"`
	GraphEdges        int `json:"graph_edges"`
	Deferred          int `json:"deferred"`
	SlowPathCalls     int `json:"slow_path_calls"`
}

// GraphUpsertRequest is the graph operation's input: upsert an entity and
// optionally link it to an existing one.
type GraphUpsertRequest struct {
	Entity graphstore.Entity `json:"entity"`
	Edge   *graphstore.Edge  `json:"edge,omitempty"`
}

// Graph upserts an entity (and optional edge) in C5, gated by the graph
// rate-limit bucket.
func (c *Core) Graph(ctx context.Context, req GraphUpsertRequest) (envelope.Envelope[graphstore.Entity], error) {
	if err := c.RateLimits.Allow(ratelimit.FamilyGraph, time.Now()); err != nil {
		return envelope.Envelope[graphstore.Entity]{}, err
	}
	if req.Entity.Name == "" {
		return envelope.Envelope[graphstore.Entity]{}, envelope.New(envelope.KindInvalidInput, "entity.name is required")
	}
	start := time.Now()
	e, err := c.Graph.UpsertEntity(ctx, req.Entity)
	if err != nil {
		return envelope.Envelope[graphstore.Entity]{}, err
	}
	if req.Edge != nil {
		if err := c.Graph.UpsertEdge(ctx, *req.Edge); err != nil {
			return envelope.Envelope[graphstore.Entity]{}, err
		}
	}
	return envelope.OK(e, envelope.Metadata{ElapsedMS: time.Since(start).Milliseconds()}), nil
}

// PlanningRequest is the planning operation's input: create a task.
type PlanningRequest struct {
	Draft task.Draft `json:"draft"`
}

// Planning creates a task (C4), gated by the planning rate-limit bucket.
func (c *Core) Planning(ctx context.Context, req PlanningRequest) (envelope.Envelope[task.Task], error) {
	if err := c.RateLimits.Allow(ratelimit.FamilyPlanning, time.Now()); err != nil {
		return envelope.Envelope[task.Task]{}, err
	}
	start := time.Now()
	t, err := c.Tasks.Create(ctx, req.Draft)
	if err != nil {
		return envelope.Envelope[task.Task]{}, err
	}
	return envelope.OK(t, envelope.Metadata{ElapsedMS: time.Since(start).Milliseconds()}), nil
}

// PlanningUpdateRequest is the planning-update operation's input: replace
// a task's title, priority, deadline, dependencies, and triggers.
type PlanningUpdateRequest struct {
	ID    string    `json:"id"`
	Patch task.Task `json:"patch"`
}

// PlanningUpdate replaces a task's mutable fields, gated by the planning
// rate-limit bucket. Re-runs the dependency cycle check against the
// resulting graph when Patch.Dependencies changes.
func (c *Core) PlanningUpdate(ctx context.Context, req PlanningUpdateRequest) (envelope.Envelope[task.Task], error) {
	if err := c.RateLimits.Allow(ratelimit.FamilyPlanning, time.Now()); err != nil {
		return envelope.Envelope[task.Task]{}, err
	}
	start := time.Now()
	t, err := c.Tasks.Update(ctx, req.ID, req.Patch)
	if err != nil {
		return envelope.Envelope[task.Task]{}, err
	}
	return envelope.OK(t, envelope.Metadata{ElapsedMS: time.Since(start).Milliseconds()}), nil
}

// PlanningTransitionRequest is the planning-transition operation's input:
// an explicit status change, e.g. completing or cancelling a task.
type PlanningTransitionRequest struct {
	ID string `json:"id"`
	To task.Status `json:"to"`
}

// PlanningTransition moves a task to a new lifecycle status, gated by the
// planning rate-limit bucket.
func (c *Core) PlanningTransition(ctx context.Context, req PlanningTransitionRequest) (envelope.Envelope[task.Task], error) {
	if err := c.RateLimits.Allow(ratelimit.FamilyPlanning, time.Now()); err != nil {
		return envelope.Envelope[task.Task]{}, err
	}
	start := time.Now()
	t, err := c.Tasks.Transition(ctx, req.ID, req.To)
	if err != nil {
		return envelope.Envelope[task.Task]{}, err
	}
	return envelope.OK(t, envelope.Metadata{ElapsedMS: time.Since(start).Milliseconds()}), nil
}

// PlanningDeleteRequest is the planning-delete operation's input.
type PlanningDeleteRequest struct {
	ID string `json:"id"`
}

// PlanningDelete removes a task, gated by the planning rate-limit bucket.
func (c *Core) PlanningDelete(ctx context.Context, req PlanningDeleteRequest) (envelope.Envelope[planningDeleteResponse], error) {
	if err := c.RateLimits.Allow(ratelimit.FamilyPlanning, time.Now()); err != nil {
		return envelope.Envelope[planningDeleteResponse]{}, err
	}
	start := time.Now()
	if err := c.Tasks.Delete(ctx, req.ID); err != nil {
		return envelope.Envelope[planningDeleteResponse]{}, err
	}
	return envelope.OK(planningDeleteResponse{Deleted: true}, envelope.Metadata{ElapsedMS: time.Since(start).Milliseconds()}), nil
}

type planningDeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// ProceduralRequest is the procedural operation's input: save a procedure
// version.
type ProceduralRequest struct {
	Draft         procedure.Draft `json:"draft"`
	PredecessorID string          `json:"predecessor_id"`
}

// Procedural saves a procedure version (C3), gated by the procedural
// rate-limit bucket.
func (c *Core) Procedural(ctx context.Context, req ProceduralRequest) (envelope.Envelope[procedureResponse], error) {
	if err := c.RateLimits.Allow(ratelimit.FamilyProcedural, time.Now()); err != nil {
		return envelope.Envelope[procedureResponse]{}, err
	}
	if req.Draft.Name == "" {
		return envelope.Envelope[procedureResponse]{}, envelope.New(envelope.KindInvalidInput, "draft.name is required")
	}
	start := time.Now()
	id, err := c.Procedures.SaveVersion(ctx, req.Draft, req.PredecessorID)
	if err != nil {
		return envelope.Envelope[procedureResponse]{}, err
	}
	return envelope.OK(procedureResponse{ID: id}, envelope.Metadata{ElapsedMS: time.Since(start).Milliseconds()}), nil
}

type procedureResponse struct {
	ID string `json:"id"`
}

// ProspectiveRequest is the prospective operation's input: list tasks
// matching filters, the prospective-memory "what's upcoming" query.
type ProspectiveRequest struct {
	Filters task.Filters `json:"filters"`
}

// Prospective lists tasks (C4), gated by the prospective rate-limit
// bucket.
func (c *Core) Prospective(ctx context.Context, req ProspectiveRequest) (envelope.Envelope[[]task.Task], error) {
	if err := c.RateLimits.Allow(ratelimit.FamilyProspective, time.Now()); err != nil {
		return envelope.Envelope[[]task.Task]{}, err
	}
	start := time.Now()
	tasks, err := c.Tasks.List(ctx, req.Filters)
	if err != nil {
		return envelope.Envelope[[]task.Task]{}, err
	}
	return envelope.OK(tasks, envelope.Metadata{ElapsedMS: time.Since(start).Milliseconds()}), nil
}

// RAGRequest is the rag operation's input: a retrieval-augmented query,
// which is recall scoped to the fact layer (C2) only; graph entities are
// not searched.
type RAGRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

// RAG answers a retrieval query through C8 with the layer filter forced
// to facts, gated by the rag rate-limit bucket.
func (c *Core) RAG(ctx context.Context, req RAGRequest) (envelope.Envelope[router.Result], error) {
	if err := c.RateLimits.Allow(ratelimit.FamilyRAG, time.Now()); err != nil {
		return envelope.Envelope[router.Result]{}, err
	}
	if req.Query == "" {
		return envelope.Envelope[router.Result]{}, envelope.New(envelope.KindInvalidInput, "query is required")
	}
	start := time.Now()
	res, err := c.Router.Query(ctx, router.Query{Text: req.Query, K: req.K, Filters: map[string]string{"layer": string(router.LayerFact)}})
	if err != nil {
		return envelope.Envelope[router.Result]{}, err
	}
	meta := envelope.Metadata{ElapsedMS: time.Since(start).Milliseconds(), VectorDisabled: res.VectorDisabled}
	return envelope.OK(res, meta), nil
}

// CodeRequest is the code operation's input: record an event describing a
// code-authoring action, reusing the episodic pipeline under a fixed
// event type so code actions are queryable like any other episode.
type CodeRequest struct {
	SessionID   string `json:"session_id"`
	Description string `json:"description"`
	Outcome     eventlog.Outcome `json:"outcome"`
}

// Code records a code-agent action as an event, gated by the code
// rate-limit bucket.
func (c *Core) Code(ctx context.Context, req CodeRequest) (envelope.Envelope[eventlog.Event], error) {
	if err := c.RateLimits.Allow(ratelimit.FamilyCode, time.Now()); err != nil {
		return envelope.Envelope[eventlog.Event]{}, err
	}
	if req.Description == "" {
		return envelope.Envelope[eventlog.Event]{}, envelope.New(envelope.KindInvalidInput, "description is required")
	}
	draft := eventlog.Draft{
		Timestamp:   time.Now(),
		SessionID:   req.SessionID,
		EventType:   "code_action",
		Description: req.Description,
		Outcome:     req.Outcome,
	}
	start := time.Now()
	ev, err := c.Pipeline.RecordEvent(ctx, draft)
	if err != nil {
		return envelope.Envelope[eventlog.Event]{}, err
	}
	return envelope.OK(ev, envelope.Metadata{ElapsedMS: time.Since(start).Milliseconds()}), nil
}

// AgentRequest is the agent operation's input: query quality metrics for a
// layer/domain (C6), the "how is the memory system doing" introspection
// an autonomous agent consults before trusting a result.
type AgentRequest struct {
	Layer  string `json:"layer"`
	Domain string `json:"domain"`
	Metric string `json:"metric"`
}

// Agent summarises C6 meta metrics, gated by the agent rate-limit bucket.
func (c *Core) Agent(ctx context.Context, req AgentRequest) (envelope.Envelope[[]metaAggregate], error) {
	if err := c.RateLimits.Allow(ratelimit.FamilyAgent, time.Now()); err != nil {
		return envelope.Envelope[[]metaAggregate]{}, err
	}
	start := time.Now()
	aggs, err := c.Meta.Summary(ctx, metastore.Filters{Layer: req.Layer, Domain: req.Domain})
	if err != nil {
		return envelope.Envelope[[]metaAggregate]{}, err
	}
	out := make([]metaAggregate, 0, len(aggs))
	for _, a := range aggs {
		if req.Metric != "" && a.Metric != req.Metric {
			continue
		}
		out = append(out, metaAggregate{Layer: a.Layer, Domain: a.Domain, Metric: a.Metric, Mean: a.Mean, Count: a.Count})
	}
	return envelope.OK(out, envelope.Metadata{ElapsedMS: time.Since(start).Milliseconds()}), nil
}

type metaAggregate struct {
	Layer  string  `json:"layer"`
	Domain string  `json:"domain"`
	Metric string  `json:"metric"`
	Mean   float64 `json:"mean"`
	Count  int     `json:"count"`
}
