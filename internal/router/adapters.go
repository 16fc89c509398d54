package router

import (
	"context"
	"strings"
	"time"

	"github.com/athenamind/athena/internal/eventlog"
	"github.com/athenamind/athena/internal/factstore"
	"github.com/athenamind/athena/internal/graphstore"
	"github.com/athenamind/athena/internal/metastore"
	"github.com/athenamind/athena/internal/procedure"
	"github.com/athenamind/athena/internal/task"
)

// Searcher is the capability set the router dispatches through:
// polymorphism over store kinds is expressed by this interface rather than
// a concrete store type, so the router never knows which store kind it's
// querying, only that it exposes Search. The bool return reports whether
// the search degraded (vector index unavailable); only the fact adapter
// ever sets it true.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]Item, bool, error)
}

// FactSearcher adapts the C2 fact store.
type FactSearcher struct{ Store *factstore.Store }

func (a FactSearcher) Search(ctx context.Context, query string, k int) ([]Item, bool, error) {
	scored, vectorDisabled, err := a.Store.Search(ctx, query, k, factstore.DefaultWeights)
	if err != nil {
		return nil, false, err
	}
	items := make([]Item, len(scored))
	for i, s := range scored {
		items[i] = Item{Layer: LayerFact, ID: s.Fact.ID, Title: s.Fact.Content, Score: s.Score, Payload: s.Fact}
	}
	return items, vectorDisabled, nil
}

// EventSearcher adapts the C1 event log: it scans the recent window for
// descriptions containing query as a case-insensitive substring, scored by
// recency (temporal-intent dispatch has no natural relevance score beyond
// how recently the event happened).
type EventSearcher struct {
	Store  *eventlog.Store
	Window time.Duration // how far back to scan; default 30 days
	Now    func() time.Time
}

func (a EventSearcher) Search(ctx context.Context, query string, k int) ([]Item, bool, error) {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	window := a.Window
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	events, err := a.Store.RangeQuery(ctx, now().Add(-window), now(), eventlog.Filters{})
	if err != nil {
		return nil, false, err
	}

	q := strings.ToLower(query)
	var matches []eventlog.Event
	for _, ev := range events {
		if q == "" || strings.Contains(strings.ToLower(ev.Description), q) {
			matches = append(matches, ev)
		}
	}
	// most recent first
	for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
		matches[i], matches[j] = matches[j], matches[i]
	}
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}

	items := make([]Item, len(matches))
	span := float32(len(matches))
	for i, ev := range matches {
		score := float32(1)
		if span > 1 {
			score = 1 - float32(i)/span
		}
		items[i] = Item{Layer: LayerEvent, ID: formatEventID(ev.ID), Title: ev.Description, Score: score, Payload: ev}
	}
	return items, false, nil
}

func formatEventID(id uint64) string {
	return "ev-" + itoa(id)
}

func itoa(id uint64) string {
	if id == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = byte('0' + id%10)
		id /= 10
	}
	return string(buf[i:])
}

// ProcedureSearcher adapts the C3 procedure store: it matches query
// against procedure names, scored by effectiveness.
type ProcedureSearcher struct{ Store *procedure.Store }

func (a ProcedureSearcher) Search(ctx context.Context, query string, k int) ([]Item, bool, error) {
	procs, err := a.Store.List(ctx, "", nil)
	if err != nil {
		return nil, false, err
	}
	q := strings.ToLower(query)
	var items []Item
	for _, p := range procs {
		if q != "" && !strings.Contains(strings.ToLower(p.Name), q) {
			continue
		}
		items = append(items, Item{Layer: LayerProcedure, ID: p.ID, Title: p.Name, Score: p.Effectiveness, Payload: p})
	}
	if k > 0 && len(items) > k {
		items = items[:k]
	}
	return items, false, nil
}

// TaskSearcher adapts the C4 task store: it matches query against task
// titles, scored by a fixed priority weight.
type TaskSearcher struct{ Store *task.Store }

var taskPriorityWeight = map[task.Priority]float32{
	task.PriorityCritical: 1.0,
	task.PriorityHigh:     0.75,
	task.PriorityMedium:   0.5,
	task.PriorityLow:      0.25,
}

func (a TaskSearcher) Search(ctx context.Context, query string, k int) ([]Item, bool, error) {
	tasks, err := a.Store.List(ctx, task.Filters{})
	if err != nil {
		return nil, false, err
	}
	q := strings.ToLower(query)
	var items []Item
	for _, t := range tasks {
		if q != "" && !strings.Contains(strings.ToLower(t.Title), q) {
			continue
		}
		items = append(items, Item{Layer: LayerTask, ID: t.ID, Title: t.Title, Score: taskPriorityWeight[t.Priority], Payload: t})
	}
	if k > 0 && len(items) > k {
		items = items[:k]
	}
	return items, false, nil
}

// GraphSearcher adapts the C5 graph store via its SQLite-mirror name
// search; score decays by rank since the mirror query is already ordered.
type GraphSearcher struct{ Store *graphstore.Store }

func (a GraphSearcher) Search(ctx context.Context, query string, k int) ([]Item, bool, error) {
	entities, err := a.Store.FindEntitiesByName(ctx, query, k)
	if err != nil {
		return nil, false, err
	}
	items := make([]Item, len(entities))
	span := float32(len(entities))
	for i, e := range entities {
		score := float32(1)
		if span > 1 {
			score = 1 - float32(i)/span
		}
		items[i] = Item{Layer: LayerGraph, ID: e.ID, Title: e.Name, Score: score, Payload: e}
	}
	return items, false, nil
}

// MetaSearcher adapts the C6 meta store: it matches query against
// domain/metric names, scored by the aggregate mean.
type MetaSearcher struct{ Store *metastore.Store }

func (a MetaSearcher) Search(ctx context.Context, query string, k int) ([]Item, bool, error) {
	aggs, err := a.Store.Summary(ctx, metastore.Filters{})
	if err != nil {
		return nil, false, err
	}
	q := strings.ToLower(query)
	var items []Item
	for _, agg := range aggs {
		title := agg.Domain + "/" + agg.Metric
		if q != "" && !strings.Contains(strings.ToLower(title), q) && !strings.Contains(strings.ToLower(agg.Layer), q) {
			continue
		}
		items = append(items, Item{Layer: LayerMeta, ID: agg.Layer + ":" + title, Title: title, Score: float32(agg.Mean), Payload: agg})
	}
	if k > 0 && len(items) > k {
		items = items[:k]
	}
	return items, false, nil
}
