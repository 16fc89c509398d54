package router

import (
	"context"

	"github.com/athenamind/athena/internal/envelope"
	"github.com/athenamind/athena/pkg/fn"
)

// Router is C8: it owns no storage, only a Searcher per layer. Construct
// once and share across queries.
type Router struct {
	searchers map[Layer]Searcher
	workers   int
}

// New builds a Router from the given per-layer searchers. Layers with a
// nil or absent searcher are simply never dispatched to.
func New(searchers map[Layer]Searcher) *Router {
	return &Router{searchers: searchers, workers: 4}
}

type layerOutcome struct {
	layer          Layer
	items          []Item
	vectorDisabled bool
	err            error
}

// Query implements the public query(intent, k, filters) contract: classify,
// fan out, renormalize, merge deterministically, and paginate with an
// opaque, stable cursor.
func (r *Router) Query(ctx context.Context, q Query) (Result, error) {
	offset, err := DecodeCursor(q.Cursor)
	if err != nil {
		return Result{}, err
	}
	k := q.K
	if k <= 0 {
		k = 20
	}

	layers, priority := classify(q.Text)
	if forced, ok := q.Filters["layer"]; ok && forced != "" {
		layers = []Layer{Layer(forced)}
		priority = Priority{Layer(forced)}
	}

	var toDispatch []Layer
	for _, l := range layers {
		if r.searchers[l] != nil {
			toDispatch = append(toDispatch, l)
		}
	}
	if len(toDispatch) == 0 {
		return Result{LayerBreakdown: map[Layer]int{}}, nil
	}

	outcomes := fn.ParMap(toDispatch, r.workers, func(l Layer) layerOutcome {
		items, vectorDisabled, err := r.searchers[l].Search(ctx, q.Text, offset+k)
		return layerOutcome{layer: l, items: items, vectorDisabled: vectorDisabled, err: err}
	})

	var (
		all            []Item
		partial        bool
		vectorDisabled bool
		breakdown      = make(map[Layer]int, len(outcomes))
	)
	for _, o := range outcomes {
		if o.err != nil {
			if envelope.KindOf(o.err) == envelope.KindDependencyUnavailable || envelope.KindOf(o.err) == envelope.KindTimeout {
				partial = true
				continue
			}
			return Result{}, o.err
		}
		all = append(all, o.items...)
		breakdown[o.layer] = len(o.items)
		vectorDisabled = vectorDisabled || o.vectorDisabled
	}
	if ctx.Err() != nil {
		partial = true
	}

	sorted := mergeSort(renormalize(all), priority)

	total := len(sorted)
	end := offset + k
	if end > total {
		end = total
	}
	var page []Item
	if offset < total {
		page = sorted[offset:end]
	}

	res := Result{
		Items:          page,
		LayerBreakdown: breakdown,
		Total:          total,
		HasMore:        end < total,
		Partial:        partial,
		VectorDisabled: vectorDisabled,
	}
	if res.HasMore {
		res.NextCursor = EncodeCursor(end)
	}
	return res, nil
}
