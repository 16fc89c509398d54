// Package repo defines the generic Repository interface and list options
// that back point lookups over the graph store's Neo4j-backed node types
// (entities, and any future node label that wants Get/List/Delete without
// a hand-written Cypher query) alongside the store's own MERGE/upsert
// write paths.
package repo

import "context"

// Repository is a generic CRUD interface.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Create(ctx context.Context, entity T) (T, error)
	Update(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination and filtering for List operations.
type ListOpts struct {
	Offset int
	Limit  int
	Filter map[string]any
}
