// Package graphstore implements C5, the entity/relationship graph and its
// modularity-based community structure, backed by Neo4j with a SQLite
// mirror for plain-SQL readability.
package graphstore

import "time"

// EdgeType enumerates the relationship kinds the graph recognizes.
// Contradicts edges are treated specially: they suppress transitive
// inference across themselves in path queries.
type EdgeType string

const (
	EdgeDependsOn       EdgeType = "depends_on"
	EdgeUses            EdgeType = "uses"
	EdgeRelatedTo       EdgeType = "related_to"
	EdgeCausallyLeadsTo EdgeType = "causally_leads_to"
	EdgeImplements      EdgeType = "implements"
	EdgeContradicts     EdgeType = "contradicts"
)

// Entity is a node in the knowledge graph.
type Entity struct {
	ID         string
	Type       string
	Name       string
	Properties map[string]any
	CreatedAt  time.Time
}

// Edge is a directed, typed, weighted relationship between two entities.
// Edges carry only the ids of their endpoints (a weak reference); the
// graph store owns edges exclusively.
type Edge struct {
	SourceID string
	TargetID string
	Type     EdgeType
	Strength float32
	Context  string
}

// Community is one level's partition member: a cluster of entity ids
// discovered by modularity-optimizing partitioning.
type Community struct {
	ID      string
	Level   uint8
	Members []string
}

// Path is an alternating entity/edge walk from a source to a destination
// entity.
type Path struct {
	Entities []Entity
	Edges    []Edge
}
