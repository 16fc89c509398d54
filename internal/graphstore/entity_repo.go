package graphstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/athenamind/athena/internal/envelope"
	"github.com/athenamind/athena/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// entityToMap/entityFromRecord adapt Entity to pkg/repo's generic
// Neo4jRepo, reusing the same node-label and property shape UpsertEntity
// writes, so lookups through the generic repository see exactly what
// UpsertEntity's hand-rolled Cypher wrote.
func entityToMap(e Entity) map[string]any {
	propsJSON, _ := json.Marshal(e.Properties)
	return map[string]any{
		"id":         e.ID,
		"type":       e.Type,
		"name":       e.Name,
		"properties": string(propsJSON),
		"created_at": e.CreatedAt.Format(time.RFC3339Nano),
	}
}

func entityFromRecord(record *neo4j.Record) (Entity, error) {
	raw, ok := record.Get("n")
	if !ok {
		return Entity{}, envelope.New(envelope.KindInternal, "entity query returned no node column")
	}
	node, ok := raw.(neo4j.Node)
	if !ok {
		return Entity{}, envelope.New(envelope.KindInternal, "entity column is not a neo4j node")
	}
	return entityFromNode(node), nil
}

// entityRepo builds a generic Neo4j repository over the Entity label,
// used for point lookups by id — the one CRUD shape
// pkg/repo.Neo4jRepo's generic Get/List/Delete already cover without
// needing the Cypher UpsertEntity/UpsertEdge hand-write for MERGE
// semantics and the SQLite mirror write.
func (s *Store) entityRepo() *repo.Neo4jRepo[Entity, string] {
	return repo.NewNeo4jRepo[Entity, string](s.driver, "Entity", entityToMap, entityFromRecord)
}

// GetEntity fetches a single entity by id directly from Neo4j.
func (s *Store) GetEntity(ctx context.Context, id string) (Entity, error) {
	e, err := s.entityRepo().Get(ctx, id)
	if err != nil {
		return Entity{}, envelope.Wrap(envelope.KindNotFound, "get entity "+id, err)
	}
	return e, nil
}

// DeleteEntity removes an entity node by id directly from Neo4j and its
// SQLite mirror. Edges referencing it are left to Neo4j's own constraint
// behavior; callers that need cascading deletion should remove edges
// first via a dedicated query.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	if err := s.entityRepo().Delete(ctx, id); err != nil {
		return classifyNeo4jErr(err, "delete entity")
	}
	if _, err := s.mirror.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id); err != nil {
		return envelope.Wrap(envelope.KindInternal, "mirror delete entity", err)
	}
	return nil
}
