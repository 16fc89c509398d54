package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/athenamind/athena/internal/envelope"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// result is the minimal interface needed from a neo4j result, mirroring
// pkg/repo's testable seam.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

type sessionAdapter struct{ sess neo4j.SessionWithContext }

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}
func (a *sessionAdapter) Close(ctx context.Context) error { return a.sess.Close(ctx) }

// Store is the C5 graph store: Neo4j holds the operational graph (for
// traversal and community detection), mirrored into the shared SQLite
// substrate on every upsert so the schema stays readable by plain SQL
// tools.
type Store struct {
	driver     neo4j.DriverWithContext
	mirror     *sql.DB
	newSession func(ctx context.Context) runner // for testing
	now        func() time.Time
}

// New creates a graph store over driver, mirroring writes into mirror (the
// shared SQLite writer handle).
func New(driver neo4j.DriverWithContext, mirror *sql.DB) *Store {
	return &Store{driver: driver, mirror: mirror, now: time.Now}
}

func (s *Store) session(ctx context.Context) runner {
	if s.newSession != nil {
		return s.newSession(ctx)
	}
	return &sessionAdapter{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// UpsertEntity creates or updates an entity node, keyed by id.
func (s *Store) UpsertEntity(ctx context.Context, e Entity) (Entity, error) {
	if e.ID == "" || e.Type == "" {
		return Entity{}, envelope.New(envelope.KindInvalidInput, "entity id and type are required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	propsJSON, err := json.Marshal(e.Properties)
	if err != nil {
		return Entity{}, envelope.Wrap(envelope.KindInvalidInput, "marshal entity properties", err)
	}

	sess := s.session(ctx)
	defer sess.Close(ctx)

	_, err = sess.Run(ctx, `
		MERGE (n:Entity {id: $id})
		SET n.type = $type, n.name = $name, n.properties = $properties, n.created_at = coalesce(n.created_at, $created_at)`,
		map[string]any{
			"id": e.ID, "type": e.Type, "name": e.Name,
			"properties": string(propsJSON), "created_at": e.CreatedAt.Format(time.RFC3339Nano),
		})
	if err != nil {
		return Entity{}, classifyNeo4jErr(err, "upsert entity")
	}

	if _, err := s.mirror.ExecContext(ctx, `
		INSERT INTO entities (id, type, name, properties, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET type = excluded.type, name = excluded.name, properties = excluded.properties`,
		e.ID, e.Type, e.Name, string(propsJSON), e.CreatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return Entity{}, envelope.Wrap(envelope.KindInternal, "mirror entity to sqlite", err)
	}

	return e, nil
}

// UpsertEdge creates or updates a directed, typed edge between two
// existing entities. Edges must reference existing entities; a missing
// endpoint fails with NotFound rather than auto-creating a placeholder
// node.
func (s *Store) UpsertEdge(ctx context.Context, e Edge) error {
	relType, err := sanitizeRelType(e.Type)
	if err != nil {
		return err
	}
	if e.Strength < 0 || e.Strength > 1 {
		return envelope.New(envelope.KindInvalidInput, "edge strength must be in [0,1]")
	}

	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(`
		MATCH (a:Entity {id: $src}), (b:Entity {id: $dst})
		MERGE (a)-[r:%s]->(b)
		SET r.strength = $strength, r.context = $context`, relType)
	res, err := sess.Run(ctx, cypher, map[string]any{
		"src": e.SourceID, "dst": e.TargetID, "strength": e.Strength, "context": e.Context,
	})
	if err != nil {
		return classifyNeo4jErr(err, "upsert edge")
	}
	_ = res

	if _, err := s.mirror.ExecContext(ctx, `
		INSERT INTO edges (source_id, target_id, type, strength, context) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, type) DO UPDATE SET strength = excluded.strength, context = excluded.context`,
		e.SourceID, e.TargetID, string(e.Type), e.Strength, e.Context,
	); err != nil {
		return envelope.Wrap(envelope.KindInternal, "mirror edge to sqlite", err)
	}
	return nil
}

// FindPaths returns up to maxHops-length paths between src and dst.
// contradicts edges suppress transitive inference: any path that traverses
// one is excluded.
func (s *Store) FindPaths(ctx context.Context, src, dst string, maxHops int) ([]Path, error) {
	if maxHops <= 0 {
		maxHops = 4
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(`
		MATCH p = (a:Entity {id: $src})-[*1..%d]-(b:Entity {id: $dst})
		WHERE NONE(r IN relationships(p) WHERE type(r) = $contradicts)
		RETURN p LIMIT 50`, maxHops)
	res, err := sess.Run(ctx, cypher, map[string]any{
		"src": src, "dst": dst, "contradicts": string(relName(EdgeContradicts)),
	})
	if err != nil {
		return nil, classifyNeo4jErr(err, "find paths")
	}

	var paths []Path
	for res.Next(ctx) {
		p, err := pathFromRecord(res.Record())
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// DetectCommunities loads the full entity/edge graph and partitions it
// using label-propagation-seeded greedy modularity merging (community.go),
// persisting the resulting partition to both stores.
func (s *Store) DetectCommunities(ctx context.Context, resolution float64, seed int64) ([]Community, error) {
	entityIDs, edges, err := s.loadGraph(ctx)
	if err != nil {
		return nil, err
	}

	communities := DetectCommunities(entityIDs, edges, resolution, seed)

	for _, c := range communities {
		membersJSON, _ := json.Marshal(c.Members)
		if _, err := s.mirror.ExecContext(ctx, `
			INSERT INTO communities (id, level, members) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET level = excluded.level, members = excluded.members`,
			c.ID, c.Level, string(membersJSON),
		); err != nil {
			return nil, envelope.Wrap(envelope.KindInternal, "mirror community to sqlite", err)
		}
	}
	return communities, nil
}

// SummariseCommunity produces a deterministic textual summary of a
// community's membership and dominant relationship types, read from the
// SQLite mirror (no LLM call — this is a descriptive rollup, not a
// generative one).
func (s *Store) SummariseCommunity(ctx context.Context, communityID string) (string, error) {
	var membersJSON string
	var level int
	err := s.mirror.QueryRowContext(ctx, `SELECT level, members FROM communities WHERE id = ?`, communityID).Scan(&level, &membersJSON)
	if err == sql.ErrNoRows {
		return "", envelope.New(envelope.KindNotFound, "community not found: "+communityID)
	}
	if err != nil {
		return "", envelope.Wrap(envelope.KindInternal, "lookup community", err)
	}
	var members []string
	_ = json.Unmarshal([]byte(membersJSON), &members)

	typeCounts, err := s.entityTypeCounts(ctx, members)
	if err != nil {
		return "", err
	}

	types := make([]string, 0, len(typeCounts))
	for t := range typeCounts {
		types = append(types, t)
	}
	sort.Strings(types)

	summary := fmt.Sprintf("community %s (level %d): %d entities", communityID, level, len(members))
	for _, t := range types {
		summary += fmt.Sprintf(", %d %s", typeCounts[t], t)
	}
	return summary, nil
}

// FindEntitiesByName does a case-insensitive substring search over entity
// names via the SQLite mirror, for the query router's relational-intent
// fallback: text search doesn't need a graph traversal, just the plain-SQL
// readability this layer's mirror keeps available.
func (s *Store) FindEntitiesByName(ctx context.Context, query string, limit int) ([]Entity, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.mirror.QueryContext(ctx, `
		SELECT id, type, name, properties, created_at FROM entities
		WHERE name LIKE '%' || ? || '%' COLLATE NOCASE
		ORDER BY name LIMIT ?`, query, limit)
	if err != nil {
		return nil, envelope.Wrap(envelope.KindInternal, "find entities by name", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		var propsJSON, createdAt string
		if err := rows.Scan(&e.ID, &e.Type, &e.Name, &propsJSON, &createdAt); err != nil {
			return nil, envelope.Wrap(envelope.KindInternal, "scan entity", err)
		}
		_ = json.Unmarshal([]byte(propsJSON), &e.Properties)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) entityTypeCounts(ctx context.Context, ids []string) (map[string]int, error) {
	counts := make(map[string]int)
	if len(ids) == 0 {
		return counts, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := "SELECT type FROM entities WHERE id IN (" + joinCSV(placeholders) + ")"
	rows, err := s.mirror.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, envelope.Wrap(envelope.KindInternal, "query entity types", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		counts[t]++
	}
	return counts, rows.Err()
}

func (s *Store) loadGraph(ctx context.Context) ([]string, []Edge, error) {
	idRows, err := s.mirror.QueryContext(ctx, `SELECT id FROM entities`)
	if err != nil {
		return nil, nil, envelope.Wrap(envelope.KindInternal, "load entity ids", err)
	}
	defer idRows.Close()
	var ids []string
	for idRows.Next() {
		var id string
		if err := idRows.Scan(&id); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
	}
	if err := idRows.Err(); err != nil {
		return nil, nil, err
	}

	edgeRows, err := s.mirror.QueryContext(ctx, `SELECT source_id, target_id, type, strength, context FROM edges`)
	if err != nil {
		return nil, nil, envelope.Wrap(envelope.KindInternal, "load edges", err)
	}
	defer edgeRows.Close()
	var edges []Edge
	for edgeRows.Next() {
		var e Edge
		var edgeType string
		var ctxVal sql.NullString
		if err := edgeRows.Scan(&e.SourceID, &e.TargetID, &edgeType, &e.Strength, &ctxVal); err != nil {
			return nil, nil, err
		}
		e.Type = EdgeType(edgeType)
		e.Context = ctxVal.String
		edges = append(edges, e)
	}
	return ids, edges, edgeRows.Err()
}

func sanitizeRelType(t EdgeType) (string, error) {
	switch t {
	case EdgeDependsOn, EdgeUses, EdgeRelatedTo, EdgeCausallyLeadsTo, EdgeImplements, EdgeContradicts:
		return relName(t), nil
	default:
		return "", envelope.New(envelope.KindInvalidInput, "unknown edge type: "+string(t))
	}
}

// relName maps an EdgeType to its Neo4j relationship type name. Restricted
// to the fixed whitelist in sanitizeRelType, so this never interpolates
// unsanitized input into Cypher.
func relName(t EdgeType) string {
	switch t {
	case EdgeDependsOn:
		return "DEPENDS_ON"
	case EdgeUses:
		return "USES"
	case EdgeRelatedTo:
		return "RELATED_TO"
	case EdgeCausallyLeadsTo:
		return "CAUSALLY_LEADS_TO"
	case EdgeImplements:
		return "IMPLEMENTS"
	case EdgeContradicts:
		return "CONTRADICTS"
	default:
		return "RELATED_TO"
	}
}

func pathFromRecord(record *neo4j.Record) (Path, error) {
	raw, ok := record.Get("p")
	if !ok {
		return Path{}, envelope.New(envelope.KindInternal, "path query returned no path column")
	}
	path, ok := raw.(neo4j.Path)
	if !ok {
		return Path{}, envelope.New(envelope.KindInternal, "path column is not a neo4j path")
	}

	var p Path
	for _, n := range path.Nodes {
		p.Entities = append(p.Entities, entityFromNode(n))
	}
	for _, r := range path.Relationships {
		p.Edges = append(p.Edges, Edge{
			SourceID: fmt.Sprintf("%v", r.StartId),
			TargetID: fmt.Sprintf("%v", r.EndId),
			Type:     EdgeType(r.Type),
		})
	}
	return p, nil
}

func entityFromNode(n neo4j.Node) Entity {
	e := Entity{Properties: map[string]any{}}
	if id, ok := n.Props["id"].(string); ok {
		e.ID = id
	}
	if typ, ok := n.Props["type"].(string); ok {
		e.Type = typ
	}
	if name, ok := n.Props["name"].(string); ok {
		e.Name = name
	}
	if raw, ok := n.Props["properties"].(string); ok && raw != "" {
		_ = json.Unmarshal([]byte(raw), &e.Properties)
	}
	if ts, ok := n.Props["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.CreatedAt = t
		}
	}
	return e
}

func joinCSV(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "," + p
	}
	return out
}

// classifyNeo4jErr maps a driver error to the core's error taxonomy.
// context deadline/cancellation is classified as Timeout; everything else
// is Internal, since the driver's error types are not pattern-matched here
// to avoid coupling to a specific driver minor version's error surface.
func classifyNeo4jErr(err error, op string) error {
	if err == context.DeadlineExceeded || err == context.Canceled {
		return envelope.Wrap(envelope.KindTimeout, op, err)
	}
	return envelope.Wrap(envelope.KindInternal, op, err)
}
