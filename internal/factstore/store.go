package factstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/athenamind/athena/internal/envelope"
	"github.com/athenamind/athena/internal/vectorindex"
	"github.com/google/uuid"
)

// embedder is the subset of provider.EmbeddingProvider the store needs. It
// is an interface here (rather than importing internal/provider directly)
// so the store has no compile-time dependency on the HTTP adapter package.
type embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Store is the C2 fact store, backed by the relational substrate for
// content/metadata and internal/vectorindex for embeddings.
type Store struct {
	writer   *sql.DB
	reader   *sql.DB
	index    vectorindex.Capability
	embedder embedder // nil disables vector search; degrades to lexical-only
	now      func() time.Time
}

// New creates a fact store. embedder may be nil, in which case Search
// always degrades to lexical-only ranking and flags vector_disabled.
func New(writer, reader *sql.DB, index vectorindex.Capability, emb embedder) *Store {
	return &Store{writer: writer, reader: reader, index: index, embedder: emb, now: time.Now}
}

// StoreFact persists a new fact and, when an embedder is configured,
// upserts its embedding into the index.
func (s *Store) StoreFact(ctx context.Context, content, domain string, sourceEventIDs []uint64, initialConfidence float32) (Fact, error) {
	if content == "" || domain == "" {
		return Fact{}, envelope.New(envelope.KindInvalidInput, "content and domain are required")
	}
	if initialConfidence < 0 || initialConfidence > 1 {
		return Fact{}, envelope.New(envelope.KindInvalidInput, "initial_confidence must be in [0,1]")
	}

	f := Fact{
		ID:             uuid.NewString(),
		Content:        content,
		Domain:         domain,
		Confidence:     initialConfidence,
		CreatedAt:      s.now(),
		LastUsedAt:     s.now(),
		SourceEventIDs: sourceEventIDs,
	}

	if s.embedder != nil {
		vecs, err := s.embedder.Embed(ctx, []string{content})
		if err != nil {
			return Fact{}, envelope.Wrap(envelope.KindDependencyUnavailable, "embed fact content", err)
		}
		if len(vecs) == 1 {
			f.Embedding = vecs[0]
		}
	}

	sourceJSON, _ := json.Marshal(f.SourceEventIDs)
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO facts (id, content, domain, confidence, support_count, contradiction_count, usefulness, created_at, last_used_at, source_event_ids)
		VALUES (?, ?, ?, ?, 0, 0, 0, ?, ?, ?)`,
		f.ID, f.Content, f.Domain, f.Confidence, f.CreatedAt.Format(time.RFC3339Nano), f.LastUsedAt.Format(time.RFC3339Nano), string(sourceJSON),
	)
	if err != nil {
		return Fact{}, envelope.Wrap(envelope.KindInternal, "insert fact", err)
	}

	if s.embedder != nil && len(f.Embedding) > 0 {
		if err := s.index.Upsert(ctx, []vectorindex.Record{{ID: f.ID, Embedding: f.Embedding}}); err != nil {
			return Fact{}, envelope.Wrap(envelope.KindDependencyUnavailable, "upsert embedding", err)
		}
	}

	return f, nil
}

// Search performs hybrid vector+lexical ranking. Candidates are the union
// of the top-K from the vector index and the top-K from the lexical
// index, merged and scored α·vector + β·lexical. vectorDisabled reports
// whether the vector signal was unavailable (no embedder, or the
// embedding call failed) so callers can flag degraded results.
func (s *Store) Search(ctx context.Context, query string, k int, weights Weights) ([]Scored, bool, error) {
	if k <= 0 {
		k = 10
	}

	lexical, err := s.lexicalTopK(ctx, query, k)
	if err != nil {
		return nil, false, err
	}

	vectorDisabled := s.embedder == nil
	var vectorHits []vectorindex.Hit
	if !vectorDisabled {
		vecs, embErr := s.embedder.Embed(ctx, []string{query})
		if embErr != nil || len(vecs) != 1 {
			vectorDisabled = true
		} else {
			hits, knnErr := s.index.KNN(ctx, vecs[0], k)
			if knnErr != nil {
				vectorDisabled = true
			} else {
				vectorHits = hits
			}
		}
	}

	candidateIDs := make(map[string]struct{})
	vectorScore := make(map[string]float32)
	for _, h := range vectorHits {
		if h.Similarity <= 0 {
			continue // no vector signal; such a fact can still enter via lexical
		}
		candidateIDs[h.ID] = struct{}{}
		vectorScore[h.ID] = h.Similarity
	}
	lexicalScore := make(map[string]float32)
	for id, sc := range lexical {
		candidateIDs[id] = struct{}{}
		lexicalScore[id] = sc
	}

	if len(candidateIDs) == 0 {
		return nil, vectorDisabled, nil
	}

	ids := make([]string, 0, len(candidateIDs))
	for id := range candidateIDs {
		ids = append(ids, id)
	}
	facts, err := s.getByIDs(ctx, ids)
	if err != nil {
		return nil, vectorDisabled, err
	}

	scored := make([]Scored, 0, len(facts))
	for _, f := range facts {
		score := weights.Vector*vectorScore[f.ID] + weights.Lexical*lexicalScore[f.ID]
		scored = append(scored, Scored{Fact: f, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		return less(scored[j], scored[i]) // descending by score then tie-break
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, vectorDisabled, nil
}

// less implements the documented tie-break order: higher score, then higher
// confidence, then higher usefulness, then more recent last_used_at, then
// lower id — used as "a < b" for an ascending sort, called reversed above
// to produce a descending-by-rank order.
func less(a, b Scored) bool {
	if math.Abs(float64(a.Score-b.Score)) > scoreEpsilon {
		return a.Score < b.Score
	}
	if a.Fact.Confidence != b.Fact.Confidence {
		return a.Fact.Confidence < b.Fact.Confidence
	}
	if a.Fact.Usefulness != b.Fact.Usefulness {
		return a.Fact.Usefulness < b.Fact.Usefulness
	}
	if !a.Fact.LastUsedAt.Equal(b.Fact.LastUsedAt) {
		return a.Fact.LastUsedAt.Before(b.Fact.LastUsedAt)
	}
	return a.Fact.ID > b.Fact.ID // lower id wins, so it sorts "greater" in ascending-less terms
}

// lexicalTopK returns up to k fact ids with a BM25-style score normalized
// to [0,1] (higher is better). modernc.org/sqlite's FTS5 bm25() returns a
// more-negative-is-better rank; it is negated and min-max normalized here.
func (s *Store) lexicalTopK(ctx context.Context, query string, k int) (map[string]float32, error) {
	if query == "" {
		return nil, nil
	}
	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, bm25(facts_fts) AS rank FROM facts_fts WHERE facts_fts MATCH ? ORDER BY rank LIMIT ?`,
		ftsQuery(query), k)
	if err != nil {
		// FTS5 MATCH syntax errors surface here for malformed queries; treat
		// as "no lexical matches" rather than failing the whole search.
		return map[string]float32{}, nil
	}
	defer rows.Close()

	type row struct {
		id   string
		rank float64
	}
	var raw []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.rank); err != nil {
			return nil, envelope.Wrap(envelope.KindInternal, "scan lexical row", err)
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		return nil, envelope.Wrap(envelope.KindInternal, "lexical query", err)
	}
	if len(raw) == 0 {
		return map[string]float32{}, nil
	}

	minRank, maxRank := raw[0].rank, raw[0].rank
	for _, r := range raw {
		if r.rank < minRank {
			minRank = r.rank
		}
		if r.rank > maxRank {
			maxRank = r.rank
		}
	}
	out := make(map[string]float32, len(raw))
	spread := maxRank - minRank
	for _, r := range raw {
		if spread == 0 {
			out[r.id] = 1
			continue
		}
		// More negative bm25 rank is a better match; invert so 1 = best.
		out[r.id] = float32(1 - (r.rank-minRank)/spread)
	}
	return out, nil
}

// ftsQuery quotes the raw query as an FTS5 phrase so arbitrary user text
// (including FTS operators) is treated literally rather than as syntax.
func ftsQuery(q string) string {
	return fmt.Sprintf("%q", q)
}

// Reinforce updates a fact's confidence per the logistic update rule:
// new = σ(logit(old) + k·(s − 2·c)), clamped to [0.01, 0.99].
func (s *Store) Reinforce(ctx context.Context, factID string, supportDelta, contradictDelta int, k float32) (float32, error) {
	f, err := s.get(ctx, factID)
	if err != nil {
		return 0, err
	}

	newConfidence := updateConfidence(f.Confidence, supportDelta, contradictDelta, k)

	_, err = s.writer.ExecContext(ctx, `
		UPDATE facts SET confidence = ?, support_count = support_count + ?, contradiction_count = contradiction_count + ?, last_used_at = ?
		WHERE id = ?`,
		newConfidence, supportDelta, contradictDelta, s.now().Format(time.RFC3339Nano), factID)
	if err != nil {
		return 0, envelope.Wrap(envelope.KindInternal, "update fact confidence", err)
	}
	return newConfidence, nil
}

// updateConfidence applies the logit-space reinforcement rule.
// Contradictions weigh twice supports: k · (s − 2·c).
func updateConfidence(old float32, supportDelta, contradictDelta int, k float32) float32 {
	clamped := clamp(old, 0.0001, 0.9999) // keep logit finite
	x := logit(clamped) + k*(float32(supportDelta)-2*float32(contradictDelta))
	return clamp(sigmoid(x), 0.01, 0.99)
}

func sigmoid(x float32) float32 { return float32(1 / (1 + math.Exp(-float64(x)))) }
func logit(p float32) float32   { return float32(math.Log(float64(p) / (1 - float64(p)))) }
func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Purge removes facts whose confidence is below threshold and whose age
// exceeds grace, including their vector embeddings.
func (s *Store) Purge(ctx context.Context, confidenceThreshold float32, grace time.Duration) (int, error) {
	cutoff := s.now().Add(-grace).Format(time.RFC3339Nano)
	rows, err := s.reader.QueryContext(ctx, `SELECT id FROM facts WHERE confidence < ? AND created_at < ?`, confidenceThreshold, cutoff)
	if err != nil {
		return 0, envelope.Wrap(envelope.KindInternal, "query purge candidates", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if _, err := s.writer.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, id); err != nil {
			return 0, envelope.Wrap(envelope.KindInternal, "delete fact", err)
		}
		if s.index != nil {
			if err := s.index.Delete(ctx, id); err != nil {
				return 0, envelope.Wrap(envelope.KindDependencyUnavailable, "delete embedding", err)
			}
		}
	}
	return len(ids), nil
}

func (s *Store) get(ctx context.Context, id string) (Fact, error) {
	facts, err := s.getByIDs(ctx, []string{id})
	if err != nil {
		return Fact{}, err
	}
	if len(facts) == 0 {
		return Fact{}, envelope.New(envelope.KindNotFound, "fact not found: "+id)
	}
	return facts[0], nil
}

func (s *Store) getByIDs(ctx context.Context, ids []string) ([]Fact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, content, domain, confidence, support_count, contradiction_count, usefulness, created_at, last_used_at, source_event_ids
		FROM facts WHERE id IN (%s)`, joinPlaceholders(placeholders))
	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, envelope.Wrap(envelope.KindInternal, "query facts by id", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var (
			f          Fact
			createdAt  string
			lastUsedAt string
			srcJSON    string
		)
		if err := rows.Scan(&f.ID, &f.Content, &f.Domain, &f.Confidence, &f.SupportCount, &f.ContradictionCount, &f.Usefulness, &createdAt, &lastUsedAt, &srcJSON); err != nil {
			return nil, err
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		f.LastUsedAt, _ = time.Parse(time.RFC3339Nano, lastUsedAt)
		_ = json.Unmarshal([]byte(srcJSON), &f.SourceEventIDs)
		out = append(out, f)
	}
	return out, rows.Err()
}

func joinPlaceholders(ph []string) string {
	out := ph[0]
	for _, p := range ph[1:] {
		out += "," + p
	}
	return out
}
