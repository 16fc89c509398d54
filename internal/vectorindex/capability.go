package vectorindex

import "context"

// Capability is the polymorphism seam this package exposes: the router and
// fact store depend only on this capability set, never on the concrete
// Qdrant type, so alternative ANN backends can be substituted (including
// the in-memory fallback below, used in tests and for cold-start rebuild
// verification).
type Capability interface {
	Upsert(ctx context.Context, records []Record) error
	Delete(ctx context.Context, id string) error
	KNN(ctx context.Context, query []float32, k int) ([]Hit, error)
}

var _ Capability = (*Index)(nil)
var _ Capability = (*MemoryIndex)(nil)

// MemoryIndex is a brute-force in-memory ANN fallback. It exists so the
// embedding index's capability set is reachable without a live Qdrant
// instance — for rebuild verification and for deployments too small to
// warrant the external dependency.
type MemoryIndex struct {
	vectors map[string][]float32
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{vectors: make(map[string][]float32)}
}

func (m *MemoryIndex) Upsert(_ context.Context, records []Record) error {
	for _, r := range records {
		m.vectors[r.ID] = r.Embedding
	}
	return nil
}

func (m *MemoryIndex) Delete(_ context.Context, id string) error {
	delete(m.vectors, id)
	return nil
}

func (m *MemoryIndex) KNN(_ context.Context, query []float32, k int) ([]Hit, error) {
	hits := make([]Hit, 0, len(m.vectors))
	for id, v := range m.vectors {
		hits = append(hits, Hit{ID: id, Similarity: cosine(query, v)})
	}
	sortHitsDesc(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (sqrt(na) * sqrt(nb)))
}

func sqrt(f float64) float64 {
	if f <= 0 {
		return 0
	}
	x := f
	for i := 0; i < 32; i++ {
		x = 0.5 * (x + f/x)
	}
	return x
}

func sortHitsDesc(hits []Hit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j-1].Similarity < hits[j].Similarity; j-- {
			hits[j-1], hits[j] = hits[j], hits[j-1]
		}
	}
}

// SourceFact is the minimal view of a fact needed to rebuild the index.
type SourceFact struct {
	ID        string
	Embedding []float32
}

// Rebuild repopulates cap from a cold-start source (the fact store), used
// after process restart or to recover from index corruption.
func Rebuild(ctx context.Context, index Capability, source []SourceFact) error {
	records := make([]Record, len(source))
	for i, f := range source {
		records[i] = Record{ID: f.ID, Embedding: f.Embedding}
	}
	return index.Upsert(ctx, records)
}
