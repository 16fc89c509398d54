package vectorindex

import (
	"context"
	"fmt"

	"github.com/athenamind/athena/internal/envelope"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Index is the sole owner of Qdrant operations for fact embeddings.
type Index struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dims        int
}

// Open connects to Qdrant at addr and prepares the given collection.
func Open(addr, collection string) (*Index, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, envelope.Wrap(envelope.KindDependencyUnavailable, fmt.Sprintf("dial qdrant %s", addr), err)
	}
	return &Index{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the underlying gRPC connection.
func (idx *Index) Close() error { return idx.conn.Close() }

// Ensure creates the collection if it doesn't already exist, fixing the
// embedding dimensionality at configuration time — changing it requires a
// full re-embed, so Ensure is only ever called once per dimensionality.
func (idx *Index) Ensure(ctx context.Context, dims int) error {
	idx.dims = dims
	list, err := idx.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return envelope.Wrap(envelope.KindDependencyUnavailable, "list collections", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == idx.collection {
			return nil
		}
	}

	d := uint64(dims)
	_, err = idx.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: d, Distance: pb.Distance_Cosine},
			},
		},
	})
	if err != nil {
		return envelope.Wrap(envelope.KindDependencyUnavailable, "create collection "+idx.collection, err)
	}
	return nil
}

// Upsert inserts or updates vectors keyed by fact id.
func (idx *Index) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Embedding}},
			},
		}
	}
	wait := true
	_, err := idx.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: idx.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return classifyQdrantErr(err, fmt.Sprintf("upsert %d points", len(records)))
	}
	return nil
}

// Delete removes a single vector by id.
func (idx *Index) Delete(ctx context.Context, id string) error {
	wait := true
	_, err := idx.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: idx.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}}},
			},
		},
	})
	if err != nil {
		return classifyQdrantErr(err, "delete "+id)
	}
	return nil
}

// KNN returns the k nearest vectors to query, most similar first.
func (idx *Index) KNN(ctx context.Context, query []float32, k int) ([]Hit, error) {
	resp, err := idx.points.Search(ctx, &pb.SearchPoints{
		CollectionName: idx.collection,
		Vector:         query,
		Limit:          uint64(k),
	})
	if err != nil {
		return nil, classifyQdrantErr(err, "search")
	}
	hits := make([]Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = Hit{ID: r.GetId().GetUuid(), Similarity: r.GetScore()}
	}
	return hits, nil
}

func classifyQdrantErr(err error, op string) error {
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded:
			return envelope.Wrap(envelope.KindDependencyUnavailable, op, err)
		case codes.NotFound:
			return envelope.Wrap(envelope.KindNotFound, op, err)
		}
	}
	return envelope.Wrap(envelope.KindInternal, op, err)
}
