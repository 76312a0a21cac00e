package semantic

import (
	"context"
	"fmt"
	"strconv"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	CollectionExists(ctx context.Context, in *pb.CollectionExistsRequest, opts ...grpc.CallOption) (*pb.CollectionExistsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr, collection string, opts DialOptions) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, opts.grpcOptions()...)
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients builds a store over existing clients. Close is a no-op.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

// Collection returns the collection name.
func (v *VectorStore) Collection() string { return v.collection }

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// CollectionExists reports whether the collection is present.
func (v *VectorStore) CollectionExists(ctx context.Context) (bool, error) {
	resp, err := v.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: v.collection})
	if err != nil {
		return false, fmt.Errorf("semantic: collection exists %s: %w", v.collection, err)
	}
	return resp.GetResult().GetExists(), nil
}

// VectorSize returns the configured vector size of the collection.
func (v *VectorStore) VectorSize(ctx context.Context) (int, error) {
	resp, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: v.collection})
	if err != nil {
		return 0, fmt.Errorf("semantic: get collection %s: %w", v.collection, err)
	}
	params := resp.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams()
	return int(params.GetSize()), nil
}

// CreateCollection creates the collection with cosine distance.
func (v *VectorStore) CreateCollection(ctx context.Context, dims int) error {
	_, err := v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// EnsureCollection creates the collection if it doesn't exist. An existing
// collection with a different vector size yields ErrDimensionMismatch.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	exists, err := v.CollectionExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return v.CreateCollection(ctx, dims)
	}
	size, err := v.VectorSize(ctx)
	if err != nil {
		return err
	}
	if size != dims {
		return fmt.Errorf("%w: collection %s has %d, embedder produces %d", ErrDimensionMismatch, v.collection, size, dims)
	}
	return nil
}

// Recreate drops the collection when present and creates it again.
func (v *VectorStore) Recreate(ctx context.Context, dims int) error {
	exists, err := v.CollectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		if err := v.DeleteCollection(ctx); err != nil {
			return err
		}
	}
	return v.CreateCollection(ctx, dims)
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: v.collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// Count returns the number of points in the collection.
func (v *VectorStore) Count(ctx context.Context) (uint64, error) {
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{CollectionName: v.collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("semantic: count %s: %w", v.collection, err)
	}
	return resp.GetResult().GetCount(), nil
}

// Upsert stores records. Existing points with the same id are overwritten.
func (v *VectorStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: toPayload(r.Payload),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Search performs k-NN similarity search, best first.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, limit int) ([]SearchResult, error) {
	return v.SearchFiltered(ctx, embedding, limit, nil)
}

// SearchFiltered performs similarity search with exact-match payload filters.
func (v *VectorStore) SearchFiltered(ctx context.Context, embedding []float32, limit int, filters map[string]string) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}

	if len(filters) > 0 {
		must := make([]*pb.Condition, 0, len(filters))
		for k, val := range filters {
			must = append(must, fieldMatch(k, val))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		results[i] = SearchResult{
			ID:      pointID(r.GetId()),
			Score:   r.GetScore(),
			Payload: fromPayload(r.GetPayload()),
		}
	}
	return results, nil
}

func pointID(id *pb.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func toPayload(in map[string]any) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(in))
	for k, val := range in {
		switch tv := val.(type) {
		case string:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
		case int:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		case int64:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
		case float64:
			payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
		case bool:
			payload[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
		default:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
		}
	}
	return payload
}

// fromPayload flattens scalar payload values to strings.
func fromPayload(in map[string]*pb.Value) map[string]string {
	out := make(map[string]string, len(in))
	for k, val := range in {
		switch kind := val.GetKind().(type) {
		case *pb.Value_StringValue:
			out[k] = kind.StringValue
		case *pb.Value_IntegerValue:
			out[k] = strconv.FormatInt(kind.IntegerValue, 10)
		case *pb.Value_DoubleValue:
			out[k] = strconv.FormatFloat(kind.DoubleValue, 'f', -1, 64)
		case *pb.Value_BoolValue:
			out[k] = strconv.FormatBool(kind.BoolValue)
		}
	}
	return out
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
