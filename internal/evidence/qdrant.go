package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

const (
	// DefaultCollection holds invoice descriptions labelled with chart codes.
	DefaultCollection = "balance_chart_evidence"
	// SharedTenant marks points visible to every tenant, such as chart descriptions.
	SharedTenant = "shared"

	payloadCode    = "code"
	payloadLevel   = "level"
	payloadTenant  = "tenant"
	payloadContent = "content"
)

// pointsClient is the part of the qdrant points API the retriever uses.
type pointsClient interface {
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// QdrantConfig configures the vector store connection.
type QdrantConfig struct {
	Addr       string
	Collection string
	VectorSize uint64
}

// QdrantRetriever finds labelled invoices similar to the query and ranks their codes.
type QdrantRetriever struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pointsClient
	embedder    Embedder
	collection  string
	vectorSize  uint64
	ready       atomic.Bool
}

// NewQdrantRetriever dials qdrant over gRPC.
func NewQdrantRetriever(cfg QdrantConfig, embedder Embedder) (*QdrantRetriever, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}

	conn, err := grpc.Dial(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	r := newQdrantRetriever(pb.NewPointsClient(conn), embedder, cfg)
	r.conn = conn
	r.collections = pb.NewCollectionsClient(conn)
	return r, nil
}

func newQdrantRetriever(points pointsClient, embedder Embedder, cfg QdrantConfig) *QdrantRetriever {
	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	size := cfg.VectorSize
	if size == 0 {
		size = 1536
	}
	return &QdrantRetriever{
		points:     points,
		embedder:   embedder,
		collection: collection,
		vectorSize: size,
	}
}

// EnsureCollection creates the collection if it does not exist.
// Once it succeeds later calls return immediately.
func (r *QdrantRetriever) EnsureCollection(ctx context.Context) error {
	if r.collections == nil || r.ready.Load() {
		return nil
	}

	if info, err := r.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: r.collection}); err == nil && info != nil {
		r.ready.Store(true)
		return nil
	}

	slog.Info("Creating qdrant collection", "collection", r.collection, "size", r.vectorSize)
	_, err := r.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     r.vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	r.ready.Store(true)
	return nil
}

// Retrieve implements Retriever. Scores are the best cosine similarity per code.
func (r *QdrantRetriever) Retrieve(ctx context.Context, q Query, topK int) (model.EvidenceRankings, error) {
	vector, err := r.embedder.Embed(ctx, q.Content)
	if err != nil {
		return nil, err
	}

	limit := topK * 4
	if limit <= 0 {
		limit = 20
	}

	resp, err := r.points.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		Filter:         searchFilter(q),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	best := make(map[string]float64)
	for _, point := range resp.GetResult() {
		code := point.GetPayload()[payloadCode].GetStringValue()
		if code == "" {
			continue
		}
		score := clamp01(float64(point.GetScore()))
		if prev, ok := best[code]; !ok || score > prev {
			best[code] = score
		}
	}

	rankings := make(model.EvidenceRankings, 0, len(best))
	for code, score := range best {
		rankings = append(rankings, model.Evidence{Code: code, Score: score, Source: "qdrant"})
	}
	rankings.Sort()
	return rankings, nil
}

// Remember implements Learner. The point ID is derived from its content so
// relearning the same invoice replaces the earlier label.
func (r *QdrantRetriever) Remember(ctx context.Context, tenantID, content string, level model.ClassificationLevel, code string) error {
	return r.upsert(ctx, tenantID, content, level, code)
}

// Seed stores chart descriptions as shared points.
func (r *QdrantRetriever) Seed(ctx context.Context, level model.ClassificationLevel, candidates []Candidate) error {
	for _, c := range candidates {
		if err := r.upsert(ctx, SharedTenant, c.Name, level, c.Code); err != nil {
			return fmt.Errorf("failed to seed %s: %w", c.Code, err)
		}
	}
	return nil
}

func (r *QdrantRetriever) upsert(ctx context.Context, tenantID, content string, level model.ClassificationLevel, code string) error {
	if err := r.EnsureCollection(ctx); err != nil {
		return err
	}

	vector, err := r.embedder.Embed(ctx, content)
	if err != nil {
		return err
	}

	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(tenantID+"|"+string(level)+"|"+content))
	wait := true

	_, err = r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{
			{
				Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}},
				},
				Payload: map[string]*pb.Value{
					payloadCode:    {Kind: &pb.Value_StringValue{StringValue: code}},
					payloadLevel:   {Kind: &pb.Value_StringValue{StringValue: string(level)}},
					payloadTenant:  {Kind: &pb.Value_StringValue{StringValue: tenantID}},
					payloadContent: {Kind: &pb.Value_StringValue{StringValue: content}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	return nil
}

// Close releases the gRPC connection.
func (r *QdrantRetriever) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

func searchFilter(q Query) *pb.Filter {
	filter := &pb.Filter{
		Must: []*pb.Condition{keywordCondition(payloadLevel, string(q.Level))},
	}
	if q.TenantID != "" {
		filter.Should = []*pb.Condition{
			keywordCondition(payloadTenant, q.TenantID),
			keywordCondition(payloadTenant, SharedTenant),
		}
	}
	return filter
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}
