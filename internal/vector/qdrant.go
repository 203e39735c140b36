package vector

import (
	"context"
	"fmt"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/efebarandurmaz/repolens/internal/domain"
)

const payloadDocument = "content"

// QdrantIndex implements Index over the Qdrant gRPC API.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	health      pb.QdrantClient

	mu      sync.RWMutex
	metrics map[string]Metric
}

// NewQdrant dials a Qdrant server. The connection is lazy; use Ping to
// verify reachability.
func NewQdrant(host string, port int) (*QdrantIndex, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return newQdrantIndex(conn), nil
}

func newQdrantIndex(conn *grpc.ClientConn) *QdrantIndex {
	return &QdrantIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		health:      pb.NewQdrantClient(conn),
		metrics:     make(map[string]Metric),
	}
}

func qdrantDistance(m Metric) pb.Distance {
	switch m {
	case Euclid:
		return pb.Distance_Euclid
	case Dot:
		return pb.Distance_Dot
	default:
		return pb.Distance_Cosine
	}
}

// toDistance converts a Qdrant score back into a distance for m.
func toDistance(m Metric, score float32) float32 {
	switch m {
	case Euclid:
		return score
	case Dot:
		return -score
	default:
		return 1 - score
	}
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (q *QdrantIndex) CreateCollection(ctx context.Context, name string, dim int, metric Metric) error {
	_, err := q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
			Size:     uint64(dim),
			Distance: qdrantDistance(metric),
		}}},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("qdrant create %s: %w", name, err)
	}
	q.mu.Lock()
	q.metrics[name] = metric
	q.mu.Unlock()
	return nil
}

func (q *QdrantIndex) DeleteCollection(ctx context.Context, name string) error {
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("qdrant delete %s: %w", name, err)
	}
	q.mu.Lock()
	delete(q.metrics, name)
	q.mu.Unlock()
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, name string, records []Record) error {
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := map[string]*pb.Value{
			payloadDocument: {Kind: &pb.Value_StringValue{StringValue: r.Document}},
		}
		for k, v := range r.Metadata {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Vector}}},
			Payload: payload,
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: name,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert %s: %w", name, err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, name string, vec []float32, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: name,
		Vector:         vec,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("qdrant search %s: %w", name, err)
	}

	q.mu.RLock()
	metric, ok := q.metrics[name]
	q.mu.RUnlock()
	if !ok {
		metric = Cosine
	}
	results := make([]Neighbor, len(resp.Result))
	for i, pt := range resp.Result {
		var doc string
		meta := make(domain.Metadata)
		for k, v := range pt.Payload {
			if k == payloadDocument {
				doc = v.GetStringValue()
			} else {
				meta[k] = v.GetStringValue()
			}
		}
		results[i] = Neighbor{
			ID:       pt.Id.GetUuid(),
			Distance: toDistance(metric, pt.Score),
			Document: doc,
			Metadata: meta,
		}
	}
	return results, nil
}

func (q *QdrantIndex) Count(ctx context.Context, name string) (int, error) {
	exact := true
	resp, err := q.points.Count(ctx, &pb.CountPoints{CollectionName: name, Exact: &exact})
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("qdrant count %s: %w", name, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func (q *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := q.health.HealthCheck(ctx, &pb.HealthCheckRequest{}); err != nil {
		return fmt.Errorf("qdrant health: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Close() error {
	return q.conn.Close()
}

var _ Index = (*QdrantIndex)(nil)
