package vector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/config"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
)

const connectTimeout = 30 * time.Second

var waitTrue = true

// Point is one embedded chunk headed for the index. The payload keeps
// just enough to filter and to map hits back to the chunk store.
type Point struct {
	ChunkID    string
	DocumentID string
	Ordinal    int
	Vector     []float32
}

// Hit is a scored search result.
type Hit struct {
	ChunkID    string
	DocumentID string
	Score      float64
}

// Index wraps the Qdrant gRPC clients for one collection. Vectors use
// cosine distance; point ids are deterministic UUIDs derived from the
// chunk id so re-upserting the same chunk overwrites in place.
type Index struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
	conn        *grpc.ClientConn
	collection  string
	dim         uint64
}

func NewIndex(cfg *config.Config) (*Index, error) {
	addr := strings.TrimPrefix(strings.TrimPrefix(cfg.QdrantURL, "http://"), "https://")

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	idx := &Index{
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		conn:        conn,
		collection:  cfg.QdrantCollection,
		dim:         uint64(cfg.VectorDim),
	}

	if err := idx.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) ensureCollection(ctx context.Context) error {
	listResp, err := idx.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, col := range listResp.Collections {
		if col.Name == idx.collection {
			return nil
		}
	}

	_, err = idx.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     idx.dim,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	logger.Info("Created vector collection", "collection", idx.collection, "dim", idx.dim)
	return nil
}

// PointID derives the deterministic point UUID for a chunk id.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

// Upsert writes points; identical chunk ids overwrite previous vectors.
func (idx *Index) Upsert(ctx context.Context, pts []Point) error {
	if len(pts) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, 0, len(pts))
	for _, p := range pts {
		if len(p.Vector) != int(idx.dim) {
			return fmt.Errorf("vector for chunk %s has dim %d, index expects %d", p.ChunkID, len(p.Vector), idx.dim)
		}
		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(p.ChunkID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: p.Vector},
				},
			},
			Payload: map[string]*pb.Value{
				"chunk_id":    {Kind: &pb.Value_StringValue{StringValue: p.ChunkID}},
				"document_id": {Kind: &pb.Value_StringValue{StringValue: p.DocumentID}},
				"ordinal":     {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.Ordinal)}},
			},
		})
	}

	_, err := idx.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: idx.collection,
		Points:         points,
		Wait:           &waitTrue,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Search returns the topK nearest chunks for the query vector, scoped
// to one document when documentID is non-empty.
func (idx *Index) Search(ctx context.Context, queryVector []float32, documentID string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}

	var filter *pb.Filter
	if documentID != "" {
		filter = &pb.Filter{
			Must: []*pb.Condition{
				{
					ConditionOneOf: &pb.Condition_Field{
						Field: &pb.FieldCondition{
							Key: "document_id",
							Match: &pb.Match{
								MatchValue: &pb.Match_Text{Text: documentID},
							},
						},
					},
				},
			},
		}
	}

	searchResp, err := idx.points.Search(ctx, &pb.SearchPoints{
		CollectionName: idx.collection,
		Vector:         queryVector,
		Filter:         filter,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	hits := make([]Hit, 0, len(searchResp.Result))
	for _, point := range searchResp.Result {
		hit := Hit{Score: float64(point.Score)}
		if payload := point.Payload; payload != nil {
			if v, ok := payload["chunk_id"]; ok {
				hit.ChunkID = v.GetStringValue()
			}
			if v, ok := payload["document_id"]; ok {
				hit.DocumentID = v.GetStringValue()
			}
		}
		if hit.ChunkID == "" {
			continue
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// DeleteByDocument removes every point belonging to the document.
func (idx *Index) DeleteByDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("document id required for delete")
	}

	_, err := idx.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: idx.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						{
							ConditionOneOf: &pb.Condition_Field{
								Field: &pb.FieldCondition{
									Key: "document_id",
									Match: &pb.Match{
										MatchValue: &pb.Match_Text{Text: documentID},
									},
								},
							},
						},
					},
				},
			},
		},
		Wait: &waitTrue,
	})
	if err != nil {
		return fmt.Errorf("failed to delete document points: %w", err)
	}
	return nil
}

// Count returns the number of indexed points.
func (idx *Index) Count(ctx context.Context) (uint64, error) {
	resp, err := idx.points.Count(ctx, &pb.CountPoints{
		CollectionName: idx.collection,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	if resp.Result == nil {
		return 0, nil
	}
	return resp.Result.Count, nil
}

// Reset drops and recreates the collection. Recreating is the reliable
// way to clear all points in Qdrant.
func (idx *Index) Reset(ctx context.Context) error {
	_, err := idx.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: idx.collection,
	})
	if err != nil {
		logger.Warn("Reset: delete collection failed", "error", err)
	}

	_, err = idx.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     idx.dim,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to recreate collection: %w", err)
	}
	logger.Info("Reset vector collection", "collection", idx.collection)
	return nil
}

// Healthy checks the gRPC connection by listing collections.
func (idx *Index) Healthy(ctx context.Context) error {
	_, err := idx.collections.List(ctx, &pb.ListCollectionsRequest{})
	return err
}

func (idx *Index) Close() error {
	if idx.conn != nil {
		return idx.conn.Close()
	}
	return nil
}
