// Package retrieval hosts concrete adapters that satisfy the retrieval
// pipeline's narrow port interfaces (internal/retrieval/ports.go) against
// real external systems.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/sirupsen/logrus"

	"dev.hybridrag.retrieval/internal/retrieval"
)

// QdrantConfig configures the dense chunk repository adapter.
type QdrantConfig struct {
	Host           string
	Port           int
	APIKey         string
	UseTLS         bool
	CollectionName string
}

// DefaultQdrantConfig returns sensible defaults for local development.
func DefaultQdrantConfig() *QdrantConfig {
	return &QdrantConfig{
		Host:           "localhost",
		Port:           6334,
		CollectionName: "chunks",
	}
}

// QdrantChunkRepository implements retrieval.ChunkRepository over Qdrant's
// gRPC client.
type QdrantChunkRepository struct {
	client *qdrant.Client
	config *QdrantConfig
	logger *logrus.Logger
}

// NewQdrantChunkRepository dials Qdrant and returns a ready repository.
func NewQdrantChunkRepository(config *QdrantConfig, logger *logrus.Logger) (*QdrantChunkRepository, error) {
	if config == nil {
		config = DefaultQdrantConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect: %w", err)
	}

	return &QdrantChunkRepository{client: client, config: config, logger: logger}, nil
}

// Search performs unrestricted dense nearest-neighbor search.
func (r *QdrantChunkRepository) Search(ctx context.Context, vector []float32, limit int) ([]retrieval.SearchResult, error) {
	return r.query(ctx, vector, nil, limit)
}

// SearchWithinArticles restricts dense search to the given article ids.
func (r *QdrantChunkRepository) SearchWithinArticles(ctx context.Context, vector []float32, articleIDs []retrieval.ArticleID, limit int) ([]retrieval.SearchResult, error) {
	if len(articleIDs) == 0 {
		return r.query(ctx, vector, nil, limit)
	}
	matches := make([]*qdrant.Condition, 0, len(articleIDs))
	for _, id := range articleIDs {
		matches = append(matches, qdrant.NewMatch("article_id", id))
	}
	filter := &qdrant.Filter{Should: matches}
	return r.query(ctx, vector, filter, limit)
}

func (r *QdrantChunkRepository) query(ctx context.Context, vector []float32, filter *qdrant.Filter, limit int) ([]retrieval.SearchResult, error) {
	lim := uint64(limit)
	points, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: r.config.CollectionName,
		Query:          qdrant.NewQueryDense(vector),
		Filter:         filter,
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayloadInclude("article_id", "title", "url", "published_at", "document_version", "text"),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query: %w", err)
	}

	out := make([]retrieval.SearchResult, 0, len(points))
	for _, p := range points {
		sr, err := toSearchResult(p)
		if err != nil {
			r.logger.WithFields(logrus.Fields{"point_id": p.GetId()}).Warn("qdrant: skipping malformed point: " + err.Error())
			continue
		}
		out = append(out, sr)
	}
	return out, nil
}

func toSearchResult(p *qdrant.ScoredPoint) (retrieval.SearchResult, error) {
	payload := p.GetPayload()

	chunkID, err := uuid.Parse(pointIDString(p.GetId()))
	if err != nil {
		return retrieval.SearchResult{}, fmt.Errorf("invalid chunk id: %w", err)
	}

	publishedAt := time.Unix(0, 0).UTC()
	if v, ok := payload["published_at"]; ok {
		if t, err := time.Parse(time.RFC3339, v.GetStringValue()); err == nil {
			publishedAt = t
		}
	}

	return retrieval.SearchResult{
		ChunkID:         chunkID,
		ArticleID:       stringField(payload, "article_id"),
		Title:           stringField(payload, "title"),
		URL:             stringField(payload, "url"),
		PublishedAt:     publishedAt,
		DocumentVersion: int(intField(payload, "document_version")),
		Text:            stringField(payload, "text"),
		Score:           float64(p.GetScore()),
	}, nil
}

func stringField(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func intField(payload map[string]*qdrant.Value, key string) int64 {
	if v, ok := payload[key]; ok {
		return v.GetIntegerValue()
	}
	return 0
}

func pointIDString(id *qdrant.PointId) string {
	if v := id.GetUuid(); v != "" {
		return v
	}
	return fmt.Sprintf("%d", id.GetNum())
}
