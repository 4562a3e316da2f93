package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dev.hybridrag.retrieval/internal/retrieval"
)

// RerankerConfig configures the cross-encoder reranker adapter.
type RerankerConfig struct {
	Model     string
	Endpoint  string
	APIKey    string
	Timeout   time.Duration
	BatchSize int
}

// DefaultRerankerConfig returns the adapter's defaults: the
// BAAI/bge-reranker-v2-m3 model, a 30s HTTP timeout and a batch size of 30.
func DefaultRerankerConfig() RerankerConfig {
	return RerankerConfig{
		Model:     "BAAI/bge-reranker-v2-m3",
		Timeout:   30 * time.Second,
		BatchSize: 30,
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type rerankResultItem struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rerankResultItem `json:"results"`
}

// CrossEncoderReranker implements retrieval.Reranker against an HTTP
// cross-encoder reranking endpoint.
type CrossEncoderReranker struct {
	config     RerankerConfig
	httpClient *http.Client
}

// NewCrossEncoderReranker builds a reranker client for endpoint, defaulting
// unset config fields from DefaultRerankerConfig.
func NewCrossEncoderReranker(endpoint, apiKey string, config RerankerConfig) *CrossEncoderReranker {
	defaults := DefaultRerankerConfig()
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	config.Endpoint = endpoint
	config.APIKey = apiKey

	return &CrossEncoderReranker{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// ModelName returns the cross-encoder model identifier.
func (r *CrossEncoderReranker) ModelName() string {
	return r.config.Model
}

// Rerank scores every candidate jointly with query against the configured
// endpoint, returning one RerankedScore per result in the order the endpoint
// returns them; results whose index is out of range are skipped.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, candidates []retrieval.RerankCandidate) ([]retrieval.RerankedScore, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Content
	}

	body, err := json.Marshal(rerankRequest{Query: query, Documents: docs, Model: r.config.Model})
	if err != nil {
		return nil, fmt.Errorf("reranker: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("reranker: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reranker: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reranker: unexpected status %d", resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("reranker: decode response: %w", err)
	}

	out := make([]retrieval.RerankedScore, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		out = append(out, retrieval.RerankedScore{ID: candidates[r.Index].ID, Score: r.RelevanceScore})
	}
	return out, nil
}
