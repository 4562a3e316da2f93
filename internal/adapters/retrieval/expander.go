package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"dev.hybridrag.retrieval/internal/retrieval"
)

// HTTPQueryExpander implements retrieval.QueryExpander against a
// purpose-built query-rewriting endpoint that returns one rewrite per line.
type HTTPQueryExpander struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPQueryExpander builds an expander client with the given timeout,
// defaulting to 5s when timeout is zero.
func NewHTTPQueryExpander(endpoint, apiKey string, timeout time.Duration) *HTTPQueryExpander {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPQueryExpander{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type expandRequest struct {
	Query string `json:"query"`
}

type expandResponse struct {
	Rewrites []string `json:"rewrites"`
}

// Expand requests query rewrites from the configured endpoint.
func (e *HTTPQueryExpander) Expand(ctx context.Context, query string) ([]string, error) {
	body, err := json.Marshal(expandRequest{Query: query})
	if err != nil {
		return nil, fmt.Errorf("expander: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("expander: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("expander: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("expander: unexpected status %d", resp.StatusCode)
	}

	var parsed expandResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("expander: decode response: %w", err)
	}
	return parsed.Rewrites, nil
}

// HTTPTagSearchClient implements retrieval.SearchClient against an external
// tag-indexed search service.
type HTTPTagSearchClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPTagSearchClient builds a tag-search client with the given timeout,
// defaulting to 5s when timeout is zero.
func NewHTTPTagSearchClient(endpoint, apiKey string, timeout time.Duration) *HTTPTagSearchClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPTagSearchClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type tagSearchHit struct {
	ArticleID string   `json:"article_id"`
	Tags      []string `json:"tags"`
}

type tagSearchResponse struct {
	Hits []tagSearchHit `json:"hits"`
}

// Search returns the top hits and their tags for query.
func (c *HTTPTagSearchClient) Search(ctx context.Context, query string) ([]retrieval.SearchHit, error) {
	reqURL := fmt.Sprintf("%s?q=%s", c.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("tag search: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tag search: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tag search: unexpected status %d", resp.StatusCode)
	}

	var parsed tagSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("tag search: decode response: %w", err)
	}

	out := make([]retrieval.SearchHit, len(parsed.Hits))
	for i, h := range parsed.Hits {
		out[i] = retrieval.SearchHit{ArticleID: h.ArticleID, Tags: h.Tags}
	}
	return out, nil
}
