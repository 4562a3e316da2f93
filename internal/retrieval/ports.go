package retrieval

import "context"

// VectorEncoder embeds raw text into dense vectors. A single-element batch
// is used for the original query; multi-element batches are used for
// rewrites and tag queries.
type VectorEncoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// BM25Searcher runs classical sparse search over the raw query text.
type BM25Searcher interface {
	SearchBM25(ctx context.Context, query string, limit int) ([]BM25Result, error)
}

// ChunkRepository performs dense nearest-neighbor search over chunks.
type ChunkRepository interface {
	Search(ctx context.Context, vector []float32, limit int) ([]SearchResult, error)
	SearchWithinArticles(ctx context.Context, vector []float32, articleIDs []ArticleID, limit int) ([]SearchResult, error)
}

// QueryExpander is a purpose-built rewrite-generation service.
type QueryExpander interface {
	Expand(ctx context.Context, query string) ([]string, error)
}

// LLMClient is a general-purpose chat-completion client, prompted with the
// expansion template when used as an expansion source.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// SearchHit is a single hit returned by an external tag/search index.
type SearchHit struct {
	ArticleID ArticleID
	Tags      []string
}

// SearchClient is the external tag-search collaborator used to derive
// tag-based query reformulations.
type SearchClient interface {
	Search(ctx context.Context, query string) ([]SearchHit, error)
}

// RerankCandidate is a (id, content, score) tuple sent to a Reranker.
type RerankCandidate struct {
	ID      ChunkID
	Content string
	Score   float64
}

// RerankedScore is a reranker's replacement score for a candidate id.
type RerankedScore struct {
	ID    ChunkID
	Score float64
}

// Reranker scores (query, candidate) pairs jointly with a cross-encoder or
// equivalent model.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankedScore, error)
	ModelName() string
}
