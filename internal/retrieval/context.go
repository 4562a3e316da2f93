package retrieval

import "time"

// Config holds the constants the pipeline reads once at the start of a
// retrieval. Mirrors the teacher's Config-struct-plus-DefaultConfig
// convention (see DefaultHybridConfig / DefaultRerankerConfig).
type Config struct {
	// SearchLimit is the dense search page size.
	SearchLimit int
	// BM25Limit bounds the sparse search.
	BM25Limit int
	// RRFK is the reciprocal-rank-fusion constant k.
	RRFK float64
	// HybridEnabled toggles BM25 participation in stage 2/3.
	HybridEnabled bool
	// RerankEnabled toggles stage 4.
	RerankEnabled bool
	// RerankTimeout bounds the reranker call.
	RerankTimeout time.Duration
	// RerankTopK further limits candidates sent to the reranker, capped at
	// maxRerankCandidates regardless of this value.
	RerankTopK int
	// QuotaOriginal and QuotaExpanded size the final allocation buckets.
	QuotaOriginal int
	QuotaExpanded int
	// DynamicLanguageAllocationEnabled selects dynamic (score-only) mode
	// over the legacy language-aware quota mode.
	DynamicLanguageAllocationEnabled bool
}

// DefaultConfig returns the pipeline's default configuration.
func DefaultConfig() Config {
	return Config{
		SearchLimit:                      50,
		BM25Limit:                        50,
		RRFK:                             60,
		HybridEnabled:                    true,
		RerankEnabled:                    false,
		RerankTimeout:                    3 * time.Second,
		RerankTopK:                       30,
		QuotaOriginal:                    5,
		QuotaExpanded:                    5,
		DynamicLanguageAllocationEnabled: true,
	}
}

// StageContext is the mutable, per-invocation carrier threaded through the
// five pipeline stages. It is single-threaded across stage boundaries;
// within a stage, concurrent sub-tasks write only to disjoint fields.
type StageContext struct {
	// Input.
	RetrievalID         string
	Query               string
	CandidateArticleIDs []ArticleID

	// Stage 1 outputs.
	OriginalEmbedding []float32
	ExpandedQueries   []string
	TagQueries        []string

	// Stage 2 outputs.
	AdditionalQueries    []string
	AdditionalEmbeddings [][]float32
	OriginalDenseResults []SearchResult
	BM25Results          []BM25Result

	// Stage 3 outputs.
	HitsOriginal []SearchResult
	HitsExpanded []ContextItem

	// Config, set once.
	Config Config
}

// newStageContext builds an empty StageContext for one retrieval.
func newStageContext(in QueryInput, cfg Config) *StageContext {
	return &StageContext{
		RetrievalID:          in.RetrievalID,
		Query:                in.Query,
		CandidateArticleIDs:  append([]ArticleID{}, in.CandidateArticleIDs...),
		ExpandedQueries:      []string{},
		TagQueries:           []string{},
		AdditionalQueries:    []string{},
		AdditionalEmbeddings: [][]float32{},
		OriginalDenseResults: []SearchResult{},
		BM25Results:          []BM25Result{},
		HitsOriginal:         []SearchResult{},
		HitsExpanded:         []ContextItem{},
		Config:               cfg,
	}
}
