// Package retrieval implements the hybrid retrieval pipeline: query
// expansion, dense and sparse search, reciprocal-rank fusion, cross-encoder
// reranking, and final context allocation.
package retrieval

import (
	"time"

	"github.com/google/uuid"
)

// ChunkID uniquely identifies a stored chunk.
type ChunkID = uuid.UUID

// ArticleID identifies the parent article a chunk belongs to.
type ArticleID = string

// QueryInput is the immutable per-invocation request to the pipeline.
type QueryInput struct {
	Query               string
	CandidateArticleIDs []ArticleID
	RetrievalID         string
}

// Chunk is a stored, read-only unit of retrieval.
type Chunk struct {
	ID              ChunkID
	ArticleID       ArticleID
	URL             string
	Title           string
	PublishedAt     time.Time
	DocumentVersion int
	Text            string
}

// SearchResult is a dense-search hit: a chunk plus its similarity score,
// denormalized for presentation.
type SearchResult struct {
	ChunkID         ChunkID
	ArticleID       ArticleID
	Title           string
	URL             string
	PublishedAt     time.Time
	DocumentVersion int
	Text            string
	Score           float64
}

// BM25Result is a sparse-search hit over an article.
type BM25Result struct {
	ArticleID ArticleID
	Rank      int // 1-based
	Score     float64
}

// ContextItem is the pipeline's unified output carrier.
type ContextItem struct {
	ChunkID         ChunkID
	ChunkText       string
	URL             string
	Title           string
	PublishedAt     string // RFC-3339
	Score           float64
	DocumentVersion int
}

func contextItemFromSearchResult(r *SearchResult) ContextItem {
	return ContextItem{
		ChunkID:         r.ChunkID,
		ChunkText:       r.Text,
		URL:             r.URL,
		Title:           r.Title,
		PublishedAt:     r.PublishedAt.Format(time.RFC3339),
		Score:           r.Score,
		DocumentVersion: r.DocumentVersion,
	}
}
