package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRepository is a ChunkRepository test double whose Search responses
// come from SearchFunc; SearchWithinArticles uses SearchWithinArticlesFn
// when set and falls back to SearchFunc otherwise.
type mockRepository struct {
	SearchFunc             func(ctx context.Context, vector []float32, limit int) ([]SearchResult, error)
	SearchWithinArticlesFn func(ctx context.Context, vector []float32, articleIDs []ArticleID, limit int) ([]SearchResult, error)
}

func (m *mockRepository) Search(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
	return m.SearchFunc(ctx, vector, limit)
}

func (m *mockRepository) SearchWithinArticles(ctx context.Context, vector []float32, articleIDs []ArticleID, limit int) ([]SearchResult, error) {
	if m.SearchWithinArticlesFn != nil {
		return m.SearchWithinArticlesFn(ctx, vector, articleIDs, limit)
	}
	return m.Search(ctx, vector, limit)
}

func newTestChunk(title string) SearchResult {
	return SearchResult{ChunkID: uuid.New(), ArticleID: uuid.NewString(), Title: title}
}

func TestFuseOriginalWithBM25_NoBM25PassesThrough(t *testing.T) {
	dense := []SearchResult{{ChunkID: uuid.New(), Score: 0.9}}
	out := fuseOriginalWithBM25(dense, nil, 60)
	require.Len(t, out, 1)
	assert.Equal(t, 0.9, out[0].Score)
}

func TestFuseOriginalWithBM25_HybridRRF(t *testing.T) {
	article := "A1"
	c1 := SearchResult{ChunkID: uuid.New(), ArticleID: article, Score: 0.90}
	dense := []SearchResult{c1}
	bm25 := []BM25Result{{ArticleID: article, Rank: 1, Score: 10.5}}

	out := fuseOriginalWithBM25(dense, bm25, 60)
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0/61+1.0/61, out[0].Score, 1e-9)
	assert.Equal(t, c1.ChunkID, out[0].ChunkID)
}

func TestFuseOriginalWithBM25_DropsArticlesNotInDense(t *testing.T) {
	dense := []SearchResult{{ChunkID: uuid.New(), ArticleID: "A1", Score: 0.5}}
	bm25 := []BM25Result{
		{ArticleID: "A1", Rank: 1},
		{ArticleID: "A2", Rank: 2}, // never seen in dense; must be dropped
	}
	out := fuseOriginalWithBM25(dense, bm25, 60)
	require.Len(t, out, 1)
}

func TestCountBM25OnlyArticles_CountsUniqueMissingArticles(t *testing.T) {
	dense := []SearchResult{{ChunkID: uuid.New(), ArticleID: "A1"}}
	bm25 := []BM25Result{
		{ArticleID: "A1", Rank: 1},
		{ArticleID: "A2", Rank: 2},
		{ArticleID: "A2", Rank: 2}, // duplicate article, counted once
		{ArticleID: "A3", Rank: 3},
	}
	assert.Equal(t, 2, countBM25OnlyArticles(dense, bm25))
}

func TestFanOutRewriteSearches_BoundsConcurrency(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	embeddings := make([][]float32, 20)
	for i := range embeddings {
		embeddings[i] = []float32{float32(i)}
	}
	sc := &StageContext{
		Config:               DefaultConfig(),
		AdditionalEmbeddings: embeddings,
	}
	repo := &mockRepository{
		SearchFunc: func(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			return []SearchResult{}, nil
		},
	}
	_, err := fanOutRewriteSearches(context.Background(), sc, repo)
	require.NoError(t, err)
	assert.LessOrEqual(t, maxInFlight, maxConcurrentRewriteSearches)
}

func TestFuseExpandedRRF_DedupAcrossRewrites(t *testing.T) {
	cx := newTestChunk("Cx")
	perRewrite := [][]SearchResult{
		{cx},
		{cx},
	}
	out := fuseExpandedRRF(perRewrite, 60)
	require.Len(t, out, 1)
	assert.Equal(t, cx.ChunkID, out[0].ChunkID)
}

func TestFuseExpandedRRF_EmptyWhenNoRewrites(t *testing.T) {
	out := fuseExpandedRRF(nil, 60)
	assert.Empty(t, out)
}

func TestFuseExpandedRRF_OrdersByRRFNotPresentationScore(t *testing.T) {
	low := SearchResult{ChunkID: uuid.New(), Score: 0.1}
	high := SearchResult{ChunkID: uuid.New(), Score: 0.99}
	// low appears in two rewrite lists (higher RRF), high only in one.
	perRewrite := [][]SearchResult{
		{low, high},
		{low},
	}
	out := fuseExpandedRRF(perRewrite, 60)
	require.Len(t, out, 2)
	assert.Equal(t, low.ChunkID, out[0].ChunkID)
	assert.Equal(t, 0.1, out[0].Score) // presentation score preserved
}

func TestFanOutRewriteSearches_DeterministicPositionalOrder(t *testing.T) {
	e1 := SearchResult{ChunkID: uuid.New(), Title: "first"}
	e2 := SearchResult{ChunkID: uuid.New(), Title: "second"}

	sc := &StageContext{
		Config:               DefaultConfig(),
		AdditionalEmbeddings: [][]float32{{0.1}, {0.2}},
	}
	repo := &mockRepository{
		SearchFunc: func(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
			if vector[0] == 0.1 {
				return []SearchResult{e1}, nil
			}
			return []SearchResult{e2}, nil
		},
	}
	results, err := fanOutRewriteSearches(context.Background(), sc, repo)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, e1.ChunkID, results[0][0].ChunkID)
	assert.Equal(t, e2.ChunkID, results[1][0].ChunkID)
}

func TestFanOutRewriteSearches_FirstErrorIsFatal(t *testing.T) {
	sc := &StageContext{
		Config:               DefaultConfig(),
		AdditionalEmbeddings: [][]float32{{0.1}, {0.2}},
	}
	repo := &mockRepository{
		SearchFunc: func(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
			if vector[0] == 0.2 {
				return nil, errors.New("search backend unavailable")
			}
			return []SearchResult{}, nil
		},
	}
	_, err := fanOutRewriteSearches(context.Background(), sc, repo)
	require.Error(t, err)
}

func TestRunFuse_PropagatesFatalFanOutError(t *testing.T) {
	sc := &StageContext{
		Config:               DefaultConfig(),
		AdditionalEmbeddings: [][]float32{{0.1}},
		OriginalDenseResults: []SearchResult{},
	}
	repo := &mockRepository{
		SearchFunc: func(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
			return nil, errors.New("boom")
		},
	}
	err := runFuse(context.Background(), sc, fuseDeps{Repository: repo, Logger: logrus.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fuse")
}
