package retrieval

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dev.hybridrag.retrieval/internal/concurrency"
)

// maxConcurrentRewriteSearches bounds how many rewrite dense searches run at
// once, independent of how many rewrites and tag queries stage 2 produced.
const maxConcurrentRewriteSearches = 8

type fuseDeps struct {
	Repository ChunkRepository
	Logger     *logrus.Logger
}

// runFuse executes stage 3. Dense-search fan-out over rewrite embeddings is
// fatal on the first error (an errgroup.Group cancels its siblings); RRF
// fusion itself never fails.
func runFuse(ctx context.Context, sc *StageContext, deps fuseDeps) error {
	start := time.Now()
	log := deps.Logger

	rewriteResults, err := fanOutRewriteSearches(ctx, sc, deps.Repository)
	if err != nil {
		return stageError("fuse", err)
	}

	sc.HitsOriginal = fuseOriginalWithBM25(sc.OriginalDenseResults, sc.BM25Results, sc.Config.RRFK)
	sc.HitsExpanded = fuseExpandedRRF(rewriteResults, sc.Config.RRFK)

	if dropped := countBM25OnlyArticles(sc.OriginalDenseResults, sc.BM25Results); dropped > 0 {
		log.WithFields(logrus.Fields{
			"retrieval_id": sc.RetrievalID,
			"stage":        "fuse",
			"dropped":      dropped,
		}).Debug("bm25-only articles dropped from fusion")
	}

	log.WithFields(logrus.Fields{
		"retrieval_id":  sc.RetrievalID,
		"stage":         "fuse",
		"duration_ms":   time.Since(start).Milliseconds(),
		"hits_original": len(sc.HitsOriginal),
		"hits_expanded": len(sc.HitsExpanded),
	}).Info("stage complete")

	return nil
}

// fanOutRewriteSearches dispatches one dense search per additional
// embedding (index 0 of AdditionalEmbeddings is the first rewrite, not the
// original query, which was already searched in stage 2) and collects
// results into a position-indexed slice so downstream RRF accumulation is
// deterministic regardless of goroutine completion order.
func fanOutRewriteSearches(ctx context.Context, sc *StageContext, repo ChunkRepository) ([][]SearchResult, error) {
	n := len(sc.AdditionalEmbeddings)
	results := make([][]SearchResult, n)
	if n == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	limit := sc.Config.SearchLimit
	if limit <= 0 {
		limit = 50
	}
	sem := concurrency.NewSemaphore(maxConcurrentRewriteSearches)
	defer sem.Close()
	for i := 0; i < n; i++ {
		idx := i
		vector := sc.AdditionalEmbeddings[idx]
		g.Go(func() error {
			if err := sem.Acquire(gctx); err != nil {
				return err
			}
			defer sem.Release()

			var res []SearchResult
			var err error
			if len(sc.CandidateArticleIDs) > 0 {
				res, err = repo.SearchWithinArticles(gctx, vector, sc.CandidateArticleIDs, limit)
			} else {
				res, err = repo.Search(gctx, vector, limit)
			}
			if err != nil {
				return err
			}
			results[idx] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fuseOriginalWithBM25 applies hybrid RRF, keyed by article id, between the
// original-query dense list and the BM25 list. When bm25Results is empty
// the dense list passes through unchanged.
func fuseOriginalWithBM25(dense []SearchResult, bm25 []BM25Result, k float64) []SearchResult {
	if len(bm25) == 0 {
		out := make([]SearchResult, len(dense))
		copy(out, dense)
		return out
	}

	type accum struct {
		score float64
		chunk *SearchResult
	}
	byArticle := make(map[ArticleID]*accum)

	for i, r := range dense {
		a, ok := byArticle[r.ArticleID]
		if !ok {
			rc := r
			a = &accum{chunk: &rc}
			byArticle[r.ArticleID] = a
		}
		a.score += 1.0 / (k + float64(i+1))
	}

	for _, b := range bm25 {
		a, ok := byArticle[b.ArticleID]
		if !ok {
			// Article seen only in BM25: no representative chunk is
			// known, so it is dropped from the fused output rather than
			// synthesized.
			continue
		}
		a.score += 1.0 / (k + float64(b.Rank))
	}

	out := make([]SearchResult, 0, len(byArticle))
	for _, a := range byArticle {
		chunk := *a.chunk
		chunk.Score = a.score
		out = append(out, chunk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// countBM25OnlyArticles counts BM25 hits whose article never appeared in
// the dense list, i.e. the articles fuseOriginalWithBM25 silently drops.
func countBM25OnlyArticles(dense []SearchResult, bm25 []BM25Result) int {
	if len(bm25) == 0 {
		return 0
	}
	denseArticles := make(map[ArticleID]struct{}, len(dense))
	for _, r := range dense {
		denseArticles[r.ArticleID] = struct{}{}
	}
	seen := make(map[ArticleID]struct{}, len(bm25))
	dropped := 0
	for _, b := range bm25 {
		if _, ok := seen[b.ArticleID]; ok {
			continue
		}
		seen[b.ArticleID] = struct{}{}
		if _, ok := denseArticles[b.ArticleID]; !ok {
			dropped++
		}
	}
	return dropped
}

// fuseExpandedRRF collapses every rewrite's dense-search results into a
// single chunk-id-keyed, RRF-scored list. The first observation of a chunk
// captures its presentation fields and dense score; later observations
// only add to the RRF score.
func fuseExpandedRRF(perRewrite [][]SearchResult, k float64) []ContextItem {
	type accum struct {
		rrf   float64
		first SearchResult
	}
	byChunk := make(map[ChunkID]*accum)
	order := make([]ChunkID, 0)

	for _, results := range perRewrite {
		for rank, r := range results {
			a, ok := byChunk[r.ChunkID]
			if !ok {
				a = &accum{first: r}
				byChunk[r.ChunkID] = a
				order = append(order, r.ChunkID)
			}
			a.rrf += 1.0 / (k + float64(rank+1))
		}
	}

	out := make([]ContextItem, 0, len(order))
	for _, id := range order {
		a := byChunk[id]
		item := contextItemFromSearchResult(&a.first)
		item.Score = a.first.Score
		out = append(out, item)
	}

	// Sort by the accumulated RRF score, not the presentation score.
	rrfScore := make(map[ChunkID]float64, len(byChunk))
	for id, a := range byChunk {
		rrfScore[id] = a.rrf
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rrfScore[out[i].ChunkID] > rrfScore[out[j].ChunkID]
	})
	return out
}
