package retrieval

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type embedAndSearchDeps struct {
	Encoder    VectorEncoder
	BM25       BM25Searcher
	Repository ChunkRepository
	Logger     *logrus.Logger
}

// runEmbedAndSearch executes stage 2. Only the original dense search is
// fatal; additional embeddings and BM25 degrade to empty on failure.
func runEmbedAndSearch(ctx context.Context, sc *StageContext, deps embedAndSearchDeps) error {
	start := time.Now()
	log := deps.Logger

	sc.AdditionalQueries = buildAdditionalQueries(sc.ExpandedQueries, sc.TagQueries)

	var wg sync.WaitGroup
	var denseErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		if len(sc.AdditionalQueries) == 0 {
			sc.AdditionalEmbeddings = [][]float32{}
			return
		}
		vectors, err := deps.Encoder.Encode(ctx, sc.AdditionalQueries)
		if err != nil {
			log.WithFields(logrus.Fields{"retrieval_id": sc.RetrievalID}).
				Warn("additional embeddings failed: " + err.Error())
			sc.AdditionalEmbeddings = [][]float32{}
			return
		}
		sc.AdditionalEmbeddings = vectors
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if !sc.Config.HybridEnabled || deps.BM25 == nil {
			sc.BM25Results = []BM25Result{}
			return
		}
		limit := sc.Config.BM25Limit
		if limit <= 0 {
			limit = 50
		}
		results, err := deps.BM25.SearchBM25(ctx, sc.Query, limit)
		if err != nil {
			log.WithFields(logrus.Fields{"retrieval_id": sc.RetrievalID}).
				Warn("bm25 search failed: " + err.Error())
			sc.BM25Results = []BM25Result{}
			return
		}
		sc.BM25Results = results
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		limit := sc.Config.SearchLimit
		if limit <= 0 {
			limit = 50
		}
		var results []SearchResult
		var err error
		if len(sc.CandidateArticleIDs) > 0 {
			results, err = deps.Repository.SearchWithinArticles(ctx, sc.OriginalEmbedding, sc.CandidateArticleIDs, limit)
		} else {
			results, err = deps.Repository.Search(ctx, sc.OriginalEmbedding, limit)
		}
		if err != nil {
			denseErr = err
			return
		}
		sc.OriginalDenseResults = results
	}()

	wg.Wait()

	log.WithFields(logrus.Fields{
		"retrieval_id":          sc.RetrievalID,
		"stage":                 "embed_and_search",
		"duration_ms":           time.Since(start).Milliseconds(),
		"additional_queries":    len(sc.AdditionalQueries),
		"additional_embeddings": len(sc.AdditionalEmbeddings),
		"bm25_results":          len(sc.BM25Results),
		"dense_results":         len(sc.OriginalDenseResults),
	}).Info("stage complete")

	if denseErr != nil {
		return stageError("embed_and_search", denseErr)
	}
	return nil
}

// buildAdditionalQueries concatenates expandedQueries with every tagQuery
// not already present, preserving order and deduping linearly.
func buildAdditionalQueries(expandedQueries, tagQueries []string) []string {
	seen := make(map[string]struct{}, len(expandedQueries))
	out := make([]string, 0, len(expandedQueries)+len(tagQueries))
	for _, q := range expandedQueries {
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	for _, q := range tagQueries {
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}
