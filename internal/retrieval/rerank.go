package retrieval

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// maxRerankCandidates is a hard guard against cross-encoder inference
// timeouts. It is never exceeded regardless of Config.RerankTopK.
const maxRerankCandidates = 30

type rerankDeps struct {
	Reranker Reranker
	Logger   *logrus.Logger
}

// runRerank executes stage 4. Any failure (including timeout) is
// non-fatal: both hit lists are left exactly as fusion produced them.
func runRerank(ctx context.Context, sc *StageContext, deps rerankDeps) {
	start := time.Now()
	log := deps.Logger

	if !sc.Config.RerankEnabled || deps.Reranker == nil {
		return
	}

	candidates := buildRerankCandidates(sc.HitsOriginal, sc.HitsExpanded, sc.Config.RerankTopK)

	timeout := sc.Config.RerankTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scores, err := deps.Reranker.Rerank(rctx, sc.Query, candidates)
	if err != nil {
		log.WithFields(logrus.Fields{
			"retrieval_id": sc.RetrievalID,
			"model":        deps.Reranker.ModelName(),
		}).Warn("rerank failed, preserving fusion scores: " + err.Error())
		return
	}

	scoreByID := make(map[ChunkID]float64, len(scores))
	for _, s := range scores {
		scoreByID[s.ID] = s.Score
	}

	for i := range sc.HitsOriginal {
		if s, ok := scoreByID[sc.HitsOriginal[i].ChunkID]; ok {
			sc.HitsOriginal[i].Score = s
		}
	}
	for i := range sc.HitsExpanded {
		if s, ok := scoreByID[sc.HitsExpanded[i].ChunkID]; ok {
			sc.HitsExpanded[i].Score = s
		}
	}

	sort.SliceStable(sc.HitsOriginal, func(i, j int) bool { return sc.HitsOriginal[i].Score > sc.HitsOriginal[j].Score })
	sort.SliceStable(sc.HitsExpanded, func(i, j int) bool { return sc.HitsExpanded[i].Score > sc.HitsExpanded[j].Score })

	log.WithFields(logrus.Fields{
		"retrieval_id": sc.RetrievalID,
		"stage":        "rerank",
		"duration_ms":  time.Since(start).Milliseconds(),
		"candidates":   len(candidates),
		"model":        deps.Reranker.ModelName(),
	}).Info("stage complete")
}

// buildRerankCandidates builds a chunk-id-deduplicated candidate set: every
// HitsOriginal entry first, then any HitsExpanded entry not already
// present. The result is capped at maxRerankCandidates (and, if smaller,
// at topK), truncating to the highest-scored entries when over the cap.
func buildRerankCandidates(hitsOriginal []SearchResult, hitsExpanded []ContextItem, topK int) []RerankCandidate {
	seen := make(map[ChunkID]struct{})
	candidates := make([]RerankCandidate, 0, len(hitsOriginal)+len(hitsExpanded))

	for _, r := range hitsOriginal {
		if _, ok := seen[r.ChunkID]; ok {
			continue
		}
		seen[r.ChunkID] = struct{}{}
		candidates = append(candidates, RerankCandidate{ID: r.ChunkID, Content: r.Text, Score: r.Score})
	}
	for _, c := range hitsExpanded {
		if _, ok := seen[c.ChunkID]; ok {
			continue
		}
		seen[c.ChunkID] = struct{}{}
		candidates = append(candidates, RerankCandidate{ID: c.ChunkID, Content: c.ChunkText, Score: c.Score})
	}

	limit := maxRerankCandidates
	if topK > 0 && topK < limit {
		limit = topK
	}
	if len(candidates) > limit {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
		candidates = candidates[:limit]
	}
	return candidates
}
