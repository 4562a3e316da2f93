package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// expansionPromptTemplate is the literal instruction given to the
// general-purpose LLM expansion source. The "Current Date:" line format is
// load-bearing for downstream behavior and must not be reworded.
const expansionPromptTemplate = `You are a search query rewriter.

Current Date: %s

Given the user query below, produce 3 to 5 diverse English search queries
that capture the same intent using different phrasing, synonyms, or
levels of specificity. If the input query is not in English, translate it
first.

Rules:
- Output one query per line.
- Do not number the lines or use bullets.
- Do not add any explanation, preamble, or trailing commentary.

Query: %s`

// expandDeps bundles the external collaborators stage 1 needs.
type expandDeps struct {
	Encoder  VectorEncoder
	Expander QueryExpander
	LLM      LLMClient
	Tags     SearchClient
	Logger   *logrus.Logger
}

// runExpand executes stage 1. The only fatal failure is the original-query
// embed; expansion and tag search degrade to empty results.
func runExpand(ctx context.Context, sc *StageContext, deps expandDeps) error {
	start := time.Now()
	log := deps.Logger

	var wg sync.WaitGroup
	var embedErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		vectors, err := deps.Encoder.Encode(ctx, []string{sc.Query})
		if err != nil {
			embedErr = fmt.Errorf("embed original query: %w", err)
			return
		}
		if len(vectors) == 0 || len(vectors[0]) == 0 {
			embedErr = fmt.Errorf("embed original query: empty embedding returned")
			return
		}
		sc.OriginalEmbedding = vectors[0]
	}()

	// Expansion and tag search run in the same goroutine, sequentially: tag
	// search needs the finished ExpandedQueries list to exclude from its
	// own output, and reading it from a second goroutine without that
	// ordering would race with the ExpandedQueries write below.
	wg.Add(1)
	go func() {
		defer wg.Done()
		sc.ExpandedQueries = raceExpansion(ctx, sc.Query, deps.Expander, deps.LLM, log)
		sc.TagQueries = collectTagQueries(ctx, sc.Query, deps.Tags, sc.ExpandedQueries, log)
	}()

	wg.Wait()

	log.WithFields(logrus.Fields{
		"retrieval_id":     sc.RetrievalID,
		"stage":            "expand",
		"duration_ms":      time.Since(start).Milliseconds(),
		"expanded_queries": len(sc.ExpandedQueries),
		"tag_queries":      len(sc.TagQueries),
	}).Info("stage complete")

	if embedErr != nil {
		return stageError("expand", embedErr)
	}
	return nil
}

// raceExpansion runs the expander and the LLM concurrently and returns the
// first non-empty, non-error result. If both fail or return nothing, it
// returns an empty slice (non-fatal).
func raceExpansion(ctx context.Context, query string, expander QueryExpander, llm LLMClient, log *logrus.Logger) []string {
	type outcome struct {
		lines []string
	}
	results := make(chan outcome, 2)

	go func() {
		lines, err := expansionFromExpander(ctx, query, expander)
		if err != nil {
			log.WithFields(logrus.Fields{"source": "expander"}).Warn("query expansion source failed: " + err.Error())
			results <- outcome{}
			return
		}
		results <- outcome{lines: lines}
	}()

	go func() {
		lines, err := expansionFromLLM(ctx, query, llm)
		if err != nil {
			log.WithFields(logrus.Fields{"source": "llm"}).Warn("query expansion source failed: " + err.Error())
			results <- outcome{}
			return
		}
		results <- outcome{lines: lines}
	}()

	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			if len(r.lines) > 0 {
				return r.lines
			}
		case <-ctx.Done():
			return []string{}
		}
	}
	return []string{}
}

func expansionFromExpander(ctx context.Context, query string, expander QueryExpander) ([]string, error) {
	if expander == nil {
		return nil, fmt.Errorf("no expander configured")
	}
	lines, err := expander.Expand(ctx, query)
	if err != nil {
		return nil, err
	}
	return trimLines(lines), nil
}

func expansionFromLLM(ctx context.Context, query string, llm LLMClient) ([]string, error) {
	if llm == nil {
		return nil, fmt.Errorf("no llm client configured")
	}
	prompt := fmt.Sprintf(expansionPromptTemplate, time.Now().UTC().Format("2006-01-02"), query)
	resp, err := llm.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return trimLines(strings.Split(resp, "\n")), nil
}

func trimLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// collectTagQueries calls the tag/search client, takes up to the top 3
// hits, unions their tags, drops the raw query and anything already in
// expandedQueries, and dedups the remainder.
func collectTagQueries(ctx context.Context, query string, client SearchClient, expandedQueries []string, log *logrus.Logger) []string {
	if client == nil {
		return []string{}
	}
	hits, err := client.Search(ctx, query)
	if err != nil {
		log.WithFields(logrus.Fields{"source": "tag_search"}).Warn("tag search failed: " + err.Error())
		return []string{}
	}
	if len(hits) > 3 {
		hits = hits[:3]
	}

	excluded := make(map[string]struct{}, len(expandedQueries)+1)
	excluded[query] = struct{}{}
	for _, q := range expandedQueries {
		excluded[q] = struct{}{}
	}

	seen := make(map[string]struct{})
	out := []string{}
	for _, hit := range hits {
		for _, tag := range hit.Tags {
			if tag == "" {
				continue
			}
			if _, skip := excluded[tag]; skip {
				continue
			}
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}
