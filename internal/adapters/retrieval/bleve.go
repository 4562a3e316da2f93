package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/sirupsen/logrus"

	"dev.hybridrag.retrieval/internal/retrieval"
)

// bleveArticleDoc is the document shape indexed for sparse search. Only the
// article's full text is analyzed; the article id is carried as the
// document id rather than a mapped field.
type bleveArticleDoc struct {
	Text string `json:"text"`
}

// BleveBM25Searcher implements retrieval.BM25Searcher over an in-process
// Bleve index, keyed by article id.
type BleveBM25Searcher struct {
	mu     sync.RWMutex
	index  bleve.Index
	logger *logrus.Logger
}

// NewBleveBM25Searcher builds an in-memory Bleve index. path, when
// non-empty, persists the index to disk instead.
func NewBleveBM25Searcher(path string, logger *logrus.Logger) (*BleveBM25Searcher, error) {
	if logger == nil {
		logger = logrus.New()
	}

	mapping := bleve.NewIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("bleve: open index: %w", err)
	}

	return &BleveBM25Searcher{index: idx, logger: logger}, nil
}

// IndexArticle adds or replaces an article's full text in the index.
func (b *BleveBM25Searcher) IndexArticle(articleID retrieval.ArticleID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.index.Index(string(articleID), bleveArticleDoc{Text: text}); err != nil {
		return fmt.Errorf("bleve: index article %s: %w", articleID, err)
	}
	return nil
}

// SearchBM25 runs a BM25-scored match query over the raw query text and
// returns one rank-ordered result per matching article.
func (b *BleveBM25Searcher) SearchBM25(ctx context.Context, query string, limit int) ([]retrieval.BM25Result, error) {
	if strings.TrimSpace(query) == "" {
		return []retrieval.BM25Result{}, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("text")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve: search: %w", err)
	}

	out := make([]retrieval.BM25Result, 0, len(result.Hits))
	for i, hit := range result.Hits {
		out = append(out, retrieval.BM25Result{
			ArticleID: hit.ID,
			Rank:      i + 1,
			Score:     hit.Score,
		})
	}
	return out, nil
}

// Close releases the underlying index resources.
func (b *BleveBM25Searcher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Close()
}
