package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Pipeline composes the five retrieval stages against a fixed set of
// external collaborators. Build one with NewPipeline().With...().Build().
type Pipeline struct {
	config Config
	logger *logrus.Logger

	encoder    VectorEncoder
	bm25       BM25Searcher
	repository ChunkRepository
	expander   QueryExpander
	llm        LLMClient
	tags       SearchClient
	reranker   Reranker
}

// Builder assembles a Pipeline. Required: VectorEncoder and
// ChunkRepository. Everything else is optional and, if absent, its
// contribution degrades to empty per spec.
type Builder struct {
	p   *Pipeline
	err error
}

// NewPipeline starts a Builder with DefaultConfig and a default logrus
// logger (writing to stderr).
func NewPipeline() *Builder {
	return &Builder{
		p: &Pipeline{
			config: DefaultConfig(),
			logger: logrus.New(),
		},
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.p.config = cfg
	return b
}

func (b *Builder) WithLogger(logger *logrus.Logger) *Builder {
	if logger != nil {
		b.p.logger = logger
	}
	return b
}

func (b *Builder) WithEncoder(encoder VectorEncoder) *Builder {
	b.p.encoder = encoder
	return b
}

func (b *Builder) WithBM25(bm25 BM25Searcher) *Builder {
	b.p.bm25 = bm25
	return b
}

func (b *Builder) WithRepository(repo ChunkRepository) *Builder {
	b.p.repository = repo
	return b
}

func (b *Builder) WithExpander(expander QueryExpander) *Builder {
	b.p.expander = expander
	return b
}

func (b *Builder) WithLLM(llm LLMClient) *Builder {
	b.p.llm = llm
	return b
}

func (b *Builder) WithTagSearch(client SearchClient) *Builder {
	b.p.tags = client
	return b
}

func (b *Builder) WithReranker(reranker Reranker) *Builder {
	b.p.reranker = reranker
	return b
}

// Build validates required collaborators and returns the assembled
// Pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.p.encoder == nil {
		return nil, fmt.Errorf("pipeline: VectorEncoder is required")
	}
	if b.p.repository == nil {
		return nil, fmt.Errorf("pipeline: ChunkRepository is required")
	}
	return b.p, nil
}

// Retrieve runs the full five-stage pipeline for one query and returns the
// final, ordered list of context items. Callers always receive either a
// non-nil slice and a nil error, or a nil slice and a non-nil error — there
// is no partial-result error.
func (p *Pipeline) Retrieve(ctx context.Context, in QueryInput) ([]ContextItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, stageError("retrieve", err)
	}

	sc := newStageContext(in, p.config)

	if err := runExpand(ctx, sc, expandDeps{
		Encoder:  p.encoder,
		Expander: p.expander,
		LLM:      p.llm,
		Tags:     p.tags,
		Logger:   p.logger,
	}); err != nil {
		return nil, err
	}

	if err := runEmbedAndSearch(ctx, sc, embedAndSearchDeps{
		Encoder:    p.encoder,
		BM25:       p.bm25,
		Repository: p.repository,
		Logger:     p.logger,
	}); err != nil {
		return nil, err
	}

	if err := runFuse(ctx, sc, fuseDeps{
		Repository: p.repository,
		Logger:     p.logger,
	}); err != nil {
		return nil, err
	}

	runRerank(ctx, sc, rerankDeps{
		Reranker: p.reranker,
		Logger:   p.logger,
	})

	allocStart := time.Now()
	items := runAllocate(sc)
	p.logger.WithFields(logrus.Fields{
		"retrieval_id": sc.RetrievalID,
		"stage":        "allocate",
		"duration_ms":  time.Since(allocStart).Milliseconds(),
		"contexts":     len(items),
	}).Info("stage complete")

	return items, nil
}
