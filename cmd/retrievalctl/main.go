package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	adapters "dev.hybridrag.retrieval/internal/adapters/retrieval"
	"dev.hybridrag.retrieval/internal/retrieval"
)

var (
	query            = flag.String("query", "", "Query text to retrieve context for")
	qdrantHost       = flag.String("qdrant-host", "localhost", "Qdrant host")
	qdrantPort       = flag.Int("qdrant-port", 6334, "Qdrant gRPC port")
	qdrantCollection = flag.String("qdrant-collection", "chunks", "Qdrant collection name")
	bm25IndexPath    = flag.String("bm25-index", "", "Path to Bleve BM25 index (in-memory if empty)")
	rerankEndpoint   = flag.String("rerank-endpoint", "", "Cross-encoder reranker endpoint (reranking disabled if empty)")
	expandEndpoint   = flag.String("expand-endpoint", "", "Query expansion endpoint (expansion disabled if empty)")
	version          = flag.Bool("version", false, "Show version information")
	help             = flag.Bool("help", false, "Show help message")
)

func main() {
	flag.Parse()

	if *help {
		showHelp()
		return
	}
	if *version {
		fmt.Println("retrievalctl v0.1.0")
		return
	}
	if *query == "" {
		fmt.Fprintln(os.Stderr, "retrievalctl: -query is required")
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(logger); err != nil {
		logger.WithError(err).Fatal("retrievalctl: failed")
	}
}

func run(logger *logrus.Logger) error {
	repo, err := adapters.NewQdrantChunkRepository(&adapters.QdrantConfig{
		Host:           *qdrantHost,
		Port:           *qdrantPort,
		CollectionName: *qdrantCollection,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect qdrant: %w", err)
	}

	bm25, err := adapters.NewBleveBM25Searcher(*bm25IndexPath, logger)
	if err != nil {
		return fmt.Errorf("open bm25 index: %w", err)
	}
	defer bm25.Close()

	builder := retrieval.NewPipeline().
		WithLogger(logger).
		WithEncoder(noopEncoder{}).
		WithRepository(repo).
		WithBM25(bm25)

	if *rerankEndpoint != "" {
		builder = builder.WithReranker(adapters.NewCrossEncoderReranker(*rerankEndpoint, os.Getenv("RERANKER_API_KEY"), adapters.DefaultRerankerConfig()))
		cfg := retrieval.DefaultConfig()
		cfg.RerankEnabled = true
		builder = builder.WithConfig(cfg)
	}
	if *expandEndpoint != "" {
		builder = builder.WithExpander(adapters.NewHTTPQueryExpander(*expandEndpoint, os.Getenv("EXPANDER_API_KEY"), 5*time.Second))
	}

	pipeline, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	items, err := pipeline.Retrieve(ctx, retrieval.QueryInput{Query: *query, RetrievalID: "cli"})
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// noopEncoder is a placeholder VectorEncoder for CLI smoke-testing without a
// configured embedding backend; it returns a single zero vector per text.
type noopEncoder struct{}

func (noopEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0}
	}
	return out, nil
}

func showHelp() {
	fmt.Print(`retrievalctl - hybrid retrieval pipeline CLI

Usage:
  retrievalctl -query "..." [options]

Options:
  -query string            Query text to retrieve context for
  -qdrant-host string       Qdrant host (default "localhost")
  -qdrant-port int          Qdrant gRPC port (default 6334)
  -qdrant-collection string Qdrant collection name (default "chunks")
  -bm25-index string        Path to Bleve BM25 index (in-memory if empty)
  -rerank-endpoint string   Cross-encoder reranker endpoint
  -expand-endpoint string   Query expansion endpoint
  -version                  Show version information
  -help                      Show this help message
`)
}
