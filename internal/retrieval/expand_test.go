package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEncoder struct {
	vectors [][]float32
	err     error
}

func (m *mockEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.vectors, nil
}

type mockExpander struct {
	lines []string
	err   error
}

func (m *mockExpander) Expand(ctx context.Context, query string) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.lines, nil
}

type mockLLM struct {
	response string
	err      error
}

func (m *mockLLM) Complete(ctx context.Context, prompt string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

type mockTagClient struct {
	hits []SearchHit
	err  error
}

func (m *mockTagClient) Search(ctx context.Context, query string) ([]SearchHit, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.hits, nil
}

func TestRunExpand_FatalOnEmbedFailure(t *testing.T) {
	sc := newStageContext(QueryInput{Query: "Q"}, DefaultConfig())
	err := runExpand(context.Background(), sc, expandDeps{
		Encoder: &mockEncoder{err: errors.New("encoder down")},
		Logger:  logrus.New(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expand")
}

func TestRunExpand_FatalOnEmptyEmbedding(t *testing.T) {
	sc := newStageContext(QueryInput{Query: "Q"}, DefaultConfig())
	err := runExpand(context.Background(), sc, expandDeps{
		Encoder: &mockEncoder{vectors: [][]float32{{}}},
		Logger:  logrus.New(),
	})
	require.Error(t, err)
}

func TestRunExpand_BothExpansionSourcesFailIsNonFatal(t *testing.T) {
	sc := newStageContext(QueryInput{Query: "Q"}, DefaultConfig())
	err := runExpand(context.Background(), sc, expandDeps{
		Encoder:  &mockEncoder{vectors: [][]float32{{0.1, 0.2}}},
		Expander: &mockExpander{err: errors.New("expander down")},
		LLM:      &mockLLM{err: errors.New("llm down")},
		Logger:   logrus.New(),
	})
	require.NoError(t, err)
	assert.Empty(t, sc.ExpandedQueries)
	assert.NotEmpty(t, sc.OriginalEmbedding)
}

func TestRunExpand_ExpanderWinsWhenLLMFails(t *testing.T) {
	sc := newStageContext(QueryInput{Query: "Q"}, DefaultConfig())
	err := runExpand(context.Background(), sc, expandDeps{
		Encoder:  &mockEncoder{vectors: [][]float32{{0.1}}},
		Expander: &mockExpander{lines: []string{"rewrite one", "rewrite two"}},
		LLM:      &mockLLM{err: errors.New("llm down")},
		Logger:   logrus.New(),
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rewrite one", "rewrite two"}, sc.ExpandedQueries)
}

func TestRunExpand_TagSearchDropsRawQueryAndDupes(t *testing.T) {
	sc := newStageContext(QueryInput{Query: "golang concurrency"}, DefaultConfig())
	err := runExpand(context.Background(), sc, expandDeps{
		Encoder:  &mockEncoder{vectors: [][]float32{{0.1}}},
		Expander: &mockExpander{lines: []string{"goroutines"}},
		Tags: &mockTagClient{hits: []SearchHit{
			{ArticleID: "a1", Tags: []string{"golang concurrency", "goroutines", "channels"}},
			{ArticleID: "a2", Tags: []string{"channels", "select statement"}},
		}},
		Logger: logrus.New(),
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"channels", "select statement"}, sc.TagQueries)
	assert.NotContains(t, sc.TagQueries, "golang concurrency")
	assert.NotContains(t, sc.TagQueries, "goroutines")
}

func TestRunExpand_TagSearchFailureIsNonFatal(t *testing.T) {
	sc := newStageContext(QueryInput{Query: "Q"}, DefaultConfig())
	err := runExpand(context.Background(), sc, expandDeps{
		Encoder: &mockEncoder{vectors: [][]float32{{0.1}}},
		Tags:    &mockTagClient{err: errors.New("tag search down")},
		Logger:  logrus.New(),
	})
	require.NoError(t, err)
	assert.Empty(t, sc.TagQueries)
}

func TestTrimLines_DropsEmptyAndTrims(t *testing.T) {
	out := trimLines([]string{"  one  ", "", "two", "   "})
	assert.Equal(t, []string{"one", "two"}, out)
}
