package retrieval

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(title string, score float64) ContextItem {
	return ContextItem{ChunkID: uuid.New(), Title: title, Score: score}
}

func TestAllocateDynamic_MergesSortsAndTruncates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QuotaOriginal = 1
	cfg.QuotaExpanded = 1

	o := item("Original", 0.90)
	e := item("Expanded", 0.85)
	extra := item("Extra", 0.99)

	sc := &StageContext{
		Config:       cfg,
		HitsOriginal: []SearchResult{{ChunkID: o.ChunkID, Title: o.Title, Score: o.Score}},
		HitsExpanded: []ContextItem{e, extra},
	}

	out := runAllocate(sc)
	require.Len(t, out, 2) // quota = 1 + 1
	assert.Equal(t, extra.ChunkID, out[0].ChunkID)
	assert.Equal(t, o.ChunkID, out[1].ChunkID)
}

func TestAllocateDynamic_DedupsByChunkID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QuotaOriginal = 5
	cfg.QuotaExpanded = 5

	shared := item("Shared", 0.5)
	sc := &StageContext{
		Config:       cfg,
		HitsOriginal: []SearchResult{{ChunkID: shared.ChunkID, Title: shared.Title, Score: shared.Score}},
		HitsExpanded: []ContextItem{shared},
	}
	out := runAllocate(sc)
	assert.Len(t, out, 1)
}

func TestAllocateDynamic_IsIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	sc := &StageContext{
		Config:       cfg,
		HitsOriginal: []SearchResult{{ChunkID: uuid.New(), Score: 0.9}},
		HitsExpanded: []ContextItem{item("E", 0.5)},
	}
	first := runAllocate(sc)
	second := runAllocate(sc)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ChunkID, second[i].ChunkID)
		assert.Equal(t, first[i].Score, second[i].Score)
	}
}

func TestAllocateLegacy_PrefersNonJapaneseThenFillsRemainder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DynamicLanguageAllocationEnabled = false
	cfg.QuotaOriginal = 1
	cfg.QuotaExpanded = 2

	o := SearchResult{ChunkID: uuid.New(), Title: "Original", Score: 0.95}
	j1 := item("日本語", 0.90)
	e := item("English", 0.85)
	j2 := item("もう一つ", 0.80)

	sc := &StageContext{
		Config:       cfg,
		HitsOriginal: []SearchResult{o},
		HitsExpanded: []ContextItem{j1, e, j2},
	}

	out := runAllocate(sc)
	require.Len(t, out, 3)
	assert.Equal(t, o.ChunkID, out[0].ChunkID)
	assert.Equal(t, e.ChunkID, out[1].ChunkID)
	assert.Equal(t, j1.ChunkID, out[2].ChunkID)
}

func TestAllocateLegacy_NoDuplicateAcrossBuckets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DynamicLanguageAllocationEnabled = false
	cfg.QuotaOriginal = 5
	cfg.QuotaExpanded = 5

	shared := item("Shared", 0.5)
	sc := &StageContext{
		Config:       cfg,
		HitsOriginal: []SearchResult{{ChunkID: shared.ChunkID, Title: shared.Title, Score: shared.Score}},
		HitsExpanded: []ContextItem{shared},
	}
	out := runAllocate(sc)
	assert.Len(t, out, 1)
}

func TestAllocate_OutputNeverExceedsQuota(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QuotaOriginal = 2
	cfg.QuotaExpanded = 2

	hitsOriginal := make([]SearchResult, 0, 10)
	for i := 0; i < 10; i++ {
		hitsOriginal = append(hitsOriginal, SearchResult{ChunkID: uuid.New(), Score: float64(i)})
	}
	sc := &StageContext{Config: cfg, HitsOriginal: hitsOriginal}

	assert.LessOrEqual(t, len(runAllocate(sc)), cfg.QuotaOriginal+cfg.QuotaExpanded)

	cfg.DynamicLanguageAllocationEnabled = false
	sc.Config = cfg
	assert.LessOrEqual(t, len(runAllocate(sc)), cfg.QuotaOriginal+cfg.QuotaExpanded)
}
