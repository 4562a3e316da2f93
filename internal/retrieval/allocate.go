package retrieval

import "sort"

// runAllocate executes stage 5, selecting the final QuotaOriginal +
// QuotaExpanded context items. It never fails and is idempotent: calling
// it twice against the same StageContext yields the same result.
func runAllocate(sc *StageContext) []ContextItem {
	if sc.Config.DynamicLanguageAllocationEnabled {
		return allocateDynamic(sc)
	}
	return allocateLegacy(sc)
}

// allocateDynamic merges both buckets, dedups by chunk id, sorts
// descending by score, and truncates to the combined quota.
func allocateDynamic(sc *StageContext) []ContextItem {
	quota := sc.Config.QuotaOriginal + sc.Config.QuotaExpanded
	seen := make(map[ChunkID]struct{})
	merged := make([]ContextItem, 0, len(sc.HitsOriginal)+len(sc.HitsExpanded))

	for _, r := range sc.HitsOriginal {
		if _, ok := seen[r.ChunkID]; ok {
			continue
		}
		seen[r.ChunkID] = struct{}{}
		merged = append(merged, contextItemFromSearchResult(&r))
	}
	for _, c := range sc.HitsExpanded {
		if _, ok := seen[c.ChunkID]; ok {
			continue
		}
		seen[c.ChunkID] = struct{}{}
		merged = append(merged, c)
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if quota >= 0 && len(merged) > quota {
		merged = merged[:quota]
	}
	return merged
}

// allocateLegacy takes up to QuotaOriginal items from HitsOriginal, then
// fills up to QuotaExpanded from HitsExpanded in two passes: non-Japanese
// titles first, then whatever remains.
func allocateLegacy(sc *StageContext) []ContextItem {
	seen := make(map[ChunkID]struct{})
	out := make([]ContextItem, 0, sc.Config.QuotaOriginal+sc.Config.QuotaExpanded)

	for _, r := range sc.HitsOriginal {
		if len(out) >= sc.Config.QuotaOriginal {
			break
		}
		if _, ok := seen[r.ChunkID]; ok {
			continue
		}
		seen[r.ChunkID] = struct{}{}
		out = append(out, contextItemFromSearchResult(&r))
	}

	expandedCount := 0
	quotaExpanded := sc.Config.QuotaExpanded

	for _, c := range sc.HitsExpanded {
		if expandedCount >= quotaExpanded {
			break
		}
		if _, ok := seen[c.ChunkID]; ok {
			continue
		}
		if isJapanese(c.Title) {
			continue
		}
		seen[c.ChunkID] = struct{}{}
		out = append(out, c)
		expandedCount++
	}

	for _, c := range sc.HitsExpanded {
		if expandedCount >= quotaExpanded {
			break
		}
		if _, ok := seen[c.ChunkID]; ok {
			continue
		}
		seen[c.ChunkID] = struct{}{}
		out = append(out, c)
		expandedCount++
	}

	return out
}
