// Package fusion combines Tier 1 and Tier 2 results with Reciprocal Rank
// Fusion and then reranks the fused pool with a handful of domain-specific
// boosts (C7). Ported from vector_service.py's rrf_fusion and
// rag_service.py's _rerank_results.
package fusion

import (
	"sort"
	"strings"

	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/chunkstore"
)

const (
	// RRFK is RetrievalConfig.rrf_k.
	RRFK = 60
	// Tier1Weight is RetrievalConfig.tier1_weight.
	Tier1Weight = 0.6
	// RerankTopN is RetrievalConfig.rerank_top_n: how many fused results
	// survive into the rerank pass.
	RerankTopN = 30
	// FinalK is RetrievalConfig.final_k: the final result count returned to
	// the caller.
	FinalK = 8
)

// TierSource records which tier(s) produced a fused result, mirroring the
// 'tier_source' metadata key the Python pipeline stashes for reranking.
type TierSource string

const (
	TierSourceTier1 TierSource = "tier1"
	TierSourceTier2 TierSource = "tier2"
	TierSourceBoth  TierSource = "both"
)

type Fused struct {
	chunkstore.ScopedChunk
	Score      float64
	TierSource TierSource
}

func rrfScore(rank int) float64 {
	return 1.0 / float64(RRFK+rank)
}

// RRF fuses tier1 and tier2, keyed by chunk ID — a chunk present in both
// tiers accumulates both weighted RRF contributions, exactly as
// combined_scores[key] does in rrf_fusion.
func RRF(tier1, tier2 []chunkstore.ScopedChunk) []Fused {
	byID := make(map[string]*Fused, len(tier1)+len(tier2))
	var order []string

	for rank, c := range tier1 {
		key := c.ID.String()
		byID[key] = &Fused{ScopedChunk: c, Score: Tier1Weight * rrfScore(rank), TierSource: TierSourceTier1}
		order = append(order, key)
	}
	for rank, c := range tier2 {
		key := c.ID.String()
		if existing, ok := byID[key]; ok {
			existing.Score += (1 - Tier1Weight) * rrfScore(rank)
			existing.TierSource = TierSourceBoth
			continue
		}
		byID[key] = &Fused{ScopedChunk: c, Score: (1 - Tier1Weight) * rrfScore(rank), TierSource: TierSourceTier2}
		order = append(order, key)
	}

	out := make([]Fused, 0, len(order))
	for _, key := range order {
		out = append(out, *byID[key])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Rerank applies the control-ID/tier-source/doc-type boosts from
// _rerank_results over the top RerankTopN fused candidates and returns the
// top FinalK. Skips reranking entirely when there are FinalK or fewer
// candidates, matching "if len(results) <= k: return results".
func Rerank(query string, fused []Fused) []Fused {
	if len(fused) <= FinalK {
		return fused
	}
	pool := fused
	if len(pool) > RerankTopN {
		pool = pool[:RerankTopN]
	}

	queryUpper := strings.ToUpper(query)
	queryLower := strings.ToLower(query)
	isFrameworkQuery := strings.Contains(queryLower, "framework")
	isControlQuery := containsAny(queryLower, "kontrola", "control", "mjera", "measure")

	reranked := make([]Fused, len(pool))
	copy(reranked, pool)
	for i := range reranked {
		score := reranked[i].Score

		for _, cid := range reranked[i].ControlIDs {
			if strings.Contains(queryUpper, cid) {
				score *= 2.0
				break
			}
		}

		switch reranked[i].TierSource {
		case TierSourceTier1:
			score *= 1.5
		case TierSourceBoth:
			score *= 1.3
		}

		switch reranked[i].DocType {
		case domain.DocTypeZKS, domain.DocTypeNIS2:
			if isFrameworkQuery {
				score *= 1.2
			}
		case domain.DocTypePrilogB, domain.DocTypePrilogC:
			if isControlQuery {
				score *= 1.2
			}
		}

		reranked[i].Score = score
	}

	sort.SliceStable(reranked, func(i, j int) bool { return reranked[i].Score > reranked[j].Score })
	if len(reranked) > FinalK {
		reranked = reranked[:FinalK]
	}
	return reranked
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
