// Package semantic implements Tier 2 of the two-layer retrieval pipeline
// (C6): cosine similarity search with per-doc-type boosting, excluding
// chunks Tier 1 already surfaced. Ported from vector_service.py's
// tier2_semantic_search.
package semantic

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
	"github.com/zks-samoprocjena/compliance-engine/internal/embedding"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/chunkstore"
)

// DefaultLimit mirrors RetrievalConfig.tier2_limit.
const DefaultLimit = 30

// docTypeBoosts is RetrievalConfig.doc_type_boosts, verbatim.
var docTypeBoosts = map[domain.DocType]float64{
	domain.DocTypeZKS:        1.2,
	domain.DocTypeNIS2:       1.1,
	domain.DocTypeUKS:        1.0,
	domain.DocTypePrilogB:    0.9,
	domain.DocTypePrilogC:    0.9,
	domain.DocTypeISO:        0.8,
	domain.DocTypeNIST:       0.8,
	domain.DocTypeStandard:   0.7,
	domain.DocTypeRegulation: 0.85,
	domain.DocTypeCustom:     0.6,
}

// tier1ExcludeCount is "exclude top Tier 1 results" from
// similarity_search_with_score — only the first 10 tier1 ids are excluded
// from tier2, not the whole tier1 result set.
const tier1ExcludeCount = 10

type Searcher struct {
	store    *chunkstore.Store
	embedder embedding.Embedder
}

func New(store *chunkstore.Store, embedder embedding.Embedder) *Searcher {
	return &Searcher{store: store, embedder: embedder}
}

// Search embeds query, excludes the lead tier1 hits, and applies the ZKS
// filter when tier1 already produced more than 3 control-ID matches (the
// "prioritize framework docs" branch in similarity_search_with_score).
func (s *Searcher) Search(ctx context.Context, orgID uuid.UUID, query string, tier1 []chunkstore.ScopedChunk, tier1WasControlMatch bool, limit int) ([]chunkstore.ScopedChunk, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	exclude := make([]uuid.UUID, 0, tier1ExcludeCount)
	for i, c := range tier1 {
		if i >= tier1ExcludeCount {
			break
		}
		exclude = append(exclude, c.ID)
	}

	var docTypeFilter []domain.DocType
	if tier1WasControlMatch && len(tier1) > 3 {
		docTypeFilter = []domain.DocType{domain.DocTypeZKS}
	}

	results, err := s.store.SemanticSearch(ctx, orgID, vecs[0], exclude, docTypeFilter, limit)
	if err != nil {
		return nil, err
	}
	return applyBoost(results), nil
}

func applyBoost(results []chunkstore.ScopedChunk) []chunkstore.ScopedChunk {
	boosted := make([]chunkstore.ScopedChunk, len(results))
	copy(boosted, results)
	for i := range boosted {
		boost := docTypeBoosts[boosted[i].DocType]
		if boost == 0 {
			boost = 1.0
		}
		boosted[i].Rank *= boost
	}
	sort.SliceStable(boosted, func(i, j int) bool { return boosted[i].Rank > boosted[j].Rank })
	return boosted
}
