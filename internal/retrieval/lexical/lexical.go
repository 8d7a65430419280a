// Package lexical implements Tier 1 of the two-layer retrieval pipeline
// (C5): an exact control-ID match, falling back to full-text search when no
// control ID is present or no chunk carries it. Ported from
// vector_service.py's tier1_control_search/tier1_fulltext_search.
package lexical

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/zks-samoprocjena/compliance-engine/internal/store/chunkstore"
)

// DefaultLimit mirrors RetrievalConfig.tier1_limit.
const DefaultLimit = 20

var controlPattern = regexp.MustCompile(`\b[A-Z]{3,4}-\d{3}\b`)

// ExtractControlID returns the first control code mentioned in the query
// text, or "" if none is present — the same heuristic
// similarity_search_with_score uses before choosing a search mode.
func ExtractControlID(query string) string {
	m := controlPattern.FindString(strings.ToUpper(query))
	return m
}

type Searcher struct {
	store *chunkstore.Store
}

func New(store *chunkstore.Store) *Searcher {
	return &Searcher{store: store}
}

// Search runs the control-ID exact match when controlID is non-empty,
// falling back to full-text search when that yields nothing — the same
// fallback order as similarity_search_with_score.
func (s *Searcher) Search(ctx context.Context, orgID uuid.UUID, query, controlID string, limit int) ([]chunkstore.ScopedChunk, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if controlID == "" {
		controlID = ExtractControlID(query)
	}

	if controlID != "" {
		results, err := s.store.ControlIDSearch(ctx, orgID, controlID, limit)
		if err != nil {
			return nil, err
		}
		if len(results) > 0 {
			return results, nil
		}
	}
	return s.store.FullTextSearch(ctx, orgID, query, limit)
}
