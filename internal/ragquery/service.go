// Package ragquery composes the two retrieval tiers, the RRF fuser/reranker,
// and (for the generative path) a Generator plus the citation validator into
// the two operations §6 names: search and answer_with_citations. Grounded on
// rag_service.py's retrieve_context/answer-assembly flow, which is the one
// place in the original source that actually calls both tiers and hands the
// result to a generator.
package ragquery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zks-samoprocjena/compliance-engine/internal/citation"
	"github.com/zks-samoprocjena/compliance-engine/internal/retrieval/fusion"
	"github.com/zks-samoprocjena/compliance-engine/internal/retrieval/lexical"
	"github.com/zks-samoprocjena/compliance-engine/internal/retrieval/semantic"
	"github.com/zks-samoprocjena/compliance-engine/internal/searchcache"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/chunkstore"
)

// cacheTTL is the §5 "seconds to minutes" fused-result cache lifetime.
const cacheTTL = 30 * time.Second

// Result is one §6 search() response element.
type Result struct {
	ChunkID    string             `json:"chunk_id"`
	Content    string             `json:"content"`
	PageAnchor int                `json:"page_anchor"`
	Score      float64            `json:"score"`
	DocTitle   string             `json:"doc_title"`
	DocType    string             `json:"doc_type"`
	ControlIDs []string           `json:"control_ids"`
	TierSource fusion.TierSource  `json:"tier_source"`
}

// TierAnalysis is the §6 answer_with_citations tier_analysis object.
type TierAnalysis struct {
	Tier1Used       bool `json:"tier1_used"`
	Tier2Used       bool `json:"tier2_used"`
	ControlFocused  bool `json:"control_focused"`
}

// ValidationStatus is the §6 answer_with_citations validation_status enum.
type ValidationStatus string

const (
	ValidationValidated ValidationStatus = "validated"
	ValidationNoSources ValidationStatus = "no_sources"
	ValidationError     ValidationStatus = "error"
)

// AnswerResult is the §6 answer_with_citations response shape.
type AnswerResult struct {
	Response         string             `json:"response"`
	Citations        []citation.Citation `json:"citations"`
	SourceChunks     []Result           `json:"source_chunks"`
	ValidationStatus ValidationStatus   `json:"validation_status"`
	TierAnalysis     TierAnalysis       `json:"tier_analysis"`
}

// Service wires C5∥C6 -> C7 -> [Generator -> C8] behind the §6 search/
// answer_with_citations contract.
type Service struct {
	lexical   *lexical.Searcher
	semantic  *semantic.Searcher
	generator Generator
	citations *citation.Validator
	cache     searchcache.Cache
	logger    *zap.Logger
}

func New(lex *lexical.Searcher, sem *semantic.Searcher, gen Generator, cit *citation.Validator, cache searchcache.Cache, logger *zap.Logger) *Service {
	return &Service{lexical: lex, semantic: sem, generator: gen, citations: cit, cache: cache, logger: logger}
}

// retrieve runs C5∥C6 -> C7 and returns the final_k fused/reranked chunks
// plus which tiers contributed, cached under the §5 normalized-query key.
func (s *Service) retrieve(ctx context.Context, orgID uuid.UUID, query, controlID string) ([]fusion.Fused, TierAnalysis, error) {
	normalized := strings.ToLower(strings.TrimSpace(query))
	cacheKey := searchcache.Key(normalized, orgID, fusion.FinalK)

	if s.cache != nil {
		if raw, hit, err := s.cache.Get(ctx, cacheKey); err == nil && hit {
			var cached []fusion.Fused
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, analyzeTiers(cached, controlID != "" || lexical.ExtractControlID(query) != ""), nil
			}
		}
	}

	tier1, err := s.lexical.Search(ctx, orgID, query, controlID, lexical.DefaultLimit)
	if err != nil {
		return nil, TierAnalysis{}, fmt.Errorf("ragquery: tier1 search: %w", err)
	}

	controlFocused := controlID != "" || lexical.ExtractControlID(query) != ""
	wasControlMatch := controlFocused && len(tier1) > 0 && tier1[0].Rank >= 1.0

	var tier2 []chunkstore.ScopedChunk
	if s.semantic != nil {
		tier2, err = s.semantic.Search(ctx, orgID, query, tier1, wasControlMatch, semantic.DefaultLimit)
		if err != nil {
			return nil, TierAnalysis{}, fmt.Errorf("ragquery: tier2 search: %w", err)
		}
	}

	fused := fusion.RRF(tier1, tier2)
	fused = fusion.Rerank(query, fused)

	if s.cache != nil {
		if raw, err := json.Marshal(fused); err == nil {
			_ = s.cache.Set(ctx, cacheKey, raw, cacheTTL)
		}
	}

	return fused, TierAnalysis{Tier1Used: len(tier1) > 0, Tier2Used: len(tier2) > 0, ControlFocused: controlFocused}, nil
}

func analyzeTiers(fused []fusion.Fused, controlFocused bool) TierAnalysis {
	ta := TierAnalysis{ControlFocused: controlFocused}
	for _, f := range fused {
		if f.TierSource == fusion.TierSourceTier1 || f.TierSource == fusion.TierSourceBoth {
			ta.Tier1Used = true
		}
		if f.TierSource == fusion.TierSourceTier2 || f.TierSource == fusion.TierSourceBoth {
			ta.Tier2Used = true
		}
	}
	return ta
}

// Search is the §6 search() contract: fused, reranked chunks directly, with
// no generative step.
func (s *Service) Search(ctx context.Context, orgID uuid.UUID, query string, k int, controlID string) ([]Result, error) {
	fused, _, err := s.retrieve(ctx, orgID, query, controlID)
	if err != nil {
		return nil, err
	}
	if k <= 0 || k > len(fused) {
		k = len(fused)
	}
	out := make([]Result, 0, k)
	for _, f := range fused[:k] {
		out = append(out, toResult(f))
	}
	return out, nil
}

func toResult(f fusion.Fused) Result {
	return Result{
		ChunkID:    f.ID.String(),
		Content:    f.Content,
		PageAnchor: f.PageAnchor,
		Score:      f.Score,
		DocTitle:   f.DocTitle,
		DocType:    string(f.DocType),
		ControlIDs: f.ControlIDs,
		TierSource: f.TierSource,
	}
}

// Ask is the §6 answer_with_citations() contract: retrieve, generate, then
// validate the generated text's citations against the retrieved chunks (C8).
func (s *Service) Ask(ctx context.Context, orgID uuid.UUID, query, language string, maxSources int, controlID string) (AnswerResult, error) {
	if language != "hr" && language != "en" {
		language = "hr"
	}
	if maxSources <= 0 {
		maxSources = 5
	}

	fused, tierAnalysis, err := s.retrieve(ctx, orgID, query, controlID)
	if err != nil {
		return AnswerResult{}, err
	}
	if len(fused) == 0 {
		return AnswerResult{ValidationStatus: ValidationNoSources, TierAnalysis: tierAnalysis}, nil
	}
	if maxSources > len(fused) {
		maxSources = len(fused)
	}
	sources := fused[:maxSources]

	scoped := make([]chunkstore.ScopedChunk, len(sources))
	results := make([]Result, len(sources))
	for i, f := range sources {
		scoped[i] = chunkstore.ScopedChunk{DocumentChunk: f.DocumentChunk, Rank: f.Score}
		results[i] = toResult(f)
	}

	prompt := buildPrompt(query, language, scoped)
	response, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.logger.Warn("ragquery: generation failed", zap.Error(err))
		return AnswerResult{SourceChunks: results, ValidationStatus: ValidationError, TierAnalysis: tierAnalysis}, nil
	}

	citations := s.citations.ExtractAndValidate(response, scoped)

	return AnswerResult{
		Response:         response,
		Citations:        citations,
		SourceChunks:      results,
		ValidationStatus: ValidationValidated,
		TierAnalysis:     tierAnalysis,
	}, nil
}

// buildPrompt assembles the context-stuffed prompt the generator sees,
// instructing it to cite using the §4.8 bracket forms so C8 has something to
// extract. Grounded on rag_service.py's prompt-template assembly.
func buildPrompt(query, language string, sources []chunkstore.ScopedChunk) string {
	var sb strings.Builder
	if language == "hr" {
		sb.WriteString("Odgovori na pitanje koristeći isključivo dolje navedene izvore. ")
		sb.WriteString("Svaku tvrdnju potkrijepi citatom u obliku [Izvor: naziv dokumenta, str. N].\n\n")
	} else {
		sb.WriteString("Answer the question using only the sources below. ")
		sb.WriteString("Support every claim with a citation in the form [Source: document title, p. N].\n\n")
	}
	for i, c := range sources {
		fmt.Fprintf(&sb, "[%d] %s (p. %d): %s\n\n", i+1, c.DocTitle, c.PageAnchor, c.Content)
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(query)
	return sb.String()
}
