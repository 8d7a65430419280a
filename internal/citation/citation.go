// Package citation extracts and validates inline source citations from a
// generated answer (C8). Ported from rag_service.py's CitationValidator and
// its extract_citations_from_response/validate_citation/
// format_validated_citations methods.
package citation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/zks-samoprocjena/compliance-engine/internal/store/chunkstore"
)

// citationPattern matches both the English and Croatian inline citation
// forms: "[Source: doc, p. 12]" and "[Izvor: doc, str. 12]" (also accepts
// the bare "Ref:" the original regex allows).
var citationPattern = regexp.MustCompile(`\[(?:Izvor|Source|Ref):\s*([^,\]]+)(?:,\s*(?:str\.|p\.)\s*(\d+))?\]`)

// Citation is one extracted, possibly page-corrected reference.
type Citation struct {
	SourceChunkID  string
	DocumentTitle  string
	Page           int
	ControlIDs     []string
	Confidence     float64
	ContentExcerpt string
}

// DefaultPageTolerance is CitationValidator's page_tolerance default.
const DefaultPageTolerance = 1

type Validator struct {
	pageTolerance int
}

func New(pageTolerance int) *Validator {
	if pageTolerance <= 0 {
		pageTolerance = DefaultPageTolerance
	}
	return &Validator{pageTolerance: pageTolerance}
}

// ExtractAndValidate scans response for citation markers, resolves each to a
// source chunk by document title, and corrects its page number against that
// chunk's page range when the cited page is off by a small amount.
func (v *Validator) ExtractAndValidate(response string, sources []chunkstore.ScopedChunk) []Citation {
	matches := citationPattern.FindAllStringSubmatch(response, -1)
	var out []Citation

	for _, m := range matches {
		docTitle := strings.TrimSpace(m[1])
		var page int
		if m[2] != "" {
			page, _ = strconv.Atoi(m[2])
		}

		source := findByTitle(sources, docTitle)
		if source == nil {
			continue
		}
		if page == 0 {
			page = source.PageAnchor
		}

		c := Citation{
			SourceChunkID:  source.ID.String(),
			DocumentTitle:  docTitle,
			Page:           page,
			ControlIDs:     source.ControlIDs,
			ContentExcerpt: excerpt(source.Content, 200),
		}

		_, correctedPage, _ := v.Validate(c, sources)
		if correctedPage != nil && *correctedPage != c.Page {
			c.Page = *correctedPage
		}
		out = append(out, c)
	}
	return out
}

// Validate implements validate_citation: it checks whether the cited page
// falls within ±tolerance of a matching chunk's page range, preferring a
// chunk whose control_ids also match the citation's.
func (v *Validator) Validate(c Citation, sources []chunkstore.ScopedChunk) (valid bool, correctedPage *int, message string) {
	var matching []chunkstore.ScopedChunk
	for _, s := range sources {
		if titleMatches(s.DocTitle, c.DocumentTitle) {
			matching = append(matching, s)
		}
	}
	if len(matching) == 0 {
		return false, nil, fmt.Sprintf("document %q not found in sources", c.DocumentTitle)
	}

	var validPages []int
	for _, s := range matching {
		if s.PageStart-v.pageTolerance <= c.Page && c.Page <= s.PageEnd+v.pageTolerance {
			validPages = append(validPages, s.PageAnchor)
			if len(c.ControlIDs) > 0 && intersects(c.ControlIDs, s.ControlIDs) {
				anchor := s.PageAnchor
				return true, &anchor, fmt.Sprintf("valid citation at page %d", anchor)
			}
		}
	}

	if len(validPages) > 0 {
		corrected := nearestTo(validPages, c.Page)
		return true, &corrected, fmt.Sprintf("citation adjusted from page %d to %d", c.Page, corrected)
	}

	for _, s := range matching {
		if len(c.ControlIDs) > 0 && intersects(c.ControlIDs, s.ControlIDs) {
			anchor := s.PageAnchor
			return false, &anchor, fmt.Sprintf("content found at page %d, not page %d", anchor, c.Page)
		}
	}

	return false, nil, fmt.Sprintf("content not found near page %d", c.Page)
}

// Format renders validated citations for display, hr or en, matching
// format_validated_citations.
func Format(citations []Citation, language string) string {
	if len(citations) == 0 {
		return ""
	}
	header := "Sources:"
	pageWord := "p."
	controlsLabel := "Controls"
	if language == "hr" {
		header = "Izvori:"
		pageWord = "str."
		controlsLabel = "Kontrole"
	}

	var sb strings.Builder
	sb.WriteString(header)
	for i, c := range citations {
		sb.WriteString(fmt.Sprintf("\n%d. %s, %s %d", i+1, c.DocumentTitle, pageWord, c.Page))
		if c.Confidence > 0 {
			sb.WriteString(fmt.Sprintf(" (%.0f%%)", c.Confidence*100))
		}
		if len(c.ControlIDs) > 0 {
			ids := c.ControlIDs
			suffix := ""
			if len(ids) > 3 {
				ids = ids[:3]
				suffix = "..."
			}
			sb.WriteString(fmt.Sprintf("\n   %s: %s%s", controlsLabel, strings.Join(ids, ", "), suffix))
		}
	}
	return sb.String()
}

func findByTitle(sources []chunkstore.ScopedChunk, title string) *chunkstore.ScopedChunk {
	for i := range sources {
		if titleMatches(sources[i].DocTitle, title) {
			return &sources[i]
		}
	}
	return nil
}

// titleMatches reports whether the cited document title is contained,
// case-insensitively, in a candidate chunk's doc_title, so the cited title may
// be partial; a doc_title shorter than the cited title does not match.
func titleMatches(docTitle, cited string) bool {
	return strings.Contains(strings.ToLower(docTitle), strings.ToLower(cited))
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, x := range b {
		set[x] = struct{}{}
	}
	for _, x := range a {
		if _, ok := set[x]; ok {
			return true
		}
	}
	return false
}

func nearestTo(candidates []int, target int) int {
	best := candidates[0]
	bestDist := abs(best - target)
	for _, c := range candidates[1:] {
		if d := abs(c - target); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
