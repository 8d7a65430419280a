// Package chunker turns extracted pages into page-aware chunks (C2):
// paragraph-bounded spans that track which source page(s) they span,
// carrying the control-ID/doc-type/section-title metadata retrieval needs.
// The paragraph-then-sentence-boundary splitting strategy is adapted from
// document-chunker/main.go's splitByParagraphs + createSlidingWindowChunks,
// generalized to respect page boundaries (the teacher's version only tracks
// character offsets within one flat string) and to extract the compliance
// domain's own metadata instead of a legal-domain label.
package chunker

import (
	"regexp"
	"strings"

	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
	"github.com/zks-samoprocjena/compliance-engine/internal/extract"
)

const (
	// MaxChunkSize is the character ceiling for a chunk before it is split
	// further at a paragraph or sentence boundary (§4.2).
	MaxChunkSize = 1200
	// MinChunkSize is the floor below which a trailing fragment is merged
	// into the previous chunk instead of standing alone (§4.2).
	MinChunkSize = 200
)

var (
	paragraphSplit = regexp.MustCompile(`\n\s*\n+`)
	controlIDRe    = regexp.MustCompile(`\b[A-Z]{3,4}-\d{3}\b`)
	headingRe      = regexp.MustCompile(`(?m)^(#{1,3}\s+.+|[A-Z][A-Za-z0-9 /,.-]{3,80}:?\s*)$`)
	sentenceEndRe  = regexp.MustCompile(`[.!?]\s`)
)

// docTypeKeywords maps a lowercase substring to the DocType it signals,
// checked against each chunk's own content during chunking; the document's
// file name and title are not consulted.
var docTypeKeywords = []struct {
	keyword string
	docType domain.DocType
}{
	{"zakon o kibernetičkoj sigurnosti", domain.DocTypeZKS},
	{"zks", domain.DocTypeZKS},
	{"nis2", domain.DocTypeNIS2},
	{"nis 2", domain.DocTypeNIS2},
	{"uredba o kibernetičkoj sigurnosti", domain.DocTypeUKS},
	{"uks", domain.DocTypeUKS},
	{"prilog b", domain.DocTypePrilogB},
	{"prilog c", domain.DocTypePrilogC},
	{"iso/iec 27001", domain.DocTypeISO},
	{"iso 27001", domain.DocTypeISO},
	{"nist", domain.DocTypeNIST},
}

// Chunk is a page-aware span prior to embedding; Embedding is filled in by a
// later pipeline stage (C3).
type Chunk struct {
	Content      string
	ControlIDs   []string
	DocType      domain.DocType
	SectionTitle *string
	PageStart    int
	PageEnd      int
	PageAnchor   int
	Language     string
}

// Chunker splits a document's pages into metadata-tagged chunks.
type Chunker struct {
	defaultDocType domain.DocType
}

func New(defaultDocType domain.DocType) *Chunker {
	return &Chunker{defaultDocType: defaultDocType}
}

// Chunk walks pages in order, splitting each page's text at paragraph
// boundaries (falling back to sentence boundaries for any paragraph still
// over MaxChunkSize), and merges a page's undersized trailing paragraph into
// the next page's first chunk so small tail fragments don't become their own
// sub-MinChunkSize chunk — the page-boundary-respecting generalization of
// the teacher's splitByParagraphs.
func (c *Chunker) Chunk(pages []extract.Page) []Chunk {
	var out []Chunk
	var pending string
	pendingPageStart := 0

	flush := func(content string, pageStart, pageEnd int) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		for _, part := range splitOversized(content) {
			out = append(out, c.buildChunk(part, pageStart, pageEnd))
		}
	}

	for _, page := range pages {
		paragraphs := paragraphSplit.Split(page.Text, -1)
		pageStart := page.Number
		if pending != "" {
			pageStart = pendingPageStart
		}

		for i, para := range paragraphs {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}
			candidate := pending
			if candidate != "" {
				candidate += "\n\n"
			}
			candidate += para

			if len(candidate) >= MaxChunkSize {
				flush(candidate, pageStart, page.Number)
				pending = ""
				pageStart = page.Number
				continue
			}

			isLastParaOnPage := i == len(paragraphs)-1
			if isLastParaOnPage && len(candidate) < MinChunkSize {
				// carry a short trailing paragraph into the next page
				// rather than emit an undersized chunk.
				pending = candidate
				pendingPageStart = pageStart
				continue
			}
			pending = candidate
		}
	}
	if pending != "" {
		flush(pending, pendingPageStart, pages[len(pages)-1].Number)
	}
	return out
}

// splitOversized further splits a paragraph-joined block that still exceeds
// MaxChunkSize at the nearest sentence boundary, mirroring
// createSlidingWindowChunks' "try to end at sentence boundary" rule but
// without overlap — page-aware chunks are meant to be contiguous.
func splitOversized(content string) []string {
	if len(content) <= MaxChunkSize {
		return []string{content}
	}
	var parts []string
	for len(content) > MaxChunkSize {
		window := content[:MaxChunkSize]
		cut := lastSentenceBoundary(window)
		if cut < MinChunkSize {
			cut = MaxChunkSize
		}
		parts = append(parts, strings.TrimSpace(content[:cut]))
		content = content[cut:]
	}
	if strings.TrimSpace(content) != "" {
		parts = append(parts, strings.TrimSpace(content))
	}
	return parts
}

func lastSentenceBoundary(s string) int {
	loc := sentenceEndRe.FindAllStringIndex(s, -1)
	if len(loc) == 0 {
		return len(s)
	}
	last := loc[len(loc)-1]
	return last[1]
}

func (c *Chunker) buildChunk(content string, pageStart, pageEnd int) Chunk {
	anchor := pageStart
	ch := Chunk{
		Content:    content,
		ControlIDs: extractControlIDs(content),
		DocType:    c.classifyDocType(content),
		PageStart:  pageStart,
		PageEnd:    pageEnd,
		PageAnchor: anchor,
		Language:   detectLanguage(content),
	}
	if title := detectSectionTitle(content); title != "" {
		ch.SectionTitle = &title
	}
	return ch
}

func extractControlIDs(content string) []string {
	matches := controlIDRe.FindAllString(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func (c *Chunker) classifyDocType(content string) domain.DocType {
	lower := strings.ToLower(content)
	for _, kw := range docTypeKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.docType
		}
	}
	return c.defaultDocType
}

func detectSectionTitle(content string) string {
	lines := strings.SplitN(content, "\n", 2)
	if len(lines) == 0 {
		return ""
	}
	first := strings.TrimSpace(lines[0])
	if headingRe.MatchString(first) && len(first) <= 120 {
		return first
	}
	return ""
}

// detectLanguage is a lightweight heuristic (not a statistical classifier):
// Croatian-specific diacritics or common function words tip it to "hr",
// otherwise "en". Good enough for the chunk_metadata hint consumed by
// citation/retrieval boosting; never load-bearing for scoring.
func detectLanguage(content string) string {
	for _, r := range content {
		switch r {
		case 'č', 'ć', 'đ', 'š', 'ž', 'Č', 'Ć', 'Đ', 'Š', 'Ž':
			return "hr"
		}
	}
	lower := strings.ToLower(content)
	hrHits := 0
	for _, w := range []string{" i ", " je ", " za ", " se ", " koji ", " koja "} {
		if strings.Contains(lower, w) {
			hrHits++
		}
	}
	if hrHits >= 2 {
		return "hr"
	}
	return "en"
}
