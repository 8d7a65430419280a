// Package extract turns raw document bytes into page-bounded plain text
// (C1), MIME-dispatched the way document-chunker/main.go dispatches chunking
// strategy by content type. Formats without native page breaks (plain text,
// DOCX) get synthetic page boundaries every ~2500 characters so the rest of
// the pipeline can treat every document uniformly as a sequence of pages.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/zks-samoprocjena/compliance-engine/internal/apperr"
)

// syntheticPageSize is the character budget for a synthesized page when the
// source format carries no native page boundaries.
const syntheticPageSize = 2500

// Page is one unit of extracted text, numbered from 1.
type Page struct {
	Number int
	Text   string
}

// Extractor turns a document's raw bytes into pages.
type Extractor interface {
	Extract(mimeType string, data []byte) ([]Page, error)
}

type extractor struct{}

func New() Extractor { return extractor{} }

func (extractor) Extract(mimeType string, data []byte) ([]Page, error) {
	switch {
	case strings.Contains(mimeType, "text/plain"):
		return extractPlainText(data), nil
	case strings.Contains(mimeType, "officedocument.wordprocessingml"):
		return extractDOCX(data)
	case strings.Contains(mimeType, "application/pdf"):
		// PDF page extraction needs a native parser this pack doesn't carry
		// (see DESIGN.md); synthetic pagination over a best-effort text
		// scrape keeps PDFs usable without one.
		return synthesizePages(stripPDFBinary(data)), nil
	default:
		return nil, apperr.Wrap(apperr.ErrUnsupportedFormat, "mime type %q", mimeType)
	}
}

func extractPlainText(data []byte) []Page {
	return synthesizePages(string(data))
}

func synthesizePages(text string) []Page {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var pages []Page
	n := len(text)
	for start, num := 0, 1; start < n; num++ {
		end := start + syntheticPageSize
		if end > n {
			end = n
		} else {
			// avoid splitting mid-word: extend to the next paragraph break
			// if one is close by.
			if idx := strings.Index(text[end:minInt(end+200, n)], "\n\n"); idx >= 0 {
				end += idx
			}
		}
		pages = append(pages, Page{Number: num, Text: strings.TrimSpace(text[start:end])})
		start = end
	}
	if len(pages) == 0 {
		pages = append(pages, Page{Number: 1, Text: ""})
	}
	return pages
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// extractDOCX pulls word/document.xml out of the zip container and strips
// markup down to paragraph text, then synthesizes pages the same way plain
// text does — DOCX carries no page-break metadata worth trusting either.
func extractDOCX(data []byte) ([]Page, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCorruptDocument, "docx: %v", err)
	}
	var docXML []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return nil, apperr.Wrap(apperr.ErrCorruptDocument, "docx entry: %v", err)
			}
			docXML, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, apperr.Wrap(apperr.ErrCorruptDocument, "docx entry: %v", err)
			}
			break
		}
	}
	if docXML == nil {
		return nil, apperr.Wrap(apperr.ErrCorruptDocument, "docx missing word/document.xml")
	}
	text, err := plainTextFromWordXML(docXML)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrExtractionFailed, "docx: %v", err)
	}
	return synthesizePages(text), nil
}

// plainTextFromWordXML walks the OOXML token stream and joins <w:t> runs
// with paragraph breaks on </w:p>.
func plainTextFromWordXML(docXML []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(docXML))
	var sb strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
			if t.Name.Local == "p" {
				sb.WriteString("\n\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}

// stripPDFBinary is a best-effort text scrape for PDFs without a real parser
// dependency in the pack: it collects the contents of every parenthesized
// string literal in the file, without looking for BT/ET text blocks or Tj/TJ
// operators, which recovers prose only from simply-encoded
// (non-subsetted-font) PDFs.
func stripPDFBinary(data []byte) string {
	var sb strings.Builder
	s := string(data)
	for {
		start := strings.Index(s, "(")
		if start < 0 {
			break
		}
		end := strings.Index(s[start:], ")")
		if end < 0 {
			break
		}
		literal := s[start+1 : start+end]
		literal = strings.ReplaceAll(literal, `\(`, "(")
		literal = strings.ReplaceAll(literal, `\)`, ")")
		sb.WriteString(literal)
		sb.WriteString(" ")
		s = s[start+end+1:]
	}
	return sb.String()
}
