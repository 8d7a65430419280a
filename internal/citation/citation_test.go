package citation

import (
	"testing"

	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
	"github.com/zks-samoprocjena/compliance-engine/internal/store/chunkstore"
)

func chunk(docTitle string, pageStart, pageEnd, anchor int) chunkstore.ScopedChunk {
	return chunkstore.ScopedChunk{
		DocumentChunk: domain.DocumentChunk{PageStart: pageStart, PageEnd: pageEnd, PageAnchor: anchor},
		Rank:          1,
	}
}

func withTitle(c chunkstore.ScopedChunk, title string) chunkstore.ScopedChunk {
	c.DocTitle = title
	return c
}

func TestValidate_TitleMatchIsCaseInsensitiveAndPartial(t *testing.T) {
	v := New(0)
	sources := []chunkstore.ScopedChunk{withTitle(chunk("", 10, 12, 11), "ZKS Guide v2")}

	c := Citation{DocumentTitle: "zks guide", Page: 11}
	valid, _, msg := v.Validate(c, sources)
	if !valid {
		t.Fatalf("expected a case-insensitive, partial title match to validate, got: %s", msg)
	}
}

func TestValidate_NoMatchingTitleFails(t *testing.T) {
	v := New(0)
	sources := []chunkstore.ScopedChunk{withTitle(chunk("", 10, 12, 11), "Other Document")}

	c := Citation{DocumentTitle: "ZKS Guide", Page: 11}
	valid, _, _ := v.Validate(c, sources)
	if valid {
		t.Fatal("expected no match for an unrelated title")
	}
}

func TestFindByTitle_CaseInsensitiveContains(t *testing.T) {
	sources := []chunkstore.ScopedChunk{withTitle(chunk("", 1, 2, 1), "ZKS Guide v2")}
	if findByTitle(sources, "zks guide") == nil {
		t.Fatal("expected a case-insensitive, partial title to match")
	}
	if findByTitle(sources, "unrelated") != nil {
		t.Fatal("expected no match for an unrelated title")
	}
}
