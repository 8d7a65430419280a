package chunkstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
)

// ScopedChunk is a DocumentChunk annotated with the retrieval signal its
// originating query produced, read back by internal/retrieval.
type ScopedChunk struct {
	domain.DocumentChunk
	Rank float64 // control-ID: 1.0 fixed; fulltext: ts_rank; semantic: cosine similarity
}

// ControlIDSearch is tier 1's control-ID mode (vector_service.py's
// tier1_control_search): an exact match against the chunk's extracted
// control_ids array, scoped to the caller's organization plus global docs.
func (s *Store) ControlIDSearch(ctx context.Context, orgID uuid.UUID, controlID string, limit int) ([]ScopedChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.processed_document_id, c.chunk_index, c.content, c.control_ids,
		       c.doc_type, c.section_title, c.page_start, c.page_end, c.page_anchor,
		       c.chunk_metadata, d.title
		FROM document_chunks c
		JOIN processed_documents d ON d.id = c.processed_document_id
		WHERE (d.organization_id = $1 OR d.is_global)
		  AND $2 = ANY(c.control_ids)
		ORDER BY c.page_anchor
		LIMIT $3`, orgID, controlID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScoped(rows, 1.0)
}

// FullTextSearch is tier 1's fallback mode (tier1_fulltext_search): a
// tsvector/websearch ranked match over chunk content.
func (s *Store) FullTextSearch(ctx context.Context, orgID uuid.UUID, query string, limit int) ([]ScopedChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.processed_document_id, c.chunk_index, c.content, c.control_ids,
		       c.doc_type, c.section_title, c.page_start, c.page_end, c.page_anchor,
		       c.chunk_metadata, d.title,
		       ts_rank(c.content_tsv, websearch_to_tsquery('simple', $2)) AS rank
		FROM document_chunks c
		JOIN processed_documents d ON d.id = c.processed_document_id
		WHERE (d.organization_id = $1 OR d.is_global)
		  AND c.content_tsv @@ websearch_to_tsquery('simple', $2)
		ORDER BY rank DESC
		LIMIT $3`, orgID, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScopedWithRank(rows)
}

// SemanticSearch is tier 2 (tier2_semantic_search): cosine similarity over
// the HNSW index, excluding chunk IDs tier 1 already surfaced and optionally
// restricted to a set of doc types (the "ZKS filter when tier1 has >3 control
// matches" rule lives one layer up, in internal/retrieval/semantic).
func (s *Store) SemanticSearch(ctx context.Context, orgID uuid.UUID, embedding []float32, excludeIDs []uuid.UUID, docTypes []domain.DocType, limit int) ([]ScopedChunk, error) {
	var dtStrings []string
	for _, dt := range docTypes {
		dtStrings = append(dtStrings, string(dt))
	}
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.processed_document_id, c.chunk_index, c.content, c.control_ids,
		       c.doc_type, c.section_title, c.page_start, c.page_end, c.page_anchor,
		       c.chunk_metadata, d.title,
		       1 - (c.embedding <=> $2) AS similarity
		FROM document_chunks c
		JOIN processed_documents d ON d.id = c.processed_document_id
		WHERE (d.organization_id = $1 OR d.is_global)
		  AND NOT (c.id = ANY($3))
		  AND (cardinality($4::text[]) = 0 OR c.doc_type = ANY($4))
		  AND c.embedding IS NOT NULL
		ORDER BY c.embedding <=> $2
		LIMIT $5`, orgID, pgvector.NewVector(embedding), excludeIDs, dtStrings, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScopedWithRank(rows)
}

func scanScoped(rows pgx.Rows, fixedRank float64) ([]ScopedChunk, error) {
	var out []ScopedChunk
	for rows.Next() {
		var c domain.DocumentChunk
		var docType string
		if err := rows.Scan(&c.ID, &c.ProcessedDocumentID, &c.ChunkIndex, &c.Content, &c.ControlIDs,
			&docType, &c.SectionTitle, &c.PageStart, &c.PageEnd, &c.PageAnchor, &c.Metadata, &c.DocTitle); err != nil {
			return nil, err
		}
		c.DocType = domain.DocType(docType)
		out = append(out, ScopedChunk{DocumentChunk: c, Rank: fixedRank})
	}
	return out, rows.Err()
}

func scanScopedWithRank(rows pgx.Rows) ([]ScopedChunk, error) {
	var out []ScopedChunk
	for rows.Next() {
		var c domain.DocumentChunk
		var docType string
		var rank float64
		if err := rows.Scan(&c.ID, &c.ProcessedDocumentID, &c.ChunkIndex, &c.Content, &c.ControlIDs,
			&docType, &c.SectionTitle, &c.PageStart, &c.PageEnd, &c.PageAnchor, &c.Metadata, &c.DocTitle, &rank); err != nil {
			return nil, err
		}
		c.DocType = domain.DocType(docType)
		out = append(out, ScopedChunk{DocumentChunk: c, Rank: rank})
	}
	return out, rows.Err()
}
