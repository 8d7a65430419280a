// Package chunkstore is the durable store for processed documents and their
// chunks (C4), and the raw-SQL home for the two retrieval tiers' queries
// (C5/C6). Grounded on unified-rag-service's initializeStorage/
// retrieveSimilarChunks, generalized from single-table legal-domain search to
// the scoped, doc-type-aware, control-ID-indexed shape this domain needs.
package chunkstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/zks-samoprocjena/compliance-engine/internal/apperr"
	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema applies the table/index DDL. Idempotent, safe to call on
// every process start the way the teacher's initializeStorage does.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// InsertDocument creates a processed_documents row in "pending" status.
func (s *Store) InsertDocument(ctx context.Context, d *domain.ProcessedDocument) error {
	if !d.ScopeConsistent() {
		return apperr.Wrap(apperr.ErrValidation, "document scope inconsistent with organization_id/is_global")
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO processed_documents
			(organization_id, scope, is_global, uploaded_by, document_type, source,
			 title, file_name, file_size, mime_type, status, blob_path)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, upload_date`,
		d.OrganizationID, string(d.Scope), d.IsGlobal, d.UploadedBy, string(d.DocumentType), d.Source,
		d.Title, d.FileName, d.FileSize, d.MimeType, string(domain.DocStatusPending), d.BlobPath)
	return row.Scan(&d.ID, &d.UploadDate)
}

// MarkStatus transitions a document's processing status, stamping
// processed_date when it lands in a terminal state.
func (s *Store) MarkStatus(ctx context.Context, id uuid.UUID, status domain.DocumentStatus, meta domain.JSONBag) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE processed_documents
		SET status = $2,
		    processed_date = CASE WHEN $2 IN ('completed','failed') THEN now() ELSE processed_date END,
		    processing_metadata = COALESCE($3, processing_metadata)
		WHERE id = $1`, id, string(status), meta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Wrap(apperr.ErrNotFound, "document %s", id)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*domain.ProcessedDocument, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, scope, is_global, uploaded_by, document_type, source,
		       title, file_name, file_size, mime_type, status, blob_path, upload_date,
		       processed_date, processing_metadata
		FROM processed_documents WHERE id = $1`, id)
	return scanDocument(row)
}

func (s *Store) ListDocuments(ctx context.Context, orgID *uuid.UUID, includeGlobal bool) ([]domain.ProcessedDocument, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, scope, is_global, uploaded_by, document_type, source,
		       title, file_name, file_size, mime_type, status, blob_path, upload_date,
		       processed_date, processing_metadata
		FROM processed_documents
		WHERE (organization_id = $1) OR ($2 AND is_global)
		ORDER BY upload_date DESC`, orgID, includeGlobal)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProcessedDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM processed_documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Wrap(apperr.ErrNotFound, "document %s", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.ProcessedDocument, error) {
	var d domain.ProcessedDocument
	var scope, docType, status string
	if err := row.Scan(&d.ID, &d.OrganizationID, &scope, &d.IsGlobal, &d.UploadedBy, &docType, &d.Source,
		&d.Title, &d.FileName, &d.FileSize, &d.MimeType, &status, &d.BlobPath, &d.UploadDate,
		&d.ProcessedDate, &d.ProcessingMeta); err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.Wrap(apperr.ErrNotFound, "document not found")
		}
		return nil, err
	}
	d.Scope = domain.DocumentScope(scope)
	d.DocumentType = domain.DocType(docType)
	d.Status = domain.DocumentStatus(status)
	return &d, nil
}

// ReplaceChunks deletes any chunks already belonging to documentID and
// inserts the new set in one transaction, giving reprocessing-on-reimport
// (SPEC_FULL.md §5) idempotent, all-or-nothing semantics.
func (s *Store) ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []domain.DocumentChunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE processed_document_id = $1`, documentID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		if !c.PageInvariant() {
			return apperr.Wrap(apperr.ErrValidation, "chunk %d violates page invariant", c.ChunkIndex)
		}
		batch.Queue(`
			INSERT INTO document_chunks
				(processed_document_id, chunk_index, content, embedding, control_ids,
				 doc_type, section_title, page_start, page_end, page_anchor, chunk_metadata)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			documentID, c.ChunkIndex, c.Content, pgvector.NewVector(c.Embedding), c.ControlIDs,
			string(c.DocType), c.SectionTitle, c.PageStart, c.PageEnd, c.PageAnchor, c.Metadata)
	}
	br := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE processed_documents SET status = 'completed', processed_date = now() WHERE id = $1`, documentID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]domain.DocumentChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.processed_document_id, c.chunk_index, c.content, c.control_ids,
		       c.doc_type, c.section_title, c.page_start, c.page_end, c.page_anchor, c.chunk_metadata
		FROM document_chunks c
		WHERE c.processed_document_id = $1
		ORDER BY c.chunk_index`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func scanChunks(rows pgx.Rows) ([]domain.DocumentChunk, error) {
	var out []domain.DocumentChunk
	for rows.Next() {
		var c domain.DocumentChunk
		var docType string
		if err := rows.Scan(&c.ID, &c.ProcessedDocumentID, &c.ChunkIndex, &c.Content, &c.ControlIDs,
			&docType, &c.SectionTitle, &c.PageStart, &c.PageEnd, &c.PageAnchor, &c.Metadata); err != nil {
			return nil, err
		}
		c.DocType = domain.DocType(docType)
		out = append(out, c)
	}
	return out, rows.Err()
}
