// Package ingest wires C1 (extractor) -> C2 (chunker) -> C3 (embedder) -> C4
// (chunk store) into the single idempotent-per-document operation the
// background worker calls on every ingestion job (spec §2 "Data flow on
// ingestion", §5 "ingestion must be idempotent per document_id"). Grounded
// on unified-rag-service.processDocumentPipeline's extract-then-chunk-then-
// embed-then-store shape, generalized from one flat function into a
// Pipeline type so cmd/worker can unit-construct it from its dependencies.
package ingest

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zks-samoprocjena/compliance-engine/internal/apperr"
	"github.com/zks-samoprocjena/compliance-engine/internal/chunker"
	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
	"github.com/zks-samoprocjena/compliance-engine/internal/embedding"
	"github.com/zks-samoprocjena/compliance-engine/internal/extract"
	"github.com/zks-samoprocjena/compliance-engine/internal/metrics"
)

// JobTypeIngestDocument is the queue.Job.Type the API enqueues on upload and
// the worker dispatches back into Pipeline.Process.
const JobTypeIngestDocument = "ingest_document"

// JobPayload is the queue payload shape for JobTypeIngestDocument.
type JobPayload struct {
	DocumentID uuid.UUID `json:"document_id"`
}

type blobGetter interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

type chunkStore interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*domain.ProcessedDocument, error)
	MarkStatus(ctx context.Context, id uuid.UUID, status domain.DocumentStatus, meta domain.JSONBag) error
	ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []domain.DocumentChunk) error
}

// Pipeline runs the full ingestion sequence for one document.
type Pipeline struct {
	blobs     blobGetter
	store     chunkStore
	extractor extract.Extractor
	chunker   *chunker.Chunker
	embedder  embedding.Embedder
	logger    *zap.Logger
}

func New(blobs blobGetter, store chunkStore, extractor extract.Extractor, ck *chunker.Chunker, embedder embedding.Embedder, logger *zap.Logger) *Pipeline {
	return &Pipeline{blobs: blobs, store: store, extractor: extractor, chunker: ck, embedder: embedder, logger: logger}
}

// Process extracts, chunks, embeds, and stores one document's bytes,
// replacing any chunks already produced for it. Safe to call twice on the
// same document_id (at-least-once queue redelivery): ReplaceChunks deletes
// the prior set in the same transaction that inserts the new one, so the
// final chunk count never doubles (§8 Law of ingestion idempotence, S6).
func (p *Pipeline) Process(ctx context.Context, documentID uuid.UUID) error {
	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("ingest: load document %s: %w", documentID, err)
	}

	if err := p.store.MarkStatus(ctx, documentID, domain.DocStatusProcessing, nil); err != nil {
		return fmt.Errorf("ingest: mark processing: %w", err)
	}

	reader, err := p.blobs.Get(ctx, doc.BlobPath)
	if err != nil {
		return p.fail(ctx, documentID, apperr.Wrap(apperr.ErrExtractionFailed, "fetch blob %s: %v", doc.BlobPath, err))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return p.fail(ctx, documentID, apperr.Wrap(apperr.ErrExtractionFailed, "read blob %s: %v", doc.BlobPath, err))
	}

	pages, err := p.extractor.Extract(doc.MimeType, data)
	if err != nil {
		return p.fail(ctx, documentID, err)
	}

	rawChunks := p.chunker.Chunk(pages)
	if len(rawChunks) == 0 {
		return p.fail(ctx, documentID, apperr.Wrap(apperr.ErrExtractionFailed, "no chunks produced from %d pages", len(pages)))
	}

	texts := make([]string, len(rawChunks))
	for i, rc := range rawChunks {
		texts[i] = rc.Content
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return p.fail(ctx, documentID, err)
	}

	chunks := make([]domain.DocumentChunk, len(rawChunks))
	for i, rc := range rawChunks {
		docType := rc.DocType
		if docType == "" {
			docType = doc.DocumentType
		}
		var sectionTitle *string
		if rc.SectionTitle != nil && *rc.SectionTitle != "" {
			sectionTitle = rc.SectionTitle
		}
		chunks[i] = domain.DocumentChunk{
			ProcessedDocumentID: documentID,
			ChunkIndex:          i,
			Content:             rc.Content,
			Embedding:           vectors[i],
			ControlIDs:          rc.ControlIDs,
			DocType:             docType,
			SectionTitle:        sectionTitle,
			PageStart:           rc.PageStart,
			PageEnd:             rc.PageEnd,
			PageAnchor:          rc.PageAnchor,
			Metadata:            domain.JSONBag{"language": rc.Language, "source": doc.Source, "scope": string(doc.Scope)},
		}
	}

	if err := p.store.ReplaceChunks(ctx, documentID, chunks); err != nil {
		return p.fail(ctx, documentID, err)
	}

	metrics.ChunksProduced.Add(float64(len(chunks)))
	metrics.IngestJobsTotal.WithLabelValues("success").Inc()
	p.logger.Info("ingest: document processed", zap.String("document_id", documentID.String()), zap.Int("chunks", len(chunks)))
	return nil
}

// fail marks the document failed with the cause preserved in
// processing_metadata (§7: corruption/extraction failures don't destroy
// metadata, they mark the document failed and roll back any partial
// chunks — ReplaceChunks is never called on this path, so nothing to roll
// back beyond the status flip).
func (p *Pipeline) fail(ctx context.Context, documentID uuid.UUID, cause error) error {
	metrics.IngestJobsTotal.WithLabelValues("failure").Inc()
	if err := p.store.MarkStatus(ctx, documentID, domain.DocStatusFailed, domain.JSONBag{"error": cause.Error()}); err != nil {
		p.logger.Error("ingest: failed to record failure status", zap.Error(err), zap.String("document_id", documentID.String()))
	}
	return cause
}
