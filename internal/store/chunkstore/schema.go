package chunkstore

// schema mirrors unified-rag-service's initializeStorage, generalized from a
// single legal_domain/confidence shape to the compliance corpus's
// doc_type/control_ids/page-anchored shape (§3, §4.4).
const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS processed_documents (
	id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	organization_id   UUID REFERENCES organizations(id),
	scope             VARCHAR(20) NOT NULL,
	is_global         BOOLEAN NOT NULL DEFAULT false,
	uploaded_by       UUID NOT NULL,
	document_type     VARCHAR(20) NOT NULL,
	source            TEXT NOT NULL,
	title             TEXT NOT NULL,
	file_name         TEXT NOT NULL,
	file_size         BIGINT NOT NULL,
	mime_type         TEXT NOT NULL,
	status            VARCHAR(20) NOT NULL DEFAULT 'pending',
	blob_path         TEXT NOT NULL,
	upload_date       TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_date    TIMESTAMPTZ,
	processing_metadata JSONB DEFAULT '{}',
	CONSTRAINT processed_documents_scope_consistent CHECK (
		(scope = 'global' AND organization_id IS NULL AND is_global) OR
		(scope = 'organization' AND organization_id IS NOT NULL AND NOT is_global)
	)
);

CREATE TABLE IF NOT EXISTS document_chunks (
	id                    UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	processed_document_id UUID NOT NULL REFERENCES processed_documents(id) ON DELETE CASCADE,
	chunk_index           INTEGER NOT NULL,
	content               TEXT NOT NULL,
	embedding             vector(768),
	control_ids           TEXT[] NOT NULL DEFAULT '{}',
	doc_type              VARCHAR(20) NOT NULL,
	section_title         TEXT,
	page_start            INTEGER NOT NULL,
	page_end              INTEGER NOT NULL,
	page_anchor           INTEGER NOT NULL,
	chunk_metadata        JSONB DEFAULT '{}',
	content_tsv           tsvector GENERATED ALWAYS AS (to_tsvector('simple', content)) STORED,
	UNIQUE(processed_document_id, chunk_index),
	CONSTRAINT document_chunks_page_invariant CHECK (page_start <= page_anchor AND page_anchor <= page_end)
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON document_chunks(processed_document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_control_ids ON document_chunks USING gin(control_ids);
CREATE INDEX IF NOT EXISTS idx_chunks_doc_type ON document_chunks(doc_type);
CREATE INDEX IF NOT EXISTS idx_chunks_tsv ON document_chunks USING gin(content_tsv);
CREATE INDEX IF NOT EXISTS idx_chunks_embedding_hnsw ON document_chunks
	USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64);

CREATE INDEX IF NOT EXISTS idx_documents_org ON processed_documents(organization_id);
CREATE INDEX IF NOT EXISTS idx_documents_scope ON processed_documents(scope);
CREATE INDEX IF NOT EXISTS idx_documents_status ON processed_documents(status);
`
