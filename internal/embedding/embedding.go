// Package embedding calls an Ollama-compatible embedding backend in batches
// and L2-normalizes the result (C3). Adapted from go-enhanced-rag-service's
// EmbeddingService: same request/response shape, same batchSize-chunked
// sequential loop and exponential-backoff retry, minus the CUDA dispatch
// branch and the in-memory embedding cache (the search result cache in
// internal/searchcache already covers the hot-query path this domain needs;
// a second cache here would just be unexercised complexity).
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/zks-samoprocjena/compliance-engine/internal/apperr"
	"github.com/zks-samoprocjena/compliance-engine/internal/config"
)

// Embedder produces L2-normalized embedding vectors for a batch of texts, in
// the same order as the input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

type OllamaEmbedder struct {
	cfg        config.EmbedConfig
	client     *http.Client
	maxRetries int
}

func NewOllama(cfg config.EmbedConfig) *OllamaEmbedder {
	return &OllamaEmbedder{
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: 3,
	}
}

// Embed groups texts by cfg.BatchSize and, within each group, calls the
// backend once per text in order (each call with retry), returning the
// vectors in input order.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	batchSize := e.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		for j, text := range texts[i:end] {
			vec, err := e.embedOneWithRetry(ctx, text)
			if err != nil {
				return nil, apperr.Wrap(apperr.ErrModelUnavailable, "embed text %d: %v", i+j, err)
			}
			if len(vec) != e.cfg.Dimension {
				return nil, apperr.Wrap(apperr.ErrModelUnavailable, "embedding dimension mismatch: got %d want %d", len(vec), e.cfg.Dimension)
			}
			out[i+j] = l2Normalize(vec)
		}
	}
	return out, nil
}

func (e *OllamaEmbedder) embedOneWithRetry(ctx context.Context, text string) ([]float32, error) {
	req := ollamaRequest{Model: e.cfg.Model, Prompt: normalize(text)}
	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		vec, err := e.call(ctx, req)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if attempt < e.maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<attempt) * time.Second):
			}
		}
	}
	return nil, fmt.Errorf("embed after %d attempts: %w", e.maxRetries, lastErr)
}

func (e *OllamaEmbedder) call(ctx context.Context, payload ollamaRequest) ([]float32, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding backend returned %s", resp.Status)
	}
	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Embedding, nil
}

func normalize(text string) string {
	return strings.TrimSpace(text)
}

// l2Normalize scales v to unit length so cosine similarity and dot product
// coincide at query time, matching the original service's normalized
// pgvector columns.
func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
