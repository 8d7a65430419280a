package ragquery

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/zks-samoprocjena/compliance-engine/internal/config"
)

// Generator produces a natural-language answer from a prompt. Grounded on
// go-chat-service's processWithOllama direct-API-call shape, generalized
// into an interface so ragquery can be tested against a fake instead of a
// live model backend, and split into a one-shot call plus a streaming one
// since §6's answer_with_citations supports both.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string, onToken func(string)) error
}

// OllamaGenerator calls a local Ollama-compatible /api/generate endpoint,
// the same backend internal/embedding.OllamaEmbedder targets.
type OllamaGenerator struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllama(cfg config.GenerateConfig) *OllamaGenerator {
	return &OllamaGenerator{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: g.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("ragquery: marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ragquery: generate call: %w", err)
	}
	defer resp.Body.Close()

	var out generateChunk
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ragquery: decode generate response: %w", err)
	}
	return out.Response, nil
}

// GenerateStream reads Ollama's newline-delimited JSON chunks and invokes
// onToken per partial response, the same line-scanning approach
// sse-rag-service uses over an upstream SSE/NDJSON body.
func (g *OllamaGenerator) GenerateStream(ctx context.Context, prompt string, onToken func(string)) error {
	body, err := json.Marshal(generateRequest{Model: g.model, Prompt: prompt, Stream: true})
	if err != nil {
		return fmt.Errorf("ragquery: marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("ragquery: generate stream call: %w", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Response != "" {
			onToken(chunk.Response)
		}
		if chunk.Done {
			break
		}
	}
	return scanner.Err()
}
