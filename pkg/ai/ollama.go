package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaClient talks to a local Ollama daemon. It satisfies the same
// Embedder and Generator contracts as OpenAIClient and exists for
// deployments with no external provider.
type OllamaClient struct {
	baseURL    string
	embedModel string
	genModel   string
	client     *http.Client
}

// NewOllama creates an Ollama client. Empty arguments fall back to the
// daemon's defaults.
func NewOllama(baseURL, embedModel, genModel string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}
	if genModel == "" {
		genModel = "llama3.2"
	}
	return &OllamaClient{
		baseURL:    baseURL,
		embedModel: embedModel,
		genModel:   genModel,
		client:     &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// EmbedBatch embeds texts one request at a time; the daemon's embeddings
// endpoint takes a single prompt. Order is preserved.
func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		var resp ollamaEmbedResponse
		if err := c.post(ctx, "/api/embeddings", ollamaEmbedRequest{Model: c.embedModel, Prompt: t}, &resp); err != nil {
			return nil, fmt.Errorf("ollama embed: %w", err)
		}
		out[i] = resp.Embedding
	}
	return out, nil
}

type ollamaGenRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenResponse struct {
	Response string `json:"response"`
}

// Generate runs a non-streaming completion.
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	var resp ollamaGenResponse
	if err := c.post(ctx, "/api/generate", ollamaGenRequest{Model: c.genModel, Prompt: prompt}, &resp); err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return resp.Response, nil
}

func (c *OllamaClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, snippet)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
