package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// OllamaService talks to a local Ollama server. Base URL and models are read
// through getters so they can be changed at runtime.
type OllamaService struct {
	getBaseURL        func() string
	getModel          func() string
	getEmbeddingModel func() string
	httpClient        *http.Client
}

// NewOllamaService creates an Ollama client with fixed settings
func NewOllamaService(baseURL, model, embeddingModel string) *OllamaService {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3"
	}
	if embeddingModel == "" {
		embeddingModel = "nomic-embed-text"
	}
	return NewOllamaServiceWithGetters(
		func() string { return baseURL },
		func() string { return model },
		func() string { return embeddingModel },
	)
}

// NewOllamaServiceWithGetters creates an Ollama client with dynamic settings
func NewOllamaServiceWithGetters(getBaseURL, getModel, getEmbeddingModel func() string) *OllamaService {
	return &OllamaService{
		getBaseURL:        getBaseURL,
		getModel:          getModel,
		getEmbeddingModel: getEmbeddingModel,
		httpClient:        &http.Client{Timeout: 90 * time.Second},
	}
}

// Summarize implements Summarizer via /api/generate
func (o *OllamaService) Summarize(ctx context.Context, prompt string) (string, error) {
	payload := map[string]interface{}{
		"model":  o.getModel(),
		"prompt": prompt,
		"stream": false,
		"options": map[string]interface{}{
			"temperature": 0.3,
			"num_predict": 200,
		},
	}

	var result struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
	}
	if err := o.post(ctx, "/api/generate", payload, &result); err != nil {
		return "", err
	}
	summary := strings.TrimSpace(result.Response)
	if summary == "" {
		return "", fmt.Errorf("ollama returned an empty summary")
	}
	return summary, nil
}

// Embed implements Embedder via /api/embeddings
func (o *OllamaService) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]interface{}{
		"model":  o.getEmbeddingModel(),
		"prompt": text,
	}

	var result struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := o.post(ctx, "/api/embeddings", payload, &result); err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}
	out := make([]float32, len(result.Embedding))
	for i, f := range result.Embedding {
		out[i] = float32(f)
	}
	return out, nil
}

// Ping checks that the server answers /api/tags
func (o *OllamaService) Ping(ctx context.Context, baseURL string) error {
	if baseURL == "" {
		baseURL = o.getBaseURL()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama API error (%d)", resp.StatusCode)
	}
	return nil
}

func (o *OllamaService) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(o.getBaseURL(), "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
