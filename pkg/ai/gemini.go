package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
	"github.com/goccy/go-json"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiService summarizes through the Gemini generateContent endpoint
type GeminiService struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewGeminiService creates a Gemini summarizer
func NewGeminiService(apiKey, model string) *GeminiService {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiService{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultGeminiBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Summarize implements Summarizer
func (g *GeminiService) Summarize(ctx context.Context, prompt string) (string, error) {
	payload := geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}}
	payload.GenerationConfig.Temperature = 0.3
	payload.GenerationConfig.MaxOutputTokens = 256

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(g.baseURL, "/"), g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result geminiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	for _, c := range result.Candidates {
		for _, p := range c.Content.Parts {
			if text := strings.TrimSpace(p.Text); text != "" {
				return text, nil
			}
		}
	}
	return "", fmt.Errorf("no summary returned")
}

// GeminiEmbedder embeds text with Gemini through chroma-go's embedding function
type GeminiEmbedder struct {
	ef *gemini.GeminiEmbeddingFunction
}

// NewGeminiEmbedder creates the embedder; model defaults to text-embedding-004
func NewGeminiEmbedder(apiKey, model string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini embeddings")
	}
	if model == "" {
		model = "text-embedding-004"
	}
	if os.Getenv("GEMINI_API_KEY") == "" {
		os.Setenv("GEMINI_API_KEY", apiKey)
	}
	ef, err := gemini.NewGeminiEmbeddingFunction(
		gemini.WithEnvAPIKey(),
		gemini.WithDefaultModel(embeddings.EmbeddingModel(model)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini embedding function: %w", err)
	}
	return &GeminiEmbedder{ef: ef}, nil
}

// Embed implements Embedder
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	emb, err := g.ef.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if emb == nil {
		return nil, fmt.Errorf("gemini returned no embedding")
	}
	return emb.ContentAsFloat32(), nil
}

// EmbeddingFunction exposes the underlying function for a Chroma collection
func (g *GeminiEmbedder) EmbeddingFunction() embeddings.EmbeddingFunction {
	return g.ef
}
