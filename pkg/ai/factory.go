package ai

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Config holds AI provider configuration
type Config struct {
	Provider ProviderType

	GeminiAPIKey         string
	GeminiModel          string
	GeminiEmbeddingModel string

	// Ollama settings are read through getters so the settings API can change them
	OllamaBaseURL        func() string
	OllamaModel          func() string
	OllamaEmbeddingModel func() string
}

func (c Config) ollama() *OllamaService {
	base, model, embed := c.OllamaBaseURL, c.OllamaModel, c.OllamaEmbeddingModel
	if base == nil {
		base = func() string { return "http://localhost:11434" }
	}
	if model == nil {
		model = func() string { return "llama3" }
	}
	if embed == nil {
		embed = func() string { return "nomic-embed-text" }
	}
	return NewOllamaServiceWithGetters(base, model, embed)
}

// NewSummarizer picks the summarizer for cfg.Provider. Auto routes through
// the fallback service with Gemini included when a key is configured.
func NewSummarizer(cfg Config, log logrus.FieldLogger) (Summarizer, error) {
	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
		return NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiModel), nil
	case ProviderOllama:
		return cfg.ollama(), nil
	default:
		var gemini Summarizer
		if cfg.GeminiAPIKey != "" {
			gemini = NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiModel)
		}
		return NewFallbackService(gemini, cfg.ollama(), log), nil
	}
}

// NewEmbedder picks one embedding model. Vectors from different models live in
// different spaces, so there is no cross-provider fallback here.
func NewEmbedder(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case ProviderOllama:
		return cfg.ollama(), nil
	case ProviderGemini:
		return NewGeminiEmbedder(cfg.GeminiAPIKey, cfg.GeminiEmbeddingModel)
	default:
		if cfg.GeminiAPIKey != "" {
			return NewGeminiEmbedder(cfg.GeminiAPIKey, cfg.GeminiEmbeddingModel)
		}
		return cfg.ollama(), nil
	}
}
