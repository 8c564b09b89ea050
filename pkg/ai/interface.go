package ai

import "context"

// Summarizer turns a prompt into a short plain-text summary
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Embedder turns text into a dense vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOllama ProviderType = "ollama"
	ProviderAuto   ProviderType = "auto"
)
