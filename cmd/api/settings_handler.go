package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"mailcore-backend/pkg/ai"

	"github.com/gin-gonic/gin"
)

// RuntimeConfig holds runtime-configurable settings. The embedding model is
// fixed at startup since stored vectors depend on it.
type RuntimeConfig struct {
	OllamaBaseURL        string `json:"ollama_base_url"`
	OllamaModel          string `json:"ollama_model,omitempty"`
	OllamaEmbeddingModel string `json:"ollama_embedding_model,omitempty"`
}

// OllamaPinger checks that an Ollama server is reachable
type OllamaPinger interface {
	Ping(ctx context.Context, baseURL string) error
}

// SettingsHandler serves the runtime settings API and hands out getters
// the AI clients read on every call
type SettingsHandler struct {
	mu     sync.RWMutex
	config RuntimeConfig
	pinger OllamaPinger
}

func NewSettingsHandler(initial RuntimeConfig) *SettingsHandler {
	h := &SettingsHandler{config: initial}
	h.pinger = ai.NewOllamaServiceWithGetters(h.OllamaBaseURL, h.OllamaModel, h.OllamaEmbeddingModel)
	return h
}

// OllamaBaseURL returns the current runtime Ollama base URL
func (h *SettingsHandler) OllamaBaseURL() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config.OllamaBaseURL
}

// OllamaModel returns the current runtime Ollama model
func (h *SettingsHandler) OllamaModel() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config.OllamaModel
}

func (h *SettingsHandler) OllamaEmbeddingModel() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config.OllamaEmbeddingModel
}

func (h *SettingsHandler) snapshot() RuntimeConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// UpdateOllamaSettingsRequest represents the request body for updating Ollama settings
type UpdateOllamaSettingsRequest struct {
	OllamaBaseURL string `json:"ollama_base_url" binding:"required,url"`
	OllamaModel   string `json:"ollama_model,omitempty"`
}

// GetOllamaSettings returns current Ollama configuration
// GET /api/settings/ollama
func (h *SettingsHandler) GetOllamaSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.snapshot())
}

// UpdateOllamaSettings updates Ollama configuration at runtime
// PUT /api/settings/ollama
func (h *SettingsHandler) UpdateOllamaSettings(c *gin.Context) {
	var req UpdateOllamaSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.mu.Lock()
	h.config.OllamaBaseURL = req.OllamaBaseURL
	if req.OllamaModel != "" {
		h.config.OllamaModel = req.OllamaModel
	}
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"message":  "Ollama settings updated successfully",
		"settings": h.snapshot(),
	})
}

// TestOllamaConnection tests if the Ollama server is reachable
// POST /api/settings/ollama/test
func (h *SettingsHandler) TestOllamaConnection(c *gin.Context) {
	var req struct {
		OllamaBaseURL string `json:"ollama_base_url"`
	}
	// If no body provided, use current config
	_ = c.ShouldBindJSON(&req)
	if req.OllamaBaseURL == "" {
		req.OllamaBaseURL = h.OllamaBaseURL()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := h.pinger.Ping(ctx, req.OllamaBaseURL); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"connected": false,
			"error":     err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connected":       true,
		"ollama_base_url": req.OllamaBaseURL,
	})
}
