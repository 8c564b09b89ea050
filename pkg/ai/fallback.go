package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"mailcore-backend/pkg/logger"

	"github.com/sirupsen/logrus"
)

// FallbackService routes summaries to Ollama first (local, free) and falls
// back to Gemini. When Gemini is out of quota Ollama gets one more try.
type FallbackService struct {
	gemini Summarizer
	ollama Summarizer
	log    *logrus.Entry
}

// NewFallbackService creates the router; either provider may be nil
func NewFallbackService(gemini, ollama Summarizer, log logrus.FieldLogger) *FallbackService {
	return &FallbackService{
		gemini: gemini,
		ollama: ollama,
		log:    logger.Component(log, "ai"),
	}
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return containsAny(err.Error(),
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"eof",
	)
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(),
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
		"resource_exhausted",
	)
}

func containsAny(s string, needles ...string) bool {
	s = strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// Summarize implements Summarizer
func (f *FallbackService) Summarize(ctx context.Context, prompt string) (string, error) {
	if f.ollama != nil {
		result, err := f.ollama.Summarize(ctx, prompt)
		if err == nil {
			return result, nil
		}
		if isConnectionError(err) {
			f.log.WithError(err).Info("Ollama unreachable, falling back to Gemini")
		} else {
			f.log.WithError(err).Warn("Ollama summarization failed, falling back to Gemini")
		}
	}

	if f.gemini != nil {
		result, err := f.gemini.Summarize(ctx, prompt)
		if err == nil {
			return result, nil
		}
		if isQuotaError(err) && f.ollama != nil {
			f.log.WithError(err).Warn("Gemini quota exhausted, retrying Ollama")
			return f.ollama.Summarize(ctx, prompt)
		}
		return "", fmt.Errorf("gemini summarization failed: %w", err)
	}

	return "", fmt.Errorf("no AI provider available for summarization")
}
