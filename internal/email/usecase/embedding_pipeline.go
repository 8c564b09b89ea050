package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	emaildomain "mailcore-backend/internal/email/domain"
	"mailcore-backend/pkg/logger"

	"github.com/sirupsen/logrus"
)

// MaxSummaryBodyChars caps the body text sent to the summarizer
const MaxSummaryBodyChars = 3000

// EmbeddingPipeline produces a summary and a fixed-width vector for a message.
// It never fails: summarizer errors yield a templated summary and embedder
// errors yield the zero vector.
type EmbeddingPipeline struct {
	summarizer Summarizer
	embedder   Embedder
	log        *logrus.Entry
}

// NewEmbeddingPipeline creates the pipeline. Either dependency may be nil.
func NewEmbeddingPipeline(summarizer Summarizer, embedder Embedder, log logrus.FieldLogger) *EmbeddingPipeline {
	return &EmbeddingPipeline{
		summarizer: summarizer,
		embedder:   embedder,
		log:        logger.Component(log, "embedding_pipeline"),
	}
}

// SummaryInput is what the summarizer sees of a message
type SummaryInput struct {
	Subject    string
	Sender     string
	Recipients []string
	Body       string
	Date       time.Time
}

// BuildSummaryPrompt renders the summarizer prompt with the body truncated
func BuildSummaryPrompt(in SummaryInput) string {
	var b strings.Builder
	b.WriteString("Summarize the following email in 3 to 5 plain sentences. ")
	b.WriteString("Mention the sender's intent, any requested action and any dates or amounts.\n\n")
	fmt.Fprintf(&b, "Subject: %s\n", in.Subject)
	fmt.Fprintf(&b, "From: %s\n", in.Sender)
	if len(in.Recipients) > 0 {
		fmt.Fprintf(&b, "To: %s\n", strings.Join(in.Recipients, ", "))
	}
	b.WriteString("\n")
	b.WriteString(truncateRunes(in.Body, MaxSummaryBodyChars))
	return b.String()
}

// FallbackSummary is stored when the summarizer is unavailable
func FallbackSummary(sender, subject string) string {
	return fmt.Sprintf("Email from %s regarding: %s", sender, subject)
}

// BuildEmbeddingText joins the summary with sender, date and subject metadata
func BuildEmbeddingText(summary string, in SummaryInput) string {
	var b strings.Builder
	b.WriteString(summary)
	fmt.Fprintf(&b, "\nFrom: %s", in.Sender)
	if !in.Date.IsZero() {
		fmt.Fprintf(&b, "\nDate: %s", in.Date.UTC().Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "\nSubject: %s", in.Subject)
	return b.String()
}

// Summarize returns the summarizer's answer or the templated fallback
func (p *EmbeddingPipeline) Summarize(ctx context.Context, in SummaryInput) string {
	if p.summarizer == nil {
		return FallbackSummary(in.Sender, in.Subject)
	}
	summary, err := p.summarizer.Summarize(ctx, BuildSummaryPrompt(in))
	summary = strings.TrimSpace(summary)
	if err != nil || summary == "" {
		if err != nil {
			p.log.WithError(err).Warn("Summarizer failed, using fallback summary")
		}
		return FallbackSummary(in.Sender, in.Subject)
	}
	return summary
}

// Embed returns a vector of EmbeddingDimensions width, all zeros on failure
func (p *EmbeddingPipeline) Embed(ctx context.Context, text string) emaildomain.Vector {
	if p.embedder == nil || strings.TrimSpace(text) == "" {
		return emaildomain.ZeroVector()
	}
	raw, err := p.embedder.Embed(ctx, text)
	if err != nil {
		p.log.WithError(err).Warn("Embedder failed, using zero vector")
		return emaildomain.ZeroVector()
	}
	if len(raw) != emaildomain.EmbeddingDimensions {
		p.log.WithFields(logrus.Fields{
			"got":  len(raw),
			"want": emaildomain.EmbeddingDimensions,
		}).Warn("Embedding width mismatch, using zero vector")
		return emaildomain.ZeroVector()
	}
	return emaildomain.Vector(raw)
}

// Process summarizes a message and embeds the summary with its metadata
func (p *EmbeddingPipeline) Process(ctx context.Context, in SummaryInput) (string, emaildomain.Vector) {
	summary := p.Summarize(ctx, in)
	return summary, p.Embed(ctx, BuildEmbeddingText(summary, in))
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
