package usecase

import (
	"math"
	"sort"
	"strings"
	"time"

	emaildomain "mailcore-backend/internal/email/domain"
	"mailcore-backend/pkg/textmatch"
)

const (
	// MinVectorSimilarity drops vector hits below this similarity
	MinVectorSimilarity = 0.30
	// MinTextScore drops fallback hits below this score
	MinTextScore = 0.10

	boostImportant  = 1.3
	boostLastWeek   = 1.2
	boostLastMonth  = 1.1
	boostSubjectHit = 1.4
	boostKeywordHit = 1.2

	weightSubjectPhrase = 1.0
	weightSubjectTokens = 0.4
	weightSummaryPhrase = 0.5
	weightSummaryTokens = 0.2
	weightBodyPhrase    = 0.3
	weightBodyTokens    = 0.1
	bonusKeyword        = 0.2
)

// SearchResult is one ranked hit
type SearchResult struct {
	Email          *emaildomain.Email `json:"email"`
	Similarity     float64            `json:"similarity"`
	RelevanceScore float64            `json:"relevance_score"`
}

// searchQuery is a query prepared once for scoring
type searchQuery struct {
	raw    string
	phrase string
	tokens []string
}

func newSearchQuery(q string) searchQuery {
	return searchQuery{
		raw:    q,
		phrase: textmatch.Normalize(q),
		tokens: textmatch.SearchTokens(q),
	}
}

// relevanceBoost multiplies the importance, recency, subject and keyword boosts
func relevanceBoost(e *emaildomain.Email, q searchQuery, now time.Time) float64 {
	boost := 1.0
	if e.IsImportant() {
		boost *= boostImportant
	}
	age := now.Sub(e.Date())
	switch {
	case age < 7*24*time.Hour:
		boost *= boostLastWeek
	case age < 30*24*time.Hour:
		boost *= boostLastMonth
	}
	if q.phrase != "" && strings.Contains(strings.ToLower(e.Subject), strings.ToLower(strings.TrimSpace(q.raw))) {
		boost *= boostSubjectHit
	}
	if textmatch.AnyOverlap(e.Keywords, q.tokens) {
		boost *= boostKeywordHit
	}
	return boost
}

// scoreVectorHit converts a cosine distance into a result, or reports it unusable
func scoreVectorHit(e *emaildomain.Email, distance float64, q searchQuery, now time.Time) (SearchResult, bool) {
	similarity := 1 - distance
	if math.IsNaN(similarity) || math.IsInf(similarity, 0) || similarity < MinVectorSimilarity {
		return SearchResult{}, false
	}
	return SearchResult{
		Email:          e,
		Similarity:     similarity,
		RelevanceScore: similarity * relevanceBoost(e, q, now),
	}, true
}

// textMatchScore is the fallback composite before boosts
func textMatchScore(e *emaildomain.Email, q searchQuery) float64 {
	summary := ""
	if e.Summary != nil {
		summary = *e.Summary
	}

	score := fieldScore(e.Subject, q, weightSubjectPhrase, weightSubjectTokens)
	score += fieldScore(summary, q, weightSummaryPhrase, weightSummaryTokens)
	score += fieldScore(e.Body, q, weightBodyPhrase, weightBodyTokens)
	if textmatch.AnyOverlap(e.Keywords, q.tokens) {
		score += bonusKeyword
	}
	return score
}

func fieldScore(text string, q searchQuery, phraseWeight, tokenWeight float64) float64 {
	if text == "" {
		return 0
	}
	if textmatch.ContainsPhrase(text, q.phrase) {
		return phraseWeight
	}
	return textmatch.TokenFraction(text, q.tokens) * tokenWeight
}

// scoreTextHit scores a fallback candidate, or reports it below the floor
func scoreTextHit(e *emaildomain.Email, q searchQuery, now time.Time) (SearchResult, bool) {
	score := textMatchScore(e, q) * relevanceBoost(e, q, now)
	if score < MinTextScore {
		return SearchResult{}, false
	}
	return SearchResult{Email: e, RelevanceScore: score}, true
}

// rankResults sorts by score descending, then newer first, then id, and truncates
func rankResults(results []SearchResult, limit int) []SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		da, db := a.Email.Date(), b.Email.Date()
		if !da.Equal(db) {
			return da.After(db)
		}
		return a.Email.ID < b.Email.ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
