package usecase

import (
	"context"
	"strings"
	"time"

	emaildomain "mailcore-backend/internal/email/domain"
	"mailcore-backend/internal/email/repository"
	"mailcore-backend/pkg/logger"

	"github.com/sirupsen/logrus"
)

// DefaultSearchLimit is used when the caller gives no limit
const DefaultSearchLimit = 10

// MaxSearchLimit caps the number of results per query
const MaxSearchLimit = 100

type searchService struct {
	pipeline *EmbeddingPipeline
	index    VectorIndex
	emails   repository.EmailRepository
	now      func() time.Time
	log      *logrus.Entry
}

// NewSearchService creates the hybrid search engine. A nil index disables the vector path.
func NewSearchService(pipeline *EmbeddingPipeline, index VectorIndex, emails repository.EmailRepository, log logrus.FieldLogger) SearchUsecase {
	return newSearchService(pipeline, index, emails, time.Now, log)
}

func newSearchService(pipeline *EmbeddingPipeline, index VectorIndex, emails repository.EmailRepository, now func() time.Time, log logrus.FieldLogger) *searchService {
	return &searchService{
		pipeline: pipeline,
		index:    index,
		emails:   emails,
		now:      now,
		log:      logger.Component(log, "search"),
	}
}

// Search ranks the account's messages against query, vector first with a text fallback
func (s *searchService) Search(ctx context.Context, query, accountID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	query = strings.TrimSpace(query)
	q := newSearchQuery(query)
	log := s.log.WithField("account_id", accountID)

	if query != "" && s.index != nil && s.pipeline != nil {
		results, ok := s.vectorSearch(ctx, log, q, accountID, limit)
		if ok {
			return results, nil
		}
	}
	return s.textSearch(ctx, log, q, accountID, limit), nil
}

// vectorSearch reports ok=false when the caller should fall back
func (s *searchService) vectorSearch(ctx context.Context, log *logrus.Entry, q searchQuery, accountID string, limit int) ([]SearchResult, bool) {
	vec := s.pipeline.Embed(ctx, q.raw)
	if vec.IsZero() {
		log.Debug("Query embedding unavailable, using text search")
		return nil, false
	}

	matches, err := s.index.Nearest(ctx, accountID, vec, limit*2)
	if err != nil {
		log.WithError(err).Warn("Vector search failed, using text search")
		return nil, false
	}
	if len(matches) == 0 {
		return nil, false
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.EmailID
	}
	emails, err := s.emails.FindByIDs(ctx, accountID, ids)
	if err != nil {
		log.WithError(err).Warn("Loading vector hits failed, using text search")
		return nil, false
	}
	byID := make(map[string]*emaildomain.Email, len(emails))
	for i := range emails {
		byID[emails[i].ID] = &emails[i]
	}

	now := s.now()
	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		e, ok := byID[m.EmailID]
		// a secondary index can still hold a vector the row lost on re-sync
		if !ok || e.Embedding == nil || e.Embedding.IsZero() {
			continue
		}
		if r, ok := scoreVectorHit(e, m.Distance, q, now); ok {
			results = append(results, r)
		}
	}
	if len(results) == 0 {
		return nil, false
	}
	return rankResults(results, limit), true
}

// textSearch never fails; errors yield an empty result
func (s *searchService) textSearch(ctx context.Context, log *logrus.Entry, q searchQuery, accountID string, limit int) []SearchResult {
	if len(q.tokens) == 0 {
		recent, err := s.emails.ListRecent(ctx, accountID, limit)
		if err != nil {
			log.WithError(err).Error("Recent messages lookup failed")
			return []SearchResult{}
		}
		results := make([]SearchResult, len(recent))
		for i := range recent {
			results[i] = SearchResult{Email: &recent[i]}
		}
		return results
	}

	candidates, err := s.emails.FindTextCandidates(ctx, accountID, q.tokens, limit*2)
	if err != nil {
		log.WithError(err).Error("Text search failed")
		return []SearchResult{}
	}
	return scoreTextCandidates(candidates, q, s.now(), limit)
}

// scoreTextCandidates is the deterministic fallback ranking
func scoreTextCandidates(candidates []emaildomain.Email, q searchQuery, now time.Time, limit int) []SearchResult {
	results := make([]SearchResult, 0, len(candidates))
	for i := range candidates {
		if r, ok := scoreTextHit(&candidates[i], q, now); ok {
			results = append(results, r)
		}
	}
	return rankResults(results, limit)
}
