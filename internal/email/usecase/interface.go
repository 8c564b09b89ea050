package usecase

import (
	"context"

	emaildomain "mailcore-backend/internal/email/domain"
	"mailcore-backend/internal/email/repository"
)

// SyncUsecase drives provider sync for an account
type SyncUsecase interface {
	Sync(ctx context.Context, accountID string, forceFullSync bool, folder emaildomain.Folder) (*SyncResult, error)
	SyncFolderPage(ctx context.Context, accountID string, folder emaildomain.Folder, continuation string) (*FolderSyncResult, error)
	Reconcile(ctx context.Context, accountID string) (*ReconcileReport, error)
	ListRuns(ctx context.Context, accountID string, limit int) ([]emaildomain.SyncRun, error)
	SyncAllAccounts(ctx context.Context)
}

// SearchUsecase answers free-text queries over one account's mail
type SearchUsecase interface {
	Search(ctx context.Context, query, accountID string, limit int) ([]SearchResult, error)
}

// EmbeddingUsecase schedules summary and embedding generation
type EmbeddingUsecase interface {
	Enqueue(job EmbeddingJob) bool
	Backfill(ctx context.Context, accountID string) (int, error)
}

// Summarizer turns a prompt into a short natural-language summary
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Embedder turns text into a dense vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex answers nearest-neighbour queries by cosine distance
type VectorIndex interface {
	Nearest(ctx context.Context, accountID string, query emaildomain.Vector, limit int) ([]emaildomain.VectorMatch, error)
}

// VectorMirror receives every non-zero embedding for a secondary index
type VectorMirror interface {
	Upsert(ctx context.Context, email *emaildomain.Email, embedding emaildomain.Vector) error
}

var _ VectorIndex = (*repository.PGVectorIndex)(nil)
