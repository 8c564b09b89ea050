package repository

import (
	"context"
	"time"

	emaildomain "mailcore-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncRunRepository defines the interface for the sync audit log
type SyncRunRepository interface {
	Start(ctx context.Context, accountID string, kind emaildomain.SyncKind) (*emaildomain.SyncRun, error)
	Finish(ctx context.Context, run *emaildomain.SyncRun) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]emaildomain.SyncRun, error)
}

type syncRunRepository struct {
	db *gorm.DB
}

// NewSyncRunRepository creates a new instance of syncRunRepository
func NewSyncRunRepository(db *gorm.DB) SyncRunRepository {
	return &syncRunRepository{db: db}
}

func (r *syncRunRepository) Start(ctx context.Context, accountID string, kind emaildomain.SyncKind) (*emaildomain.SyncRun, error) {
	now := time.Now()
	run := &emaildomain.SyncRun{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Kind:      kind,
		Status:    emaildomain.SyncRunRunning,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *syncRunRepository) Finish(ctx context.Context, run *emaildomain.SyncRun) error {
	now := time.Now()
	run.FinishedAt = &now
	run.UpdatedAt = now
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *syncRunRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]emaildomain.SyncRun, error) {
	var runs []emaildomain.SyncRun
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}
