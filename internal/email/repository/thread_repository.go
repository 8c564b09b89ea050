package repository

import (
	"context"
	"errors"
	"time"

	emaildomain "mailcore-backend/internal/email/domain"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FolderCounts is the number of threads per folder flag for one account
type FolderCounts struct {
	Total int64 `json:"total"`
	Draft int64 `json:"draft"`
	Inbox int64 `json:"inbox"`
	Sent  int64 `json:"sent"`
	None  int64 `json:"none"`
}

// ThreadRepository defines the interface for thread operations
type ThreadRepository interface {
	// Upsert creates the thread seeded with status, or merges subject,
	// participants and last message date into the existing row. Flags of an
	// existing thread are never touched here.
	Upsert(ctx context.Context, thread *emaildomain.Thread) error
	FindByID(ctx context.Context, id string) (*emaildomain.Thread, error)
	UpdateStatus(ctx context.Context, id string, status emaildomain.ThreadStatus) error
	ListIDsByAccount(ctx context.Context, accountID string) ([]string, error)
	CountByStatus(ctx context.Context, accountID string) (*FolderCounts, error)
}

type threadRepository struct {
	db *gorm.DB
}

// NewThreadRepository creates a new instance of threadRepository
func NewThreadRepository(db *gorm.DB) ThreadRepository {
	return &threadRepository{db: db}
}

func (r *threadRepository) Upsert(ctx context.Context, thread *emaildomain.Thread) error {
	now := time.Now()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now
	if thread.ParticipantIDs == nil {
		thread.ParticipantIDs = pq.StringArray{}
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "subject"}, Value: gorm.Expr("CASE WHEN excluded.last_message_date >= threads.last_message_date AND excluded.subject <> '' THEN excluded.subject ELSE threads.subject END")},
			{Column: clause.Column{Name: "participant_ids"}, Value: gorm.Expr("ARRAY(SELECT DISTINCT p FROM unnest(threads.participant_ids || excluded.participant_ids) AS p ORDER BY p)")},
			{Column: clause.Column{Name: "last_message_date"}, Value: gorm.Expr("GREATEST(threads.last_message_date, excluded.last_message_date)")},
			{Column: clause.Column{Name: "updated_at"}, Value: now},
		},
	}).Create(thread).Error
}

func (r *threadRepository) FindByID(ctx context.Context, id string) (*emaildomain.Thread, error) {
	var thread emaildomain.Thread
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&thread).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &thread, nil
}

func (r *threadRepository) UpdateStatus(ctx context.Context, id string, status emaildomain.ThreadStatus) error {
	return r.db.WithContext(ctx).
		Model(&emaildomain.Thread{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"draft_status": status.Draft,
			"inbox_status": status.Inbox,
			"sent_status":  status.Sent,
			"updated_at":   time.Now(),
		}).Error
}

func (r *threadRepository) ListIDsByAccount(ctx context.Context, accountID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&emaildomain.Thread{}).
		Where("account_id = ?", accountID).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *threadRepository) CountByStatus(ctx context.Context, accountID string) (*FolderCounts, error) {
	var counts FolderCounts
	err := r.db.WithContext(ctx).Raw(`
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE draft_status) AS draft,
			COUNT(*) FILTER (WHERE inbox_status) AS inbox,
			COUNT(*) FILTER (WHERE sent_status) AS sent,
			COUNT(*) FILTER (WHERE NOT draft_status AND NOT inbox_status AND NOT sent_status) AS none
		FROM threads
		WHERE account_id = ?`, accountID).Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return &counts, nil
}
