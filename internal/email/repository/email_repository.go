package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	emaildomain "mailcore-backend/internal/email/domain"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// columns replaced when a known message is synced again
var emailUpsertColumns = []string{
	"thread_id", "account_id", "internet_message_id", "subject", "from_id",
	"to_ids", "cc_ids", "bcc_ids", "reply_to_ids",
	"sys_labels", "sys_classifications", "keywords", "email_label",
	"sent_at", "received_at", "in_reply_to", "references_header",
	"has_attachments", "body", "body_snippet", "updated_at",
}

// EmailRepository defines the interface for message persistence and lookups
type EmailRepository interface {
	// Upsert inserts the message or replaces it by id, clearing summary and embedding
	Upsert(ctx context.Context, email *emaildomain.Email) error
	UpsertAttachments(ctx context.Context, attachments []emaildomain.Attachment) error
	FindByID(ctx context.Context, id string) (*emaildomain.Email, error)
	FindByIDs(ctx context.Context, accountID string, ids []string) ([]emaildomain.Email, error)
	ListThreadLabelSets(ctx context.Context, threadID string) ([]emaildomain.LabelSet, error)
	ListRecent(ctx context.Context, accountID string, limit int) ([]emaildomain.Email, error)
	// FindTextCandidates returns messages whose subject, body or summary
	// contains any token, or whose keywords overlap the tokens
	FindTextCandidates(ctx context.Context, accountID string, tokens []string, limit int) ([]emaildomain.Email, error)
	// SaveSummaryAndEmbedding writes both columns in one statement
	SaveSummaryAndEmbedding(ctx context.Context, emailID, summary string, embedding emaildomain.Vector) error
	// ListMissingSummary returns messages not yet summarized, oldest first.
	// An empty accountID spans all accounts.
	ListMissingSummary(ctx context.Context, accountID string, limit int) ([]emaildomain.Email, error)
}

type emailRepository struct {
	db *gorm.DB
}

// NewEmailRepository creates a new instance of emailRepository
func NewEmailRepository(db *gorm.DB) EmailRepository {
	return &emailRepository{db: db}
}

func (r *emailRepository) Upsert(ctx context.Context, email *emaildomain.Email) error {
	now := time.Now()
	if email.CreatedAt.IsZero() {
		email.CreatedAt = now
	}
	email.UpdatedAt = now
	email.Summary = nil
	email.Embedding = nil

	updates := clause.AssignmentColumns(emailUpsertColumns)
	updates = append(updates,
		clause.Assignment{Column: clause.Column{Name: "summary"}, Value: gorm.Expr("NULL")},
		clause.Assignment{Column: clause.Column{Name: "embedding"}, Value: gorm.Expr("NULL")},
	)

	return r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: updates,
		}).Create(email).Error
}

func (r *emailRepository) UpsertAttachments(ctx context.Context, attachments []emaildomain.Attachment) error {
	if len(attachments) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email_id", "name", "mime_type", "size", "inline", "content_id"}),
	}).Create(&attachments).Error
}

func (r *emailRepository) FindByID(ctx context.Context, id string) (*emaildomain.Email, error) {
	var email emaildomain.Email
	err := r.db.WithContext(ctx).
		Preload("From").
		Preload("Attachments").
		Where("id = ?", id).
		First(&email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &email, nil
}

func (r *emailRepository) FindByIDs(ctx context.Context, accountID string, ids []string) ([]emaildomain.Email, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var emails []emaildomain.Email
	err := r.db.WithContext(ctx).
		Preload("From").
		Where("account_id = ? AND id IN ?", accountID, ids).
		Find(&emails).Error
	if err != nil {
		return nil, err
	}
	return emails, nil
}

func (r *emailRepository) ListThreadLabelSets(ctx context.Context, threadID string) ([]emaildomain.LabelSet, error) {
	var sets []emaildomain.LabelSet
	err := r.db.WithContext(ctx).
		Model(&emaildomain.Email{}).
		Select("sys_labels, sys_classifications").
		Where("thread_id = ?", threadID).
		Scan(&sets).Error
	if err != nil {
		return nil, err
	}
	return sets, nil
}

func (r *emailRepository) ListRecent(ctx context.Context, accountID string, limit int) ([]emaildomain.Email, error) {
	var emails []emaildomain.Email
	err := r.db.WithContext(ctx).
		Preload("From").
		Where("account_id = ?", accountID).
		Order("received_at DESC, id ASC").
		Limit(limit).
		Find(&emails).Error
	if err != nil {
		return nil, err
	}
	return emails, nil
}

func (r *emailRepository) FindTextCandidates(ctx context.Context, accountID string, tokens []string, limit int) ([]emaildomain.Email, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	var (
		conds []string
		args  []interface{}
	)
	for _, tok := range tokens {
		pattern := "%" + escapeLike(tok) + "%"
		conds = append(conds, "subject ILIKE ? OR body ILIKE ? OR summary ILIKE ?")
		args = append(args, pattern, pattern, pattern)
	}
	conds = append(conds, "keywords && ?")
	args = append(args, pq.StringArray(lowerAll(tokens)))

	var emails []emaildomain.Email
	err := r.db.WithContext(ctx).
		Preload("From").
		Where("account_id = ?", accountID).
		Where("("+strings.Join(conds, " OR ")+")", args...).
		Order("received_at DESC, id ASC").
		Limit(limit).
		Find(&emails).Error
	if err != nil {
		return nil, fmt.Errorf("text candidates: %w", err)
	}
	return emails, nil
}

func (r *emailRepository) SaveSummaryAndEmbedding(ctx context.Context, emailID, summary string, embedding emaildomain.Vector) error {
	updates := map[string]interface{}{
		"summary":    summary,
		"updated_at": time.Now(),
	}
	if embedding != nil {
		updates["embedding"] = embedding
	}
	return r.db.WithContext(ctx).
		Model(&emaildomain.Email{}).
		Where("id = ?", emailID).
		Updates(updates).Error
}

func (r *emailRepository) ListMissingSummary(ctx context.Context, accountID string, limit int) ([]emaildomain.Email, error) {
	q := r.db.WithContext(ctx).
		Preload("From").
		Where("summary IS NULL")
	if accountID != "" {
		q = q.Where("account_id = ?", accountID)
	}
	var emails []emaildomain.Email
	if err := q.Order("received_at ASC").Limit(limit).Find(&emails).Error; err != nil {
		return nil, err
	}
	return emails, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
