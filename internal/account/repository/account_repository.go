package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	accountdomain "mailcore-backend/internal/account/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TokenSealer encrypts provider tokens at rest
type TokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// AccountRepository defines the interface for account and sync cursor operations
type AccountRepository interface {
	Create(ctx context.Context, account *accountdomain.Account) error
	FindByID(ctx context.Context, id string) (*accountdomain.Account, error)
	ListConnected(ctx context.Context) ([]accountdomain.Account, error)
	// AdvanceCursor stores token as the next delta token if the stored cursor
	// version still equals expectedVersion, returning the new version.
	AdvanceCursor(ctx context.Context, accountID string, expectedVersion int64, token string) (int64, error)
	MarkNeedsReconnection(ctx context.Context, accountID string) error
	// UpdateToken replaces the access token and clears the reconnection flag
	UpdateToken(ctx context.Context, accountID, token string) error
}

type accountRepository struct {
	db     *gorm.DB
	sealer TokenSealer
}

// NewAccountRepository creates a new instance of accountRepository.
// A nil sealer stores tokens unencrypted.
func NewAccountRepository(db *gorm.DB, sealer TokenSealer) AccountRepository {
	return &accountRepository{db: db, sealer: sealer}
}

func (r *accountRepository) seal(token string) (string, error) {
	if r.sealer == nil || token == "" {
		return token, nil
	}
	return r.sealer.Seal(token)
}

func (r *accountRepository) open(a *accountdomain.Account) error {
	if a.SealedToken == "" {
		return nil
	}
	if r.sealer == nil {
		a.AccessToken = a.SealedToken
		return nil
	}
	tok, err := r.sealer.Open(a.SealedToken)
	if err != nil {
		return fmt.Errorf("open token for account %s: %w", a.ID, err)
	}
	a.AccessToken = tok
	return nil
}

func (r *accountRepository) Create(ctx context.Context, account *accountdomain.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	sealed, err := r.seal(account.AccessToken)
	if err != nil {
		return fmt.Errorf("seal token: %w", err)
	}
	account.SealedToken = sealed
	if account.Provider == "" {
		account.Provider = accountdomain.ProviderREST
	}
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *accountRepository) FindByID(ctx context.Context, id string) (*accountdomain.Account, error) {
	var account accountdomain.Account
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.open(&account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) ListConnected(ctx context.Context) ([]accountdomain.Account, error) {
	var accounts []accountdomain.Account
	err := r.db.WithContext(ctx).
		Where("needs_reconnection = ?", false).
		Order("created_at ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if err := r.open(&accounts[i]); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

func (r *accountRepository) AdvanceCursor(ctx context.Context, accountID string, expectedVersion int64, token string) (int64, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&accountdomain.Account{}).
		Where("id = ? AND cursor_version = ?", accountID, expectedVersion).
		Updates(map[string]interface{}{
			"next_delta_token": token,
			"cursor_version":   gorm.Expr("cursor_version + 1"),
			"last_synced_at":   now,
			"updated_at":       now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("advance cursor: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, accountdomain.ErrCursorConflict
	}
	return expectedVersion + 1, nil
}

func (r *accountRepository) MarkNeedsReconnection(ctx context.Context, accountID string) error {
	return r.db.WithContext(ctx).
		Model(&accountdomain.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"needs_reconnection": true,
			"updated_at":         time.Now(),
		}).Error
}

func (r *accountRepository) UpdateToken(ctx context.Context, accountID, token string) error {
	sealed, err := r.seal(token)
	if err != nil {
		return fmt.Errorf("seal token: %w", err)
	}
	result := r.db.WithContext(ctx).
		Model(&accountdomain.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"sealed_token":       sealed,
			"needs_reconnection": false,
			"updated_at":         time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return accountdomain.ErrAccountNotFound
	}
	return nil
}
