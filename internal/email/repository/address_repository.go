package repository

import (
	"context"
	"errors"
	"time"

	emaildomain "mailcore-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AddressRepository defines the interface for the per-account address registry
type AddressRepository interface {
	// Upsert creates the (account, address) row or refreshes its name.
	// An empty name never overwrites a stored one.
	Upsert(ctx context.Context, accountID, address, name string) (*emaildomain.EmailAddress, error)
	FindByAddress(ctx context.Context, accountID, address string) (*emaildomain.EmailAddress, error)
	FindByIDs(ctx context.Context, ids []string) ([]emaildomain.EmailAddress, error)
}

type addressRepository struct {
	db *gorm.DB
}

// NewAddressRepository creates a new instance of addressRepository
func NewAddressRepository(db *gorm.DB) AddressRepository {
	return &addressRepository{db: db}
}

func (r *addressRepository) Upsert(ctx context.Context, accountID, address, name string) (*emaildomain.EmailAddress, error) {
	now := time.Now()
	row := &emaildomain.EmailAddress{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Address:   address,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// INSERT ... ON CONFLICT (account_id, address) DO UPDATE, keeping a known name
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "address"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "name"}, Value: gorm.Expr("CASE WHEN excluded.name <> '' THEN excluded.name ELSE email_addresses.name END")},
			{Column: clause.Column{Name: "updated_at"}, Value: now},
		},
	}).Create(row).Error
	if err != nil {
		return nil, err
	}

	// the row id is the existing one on conflict
	return r.FindByAddress(ctx, accountID, address)
}

func (r *addressRepository) FindByAddress(ctx context.Context, accountID, address string) (*emaildomain.EmailAddress, error) {
	var addr emaildomain.EmailAddress
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND address = ?", accountID, address).
		First(&addr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &addr, nil
}

func (r *addressRepository) FindByIDs(ctx context.Context, ids []string) ([]emaildomain.EmailAddress, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var addrs []emaildomain.EmailAddress
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&addrs).Error; err != nil {
		return nil, err
	}
	return addrs, nil
}
