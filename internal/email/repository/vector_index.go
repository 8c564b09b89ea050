package repository

import (
	"context"
	"fmt"

	emaildomain "mailcore-backend/internal/email/domain"

	"gorm.io/gorm"
)

// PGVectorIndex answers nearest-neighbour queries against the emails.embedding column
type PGVectorIndex struct {
	db *gorm.DB
}

// NewPGVectorIndex creates the pgvector-backed index
func NewPGVectorIndex(db *gorm.DB) *PGVectorIndex {
	return &PGVectorIndex{db: db}
}

// Nearest returns up to limit messages of the account ordered by cosine distance.
// Messages without an embedding are excluded.
func (x *PGVectorIndex) Nearest(ctx context.Context, accountID string, query emaildomain.Vector, limit int) ([]emaildomain.VectorMatch, error) {
	var rows []struct {
		ID       string
		Distance float64
	}
	err := x.db.WithContext(ctx).Raw(`
		SELECT id, embedding <=> ?::vector AS distance
		FROM emails
		WHERE account_id = ? AND embedding IS NOT NULL
		ORDER BY embedding <=> ?::vector
		LIMIT ?`, query.PG(), accountID, query.PG(), limit).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("pgvector nearest: %w", err)
	}

	matches := make([]emaildomain.VectorMatch, len(rows))
	for i, row := range rows {
		matches[i] = emaildomain.VectorMatch{EmailID: row.ID, Distance: row.Distance}
	}
	return matches, nil
}
