package domain

import (
	"database/sql/driver"

	"github.com/pgvector/pgvector-go"
)

// EmbeddingDimensions is the fixed width of every stored and query embedding
const EmbeddingDimensions = 768

// Vector is a fixed-width embedding stored in a pgvector column.
// A nil Vector maps to NULL.
type Vector []float32

// ZeroVector returns an all-zero vector of EmbeddingDimensions width
func ZeroVector() Vector {
	return make(Vector, EmbeddingDimensions)
}

// IsZero reports whether every component is zero (or the vector is empty)
func (v Vector) IsZero() bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

// PG returns the pgvector form used as a query argument
func (v Vector) PG() pgvector.Vector {
	return pgvector.NewVector(v)
}

// Value implements driver.Valuer
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return v.PG().Value()
}

// Scan implements sql.Scanner
func (v *Vector) Scan(value interface{}) error {
	if value == nil {
		*v = nil
		return nil
	}
	var pv pgvector.Vector
	if err := pv.Scan(value); err != nil {
		return err
	}
	*v = pv.Slice()
	return nil
}

// VectorMatch is a nearest-neighbour hit by cosine distance
type VectorMatch struct {
	EmailID  string
	Distance float64
}
