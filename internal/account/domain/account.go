package domain

import "time"

// ProviderKind selects the mail backend adapter for an account
type ProviderKind string

const (
	ProviderREST  ProviderKind = "rest"
	ProviderGmail ProviderKind = "gmail"
)

// Account is a connected mailbox.
// NextDeltaToken and CursorVersion move together through AdvanceCursor only.
type Account struct {
	ID                string       `json:"id" gorm:"primaryKey"`
	Email             string       `json:"email" gorm:"uniqueIndex;not null"`
	Provider          ProviderKind `json:"provider" gorm:"not null;default:rest"`
	SealedToken       string       `json:"-" gorm:"column:sealed_token;type:text"`
	AccessToken       string       `json:"-" gorm:"-"`
	NextDeltaToken    *string      `json:"-" gorm:"type:text"`
	CursorVersion     int64        `json:"cursor_version" gorm:"not null;default:0"`
	NeedsReconnection bool         `json:"needs_reconnection" gorm:"not null;default:false;index"`
	LastSyncedAt      *time.Time   `json:"last_synced_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Account) TableName() string {
	return "accounts"
}

// HasCursor reports whether a delta sync can run
func (a *Account) HasCursor() bool {
	return a.NextDeltaToken != nil && *a.NextDeltaToken != ""
}
