package domain

import "time"

// SyncKind is what triggered a sync run
type SyncKind string

const (
	SyncKindDelta  SyncKind = "delta"
	SyncKindFull   SyncKind = "full"
	SyncKindFolder SyncKind = "folder"
)

// SyncRunStatus is the outcome of a sync run
type SyncRunStatus string

const (
	SyncRunRunning           SyncRunStatus = "running"
	SyncRunSucceeded         SyncRunStatus = "succeeded"
	SyncRunFailed            SyncRunStatus = "failed"
	SyncRunNeedsReconnection SyncRunStatus = "needs_reconnection"
)

// SyncRun records one sync attempt for an account
type SyncRun struct {
	ID          string        `json:"id" gorm:"primaryKey"`
	AccountID   string        `json:"account_id" gorm:"index:idx_sync_runs_account_started;not null"`
	Kind        SyncKind      `json:"kind" gorm:"not null"`
	Status      SyncRunStatus `json:"status" gorm:"not null"`
	Fetched     int           `json:"fetched"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Quarantined int           `json:"quarantined"`
	Error       string        `json:"error,omitempty" gorm:"type:text"`
	StartedAt   time.Time     `json:"started_at" gorm:"index:idx_sync_runs_account_started,sort:desc"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (SyncRun) TableName() string {
	return "sync_runs"
}
