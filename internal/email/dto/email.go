package dto

import (
	emaildomain "mailcore-backend/internal/email/domain"
	"mailcore-backend/internal/email/usecase"
)

type SyncRequest struct {
	ForceFullSync bool   `json:"force_full_sync"`
	Folder        string `json:"folder"`
}

type FolderSyncRequest struct {
	Folder            string `json:"folder" binding:"required"`
	ContinuationToken string `json:"continuation_token"`
}

type SyncRunsResponse struct {
	Runs []emaildomain.SyncRun `json:"runs"`
}

type SearchResponse struct {
	Query   string                 `json:"query"`
	Results []usecase.SearchResult `json:"results"`
	Count   int                    `json:"count"`
}

type BackfillResponse struct {
	Queued int `json:"queued"`
}

// ErrorResponse carries the sync error kind so clients can tell a
// reconnect-required failure from a retryable one
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
