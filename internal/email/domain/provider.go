package domain

import "context"

// Folder is a folder the one-page listing supports
type Folder string

const (
	FolderInbox Folder = "inbox"
	FolderSent  Folder = "sent"
)

// Valid reports whether the folder can be listed page by page
func (f Folder) Valid() bool {
	return f == FolderInbox || f == FolderSent
}

// FolderStrategy is how a folder listing selects messages at the provider
type FolderStrategy string

const (
	StrategyLabel          FolderStrategy = "label"
	StrategyClassification FolderStrategy = "classification"
)

// StartSyncOptions bounds a full sync
type StartSyncOptions struct {
	// Folder limits the initial sync when set
	Folder Folder
	// DaysWithin limits the initial sync window, 0 for provider default
	DaysWithin int
}

// StartSyncResult is the provider's answer to a sync start request
type StartSyncResult struct {
	Ready            bool
	SyncUpdatedToken string
}

// UpdatedRecordsRequest carries either a delta token or a page token; the page token wins
type UpdatedRecordsRequest struct {
	DeltaToken string
	PageToken  string
}

// UpdatedRecordsPage is one page of the updated-records feed
type UpdatedRecordsPage struct {
	Records        []Message
	NextPageToken  string
	NextDeltaToken string
}

// FolderPageRequest selects one page of a folder listing
type FolderPageRequest struct {
	Folder    Folder
	Strategy  FolderStrategy
	PageToken string
	PageSize  int
}

// FolderPage is one page of a folder listing
type FolderPage struct {
	Records       []Message
	NextPageToken string
}

// SyncProvider is the provider contract every mail backend adapter implements.
// Records are returned already normalized.
type SyncProvider interface {
	StartSync(ctx context.Context, token string, opts StartSyncOptions) (*StartSyncResult, error)
	GetUpdatedRecords(ctx context.Context, token string, req UpdatedRecordsRequest) (*UpdatedRecordsPage, error)
	ListFolderPage(ctx context.Context, token string, req FolderPageRequest) (*FolderPage, error)
}
