package usecase

import (
	"context"
	"errors"
	"fmt"

	accountdomain "mailcore-backend/internal/account/domain"
	accountrepo "mailcore-backend/internal/account/repository"
	emaildomain "mailcore-backend/internal/email/domain"
	"mailcore-backend/internal/email/repository"
	"mailcore-backend/pkg/logger"

	"github.com/sirupsen/logrus"
)

// SyncResult is the outcome of one account sync
type SyncResult struct {
	RunID          string               `json:"run_id,omitempty"`
	Kind           emaildomain.SyncKind `json:"kind"`
	Fetched        int                  `json:"fetched"`
	Succeeded      int                  `json:"succeeded"`
	Failed         int                  `json:"failed"`
	Quarantined    int                  `json:"quarantined"`
	CursorAdvanced bool                 `json:"cursor_advanced"`
	CursorConflict bool                 `json:"cursor_conflict"`
	Truncated      bool                 `json:"truncated"`
	Reconcile      *ReconcileReport     `json:"reconcile,omitempty"`
}

// FolderSyncResult is the outcome of persisting one folder page
type FolderSyncResult struct {
	RunID             string                     `json:"run_id,omitempty"`
	Folder            emaildomain.Folder         `json:"folder"`
	Strategy          emaildomain.FolderStrategy `json:"strategy"`
	Fetched           int                        `json:"fetched"`
	Succeeded         int                        `json:"succeeded"`
	Failed            int                        `json:"failed"`
	Quarantined       int                        `json:"quarantined"`
	ContinuationToken string                     `json:"continuation_token,omitempty"`
	HasMore           bool                       `json:"has_more"`
}

type syncService struct {
	client      *SyncClient
	persistence *Persistence
	accounts    accountrepo.AccountRepository
	runs        repository.SyncRunRepository
	locker      *SyncLocker
	log         *logrus.Entry
}

// NewSyncService wires the sync client to persistence and the audit log
func NewSyncService(
	client *SyncClient,
	persistence *Persistence,
	accounts accountrepo.AccountRepository,
	runs repository.SyncRunRepository,
	locker *SyncLocker,
	log logrus.FieldLogger,
) SyncUsecase {
	if locker == nil {
		locker = NewSyncLocker()
	}
	return &syncService{
		client:      client,
		persistence: persistence,
		accounts:    accounts,
		runs:        runs,
		locker:      locker,
		log:         logger.Component(log, "sync"),
	}
}

func (s *syncService) loadAccount(ctx context.Context, accountID string) (*accountdomain.Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return nil, emaildomain.ErrAccountNotFound
	}
	if account.NeedsReconnection {
		return nil, emaildomain.ErrNeedsReconnection
	}
	return account, nil
}

// Sync pulls new mail for the account, persists it and advances the cursor
func (s *syncService) Sync(ctx context.Context, accountID string, forceFullSync bool, folder emaildomain.Folder) (*SyncResult, error) {
	unlock, ok := s.locker.TryLock(accountID)
	if !ok {
		return nil, emaildomain.ErrSyncInProgress
	}
	defer unlock()

	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	log := s.log.WithField("account_id", accountID)

	kind := emaildomain.SyncKindDelta
	if forceFullSync || !account.HasCursor() {
		kind = emaildomain.SyncKindFull
	}
	run := s.startRun(ctx, accountID, kind)
	expectedVersion := account.CursorVersion

	fetched, err := s.client.SyncEmails(ctx, account, forceFullSync, folder)
	if err != nil {
		s.failRun(ctx, run, err)
		return nil, err
	}
	if fetched.FullSync {
		kind = emaildomain.SyncKindFull
	}

	batch := s.persistence.PersistBatch(ctx, accountID, fetched.Messages)
	result := &SyncResult{
		Kind:        kind,
		Fetched:     len(fetched.Messages),
		Succeeded:   batch.Succeeded,
		Failed:      batch.Failed,
		Quarantined: fetched.Quarantined,
		Truncated:   fetched.Truncated,
	}
	note := ""
	if fetched.Truncated {
		note = "drain stopped at page limit, cursor not advanced"
		log.Warn("Drain truncated, the next sync resumes from the stored cursor")
	}

	storedToken := ""
	if account.NextDeltaToken != nil {
		storedToken = *account.NextDeltaToken
	}
	if fetched.DeltaToken != "" && fetched.DeltaToken != storedToken {
		if _, err := s.accounts.AdvanceCursor(ctx, accountID, expectedVersion, fetched.DeltaToken); err != nil {
			if !errors.Is(err, emaildomain.ErrCursorConflict) {
				s.failRun(ctx, run, err)
				return nil, fmt.Errorf("advance cursor: %w", err)
			}
			result.CursorConflict = true
			log.WithField("expected_version", expectedVersion).Warn("Cursor advanced by a concurrent writer, keeping theirs")
		} else {
			result.CursorAdvanced = true
		}
	}

	if kind == emaildomain.SyncKindFull {
		report, err := s.persistence.RecalculateAllThreadStatuses(ctx, accountID)
		if err != nil {
			log.WithError(err).Error("Thread status recalculation failed")
		} else {
			result.Reconcile = report
		}
	}

	if run != nil {
		run.Kind = kind
		result.RunID = run.ID
		s.finishRun(ctx, run, emaildomain.SyncRunSucceeded, result.Fetched, batch, result.Quarantined, note)
	}
	log.WithFields(logrus.Fields{
		"kind":      kind,
		"fetched":   result.Fetched,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	}).Info("Sync finished")
	return result, nil
}

// SyncFolderPage fetches and persists one folder page
func (s *syncService) SyncFolderPage(ctx context.Context, accountID string, folder emaildomain.Folder, continuation string) (*FolderSyncResult, error) {
	unlock, ok := s.locker.TryLock(accountID)
	if !ok {
		return nil, emaildomain.ErrSyncInProgress
	}
	defer unlock()

	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	run := s.startRun(ctx, accountID, emaildomain.SyncKindFolder)

	page, err := s.client.FetchEmailsByFolderOnePage(ctx, account, folder, continuation)
	if err != nil {
		s.failRun(ctx, run, err)
		return nil, err
	}
	batch := s.persistence.PersistBatch(ctx, accountID, page.Messages)

	result := &FolderSyncResult{
		Folder:            folder,
		Strategy:          page.Strategy,
		Fetched:           len(page.Messages),
		Succeeded:         batch.Succeeded,
		Failed:            batch.Failed,
		Quarantined:       page.Quarantined,
		ContinuationToken: page.ContinuationToken,
		HasMore:           page.ContinuationToken != "",
	}
	if run != nil {
		result.RunID = run.ID
		s.finishRun(ctx, run, emaildomain.SyncRunSucceeded, result.Fetched, batch, result.Quarantined, "")
	}
	return result, nil
}

// Reconcile runs the bulk thread-status repair for the account
func (s *syncService) Reconcile(ctx context.Context, accountID string) (*ReconcileReport, error) {
	unlock, ok := s.locker.TryLock(accountID)
	if !ok {
		return nil, emaildomain.ErrSyncInProgress
	}
	defer unlock()

	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return nil, emaildomain.ErrAccountNotFound
	}
	return s.persistence.RecalculateAllThreadStatuses(ctx, accountID)
}

func (s *syncService) ListRuns(ctx context.Context, accountID string, limit int) ([]emaildomain.SyncRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.runs.ListByAccount(ctx, accountID, limit)
}

// SyncAllAccounts runs a sync for every connected account, one at a time
func (s *syncService) SyncAllAccounts(ctx context.Context) {
	accounts, err := s.accounts.ListConnected(ctx)
	if err != nil {
		s.log.WithError(err).Error("Failed to list accounts for sync")
		return
	}
	for _, account := range accounts {
		if ctx.Err() != nil {
			return
		}
		_, err := s.Sync(ctx, account.ID, false, "")
		switch {
		case err == nil:
		case errors.Is(err, emaildomain.ErrSyncInProgress):
			s.log.WithField("account_id", account.ID).Debug("Sync already running, skipped")
		default:
			s.log.WithField("account_id", account.ID).WithError(err).
				WithField("kind", emaildomain.ClassifySyncError(err)).Warn("Scheduled sync failed")
		}
	}
}

func (s *syncService) startRun(ctx context.Context, accountID string, kind emaildomain.SyncKind) *emaildomain.SyncRun {
	if s.runs == nil {
		return nil
	}
	run, err := s.runs.Start(ctx, accountID, kind)
	if err != nil {
		s.log.WithField("account_id", accountID).WithError(err).Warn("Failed to record sync run")
		return nil
	}
	return run
}

func (s *syncService) failRun(ctx context.Context, run *emaildomain.SyncRun, cause error) {
	if run == nil {
		return
	}
	status := emaildomain.SyncRunFailed
	if isAuthFailure(cause) {
		status = emaildomain.SyncRunNeedsReconnection
	}
	s.finishRun(ctx, run, status, 0, BatchResult{}, 0, cause.Error())
}

func (s *syncService) finishRun(ctx context.Context, run *emaildomain.SyncRun, status emaildomain.SyncRunStatus, fetched int, batch BatchResult, quarantined int, errText string) {
	run.Status = status
	run.Fetched = fetched
	run.Succeeded = batch.Succeeded
	run.Failed = batch.Failed
	run.Quarantined = quarantined
	run.Error = errText
	// the request context may already be done; the audit row should still land
	if err := s.runs.Finish(context.WithoutCancel(ctx), run); err != nil {
		s.log.WithField("run_id", run.ID).WithError(err).Warn("Failed to finish sync run")
	}
}
