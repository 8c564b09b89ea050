package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	accountdomain "mailcore-backend/internal/account/domain"
	accountrepo "mailcore-backend/internal/account/repository"
	emaildomain "mailcore-backend/internal/email/domain"
	"mailcore-backend/pkg/logger"

	"github.com/sirupsen/logrus"
)

// SyncClientConfig bounds provider polling and paging
type SyncClientConfig struct {
	PollInterval    time.Duration
	MaxPollAttempts int
	DaysWithin      int
	FolderPageSize  int
	// MaxPages caps a single drain so a misbehaving provider cannot loop forever
	MaxPages int
}

func (c *SyncClientConfig) withDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = 30
	}
	if c.FolderPageSize <= 0 {
		c.FolderPageSize = 50
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 1000
	}
}

// InitialSyncResult is the outcome of a full drain
type InitialSyncResult struct {
	Messages    []emaildomain.Message
	DeltaToken  string
	Pages       int
	Quarantined int
	// Truncated means the page cap stopped the drain; DeltaToken is then empty
	Truncated bool
}

// SyncEmailsResult is the outcome of SyncEmails
type SyncEmailsResult struct {
	Messages    []emaildomain.Message
	DeltaToken  string
	FullSync    bool
	Quarantined int
	Truncated   bool
}

// FolderPageResult is one page of a folder drain
type FolderPageResult struct {
	Messages          []emaildomain.Message
	ContinuationToken string
	Strategy          emaildomain.FolderStrategy
	Quarantined       int
}

// SyncClient pulls normalized messages from the account's provider
type SyncClient struct {
	providers map[accountdomain.ProviderKind]emaildomain.SyncProvider
	accounts  accountrepo.AccountRepository
	cfg       SyncClientConfig
	log       *logrus.Entry
}

// NewSyncClient creates a sync client over the given provider adapters
func NewSyncClient(
	providers map[accountdomain.ProviderKind]emaildomain.SyncProvider,
	accounts accountrepo.AccountRepository,
	cfg SyncClientConfig,
	log logrus.FieldLogger,
) *SyncClient {
	cfg.withDefaults()
	return &SyncClient{
		providers: providers,
		accounts:  accounts,
		cfg:       cfg,
		log:       logger.Component(log, "sync_client"),
	}
}

func (c *SyncClient) providerFor(account *accountdomain.Account) (emaildomain.SyncProvider, error) {
	p, ok := c.providers[account.Provider]
	if !ok || p == nil {
		return nil, fmt.Errorf("no sync provider registered for %q", account.Provider)
	}
	return p, nil
}

// PerformInitialSync starts a provider sync, waits for it to become ready and
// drains every page of the updated-records feed.
func (c *SyncClient) PerformInitialSync(ctx context.Context, account *accountdomain.Account, opts emaildomain.StartSyncOptions) (*InitialSyncResult, error) {
	provider, err := c.providerFor(account)
	if err != nil {
		return nil, err
	}
	if opts.DaysWithin == 0 {
		opts.DaysWithin = c.cfg.DaysWithin
	}
	log := c.log.WithField("account_id", account.ID)

	start, err := c.waitReady(ctx, provider, account.AccessToken, opts)
	if err != nil {
		return nil, err
	}
	log.WithField("folder", opts.Folder).Info("Provider sync ready, draining updated records")

	d, err := c.drain(ctx, log, provider, account.AccessToken, start.SyncUpdatedToken)
	if err != nil {
		return nil, err
	}
	result := &InitialSyncResult{
		Messages:    d.messages,
		DeltaToken:  d.deltaToken,
		Pages:       d.pages,
		Quarantined: d.quarantined,
		Truncated:   d.truncated,
	}

	log.WithFields(logrus.Fields{
		"messages":    len(result.Messages),
		"pages":       result.Pages,
		"quarantined": result.Quarantined,
		"truncated":   result.Truncated,
	}).Info("Initial sync drained")
	return result, nil
}

// waitReady polls StartSync at a fixed interval until the provider reports ready
func (c *SyncClient) waitReady(ctx context.Context, provider emaildomain.SyncProvider, token string, opts emaildomain.StartSyncOptions) (*emaildomain.StartSyncResult, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 1; ; attempt++ {
		res, err := provider.StartSync(ctx, token, opts)
		if err != nil {
			return nil, fmt.Errorf("start sync: %w", err)
		}
		if res.Ready {
			return res, nil
		}
		if attempt >= c.cfg.MaxPollAttempts {
			return nil, fmt.Errorf("%w after %d attempts", emaildomain.ErrProviderNotReady, attempt)
		}

		if timer == nil {
			timer = time.NewTimer(c.cfg.PollInterval)
		} else {
			timer.Reset(c.cfg.PollInterval)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// SyncEmails runs a delta sync from the stored cursor, falling back to a full
// sync when the delta path fails for any reason other than auth.
func (c *SyncClient) SyncEmails(ctx context.Context, account *accountdomain.Account, forceFullSync bool, folder emaildomain.Folder) (*SyncEmailsResult, error) {
	log := c.log.WithField("account_id", account.ID)

	if account.HasCursor() && !forceFullSync {
		res, err := c.deltaSync(ctx, account)
		if err == nil {
			return res, nil
		}
		if emaildomain.IsAuthError(err) {
			c.flagReconnection(ctx, account)
			return nil, fmt.Errorf("delta sync: %w: %w", emaildomain.ErrNeedsReconnection, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.WithError(err).Warn("Delta sync failed, falling back to full sync")
	}

	full, err := c.PerformInitialSync(ctx, account, emaildomain.StartSyncOptions{Folder: folder})
	if err != nil {
		if emaildomain.IsAuthError(err) {
			c.flagReconnection(ctx, account)
			return nil, fmt.Errorf("full sync: %w: %w", emaildomain.ErrNeedsReconnection, err)
		}
		return nil, fmt.Errorf("full sync: %w", err)
	}
	return &SyncEmailsResult{
		Messages:    full.Messages,
		DeltaToken:  full.DeltaToken,
		FullSync:    true,
		Quarantined: full.Quarantined,
		Truncated:   full.Truncated,
	}, nil
}

func (c *SyncClient) deltaSync(ctx context.Context, account *accountdomain.Account) (*SyncEmailsResult, error) {
	provider, err := c.providerFor(account)
	if err != nil {
		return nil, err
	}
	log := c.log.WithField("account_id", account.ID)

	d, err := c.drain(ctx, log, provider, account.AccessToken, *account.NextDeltaToken)
	if err != nil {
		return nil, err
	}
	log.WithField("messages", len(d.messages)).Debug("Delta sync fetched")
	return &SyncEmailsResult{
		Messages:    d.messages,
		DeltaToken:  d.deltaToken,
		Quarantined: d.quarantined,
		Truncated:   d.truncated,
	}, nil
}

type drainResult struct {
	messages    []emaildomain.Message
	deltaToken  string
	pages       int
	quarantined int
	truncated   bool
}

// drain follows the updated-records feed from deltaToken until no page is left.
// The last delta token seen on any page wins. When the page cap stops the drain
// the fetched messages are kept but no delta token is returned, so a cursor is
// never advanced past pages that were not read.
func (c *SyncClient) drain(ctx context.Context, log *logrus.Entry, provider emaildomain.SyncProvider, token, deltaToken string) (*drainResult, error) {
	result := &drainResult{}
	seen := make(map[string]bool)
	req := emaildomain.UpdatedRecordsRequest{DeltaToken: deltaToken}
	for {
		page, err := provider.GetUpdatedRecords(ctx, token, req)
		if err != nil {
			return nil, fmt.Errorf("get updated records (page %d): %w", result.pages+1, err)
		}
		result.pages++

		accepted, quarantined := c.acceptRecords(log, page.Records, seen)
		result.messages = append(result.messages, accepted...)
		result.quarantined += quarantined

		if page.NextDeltaToken != "" {
			result.deltaToken = page.NextDeltaToken
		}
		if page.NextPageToken == "" {
			return result, nil
		}
		if result.pages >= c.cfg.MaxPages {
			log.WithField("pages", result.pages).Warn("Page limit reached, drain truncated and cursor withheld")
			result.truncated = true
			result.deltaToken = ""
			return result, nil
		}
		req = emaildomain.UpdatedRecordsRequest{PageToken: page.NextPageToken}
	}
}

func (c *SyncClient) flagReconnection(ctx context.Context, account *accountdomain.Account) {
	account.NeedsReconnection = true
	if c.accounts == nil {
		return
	}
	if err := c.accounts.MarkNeedsReconnection(ctx, account.ID); err != nil {
		c.log.WithField("account_id", account.ID).WithError(err).Error("Failed to flag account for reconnection")
		return
	}
	c.log.WithField("account_id", account.ID).Warn("Provider rejected token, account needs reconnection")
}

// FetchEmailsByFolderOnePage fetches exactly one provider page of inbox or sent.
// The continuation token carries the page cursor and the folder strategy chosen
// on the first page.
func (c *SyncClient) FetchEmailsByFolderOnePage(ctx context.Context, account *accountdomain.Account, folder emaildomain.Folder, continuation string) (*FolderPageResult, error) {
	if !folder.Valid() {
		return nil, fmt.Errorf("%w: %q", emaildomain.ErrUnsupportedFolder, folder)
	}
	provider, err := c.providerFor(account)
	if err != nil {
		return nil, err
	}
	log := c.log.WithFields(logrus.Fields{"account_id": account.ID, "folder": folder})

	req := emaildomain.FolderPageRequest{
		Folder:   folder,
		Strategy: emaildomain.StrategyLabel,
		PageSize: c.cfg.FolderPageSize,
	}
	if continuation != "" {
		cur, err := decodeContinuation(continuation, folder)
		if err != nil {
			return nil, err
		}
		req.Strategy = cur.Strategy
		req.PageToken = cur.PageToken
	}

	page, err := provider.ListFolderPage(ctx, account.AccessToken, req)
	if err != nil {
		if emaildomain.IsAuthError(err) {
			c.flagReconnection(ctx, account)
			return nil, fmt.Errorf("list %s page: %w: %w", folder, emaildomain.ErrNeedsReconnection, err)
		}
		return nil, fmt.Errorf("list %s page: %w", folder, err)
	}

	if continuation == "" && folder == emaildomain.FolderSent && len(page.Records) == 0 && page.NextPageToken == "" {
		log.Debug("Label-based sent listing empty, retrying by classification")
		req.Strategy = emaildomain.StrategyClassification
		page, err = provider.ListFolderPage(ctx, account.AccessToken, req)
		if err != nil {
			return nil, fmt.Errorf("list %s page by classification: %w", folder, err)
		}
	}

	accepted, quarantined := c.acceptRecords(log, page.Records, make(map[string]bool))
	result := &FolderPageResult{
		Messages:    accepted,
		Strategy:    req.Strategy,
		Quarantined: quarantined,
	}
	if page.NextPageToken != "" {
		result.ContinuationToken, err = encodeContinuation(folderCursor{
			Folder:    folder,
			Strategy:  req.Strategy,
			PageToken: page.NextPageToken,
		})
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// acceptRecords validates records, dropping duplicates and quarantining invalid ones
func (c *SyncClient) acceptRecords(log *logrus.Entry, records []emaildomain.Message, seen map[string]bool) ([]emaildomain.Message, int) {
	accepted := make([]emaildomain.Message, 0, len(records))
	quarantined := 0
	for i := range records {
		msg := records[i]
		if err := msg.Validate(); err != nil {
			quarantined++
			log.WithError(err).WithField("email_id", msg.ID).Warn("Quarantined provider record")
			continue
		}
		if seen[msg.ID] {
			continue
		}
		seen[msg.ID] = true
		accepted = append(accepted, msg)
	}
	return accepted, quarantined
}

// isAuthFailure is used by callers that only hold a wrapped error
func isAuthFailure(err error) bool {
	return errors.Is(err, emaildomain.ErrNeedsReconnection) || emaildomain.IsAuthError(err)
}
