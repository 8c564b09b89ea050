package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	emaildomain "mailcore-backend/internal/email/domain"
	"mailcore-backend/internal/email/repository"
	"mailcore-backend/pkg/logger"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency is how many message upserts run at once
const DefaultBatchConcurrency = 5

// attachment row ids are derived from the message id and the provider's attachment key
var attachmentNamespace = uuid.MustParse("6f1c1a52-3f6a-4d2e-9a57-0c1d2b3e4f50")

// BatchResult counts a batch's per-message outcomes
type BatchResult struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ReconcileReport summarizes a full thread-status recalculation
type ReconcileReport struct {
	Threads int                     `json:"threads"`
	Updated int                     `json:"updated"`
	Failed  int                     `json:"failed"`
	Counts  repository.FolderCounts `json:"counts"`
	Anomaly bool                    `json:"anomaly"`
}

// Persistence writes normalized messages and keeps thread folder flags consistent
type Persistence struct {
	registry    *AddressRegistry
	emails      repository.EmailRepository
	threads     repository.ThreadRepository
	embeddings  EmbeddingUsecase
	concurrency int
	log         *logrus.Entry
}

// NewPersistence creates the persistence layer. embeddings may be nil.
func NewPersistence(
	registry *AddressRegistry,
	emails repository.EmailRepository,
	threads repository.ThreadRepository,
	embeddings EmbeddingUsecase,
	concurrency int,
	log logrus.FieldLogger,
) *Persistence {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	return &Persistence{
		registry:    registry,
		emails:      emails,
		threads:     threads,
		embeddings:  embeddings,
		concurrency: concurrency,
		log:         logger.Component(log, "persistence"),
	}
}

// UpsertEmail stores one message and recomputes its thread's folder flags
func (p *Persistence) UpsertEmail(ctx context.Context, msg *emaildomain.Message, accountID string) (*emaildomain.Email, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	// 1. addresses first
	resolved, err := p.registry.ResolveMessage(ctx, accountID, msg)
	if err != nil {
		return nil, fmt.Errorf("resolve addresses: %w", err)
	}

	// 2. folder bucket
	label, labels := emaildomain.DeriveEmailLabel(msg.SysLabels)

	// 3. thread, seeded with this message's flags only when new
	seed := emaildomain.StatusForLabel(label)
	thread := &emaildomain.Thread{
		ID:              msg.ThreadID,
		AccountID:       accountID,
		Subject:         msg.Subject,
		LastMessageDate: msg.Date(),
		ParticipantIDs:  pq.StringArray(resolved.Participants),
		DraftStatus:     seed.Draft,
		InboxStatus:     seed.Inbox,
		SentStatus:      seed.Sent,
	}
	if err := p.threads.Upsert(ctx, thread); err != nil {
		return nil, fmt.Errorf("upsert thread %s: %w", msg.ThreadID, err)
	}

	// 4. the message itself
	email := &emaildomain.Email{
		ID:                 msg.ID,
		ThreadID:           msg.ThreadID,
		AccountID:          accountID,
		InternetMessageID:  msg.InternetMessageID,
		Subject:            msg.Subject,
		FromID:             resolved.FromID,
		ToIDs:              pq.StringArray(resolved.ToIDs),
		CcIDs:              pq.StringArray(resolved.CcIDs),
		BccIDs:             pq.StringArray(resolved.BccIDs),
		ReplyToIDs:         pq.StringArray(resolved.ReplyToIDs),
		SysLabels:          pq.StringArray(labels),
		SysClassifications: pq.StringArray(normalizeSet(msg.SysClassifications)),
		Keywords:           pq.StringArray(normalizeSet(msg.Keywords)),
		EmailLabel:         label,
		SentAt:             msg.SentAt,
		ReceivedAt:         msg.ReceivedAt,
		InReplyTo:          msg.InReplyTo,
		References:         msg.References,
		HasAttachments:     msg.HasAttachments || len(msg.Attachments) > 0,
		Body:               msg.Body,
		BodySnippet:        msg.BodySnippet,
	}
	if err := p.emails.Upsert(ctx, email); err != nil {
		return nil, fmt.Errorf("upsert email %s: %w", msg.ID, err)
	}

	// 5. recompute flags from every message in the thread
	if _, err := p.recomputeThread(ctx, msg.ThreadID); err != nil {
		return nil, err
	}

	// 6. attachment metadata
	if len(msg.Attachments) > 0 {
		if err := p.emails.UpsertAttachments(ctx, attachmentRows(msg)); err != nil {
			return nil, fmt.Errorf("upsert attachments for %s: %w", msg.ID, err)
		}
	}

	if p.embeddings != nil && !p.embeddings.Enqueue(EmbeddingJob{AccountID: accountID, EmailID: email.ID}) {
		p.log.WithField("email_id", email.ID).Debug("Embedding queue full, left for backfill")
	}
	return email, nil
}

func (p *Persistence) recomputeThread(ctx context.Context, threadID string) (emaildomain.ThreadStatus, error) {
	sets, err := p.emails.ListThreadLabelSets(ctx, threadID)
	if err != nil {
		return emaildomain.ThreadStatus{}, fmt.Errorf("list thread %s labels: %w", threadID, err)
	}
	status := emaildomain.ComputeThreadStatus(sets)
	if err := p.threads.UpdateStatus(ctx, threadID, status); err != nil {
		return status, fmt.Errorf("update thread %s status: %w", threadID, err)
	}
	return status, nil
}

// PersistBatch upserts messages in fixed-size concurrent groups.
// A failing message is logged and counted; it never stops the batch.
func (p *Persistence) PersistBatch(ctx context.Context, accountID string, messages []emaildomain.Message) BatchResult {
	var succeeded, failed atomic.Int64
	log := p.log.WithField("account_id", accountID)

	for start := 0; start < len(messages); start += p.concurrency {
		if ctx.Err() != nil {
			failed.Add(int64(len(messages) - start))
			log.WithError(ctx.Err()).Warn("Batch cancelled")
			break
		}
		end := start + p.concurrency
		if end > len(messages) {
			end = len(messages)
		}

		// messages of one thread share a goroutine so their flag recomputes never interleave
		var g errgroup.Group
		for _, group := range groupByThread(messages[start:end]) {
			g.Go(func() error {
				for _, msg := range group {
					if _, err := p.UpsertEmail(ctx, msg, accountID); err != nil {
						failed.Add(1)
						log.WithError(err).WithFields(logrus.Fields{
							"email_id":  msg.ID,
							"thread_id": msg.ThreadID,
						}).Error("Failed to persist message")
						continue
					}
					succeeded.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	result := BatchResult{Succeeded: int(succeeded.Load()), Failed: int(failed.Load())}
	log.WithFields(logrus.Fields{"succeeded": result.Succeeded, "failed": result.Failed}).Info("Batch persisted")
	return result
}

// RecalculateAllThreadStatuses re-derives folder flags for every thread of the account
func (p *Persistence) RecalculateAllThreadStatuses(ctx context.Context, accountID string) (*ReconcileReport, error) {
	log := p.log.WithField("account_id", accountID)

	ids, err := p.threads.ListIDsByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}

	report := &ReconcileReport{Threads: len(ids)}
	var computed repository.FolderCounts
	for _, id := range ids {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		status, err := p.recomputeThread(ctx, id)
		if err != nil {
			report.Failed++
			log.WithError(err).WithField("thread_id", id).Error("Failed to recalculate thread status")
			continue
		}
		report.Updated++
		computed.Total++
		switch {
		case status.Draft:
			computed.Draft++
		case status.Sent:
			computed.Sent++
		case status.Inbox:
			computed.Inbox++
		default:
			computed.None++
		}
	}
	log.WithFields(logrus.Fields{
		"threads": computed.Total,
		"draft":   computed.Draft,
		"sent":    computed.Sent,
		"inbox":   computed.Inbox,
		"none":    computed.None,
	}).Info("Recalculated thread statuses")

	verified, err := p.threads.CountByStatus(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("verify thread counts: %w", err)
	}
	report.Counts = *verified
	if verified.Total > 0 && verified.Inbox == 0 {
		report.Anomaly = true
		log.WithFields(logrus.Fields{
			"threads": verified.Total,
			"draft":   verified.Draft,
			"sent":    verified.Sent,
		}).Error("CRITICAL: no inbox threads after recalculation")
	}
	return report, nil
}

// groupByThread buckets messages by thread id, keeping input order within and across buckets
func groupByThread(messages []emaildomain.Message) [][]*emaildomain.Message {
	index := make(map[string]int)
	var groups [][]*emaildomain.Message
	for i := range messages {
		msg := &messages[i]
		n, ok := index[msg.ThreadID]
		if !ok {
			n = len(groups)
			index[msg.ThreadID] = n
			groups = append(groups, nil)
		}
		groups[n] = append(groups[n], msg)
	}
	return groups
}

func normalizeSet(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func attachmentRows(msg *emaildomain.Message) []emaildomain.Attachment {
	rows := make([]emaildomain.Attachment, 0, len(msg.Attachments))
	for i, a := range msg.Attachments {
		key := a.ID
		if key == "" {
			key = fmt.Sprintf("%d/%s", i, a.Name)
		}
		rows = append(rows, emaildomain.Attachment{
			ID:        uuid.NewSHA1(attachmentNamespace, []byte(msg.ID+"/"+key)).String(),
			EmailID:   msg.ID,
			Name:      a.Name,
			MimeType:  a.MimeType,
			Size:      a.Size,
			Inline:    a.Inline,
			ContentID: a.ContentID,
		})
	}
	return rows
}
