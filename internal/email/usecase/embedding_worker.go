package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	emaildomain "mailcore-backend/internal/email/domain"
	"mailcore-backend/internal/email/repository"
	"mailcore-backend/pkg/logger"

	"github.com/sirupsen/logrus"
)

// EmbeddingJob asks for a message's summary and embedding
type EmbeddingJob struct {
	AccountID string
	EmailID   string
}

// EmbeddingWorkerService generates summaries and embeddings in the background
type EmbeddingWorkerService struct {
	emails      repository.EmailRepository
	addresses   repository.AddressRepository
	pipeline    *EmbeddingPipeline
	mirror      VectorMirror
	jobQueue    chan EmbeddingJob
	workerWg    sync.WaitGroup
	workerCount int
	batchSize   int
	jobTimeout  time.Duration
	started     bool
	stopped     bool
	mu          sync.Mutex
	log         *logrus.Entry
}

// NewEmbeddingWorkerService creates the worker pool; mirror may be nil
func NewEmbeddingWorkerService(
	emails repository.EmailRepository,
	addresses repository.AddressRepository,
	pipeline *EmbeddingPipeline,
	mirror VectorMirror,
	workerCount, queueSize, batchSize int,
	log logrus.FieldLogger,
) *EmbeddingWorkerService {
	if workerCount <= 0 {
		workerCount = 3
	}
	if queueSize <= 0 {
		queueSize = 500
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &EmbeddingWorkerService{
		emails:      emails,
		addresses:   addresses,
		pipeline:    pipeline,
		mirror:      mirror,
		jobQueue:    make(chan EmbeddingJob, queueSize),
		workerCount: workerCount,
		batchSize:   batchSize,
		jobTimeout:  2 * time.Minute,
		log:         logger.Component(log, "embedding_worker"),
	}
}

// Start starts the workers
func (s *EmbeddingWorkerService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return
	}
	for i := 0; i < s.workerCount; i++ {
		s.workerWg.Add(1)
		go s.worker(i)
	}
	s.started = true
	s.log.WithField("workers", s.workerCount).Info("Embedding workers started")
}

// Stop drains the queue and waits for the workers
func (s *EmbeddingWorkerService) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.jobQueue)
	s.mu.Unlock()

	s.workerWg.Wait()
	s.log.Info("Embedding workers stopped")
}

func (s *EmbeddingWorkerService) worker(id int) {
	defer s.workerWg.Done()

	for job := range s.jobQueue {
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		if err := s.ProcessJob(ctx, job); err != nil {
			s.log.WithError(err).WithField("email_id", job.EmailID).Error("Embedding job failed")
		}
		cancel()
	}
	s.log.WithField("worker", id).Debug("Worker exited")
}

// Enqueue adds a job without blocking; false means the queue is full or stopped
func (s *EmbeddingWorkerService) Enqueue(job EmbeddingJob) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	select {
	case s.jobQueue <- job:
		return true
	default:
		return false
	}
}

// ProcessJob summarizes and embeds one message, writing both in one update
func (s *EmbeddingWorkerService) ProcessJob(ctx context.Context, job EmbeddingJob) error {
	email, err := s.emails.FindByID(ctx, job.EmailID)
	if err != nil {
		return fmt.Errorf("load email: %w", err)
	}
	if email == nil || email.Summary != nil {
		return nil
	}

	in := SummaryInput{
		Subject: email.Subject,
		Body:    email.Body,
		Date:    email.Date(),
	}
	if email.From != nil {
		in.Sender = senderLabel(email.From)
	}
	if len(email.ToIDs) > 0 {
		recipients, err := s.addresses.FindByIDs(ctx, email.ToIDs)
		if err != nil {
			s.log.WithError(err).WithField("email_id", email.ID).Warn("Failed to load recipients")
		}
		for i := range recipients {
			in.Recipients = append(in.Recipients, recipients[i].Address)
		}
	}

	summary, vec := s.pipeline.Process(ctx, in)
	if err := s.emails.SaveSummaryAndEmbedding(ctx, email.ID, summary, vec); err != nil {
		return fmt.Errorf("save summary and embedding: %w", err)
	}

	if s.mirror != nil && !vec.IsZero() {
		if err := s.mirror.Upsert(ctx, email, vec); err != nil {
			s.log.WithError(err).WithField("email_id", email.ID).Warn("Vector mirror upsert failed")
		}
	}
	s.log.WithField("email_id", email.ID).Debug("Stored summary and embedding")
	return nil
}

// Backfill queues up to one batch of messages that still lack a summary.
// An empty accountID spans all accounts.
func (s *EmbeddingWorkerService) Backfill(ctx context.Context, accountID string) (int, error) {
	emails, err := s.emails.ListMissingSummary(ctx, accountID, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list missing summaries: %w", err)
	}
	queued := 0
	for i := range emails {
		if s.Enqueue(EmbeddingJob{AccountID: emails[i].AccountID, EmailID: emails[i].ID}) {
			queued++
		}
	}
	if queued > 0 {
		s.log.WithFields(logrus.Fields{"account_id": accountID, "queued": queued}).Info("Backfill queued")
	}
	return queued, nil
}

func senderLabel(addr *emaildomain.EmailAddress) string {
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", addr.Name, addr.Address)
	}
	return addr.Address
}
