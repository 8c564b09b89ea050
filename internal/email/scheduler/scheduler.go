package scheduler

import (
	"context"
	"sync"
	"time"

	"mailcore-backend/pkg/logger"

	"github.com/sirupsen/logrus"
)

// AccountSyncer syncs every connected account
type AccountSyncer interface {
	SyncAllAccounts(ctx context.Context)
}

// Backfiller queues embeddings for messages that have none
type Backfiller interface {
	Backfill(ctx context.Context, accountID string) (int, error)
}

// SyncScheduler periodically syncs all connected accounts and then kicks an
// embedding backfill. Accounts flagged for reconnection and accounts already
// syncing are skipped by the sync service itself.
type SyncScheduler struct {
	syncer     AccountSyncer
	backfiller Backfiller
	interval   time.Duration
	stopChan   chan struct{}
	done       chan struct{}
	cancel     context.CancelFunc
	stopOnce   sync.Once
	log        *logrus.Entry
}

// NewSyncScheduler creates a new scheduler. backfiller may be nil.
func NewSyncScheduler(syncer AccountSyncer, backfiller Backfiller, interval time.Duration, log logrus.FieldLogger) *SyncScheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SyncScheduler{
		syncer:     syncer,
		backfiller: backfiller,
		interval:   interval,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
		log:        logger.Component(log, "sync_scheduler"),
	}
}

// Start begins the scheduler loop
func (s *SyncScheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.log.WithField("interval", s.interval.String()).Info("Starting sync scheduler")

	go func() {
		defer close(s.done)

		// Run immediately on start
		s.tick(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.tick(ctx)
			case <-s.stopChan:
				s.log.Info("Sync scheduler stopped")
				return
			}
		}
	}()
}

// Stop cancels an in-flight round and waits for the loop to exit
func (s *SyncScheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.cancel == nil {
			close(s.done)
			return
		}
		s.cancel()
	})
	<-s.done
}

func (s *SyncScheduler) tick(ctx context.Context) {
	started := time.Now()
	s.syncer.SyncAllAccounts(ctx)
	if ctx.Err() != nil {
		return
	}

	if s.backfiller != nil {
		queued, err := s.backfiller.Backfill(ctx, "")
		if err != nil {
			s.log.WithError(err).Error("Embedding backfill failed")
		} else if queued > 0 {
			s.log.WithField("queued", queued).Info("Queued embedding backfill")
		}
	}
	s.log.WithField("duration", time.Since(started).String()).Debug("Scheduled sync round done")
}
