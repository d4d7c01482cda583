package documents

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// SweeperConfig configures the orphaned blob sweeper.
type SweeperConfig struct {
	BatchSize     int
	MaxConcurrent int
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		BatchSize:     100,
		MaxConcurrent: 4,
	}
}

// Sweeper deletes blobs whose owning transition never committed.
type Sweeper struct {
	repo    Repository
	storage *StorageProvider
	logger  *zap.Logger
	config  SweeperConfig
	now     func() time.Time
}

func NewSweeper(repo Repository, store *StorageProvider, logger *zap.Logger, config SweeperConfig) *Sweeper {
	def := DefaultSweeperConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = def.MaxConcurrent
	}
	return &Sweeper{
		repo:    repo,
		storage: store,
		logger:  logger,
		config:  config,
		now:     time.Now,
	}
}

// SweepOnce processes one batch of pending orphans and returns how many
// were removed. Failed deletions stay pending for the next run.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	orphans, err := s.repo.PendingOrphans(ctx, s.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	s.logger.Info("Sweeping orphaned blobs", zap.Int("count", len(orphans)))

	var (
		swept atomic.Int64
		wg    sync.WaitGroup
		sem   = make(chan struct{}, s.config.MaxConcurrent)
	)
	for i := range orphans {
		o := orphans[i]
		select {
		case <-ctx.Done():
			wg.Wait()
			return int(swept.Load()), ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if s.sweep(ctx, &o) {
				swept.Add(1)
			}
		}()
	}
	wg.Wait()

	return int(swept.Load()), nil
}

func (s *Sweeper) sweep(ctx context.Context, o *OrphanedBlob) bool {
	if !validKey(o.Key) {
		s.logger.Warn("Skipping orphan outside the document prefix", zap.String("key", o.Key))
		return false
	}
	if err := s.storage.Delete(ctx, o.Key); err != nil {
		s.logger.Warn("Failed to delete orphaned blob", zap.String("key", o.Key), zap.Error(err))
		return false
	}
	if err := s.repo.MarkOrphanSwept(ctx, o.ID, s.now()); err != nil {
		s.logger.Error("Failed to mark orphan swept", zap.String("id", o.ID.String()), zap.Error(err))
		return false
	}
	return true
}
