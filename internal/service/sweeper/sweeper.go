package sweeper

import (
	"context"
	"time"

	"github.com/nkiryanov/chatauth/internal/logger"
	"github.com/nkiryanov/chatauth/internal/repository"
)

const (
	defaultInterval  = 10 * time.Minute // Interval between sweeps
	defaultBatchSize = 1000             // Rows removed by one statement
)

type Config struct {
	Interval  time.Duration
	BatchSize int

	// Clock, time.Now if nil
	Now func() time.Time
}

// Sweeper periodically removes expired refresh tokens of users that stopped writing to their family
type Sweeper struct {
	interval  time.Duration
	batchSize int
	now       func() time.Time

	pruner repository.ExpiredTokenPruner
	logger logger.Logger
}

func New(cfg Config, pruner repository.ExpiredTokenPruner, logger logger.Logger) *Sweeper {
	s := &Sweeper{
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		now:       cfg.Now,
		pruner:    pruner,
		logger:    logger,
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run sweeps on every tick until ctx is done. Returned channel is closed when sweeper stopped
func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting sweeper", "interval", s.interval, "batch_size", s.batchSize)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Sweeper stopped by context")
				return

			case <-ticker.C:
				removed, err := s.Sweep(ctx)
				if err != nil {
					s.logger.Error("Failed to remove expired refresh tokens", "error", err, "removed", removed)
					continue
				}
				if removed > 0 {
					s.logger.Info("Expired refresh tokens removed", "removed", removed)
				}
			}
		}
	}()

	return idleStopped
}

// Sweep removes expired tokens batch by batch until a batch comes out short
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	var total int64
	now := s.now()

	for {
		n, err := s.pruner.DeleteExpired(ctx, now, s.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(s.batchSize) {
			return total, nil
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}
