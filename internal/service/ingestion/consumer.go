package ingestion

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const statsInterval = 15 * time.Second

// Run drives Workers goroutines that drain the queue until ctx is cancelled.
// Idle workers sleep for PollInterval; a receive on wake cuts the sleep
// short. wake may be nil. Run keeps no state between rows, so a killed
// consumer loses nothing: its open transactions roll back and release their
// row locks.
func (s *Service) Run(ctx context.Context, wake <-chan struct{}) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := range s.cfg.Workers {
		g.Go(func() error {
			s.work(ctx, i, wake)
			return nil
		})
	}

	if s.metrics != nil {
		g.Go(func() error {
			s.reportStats(ctx)
			return nil
		})
	}

	s.log.InfoContext(ctx, "consumer started",
		slog.Int("workers", s.cfg.Workers),
		slog.Duration("poll_interval", s.cfg.PollInterval),
		slog.Int("max_retries", s.cfg.MaxRetries),
	)
	err := g.Wait()
	s.log.Info("consumer stopped")
	return err
}

func (s *Service) work(ctx context.Context, id int, wake <-chan struct{}) {
	log := s.log.With(slog.Int("worker", id))
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-wake:
		}

		// Drain until empty, then go back to sleep.
		for ctx.Err() == nil {
			processed, err := s.ProcessNext(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.ErrorContext(ctx, "process next failed", slog.String("error", err.Error()))
				}
				break
			}
			if !processed {
				break
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.cfg.PollInterval)
	}
}

func (s *Service) reportStats(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		stats, err := s.Stats(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WarnContext(ctx, "queue stats failed", slog.String("error", err.Error()))
		} else {
			s.metrics.QueueStats(stats)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
