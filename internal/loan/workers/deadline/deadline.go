// Package deadline runs the periodic sweep that expires stale votes, defaults
// overdue loans, and retries deferred disbursements.
package deadline

import (
	"context"
	"log/slog"
	"time"
)

type Sweeper interface {
	SweepDeadlines(ctx context.Context) error
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

type Worker struct {
	sweeper  Sweeper
	logger   *slog.Logger
	interval time.Duration
}

func New(sweeper Sweeper, opts ...Option) *Worker {
	w := &Worker{
		sweeper:  sweeper,
		logger:   slog.Default(),
		interval: time.Hour,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			err := w.RunOnce(ctx)
			duration := time.Since(start)

			if err != nil {
				w.logger.Error("loan_deadline_sweep_failed",
					"error", err,
					"duration_ms", duration.Milliseconds(),
				)
				continue
			}
			w.logger.Info("loan_deadline_sweep_completed",
				"duration_ms", duration.Milliseconds(),
			)

		case <-ctx.Done():
			w.logger.Info("loan deadline worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce executes a single sweep. Logging is handled by the caller (Start).
func (w *Worker) RunOnce(ctx context.Context) error {
	return w.sweeper.SweepDeadlines(ctx)
}
