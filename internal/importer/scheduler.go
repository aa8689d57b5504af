package importer

// scheduler.go sweeps uploads that were never committed.
//
// Commit already runs GC after each import; the scheduler covers servers
// where nobody commits for a while. Failures are logged and retried on
// the next tick.

import (
	"context"
	"log/slog"
	"time"
)

// StartGCScheduler runs GC immediately and then every interval until ctx
// is cancelled. It blocks, so call it in its own goroutine.
func (s *Service) StartGCScheduler(ctx context.Context, interval time.Duration) {
	slog.Info("import gc scheduler started",
		"interval", interval,
		"retention", s.opts.Retention,
	)

	s.runGC(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("import gc scheduler stopped")
			return
		case <-ticker.C:
			s.runGC(ctx)
		}
	}
}

func (s *Service) runGC(ctx context.Context) {
	start := time.Now()
	n, err := s.GC(ctx)
	if err != nil {
		slog.Error("import gc failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("removed expired imports",
			"count", n,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
