// Package workers contains background jobs of the server.
package workers

import (
	"context"
	"time"

	"github.com/dmitrijs2005/leadcrm/internal/logging"
	"github.com/dmitrijs2005/leadcrm/internal/server/metrics"
)

type TokenCleaner interface {
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// CleanupWorker purges expired and revoked refresh tokens periodically.
// Several replicas may run it at once; the delete is idempotent.
type CleanupWorker struct {
	cleaner  TokenCleaner
	interval time.Duration
	logger   logging.Logger
	metrics  *metrics.Metrics
}

func NewCleanupWorker(cleaner TokenCleaner, interval time.Duration, logger logging.Logger, m *metrics.Metrics) *CleanupWorker {
	return &CleanupWorker{
		cleaner:  cleaner,
		interval: interval,
		logger:   logger.With("module", "token_cleanup"),
		metrics:  m,
	}
}

// Run cleans up once immediately and then every interval until ctx is done.
func (w *CleanupWorker) Run(ctx context.Context) {
	w.RunOnce(ctx)

	if w.interval <= 0 {
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "token cleanup stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single cleanup. Failures are logged and otherwise ignored.
func (w *CleanupWorker) RunOnce(ctx context.Context) int64 {
	n, err := w.cleaner.CleanupExpiredTokens(ctx)
	if w.metrics != nil {
		w.metrics.Cleanup(n, err)
	}
	if err != nil {
		w.logger.Error(ctx, "token cleanup failed", "err", err)
		return 0
	}
	w.logger.Info(ctx, "expired refresh tokens removed", "count", n)
	return n
}
