package store

import (
	"context"
	"log/slog"
	"time"
)

// StartRetentionWorker runs a background goroutine that periodically purges
// audit records older than retention until ctx is canceled.
func StartRetentionWorker(ctx context.Context, repo Repository, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("audit retention worker started", "interval", interval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				purgeExpired(ctx, repo, retention)
			case <-ctx.Done():
				slog.Info("audit retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func purgeExpired(ctx context.Context, repo Repository, retention time.Duration) {
	deleted, err := repo.PurgeBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("audit retention worker failed to purge records", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("audit retention worker purged records", "count", deleted)
	}
}
