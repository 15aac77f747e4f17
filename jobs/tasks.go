package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGrantsCleanup is the task type for sweeping expired resource
	// access grants.
	TaskGrantsCleanup = "access:grants:cleanup"
)

// GrantSweeper removes expired grants and reports how many were dropped.
type GrantSweeper interface {
	CleanupExpiredGrants(ctx context.Context) (int64, error)
}

// NewGrantsCleanupTask constructs the sweep task. It carries no payload.
func NewGrantsCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskGrantsCleanup, nil)
}

// NewGrantsCleanupHandler builds the Asynq handler for TaskGrantsCleanup.
// Lazy expiry in the read paths keeps correctness independent of this sweep;
// it only reclaims storage.
func NewGrantsCleanupHandler(sweeper GrantSweeper, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		count, err := sweeper.CleanupExpiredGrants(ctx)
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("grant cleanup sweep finished",
				slog.String("task", TaskGrantsCleanup), slog.Int64("removed", count))
		}
		return nil
	}
}
