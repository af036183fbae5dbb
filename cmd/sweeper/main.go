// Command sweeper expires overdue tasks and lapsed document requirements,
// then retries workflow advances still owed for terminal tasks.
// It is intended to be invoked by an external cron job, not as an
// in-process goroutine.
//
// Exit codes: 0 = success, 1 = error.
package main

import (
	"context"
	"log"
	"log/slog"
	"time"

	"github.com/heartmarshall/taskflow-backend/internal/app"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	err := app.RunJob(ctx, "sweeper", func(ctx context.Context, j *app.JobEnv) error {
		report, err := j.Sweep(ctx)
		if err != nil {
			j.Log.Error("sweep failed",
				slog.String("error", err.Error()),
				slog.Int("tasks_expired", report.TasksExpired),
			)
			return err
		}
		j.Log.Info("sweep completed",
			slog.Int("tasks_expired", report.TasksExpired),
			slog.Int("tasks_skipped", report.TasksSkipped),
			slog.Int("requirements_expired", report.RequirementsExpired),
		)

		resumed, err := j.ResumePending(ctx)
		if err != nil {
			j.Log.Error("resume pending advances failed", slog.String("error", err.Error()))
			return err
		}
		j.Log.Info("pending advances retried",
			slog.Int("advanced", resumed.Advanced),
			slog.Int("failed", resumed.Failed),
		)
		return nil
	})
	if err != nil {
		log.Fatalf("sweeper: %v", err)
	}
}
