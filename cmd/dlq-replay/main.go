// Command dlq-replay moves dead-lettered results back into the queue.
//
//	dlq-replay -id <uuid>[,<uuid>...]
//	dlq-replay -all [-reason max_retries_exceeded]
//
// Exit codes: 0 = success, 1 = error, 2 = usage.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/app"
	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

func main() {
	idsFlag := flag.String("id", "", "comma-separated dead letter IDs")
	all := flag.Bool("all", false, "replay every dead letter")
	reasonFlag := flag.String("reason", "", "with -all, only replay entries with this reason")
	flag.Parse()

	ids, err := parseIDs(*idsFlag)
	if err != nil || (len(ids) == 0) == !*all {
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		fmt.Fprintln(os.Stderr, "usage: dlq-replay -id <uuid>[,<uuid>...] | -all [-reason <reason>]")
		os.Exit(2)
	}

	var reason *domain.DeadLetterReason
	if *reasonFlag != "" {
		r := domain.DeadLetterReason(*reasonFlag)
		switch r {
		case domain.DeadLetterMaxRetries, domain.DeadLetterInvalidPayload, domain.DeadLetterUnknownTask:
		default:
			fmt.Fprintf(os.Stderr, "unknown reason %q\n", *reasonFlag)
			os.Exit(2)
		}
		reason = &r
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	err = app.RunJob(ctx, "dlq-replay", func(ctx context.Context, j *app.JobEnv) error {
		if *all {
			replayed, failed, err := j.ReplayAll(ctx, reason)
			j.Log.Info("replay finished", slog.Int("replayed", replayed), slog.Int("failed", failed))
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d dead letters not replayed", failed)
			}
			return nil
		}
		replayed, err := j.ReplayDeadLetters(ctx, ids)
		j.Log.Info("replay finished", slog.Int("replayed", replayed), slog.Int("requested", len(ids)))
		return err
	})
	if err != nil {
		log.Fatalf("dlq-replay: %v", err)
	}
}

func parseIDs(raw string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
