// Command migrate applies the embedded goose migrations to DATABASE_DSN.
//
//	migrate [up|down|status|version]
//
// Exit codes: 0 = success, 1 = error, 2 = usage.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/heartmarshall/taskflow-backend/internal/app"
	"github.com/heartmarshall/taskflow-backend/internal/config"
	"github.com/heartmarshall/taskflow-backend/migrations"
)

func main() {
	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg.Log, "migrate")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// goose needs *sql.DB, so migrations go through the pgx stdlib driver.
	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		logger.Error("open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		logger.Error("goose provider", slog.String("error", err.Error()))
		os.Exit(1)
	}

	err = run(ctx, provider, command, logger)
	if errors.Is(err, errUsage) {
		fmt.Fprintf(os.Stderr, "unknown command %q; want up, down, status or version\n", command)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("migrate failed", slog.String("command", command), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func run(ctx context.Context, p *goose.Provider, command string, logger *slog.Logger) error {
	switch command {
	case "up":
		results, err := p.Up(ctx)
		for _, r := range results {
			logger.Info("applied", slog.String("migration", r.Source.Path), slog.Duration("duration", r.Duration))
		}
		return err
	case "down":
		r, err := p.Down(ctx)
		if r != nil {
			logger.Info("rolled back", slog.String("migration", r.Source.Path), slog.Duration("duration", r.Duration))
		}
		return err
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			fmt.Printf("%-8s %s\n", s.State, s.Source.Path)
		}
		return nil
	case "version":
		v, err := p.GetDBVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	default:
		return errUsage
	}
}
