package app

import (
	"fmt"
	"log/slog"
)

// Version, Commit, and BuildTime are set via ldflags at build time.
// Example: go build -ldflags "-X github.com/heartmarshall/taskflow-backend/internal/app.Version=1.0.0"
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// BuildVersion returns a formatted version string for the health endpoint.
func BuildVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildTime)
}

func versionAttrs() []any {
	return []any{
		slog.String("version", Version),
		slog.String("commit", Commit),
		slog.String("built", BuildTime),
	}
}
