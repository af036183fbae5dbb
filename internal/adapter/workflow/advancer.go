// Package workflow notifies the workflow engine that a blocked instance may resume.
package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HTTPAdvancer POSTs to the engine's advance endpoint. The URL template's
// "{id}" placeholder is replaced by the workflow instance ID.
type HTTPAdvancer struct {
	urlTemplate string
	httpClient  *http.Client
	retryDelay  time.Duration
	log         *slog.Logger
}

// NewHTTPAdvancer creates an advancer with the given request timeout.
func NewHTTPAdvancer(urlTemplate string, timeout time.Duration, logger *slog.Logger) *HTTPAdvancer {
	return &HTTPAdvancer{
		urlTemplate: urlTemplate,
		httpClient:  &http.Client{Timeout: timeout},
		retryDelay:  500 * time.Millisecond,
		log:         logger.With("adapter", "workflow"),
	}
}

// TryAdvance asks the engine to re-evaluate the instance. 2xx and 409 (already
// advanced) are success; 404 is an error the caller records.
func (a *HTTPAdvancer) TryAdvance(ctx context.Context, instanceID uuid.UUID) error {
	reqURL := strings.ReplaceAll(a.urlTemplate, "{id}", instanceID.String())

	resp, err := a.doWithRetry(ctx, reqURL, instanceID)
	if err != nil {
		return fmt.Errorf("workflow: advance %s: %w", instanceID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300, resp.StatusCode == http.StatusConflict:
		a.log.DebugContext(ctx, "workflow advanced",
			slog.String("instance_id", instanceID.String()),
			slog.Int("status", resp.StatusCode),
		)
		return nil
	default:
		return fmt.Errorf("workflow: advance %s: unexpected status %d", instanceID, resp.StatusCode)
	}
}

// doWithRetry executes the request with a single retry on 5xx or network errors.
func (a *HTTPAdvancer) doWithRetry(ctx context.Context, reqURL string, instanceID uuid.UUID) (*http.Response, error) {
	resp, err := a.do(ctx, reqURL)

	shouldRetry := err != nil || resp.StatusCode >= 500
	if !shouldRetry || ctx.Err() != nil {
		return resp, err
	}

	reason := "network error"
	if err == nil {
		reason = fmt.Sprintf("status %d", resp.StatusCode)
		resp.Body.Close()
	}
	a.log.WarnContext(ctx, "workflow advance retry",
		slog.String("instance_id", instanceID.String()),
		slog.String("reason", reason),
	)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(a.retryDelay):
	}

	return a.do(ctx, reqURL)
}

func (a *HTTPAdvancer) do(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return a.httpClient.Do(req)
}

// LogAdvancer only records the advance. It is used when no engine URL is configured.
type LogAdvancer struct {
	log *slog.Logger
}

// NewLogAdvancer creates a LogAdvancer.
func NewLogAdvancer(logger *slog.Logger) *LogAdvancer {
	return &LogAdvancer{log: logger.With("adapter", "workflow")}
}

// TryAdvance logs the instance ID and succeeds.
func (a *LogAdvancer) TryAdvance(ctx context.Context, instanceID uuid.UUID) error {
	a.log.InfoContext(ctx, "workflow advance (no engine configured)", slog.String("instance_id", instanceID.String()))
	return nil
}
