package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate performs business-rule validation on the loaded configuration.
// It must be called after loading; Load calls it automatically.
func (c *Config) Validate() error {
	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters (got %d)", len(c.Auth.JWTSecret))
	}

	if err := c.Queue.validate(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}

	if c.Server.WebhookRateLimit < 0 {
		return fmt.Errorf("server: webhook_rate_limit must be >= 0 (got %d)", c.Server.WebhookRateLimit)
	}

	if c.Sweep.BatchSize <= 0 {
		return fmt.Errorf("sweep: batch_size must be > 0 (got %d)", c.Sweep.BatchSize)
	}

	if err := c.Workflow.validate(); err != nil {
		return fmt.Errorf("workflow: %w", err)
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log: format must be json or text (got %q)", c.Log.Format)
	}

	return nil
}

func (q *QueueConfig) validate() error {
	if q.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be >= 1 (got %d)", q.MaxRetries)
	}
	if q.Workers < 1 {
		return fmt.Errorf("workers must be >= 1 (got %d)", q.Workers)
	}
	if q.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0 (got %v)", q.PollInterval)
	}
	if q.RetryAfter < 0 {
		return fmt.Errorf("retry_after must be >= 0 (got %v)", q.RetryAfter)
	}
	return nil
}

func (w *WorkflowConfig) validate() error {
	if w.AdvanceURL != "" {
		u, err := url.Parse(w.AdvanceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("advance_url must be an absolute http(s) URL (got %q)", w.AdvanceURL)
		}
	}
	if w.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1 (got %d)", w.MaxAttempts)
	}
	if w.RetryBatch < 1 {
		return fmt.Errorf("retry_batch must be >= 1 (got %d)", w.RetryBatch)
	}
	if w.RetryInterval <= 0 {
		return fmt.Errorf("retry_interval must be > 0 (got %v)", w.RetryInterval)
	}
	if w.RetryAfter < 0 {
		return fmt.Errorf("retry_after must be >= 0 (got %v)", w.RetryAfter)
	}
	return nil
}
