// Package redis publishes queue wakeups over Redis pub/sub so idle consumers
// claim new results without waiting for the next poll tick.
package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/heartmarshall/taskflow-backend/internal/config"
)

// Notifier publishes and receives "result enqueued" signals.
// Messages carry the task ID for logging only; receivers treat every message as a bare wakeup.
type Notifier struct {
	client  *goredis.Client
	channel string
	log     *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*Notifier, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(client, cfg.Channel, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, channel string, logger *slog.Logger) *Notifier {
	return &Notifier{
		client:  client,
		channel: channel,
		log:     logger.With("adapter", "redis"),
	}
}

// Notify announces that a result row for taskID was enqueued.
func (n *Notifier) Notify(ctx context.Context, taskID uuid.UUID) error {
	if err := n.client.Publish(ctx, n.channel, taskID.String()).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe returns a channel that receives a value whenever a result is enqueued.
// Bursts collapse into a single pending wakeup. The channel is closed when ctx is
// cancelled or the subscription fails.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	ps := n.client.Subscribe(ctx, n.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", n.channel, err)
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					n.log.WarnContext(ctx, "redis subscription closed")
					return
				}
				n.log.DebugContext(ctx, "queue wakeup", slog.String("task_id", msg.Payload))
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}
	}()

	return wake, nil
}

// Health pings the server.
func (n *Notifier) Health(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (n *Notifier) Close() error {
	return n.client.Close()
}
