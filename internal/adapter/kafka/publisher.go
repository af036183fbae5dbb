// Package kafka streams committed task events to downstream consumers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/heartmarshall/taskflow-backend/internal/config"
	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TaskEventMessage is the JSON value written for every terminal task event.
type TaskEventMessage struct {
	EventID            uuid.UUID            `json:"event_id"`
	EventType          domain.TaskEventType `json:"event_type"`
	TaskID             uuid.UUID            `json:"task_id"`
	WorkflowInstanceID uuid.UUID            `json:"workflow_instance_id"`
	TaskStatus         domain.TaskStatus    `json:"task_status"`
	BlockerType        domain.BlockerType   `json:"blocker_type"`
	BlockerKey         *string              `json:"blocker_key,omitempty"`
	Received           int                  `json:"received_cargo_count"`
	Failed             int                  `json:"failed_count"`
	Expected           int                  `json:"expected_cargo_count"`
	LastError          *string              `json:"last_error,omitempty"`
	Source             string               `json:"source"`
	OccurredAt         time.Time            `json:"occurred_at"`
}

// Publisher writes task events keyed by task ID so a task's events stay ordered.
type Publisher struct {
	writer messageWriter
	topic  string
	log    *slog.Logger
}

// NewPublisher creates a synchronous publisher for the configured events topic.
func NewPublisher(cfg config.KafkaConfig, logger *slog.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers()...),
		Topic:                  cfg.EventsTopic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(w, cfg.EventsTopic, logger)
}

func newPublisher(w messageWriter, topic string, logger *slog.Logger) *Publisher {
	return &Publisher{
		writer: w,
		topic:  topic,
		log:    logger.With("adapter", "kafka"),
	}
}

// PublishTaskEvent writes one event together with the task snapshot it produced.
func (p *Publisher) PublishTaskEvent(ctx context.Context, event domain.TaskEvent, task domain.PendingTask) error {
	value, err := json.Marshal(TaskEventMessage{
		EventID:            event.ID,
		EventType:          event.EventType,
		TaskID:             task.ID,
		WorkflowInstanceID: task.InstanceID,
		TaskStatus:         task.Status,
		BlockerType:        task.BlockerType,
		BlockerKey:         task.BlockerKey,
		Received:           task.ReceivedCargoCount,
		Failed:             task.FailedCount,
		Expected:           task.ExpectedCargoCount,
		LastError:          task.LastError,
		Source:             event.Source,
		OccurredAt:         event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("kafka: marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(task.ID.String()),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "workflow_instance_id", Value: []byte(task.InstanceID.String())},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.ErrorContext(ctx, "publish task event failed",
			slog.String("topic", p.topic),
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("kafka: write %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
