package bus

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/boertel/aoe2/pkg/common/logger"
	"github.com/boertel/aoe2/pkg/common/models"
)

// TaskHandler processes one delivered task envelope. Returning an error
// leaves the message uncommitted so the bus redelivers it; stages are
// idempotent, so duplicate delivery is safe.
type TaskHandler func(ctx context.Context, task models.Task) error

type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, stage string, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    Topic(stage),
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: reader}
}

func (c *Consumer) Consume(ctx context.Context, handler TaskHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			message, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Log.WithError(err).Error("Failed to fetch message")
				continue
			}

			var task models.Task
			if err := json.Unmarshal(message.Value, &task); err != nil {
				logger.Log.WithError(err).Error("Failed to unmarshal task")
				c.reader.CommitMessages(ctx, message)
				continue
			}

			if err := handler(ctx, task); err != nil {
				logger.Log.WithError(err).WithFields(map[string]interface{}{
					"task_id": task.ID,
					"stage":   task.Stage,
				}).Error("Failed to process task")
				// Don't commit on error, will retry
				continue
			}

			if err := c.reader.CommitMessages(ctx, message); err != nil {
				logger.Log.WithError(err).Error("Failed to commit message")
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
