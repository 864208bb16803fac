package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/boertel/aoe2/pkg/common/logger"
	"github.com/boertel/aoe2/pkg/common/models"
)

// Topic returns the bus topic carrying tasks for the given stage.
func Topic(stage string) string {
	return "aoe2-" + stage
}

// Publisher writes stage task envelopes to the bus. One Publisher serves all
// stage topics; it is constructed once per process and injected into callers.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Publisher{writer: writer}
}

// PublishTask wraps (stage, attributes) into a task envelope and publishes it
// on the stage's topic. The subscriber side reconstructs the stage arguments
// from the attributes.
func (p *Publisher) PublishTask(ctx context.Context, stage string, attributes map[string]string) error {
	task := models.Task{
		ID:         uuid.New().String(),
		Stage:      stage,
		Attributes: attributes,
		Timestamp:  time.Now().UTC(),
	}

	taskBytes, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	message := kafka.Message{
		Topic: Topic(stage),
		Key:   []byte(task.ID),
		Value: taskBytes,
		Headers: []kafka.Header{
			{Key: "stage", Value: []byte(stage)},
		},
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"task_id": task.ID,
			"stage":   stage,
		}).Error("Failed to publish task")
		return err
	}

	logger.Log.WithFields(map[string]interface{}{
		"task_id":    task.ID,
		"stage":      stage,
		"attributes": attributes,
	}).Info("Task published")

	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
