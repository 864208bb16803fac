package pipeline

import (
	"context"
)

// LocalDispatcher invokes the stage function in-process. Used by the CLI for
// synchronous and backfill runs.
type LocalDispatcher struct {
	stages *Stages
}

func NewLocalDispatcher(stages *Stages) *LocalDispatcher {
	return &LocalDispatcher{stages: stages}
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, stage string, attributes map[string]string) error {
	return d.stages.Invoke(ctx, stage, attributes)
}

// TaskPublisher publishes a stage task envelope on the bus.
type TaskPublisher interface {
	PublishTask(ctx context.Context, stage string, attributes map[string]string) error
}

// BusDispatcher hands the invocation to the bus; a subscriber unwraps the
// envelope and calls Invoke with the same attributes.
type BusDispatcher struct {
	publisher TaskPublisher
}

func NewBusDispatcher(publisher TaskPublisher) *BusDispatcher {
	return &BusDispatcher{publisher: publisher}
}

func (d *BusDispatcher) Dispatch(ctx context.Context, stage string, attributes map[string]string) error {
	return d.publisher.PublishTask(ctx, stage, attributes)
}
