package notify

import (
	"context"
	"errors"
)

type ExecutionPublisher interface {
	PublishExecution(ctx context.Context, event ExecutionEvent) error
}

// ExecutionFanOut hands every event to each publisher in turn. One failing
// publisher does not stop the others.
type ExecutionFanOut []ExecutionPublisher

func (f ExecutionFanOut) PublishExecution(ctx context.Context, event ExecutionEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishExecution(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
