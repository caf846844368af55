package services

import (
	"context"
	"errors"
	"fmt"

	"badgeforge/internal/events"
	"badgeforge/internal/models"

	"go.uber.org/zap"
)

// RegisterCompletionHandler subscribes the badge service to dare.completed
// events on the bus. The handler returns only after every template for the
// event has been attempted, which is what lets the bus acknowledge delivery.
func RegisterCompletionHandler(bus events.EventBus, service *BadgeService, logger *zap.Logger) error {
	handler := events.NewEventHandlerFunc("badge-evaluation", func(ctx context.Context, event events.Event) error {
		completed, ok := event.(*events.DareCompletedEvent)
		if !ok {
			return fmt.Errorf("unexpected event payload %T for %s", event, events.TypeDareCompleted)
		}

		result, err := service.OnCompletionEvent(ctx, &completed.Completion)
		if err != nil {
			var se *ServiceError
			if errors.As(err, &se) && se.Type == "VALIDATION_ERROR" {
				// Malformed events are dropped, not redelivered: returning
				// an error here would only inflate failure counts for an
				// event that can never succeed.
				return nil
			}
			return err
		}

		// Individual template failures are already isolated and logged by
		// the dispatcher; the event itself counts as processed.
		for _, failure := range result.Failures {
			logger.Warn("Template evaluation skipped",
				zap.Int64("user_id", result.UserID),
				zap.String("slug", failure.Slug),
				zap.Error(failure.Err),
			)
		}
		return nil
	})

	return bus.Subscribe(events.TypeDareCompleted, handler)
}

// PublishCompletion wraps a completion outcome as a dare.completed event and
// enqueues it. Exposed for the dare subsystem boundary and for tooling.
func PublishCompletion(ctx context.Context, bus events.EventBus, completion models.CompletionEvent) error {
	return bus.PublishAsync(ctx, events.NewDareCompletedEvent(completion))
}
