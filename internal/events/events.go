package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"badgeforge/internal/models"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// ===============================
// EVENT INTERFACE
// ===============================

// Event represents a domain event
type Event interface {
	GetEventID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetUserID() int64
}

// BaseEvent provides common event functionality
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	UserID    int64     `json:"user_id"`
}

// GetEventID returns the event ID
func (e *BaseEvent) GetEventID() string { return e.EventID }

// GetEventType returns the event type
func (e *BaseEvent) GetEventType() string { return e.EventType }

// GetTimestamp returns the event timestamp
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }

// GetUserID returns the user the event concerns
func (e *BaseEvent) GetUserID() int64 { return e.UserID }

// ===============================
// DOMAIN EVENTS
// ===============================

const (
	// TypeDareCompleted is published by the dare subsystem when a user
	// resolves a daily dare target.
	TypeDareCompleted = "dare.completed"
	// TypeBadgeEarned is published by the evaluation engine when an award
	// lands, for notification/dashboard collaborators.
	TypeBadgeEarned = "badge.earned"
)

// DareCompletedEvent carries one dare-target outcome into the engine.
type DareCompletedEvent struct {
	BaseEvent
	Completion models.CompletionEvent `json:"completion"`
}

// NewDareCompletedEvent creates a dare completed event
func NewDareCompletedEvent(completion models.CompletionEvent) *DareCompletedEvent {
	return &DareCompletedEvent{
		BaseEvent: BaseEvent{
			EventID:   GenerateEventID(),
			EventType: TypeDareCompleted,
			Timestamp: time.Now(),
			UserID:    completion.UserID,
		},
		Completion: completion,
	}
}

// BadgeEarnedEvent announces a newly awarded badge.
type BadgeEarnedEvent struct {
	BaseEvent
	BadgeSlug string    `json:"badge_slug"`
	EarnedAt  time.Time `json:"earned_at"`
}

// NewBadgeEarnedEvent creates a badge earned event
func NewBadgeEarnedEvent(userID int64, badgeSlug string, earnedAt time.Time) *BadgeEarnedEvent {
	return &BadgeEarnedEvent{
		BaseEvent: BaseEvent{
			EventID:   GenerateEventID(),
			EventType: TypeBadgeEarned,
			Timestamp: time.Now(),
			UserID:    userID,
		},
		BadgeSlug: badgeSlug,
		EarnedAt:  earnedAt,
	}
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	id, err := uuid.NewV4()
	if err != nil {
		// NewV4 only fails when the random source does; fall back to a
		// timestamp so publishing never fails on ID generation.
		return fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	return "evt_" + id.String()
}

// ===============================
// EVENT BUS
// ===============================

// EventHandler represents an event handler
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
	GetHandlerID() string
}

// EventHandlerFunc adapts a function into an EventHandler
type EventHandlerFunc struct {
	ID   string
	Func func(ctx context.Context, event Event) error
}

// Handle implements EventHandler
func (f EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return f.Func(ctx, event)
}

// GetHandlerID implements EventHandler
func (f EventHandlerFunc) GetHandlerID() string { return f.ID }

// NewEventHandlerFunc creates an EventHandler from a function
func NewEventHandlerFunc(id string, fn func(ctx context.Context, event Event) error) EventHandler {
	return EventHandlerFunc{ID: id, Func: fn}
}

// EventBus is an at-least-once, in-process delivery channel. An event is
// acknowledged (dequeued) only after every subscribed handler has returned
// or failed; handler errors are logged and do not poison the queue.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	PublishAsync(ctx context.Context, event Event) error
	Subscribe(eventType string, handler EventHandler) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() error
	Stats() *EventBusStats
}

// EventBusStats represents event bus statistics
type EventBusStats struct {
	EventsPublished int64         `json:"events_published"`
	EventsProcessed int64         `json:"events_processed"`
	EventsFailed    int64         `json:"events_failed"`
	HandlersCount   int           `json:"handlers_count"`
	QueueDepth      int           `json:"queue_depth"`
	Uptime          time.Duration `json:"uptime"`
}

// EventBusConfig holds configuration for the event bus
type EventBusConfig struct {
	BufferSize     int
	WorkerCount    int
	HandlerTimeout time.Duration
}

// DefaultEventBusConfig returns default configuration
func DefaultEventBusConfig() *EventBusConfig {
	return &EventBusConfig{
		BufferSize:     1000,
		WorkerCount:    5,
		HandlerTimeout: 30 * time.Second,
	}
}

// inMemoryEventBus implements EventBus with a buffered queue drained by a
// bounded worker pool.
type inMemoryEventBus struct {
	mu             sync.RWMutex
	handlers       map[string][]EventHandler
	eventQueue     chan eventMessage
	logger         *zap.Logger
	stats          *EventBusStats
	startTime      time.Time
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	bufferSize     int
	workerCount    int
	handlerTimeout time.Duration
}

// eventMessage wraps an event with its publish-time context
type eventMessage struct {
	ctx   context.Context
	event Event
}

// NewEventBus creates a new in-memory event bus
func NewEventBus(config *EventBusConfig, logger *zap.Logger) EventBus {
	if config == nil {
		config = DefaultEventBusConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &inMemoryEventBus{
		handlers:       make(map[string][]EventHandler),
		eventQueue:     make(chan eventMessage, config.BufferSize),
		logger:         logger,
		stats:          &EventBusStats{},
		startTime:      time.Now(),
		ctx:            ctx,
		cancel:         cancel,
		bufferSize:     config.BufferSize,
		workerCount:    config.WorkerCount,
		handlerTimeout: config.HandlerTimeout,
	}
}

// Publish delivers an event synchronously: it returns only after all
// handlers have completed, which makes it the choice where the caller's
// acknowledgement depends on processing.
func (b *inMemoryEventBus) Publish(ctx context.Context, event Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	b.logger.Debug("Publishing event",
		zap.String("event_id", event.GetEventID()),
		zap.String("event_type", event.GetEventType()),
	)

	if err := b.processEvent(ctx, event); err != nil {
		b.addFailed()
		return err
	}
	b.addPublished()
	b.addProcessed()
	return nil
}

// PublishAsync enqueues an event for the worker pool. Returns an error when
// the queue is full rather than blocking the publisher.
func (b *inMemoryEventBus) PublishAsync(ctx context.Context, event Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	select {
	case b.eventQueue <- eventMessage{ctx: ctx, event: event}:
		b.addPublished()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("event queue is full")
	}
}

// Subscribe registers a handler for an event type
func (b *inMemoryEventBus) Subscribe(eventType string, handler EventHandler) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.stats.HandlersCount++

	b.logger.Info("Handler subscribed",
		zap.String("event_type", eventType),
		zap.String("handler_id", handler.GetHandlerID()),
	)
	return nil
}

// Start launches the worker pool
func (b *inMemoryEventBus) Start(ctx context.Context) error {
	b.logger.Info("Starting event bus", zap.Int("worker_count", b.workerCount))
	for i := 0; i < b.workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}
	return nil
}

// Stop drains the workers, bounded by ctx
func (b *inMemoryEventBus) Stop(ctx context.Context) error {
	b.logger.Info("Stopping event bus")
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("Event bus stopped")
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus stop timeout")
		return ctx.Err()
	}
}

// Health reports whether the bus is running and the queue has headroom
func (b *inMemoryEventBus) Health() error {
	select {
	case <-b.ctx.Done():
		return fmt.Errorf("event bus is stopped")
	default:
	}

	depth := len(b.eventQueue)
	if depth > b.bufferSize*80/100 {
		return fmt.Errorf("event queue is %d%% full", depth*100/b.bufferSize)
	}
	return nil
}

// Stats returns a snapshot of bus statistics
func (b *inMemoryEventBus) Stats() *EventBusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := *b.stats
	stats.QueueDepth = len(b.eventQueue)
	stats.Uptime = time.Since(b.startTime)
	return &stats
}

// worker drains the queue. An event leaves the queue only after processEvent
// returns, so acknowledgement follows completion of all handlers.
func (b *inMemoryEventBus) worker(workerID int) {
	defer b.wg.Done()

	b.logger.Debug("Event bus worker started", zap.Int("worker_id", workerID))
	for {
		select {
		case msg := <-b.eventQueue:
			if err := b.processEvent(msg.ctx, msg.event); err != nil {
				b.logger.Error("Failed to process event",
					zap.Int("worker_id", workerID),
					zap.String("event_id", msg.event.GetEventID()),
					zap.String("event_type", msg.event.GetEventType()),
					zap.Error(err),
				)
				b.addFailed()
			} else {
				b.addProcessed()
			}
		case <-b.ctx.Done():
			b.logger.Debug("Event bus worker stopped", zap.Int("worker_id", workerID))
			return
		}
	}
}

// processEvent runs every handler registered for the event's type. All
// handlers are attempted even when earlier ones fail.
func (b *inMemoryEventBus) processEvent(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers[event.GetEventType()]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("No handlers for event",
			zap.String("event_type", event.GetEventType()),
			zap.String("event_id", event.GetEventID()),
		)
		return nil
	}

	var failed int
	for _, handler := range handlers {
		if err := b.executeHandler(ctx, handler, event); err != nil {
			b.logger.Error("Handler failed",
				zap.String("handler_id", handler.GetHandlerID()),
				zap.String("event_type", event.GetEventType()),
				zap.String("event_id", event.GetEventID()),
				zap.Error(err),
			)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("failed to execute %d out of %d handlers", failed, len(handlers))
	}
	return nil
}

// executeHandler runs a single handler with timeout and panic recovery
func (b *inMemoryEventBus) executeHandler(ctx context.Context, handler EventHandler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Handler panicked",
				zap.String("handler_id", handler.GetHandlerID()),
				zap.String("event_type", event.GetEventType()),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("handler %s panicked: %v", handler.GetHandlerID(), r)
		}
	}()

	handlerCtx, cancel := context.WithTimeout(ctx, b.handlerTimeout)
	defer cancel()

	return handler.Handle(handlerCtx, event)
}

// ===============================
// STATS HELPERS
// ===============================

func (b *inMemoryEventBus) addPublished() {
	b.mu.Lock()
	b.stats.EventsPublished++
	b.mu.Unlock()
}

func (b *inMemoryEventBus) addProcessed() {
	b.mu.Lock()
	b.stats.EventsProcessed++
	b.mu.Unlock()
}

func (b *inMemoryEventBus) addFailed() {
	b.mu.Lock()
	b.stats.EventsFailed++
	b.mu.Unlock()
}
