package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sales-sync/internal/models"
	"sales-sync/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes sync-domain events. Sync-run and order events
// share the sync topic; product events live on their own topic.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// PublishSyncCompleted publishes the run summary event. Errors here never
// fail the run itself; callers log and continue.
func (ep *EventPublisher) PublishSyncCompleted(ctx context.Context, event *models.SyncCompletedEvent) error {
	event.BaseEvent = newBaseEvent(models.EventTypeSyncCompleted)
	return ep.producer.PublishEvent(ctx, "sync-"+event.RunID, event)
}

// PublishOrderUpserted publishes one ledger write, keyed by order identity so
// updates to the same order stay ordered.
func (ep *EventPublisher) PublishOrderUpserted(ctx context.Context, event *models.OrderUpsertedEvent) error {
	event.BaseEvent = newBaseEvent(models.EventTypeOrderUpserted)
	key := fmt.Sprintf("order-%s-%s", event.SourceName, event.SourceOrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes consumed messages by event type.
type EventHandler struct {
	onProductUpdated func(context.Context, *models.ProductUpdatedEvent) error
	logger           *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.NamedLogger("broker.handler")}
}

// OnProductUpdated registers a handler for product.updated events
func (eh *EventHandler) OnProductUpdated(handler func(context.Context, *models.ProductUpdatedEvent) error) {
	eh.onProductUpdated = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeProductUpdated:
		if eh.onProductUpdated != nil {
			var event models.ProductUpdatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ProductUpdated event: %w", err)
			}
			return eh.onProductUpdated(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
