package broker

import (
	"context"
	"time"

	"invoice-service/internal/models"

	"github.com/google/uuid"
)

// EventPublisher publishes billing domain events
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
		Timestamp: time.Now().UTC(),
	}
}

// PublishOrderPaid publishes ORDER_PAID keyed by order
func (ep *EventPublisher) PublishOrderPaid(ctx context.Context, orderID, sourceEventID string, paidAt time.Time) error {
	event := &models.OrderPaidEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderPaid),
		OrderID:       orderID,
		SourceEventID: sourceEventID,
		PaidAt:        paidAt,
	}
	return ep.producer.PublishEvent(ctx, "order-"+orderID, event)
}

// PublishInvoiceIssued publishes INVOICE_ISSUED keyed by invoice number
func (ep *EventPublisher) PublishInvoiceIssued(ctx context.Context, event *models.InvoiceIssuedEvent) error {
	event.BaseEvent = newBaseEvent(models.EventTypeInvoiceIssued)
	return ep.producer.PublishEvent(ctx, "invoice-"+event.InvoiceNumber, event)
}
