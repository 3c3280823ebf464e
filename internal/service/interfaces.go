package service

import (
	"context"
	"time"

	"invoice-service/internal/models"
)

// EventStore is the event ledger table.
type EventStore interface {
	RecordEvent(ctx context.Context, eventID, eventType string, payload []byte) (bool, error)
}

// OrderStore is the order ledger plus the read-only contract state.
type OrderStore interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	MarkOrderPaid(ctx context.Context, id string, paidAt time.Time) (bool, error)
	UpsertPaymentReconciliation(ctx context.Context, rec *models.PaymentReconciliation) error
	GetCustomerProfile(ctx context.Context, email string) (*models.CustomerProfile, error)
}

// PaymentLookup reads payment references and checkout sessions from the
// processor.
type PaymentLookup interface {
	PaymentIntentMetadata(ctx context.Context, paymentIntentID string) (map[string]string, error)
	SessionLineItems(ctx context.Context, sessionID string) ([]models.ProcessorLineItem, error)
}

// DeliveryGuard suppresses duplicate emails for one document version.
type DeliveryGuard interface {
	ClaimDelivery(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseDelivery(ctx context.Context, key string) error
}

// EventPublisher emits billing domain events.
type EventPublisher interface {
	PublishOrderPaid(ctx context.Context, orderID, sourceEventID string, paidAt time.Time) error
	PublishInvoiceIssued(ctx context.Context, event *models.InvoiceIssuedEvent) error
}
