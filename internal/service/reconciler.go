package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"invoice-service/internal/models"
	"invoice-service/internal/util"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	// ErrOrderResolution means no order id could be derived from an event.
	ErrOrderResolution = errors.New("order could not be resolved from event")
	// ErrOrderUpdate means the paid transition failed and needs manual reconciliation.
	ErrOrderUpdate = errors.New("failed to mark order paid")
)

var orderIDKeys = []string{"order_id", "orderId"}

const checkoutSessionObject = "checkout.session"

// Reconciler ties processor payments to orders in the order ledger.
type Reconciler struct {
	store  OrderStore
	lookup PaymentLookup
	logger *zap.Logger
}

func NewReconciler(store OrderStore, lookup PaymentLookup) *Reconciler {
	return &Reconciler{
		store:  store,
		lookup: lookup,
		logger: util.GetLogger(),
	}
}

// ResolveOrderID checks event metadata, then the expanded payment reference,
// then asks the processor for the payment intent's metadata.
func (r *Reconciler) ResolveOrderID(ctx context.Context, event *models.PaymentEvent) (string, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.ResolveOrderID")
	defer span.End()

	obj := &event.Data.Object
	if id := orderIDFrom(obj.Metadata); id != "" {
		return id, nil
	}
	if id := orderIDFrom(obj.PaymentIntent.Metadata); id != "" {
		return id, nil
	}

	intentID := obj.PaymentIntent.ID
	if intentID == "" && strings.HasPrefix(obj.ID, "pi_") {
		intentID = obj.ID
	}
	if intentID != "" && r.lookup != nil {
		meta, err := r.lookup.PaymentIntentMetadata(ctx, intentID)
		if err != nil {
			util.RecordSpanError(span, err)
			return "", fmt.Errorf("%w: payment intent %s: %v", ErrOrderResolution, intentID, err)
		}
		if id := orderIDFrom(meta); id != "" {
			return id, nil
		}
	}

	return "", ErrOrderResolution
}

func orderIDFrom(meta map[string]string) string {
	for _, key := range orderIDKeys {
		if id := strings.TrimSpace(meta[key]); id != "" {
			return id
		}
	}
	return ""
}

// MarkPaid applies the paid transition. changed is false when the order was
// already paid or does not exist.
func (r *Reconciler) MarkPaid(ctx context.Context, orderID string, paidAt time.Time) (bool, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.MarkPaid")
	defer span.End()

	changed, err := r.store.MarkOrderPaid(ctx, orderID, paidAt)
	if err != nil {
		util.RecordSpanError(span, err)
		return false, fmt.Errorf("%w: order %s: %v", ErrOrderUpdate, orderID, err)
	}
	if changed {
		util.OrdersPaidTotal.Inc()
	}
	return changed, nil
}

// FetchOrder returns nil without error when the order does not exist.
func (r *Reconciler) FetchOrder(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.FetchOrder")
	defer span.End()

	order, err := r.store.GetOrderByID(ctx, orderID)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return order, nil
}

// SessionLineItems lists a checkout session's items from the processor.
// Failures are logged and yield nil so the item builder falls through.
func (r *Reconciler) SessionLineItems(ctx context.Context, sessionID string) []models.ProcessorLineItem {
	if r.lookup == nil || sessionID == "" {
		return nil
	}
	ctx, span := util.StartSpan(ctx, "Reconciler.SessionLineItems")
	defer span.End()

	items, err := r.lookup.SessionLineItems(ctx, sessionID)
	if err != nil {
		util.RecordSpanError(span, err)
		util.PipelineFailuresTotal.WithLabelValues("session_line_items").Inc()
		r.logger.Warn("Session line items lookup failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil
	}
	return items
}

// RecordReconciliation writes the payment/order join row. Failures are
// logged and never returned.
func (r *Reconciler) RecordReconciliation(ctx context.Context, event *models.PaymentEvent, orderID string) {
	ctx, span := util.StartSpan(ctx, "Reconciler.RecordReconciliation")
	defer span.End()

	logger := util.StageLogger(r.logger, "reconcile", event.ID)
	rec := reconciliationFor(event, orderID)

	if err := r.store.UpsertPaymentReconciliation(ctx, rec); err != nil {
		util.RecordSpanError(span, err)
		util.PipelineFailuresTotal.WithLabelValues("reconciliation").Inc()
		logger.Error("Failed to write payment reconciliation",
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}

func reconciliationFor(event *models.PaymentEvent, orderID string) *models.PaymentReconciliation {
	obj := &event.Data.Object

	var paymentID, sessionID string
	switch {
	case obj.PaymentIntent.ID != "":
		paymentID = obj.PaymentIntent.ID
	case obj.Object != checkoutSessionObject:
		paymentID = obj.ID
	}
	if obj.Object == checkoutSessionObject {
		sessionID = obj.ID
	}

	metadata, err := json.Marshal(lo.Assign(obj.PaymentIntent.Metadata, obj.Metadata))
	if err != nil {
		metadata = []byte("{}")
	}

	return &models.PaymentReconciliation{
		PaymentID:     lo.EmptyableToPtr(paymentID),
		SessionID:     lo.EmptyableToPtr(sessionID),
		OrderID:       lo.EmptyableToPtr(orderID),
		Amount:        obj.PaymentTotal(),
		Currency:      strings.ToLower(obj.Currency),
		Status:        lo.CoalesceOrEmpty(obj.PaymentStatus, obj.Status),
		CustomerEmail: ResolveRecipient(nil, obj),
		Metadata:      metadata,
	}
}

// CustomerProfile returns the billing profile for email, or nil. Lookup
// errors are logged.
func (r *Reconciler) CustomerProfile(ctx context.Context, email string) *models.CustomerProfile {
	if email == "" {
		return nil
	}
	profile, err := r.store.GetCustomerProfile(ctx, email)
	if err != nil {
		r.logger.Warn("Customer profile lookup failed", zap.Error(err))
		return nil
	}
	return profile
}
