package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"invoice-service/internal/invoice"
	"invoice-service/internal/models"
	"invoice-service/internal/util"
	"invoice-service/internal/webhook"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Pipeline turns verified payment events into paid orders and issued invoices.
type Pipeline struct {
	verifier   *webhook.Verifier
	ledger     *EventLedger
	reconciler *Reconciler
	invoices   *InvoiceService
	publisher  EventPublisher
	now        func() time.Time
	logger     *zap.Logger
}

func NewPipeline(
	verifier *webhook.Verifier,
	ledger *EventLedger,
	reconciler *Reconciler,
	invoices *InvoiceService,
	publisher EventPublisher,
) *Pipeline {
	return &Pipeline{
		verifier:   verifier,
		ledger:     ledger,
		reconciler: reconciler,
		invoices:   invoices,
		publisher:  publisher,
		now:        time.Now,
		logger:     util.GetLogger(),
	}
}

// HandleWebhook verifies and processes one delivery. Only a signature failure
// is returned; everything after verification is absorbed and logged. The run
// is detached from ctx cancellation.
func (p *Pipeline) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ctx, span := util.StartSpan(ctx, "Pipeline.HandleWebhook")
	defer span.End()

	if err := p.verifier.Verify(payload, signature); err != nil {
		util.WebhookSignatureFailuresTotal.Inc()
		util.RecordSpanError(span, err)
		p.logger.Warn("Rejected payment event", zap.Error(err))
		return err
	}

	var event models.PaymentEvent
	if err := json.Unmarshal(payload, &event); err != nil || event.ID == "" {
		util.WebhookEventsTotal.WithLabelValues("unknown", "malformed").Inc()
		p.logger.Error("Verified payload is not a payment event", zap.Error(err))
		return nil
	}
	event.Raw = payload

	p.Process(context.WithoutCancel(ctx), &event)
	return nil
}

// Process runs ledger, reconciliation and invoicing for one event.
func (p *Pipeline) Process(ctx context.Context, event *models.PaymentEvent) {
	logger := p.logger.With(zap.String("event_id", event.ID), zap.String("type", event.Type))

	isNew := p.ledger.Record(ctx, event)
	outcome := lo.Ternary(isNew, "new", "duplicate")

	switch event.Type {
	case models.EventTypeSessionCompleted, models.EventTypeChargeSucceeded, models.EventTypeIntentSucceeded:
	default:
		util.WebhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
		logger.Debug("Ignoring event type")
		return
	}
	util.WebhookEventsTotal.WithLabelValues(event.Type, outcome).Inc()

	paidAt := p.eventTime(event)
	orderID, ok := p.reconcile(ctx, event, paidAt, logger)
	if !ok || event.Type != models.EventTypeSessionCompleted {
		return
	}
	p.issueInvoice(ctx, event, orderID, logger)
}

// reconcile resolves and marks the order paid. ok is false when the paid
// transition failed and invoicing must be skipped. An unresolved order
// returns "", true.
func (p *Pipeline) reconcile(ctx context.Context, event *models.PaymentEvent, paidAt time.Time, logger *zap.Logger) (string, bool) {
	timer := util.StageTimer("reconcile")
	defer timer.ObserveDuration()

	orderID, err := p.reconciler.ResolveOrderID(ctx, event)
	if err != nil {
		util.PipelineFailuresTotal.WithLabelValues("resolve").Inc()
		logger.Warn("Order not resolved, invoicing from event data", zap.Error(err))
	}

	p.reconciler.RecordReconciliation(ctx, event, orderID)

	if orderID == "" {
		return "", true
	}

	changed, err := p.reconciler.MarkPaid(ctx, orderID, paidAt)
	if err != nil {
		util.PipelineFailuresTotal.WithLabelValues("mark_paid").Inc()
		logger.Error("Order paid update failed, manual reconciliation required",
			zap.String("order_id", orderID),
			zap.String("stage", "mark_paid"),
			zap.Error(err))
		return "", false
	}

	if changed {
		logger.Info("Order marked paid", zap.String("order_id", orderID))
		if p.publisher != nil {
			if err := p.publisher.PublishOrderPaid(ctx, orderID, event.ID, paidAt); err != nil {
				logger.Error("Failed to publish order paid event", zap.String("order_id", orderID), zap.Error(err))
			}
		}
	}
	return orderID, true
}

func (p *Pipeline) issueInvoice(ctx context.Context, event *models.PaymentEvent, orderID string, logger *zap.Logger) {
	obj := &event.Data.Object
	logger = logger.With(zap.String("order_id", orderID))

	var order *models.Order
	notes := ""
	if orderID != "" {
		var err error
		order, err = p.reconciler.FetchOrder(ctx, orderID)
		if err != nil {
			util.PipelineFailuresTotal.WithLabelValues("fetch_order").Inc()
			logger.Warn("Order fetch failed, falling back to event data", zap.Error(err))
		}
		if order != nil {
			notes = order.FulfilmentNote
		}
	}

	inputs := invoice.ItemInputs{
		Order:       order,
		Metadata:    obj.Metadata,
		AmountTotal: obj.PaymentTotal(),
	}
	if obj.LineItems != nil {
		inputs.ProcessorItems = obj.LineItems.Data
	} else if obj.Object == checkoutSessionObject {
		inputs.FetchProcessorItems = func() []models.ProcessorLineItem {
			return p.reconciler.SessionLineItems(ctx, obj.ID)
		}
	}
	items, source := invoice.BuildItems(inputs)
	util.LineItemSourceTotal.WithLabelValues(source.String()).Inc()
	if err := invoice.CheckPriceData(items); err != nil {
		util.PipelineFailuresTotal.WithLabelValues("price_lookup").Inc()
		logger.Warn("PriceLookupFailure", zap.String("source", source.String()), zap.Error(err))
	}

	recipient := ResolveRecipient(order, obj)
	issueDate := p.eventTime(event)
	number := invoice.InvoiceNumber(obj.Metadata["invoice_number"], issueDate)
	logger = logger.With(zap.String("invoice_number", number))

	built, err := p.invoices.Render(ctx, DocumentInput{
		Customer:      p.customerFor(ctx, order, obj, recipient),
		Items:         items,
		Currency:      obj.Currency,
		InvoiceNumber: number,
		OrderRef:      orderID,
		Notes:         notes,
		IssueDate:     issueDate,
	})
	if err != nil {
		util.PipelineFailuresTotal.WithLabelValues("render").Inc()
		logger.Error("Invoice render failed", zap.String("stage", "render"), zap.Error(err))
		return
	}

	key := RoutingKey{Email: recipient, Date: RoutingDate(order, obj.Metadata, p.now())}
	result, err := p.invoices.Deliver(ctx, built, key, recipient, orderID)
	if err != nil {
		util.PipelineFailuresTotal.WithLabelValues("deliver").Inc()
		if errors.Is(err, ErrDelivery) && !result.Stored {
			logger.Error("Order paid but no invoice document stored", zap.String("path", result.Path))
		}
	}

	logger.Info("Invoice processed",
		zap.String("path", result.Path),
		zap.Bool("stored", result.Stored),
		zap.Bool("emailed", result.Emailed),
		zap.String("grand_total", built.GrandTotal.StringFixed(2)))
}

// customerFor fills the recipient column from the billing profile, then the
// processor's customer details, then the order's delivery address.
func (p *Pipeline) customerFor(ctx context.Context, order *models.Order, obj *models.ProcessorObject, recipient string) models.InvoiceCustomer {
	customer := models.InvoiceCustomer{Email: recipient}

	if profile := p.reconciler.CustomerProfile(ctx, recipient); profile != nil {
		customer.Name = profile.BillingName
		customer.AddressLines = profile.AddressLines()
	}

	for _, details := range []*models.CustomerDetails{obj.CustomerDetails, obj.BillingDetails} {
		if details == nil {
			continue
		}
		customer.Name = lo.CoalesceOrEmpty(customer.Name, details.Name)
		if len(customer.AddressLines) == 0 {
			customer.AddressLines = details.Address.Lines()
		}
	}

	if len(customer.AddressLines) == 0 && order != nil {
		customer.AddressLines = lo.Compact(lo.Map(strings.Split(order.DeliveryAddress, "\n"), func(s string, _ int) string {
			return strings.TrimSpace(s)
		}))
	}
	return customer
}

// eventTime is the processor's creation time, or now when absent.
func (p *Pipeline) eventTime(event *models.PaymentEvent) time.Time {
	if event.Created > 0 {
		return time.Unix(event.Created, 0).UTC()
	}
	return p.now()
}
