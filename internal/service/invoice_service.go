package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"invoice-service/internal/invoice"
	"invoice-service/internal/models"
	"invoice-service/internal/util"

	"go.uber.org/zap"
)

// ErrInvalidRequest marks an invoice request that failed validation.
var ErrInvalidRequest = errors.New("invalid invoice request")

// DocumentInput is everything needed to price and render one invoice.
type DocumentInput struct {
	Customer      models.InvoiceCustomer
	Items         []models.InvoiceLineItem
	Currency      string
	InvoiceNumber string
	OrderRef      string
	Notes         string
	IssueDate     time.Time
}

// InvoiceService prices, renders and delivers invoices. It backs both the
// payment pipeline and the direct invoice endpoint.
type InvoiceService struct {
	renderer        *invoice.Renderer
	policy          invoice.TaxPolicy
	issuer          invoice.Issuer
	defaultCurrency string
	dispatcher      *Dispatcher
	publisher       EventPublisher
	now             func() time.Time
	logger          *zap.Logger
}

// NewInvoiceService creates the service. publisher may be nil.
func NewInvoiceService(
	renderer *invoice.Renderer,
	policy invoice.TaxPolicy,
	issuer invoice.Issuer,
	defaultCurrency string,
	dispatcher *Dispatcher,
	publisher EventPublisher,
) *InvoiceService {
	return &InvoiceService{
		renderer:        renderer,
		policy:          policy,
		issuer:          issuer,
		defaultCurrency: defaultCurrency,
		dispatcher:      dispatcher,
		publisher:       publisher,
		now:             time.Now,
		logger:          util.GetLogger(),
	}
}

// Render computes totals and lays out the document.
func (s *InvoiceService) Render(ctx context.Context, in DocumentInput) (*models.BuiltInvoice, error) {
	_, span := util.StartSpan(ctx, "InvoiceService.Render")
	defer span.End()

	timer := util.StageTimer("render")
	defer timer.ObserveDuration()

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	totals := invoice.ComputeTotals(in.Items, s.policy)

	rendered, err := s.renderer.Render(invoice.Document{
		Issuer:        s.issuer,
		Customer:      in.Customer,
		InvoiceNumber: in.InvoiceNumber,
		IssueDate:     in.IssueDate,
		OrderRef:      in.OrderRef,
		Currency:      currency,
		Policy:        s.policy,
		Totals:        totals,
		Notes:         in.Notes,
	})
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}

	util.InvoicesRenderedTotal.Inc()
	if rendered.HiddenRows > 0 {
		util.InvoiceHiddenRowsTotal.Add(float64(rendered.HiddenRows))
		s.logger.Warn("Invoice rows hidden by overflow guard",
			zap.String("invoice_number", in.InvoiceNumber),
			zap.Int("hidden_rows", rendered.HiddenRows))
	}

	return &models.BuiltInvoice{
		Content:       rendered.Content,
		Filename:      in.InvoiceNumber + ".pdf",
		InvoiceNumber: in.InvoiceNumber,
		GrandTotal:    totals.Grand,
		Currency:      currency,
		PageCount:     rendered.PageCount,
	}, nil
}

// Deliver hands the document to the dispatcher and announces it once stored.
func (s *InvoiceService) Deliver(ctx context.Context, built *models.BuiltInvoice, key RoutingKey, recipient, orderID string) (DeliveryResult, error) {
	timer := util.StageTimer("deliver")
	defer timer.ObserveDuration()

	result, err := s.dispatcher.Deliver(ctx, built, key, recipient)
	if result.Stored && s.publisher != nil {
		event := &models.InvoiceIssuedEvent{
			InvoiceNumber: built.InvoiceNumber,
			OrderID:       orderID,
			DocumentPath:  result.Path,
			GrandTotal:    built.GrandTotal.StringFixed(2),
			Currency:      built.Currency,
			Emailed:       result.Emailed,
		}
		if pubErr := s.publisher.PublishInvoiceIssued(ctx, event); pubErr != nil {
			s.logger.Error("Failed to publish invoice issued event",
				zap.String("invoice_number", built.InvoiceNumber),
				zap.Error(pubErr))
		}
	}
	return result, err
}

// Issue builds and delivers an invoice from a caller-supplied request. It
// fails when validation, rendering or storage fails; an email failure is
// reported through Emailed only.
func (s *InvoiceService) Issue(ctx context.Context, req *models.InvoiceRequest) (*models.InvoiceResult, error) {
	ctx, span := util.StartSpan(ctx, "InvoiceService.Issue")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	now := s.now()
	issueDate := now
	if req.Meta.IssueDateISO != "" {
		parsed, ok := parseDate(req.Meta.IssueDateISO)
		if !ok {
			return nil, fmt.Errorf("%w: issueDateISO %q is not a date", ErrInvalidRequest, req.Meta.IssueDateISO)
		}
		issueDate = parsed
	}

	number := invoice.InvoiceNumber(req.Meta.InvoiceNumber, now)
	logger := s.logger.With(zap.String("invoice_number", number), zap.String("order_id", req.Meta.OrderID))

	built, err := s.Render(ctx, DocumentInput{
		Customer:      req.Customer,
		Items:         req.Items,
		Currency:      req.Currency,
		InvoiceNumber: number,
		OrderRef:      req.Meta.OrderID,
		Notes:         req.Meta.Notes,
		IssueDate:     issueDate,
	})
	if err != nil {
		util.RecordSpanError(span, err)
		logger.Error("Failed to render invoice", zap.Error(err))
		return nil, err
	}

	result, err := s.Deliver(ctx, built, RoutingKey{Email: req.Customer.Email, Date: issueDate}, req.Customer.Email, req.Meta.OrderID)
	if !result.Stored {
		util.RecordSpanError(span, err)
		return nil, err
	}
	if err != nil {
		logger.Warn("Invoice stored but not emailed", zap.Error(err))
	}

	return &models.InvoiceResult{
		DocumentPath:  result.Path,
		InvoiceNumber: number,
		PageCount:     built.PageCount,
		GrandTotal:    built.GrandTotal.StringFixed(2),
		Emailed:       result.Emailed,
	}, nil
}
