package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"invoice-service/internal/email"
	"invoice-service/internal/models"
	"invoice-service/internal/storage"
	"invoice-service/internal/util"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ErrDelivery wraps a failed storage or email channel.
var ErrDelivery = errors.New("invoice delivery failed")

const pdfContentType = "application/pdf"

// RoutingKey picks the storage folder for a document.
type RoutingKey struct {
	Email string
	Date  time.Time
}

type DeliveryResult struct {
	Stored  bool
	Emailed bool
	Path    string
}

// Dispatcher stores documents and emails them to the customer.
type Dispatcher struct {
	docs       storage.DocumentStore
	sender     email.Sender
	guard      DeliveryGuard
	from       string
	issuerName string
	dedupeTTL  time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewDispatcher builds a dispatcher. guard may be nil, in which case every
// delivery is emailed.
func NewDispatcher(docs storage.DocumentStore, sender email.Sender, guard DeliveryGuard, from, issuerName string, dedupeTTL time.Duration) *Dispatcher {
	return &Dispatcher{
		docs:       docs,
		sender:     sender,
		guard:      guard,
		from:       from,
		issuerName: issuerName,
		dedupeTTL:  dedupeTTL,
		now:        time.Now,
		logger:     util.GetLogger(),
	}
}

// Deliver writes the document to its deterministic path and emails it when
// a recipient is known. Each channel fails independently; the returned error
// joins the channel failures.
func (d *Dispatcher) Deliver(ctx context.Context, inv *models.BuiltInvoice, key RoutingKey, recipient string) (DeliveryResult, error) {
	ctx, span := util.StartSpan(ctx, "Dispatcher.Deliver")
	defer span.End()

	logger := d.logger.With(zap.String("stage", "deliver"), zap.String("invoice_number", inv.InvoiceNumber))
	result := DeliveryResult{Path: storage.DocumentPath(key.Email, key.Date, inv.InvoiceNumber)}
	var errs []error

	if err := d.docs.Put(ctx, result.Path, inv.Content, pdfContentType); err != nil {
		util.InvoiceDeliveriesTotal.WithLabelValues("storage", "failed").Inc()
		logger.Error("Failed to store invoice", zap.String("path", result.Path), zap.Error(err))
		errs = append(errs, fmt.Errorf("%w: storage: %v", ErrDelivery, err))
	} else {
		util.InvoiceDeliveriesTotal.WithLabelValues("storage", "ok").Inc()
		result.Stored = true
	}

	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		util.InvoiceDeliveriesTotal.WithLabelValues("email", "no_recipient").Inc()
		logger.Warn("No recipient resolved, invoice not emailed", zap.String("path", result.Path))
	} else {
		emailed, err := d.email(ctx, inv, recipient, result.Path, logger)
		if err != nil {
			util.InvoiceDeliveriesTotal.WithLabelValues("email", "failed").Inc()
			logger.Error("Failed to email invoice", zap.String("recipient", recipient), zap.Error(err))
			errs = append(errs, fmt.Errorf("%w: email: %v", ErrDelivery, err))
		}
		result.Emailed = emailed
	}

	err := errors.Join(errs...)
	util.RecordSpanError(span, err)
	return result, err
}

// deliveryClaimKey identifies one document version at one path. A different
// document stored under the same path gets a fresh claim.
func deliveryClaimKey(path string, content []byte) string {
	sum := sha256.Sum256(content)
	return path + "#" + hex.EncodeToString(sum[:])
}

func (d *Dispatcher) email(ctx context.Context, inv *models.BuiltInvoice, recipient, path string, logger *zap.Logger) (bool, error) {
	claimKey := deliveryClaimKey(path, inv.Content)
	if d.guard != nil {
		claimed, err := d.guard.ClaimDelivery(ctx, claimKey, d.dedupeTTL)
		switch {
		case err != nil:
			logger.Warn("Delivery guard unavailable, sending anyway", zap.Error(err))
		case !claimed:
			util.InvoiceDeliveriesTotal.WithLabelValues("email", "duplicate").Inc()
			logger.Info("Invoice already emailed, skipping", zap.String("path", path))
			return false, nil
		}
	}

	subject := fmt.Sprintf("Invoice %s from %s", inv.InvoiceNumber, d.issuerName)
	raw, err := email.Message{
		From:    d.from,
		To:      []string{recipient},
		Subject: subject,
		Body:    invoiceEmailBody(inv, d.issuerName),
		Date:    d.now(),
		Attachments: []email.Attachment{
			{Filename: inv.Filename, ContentType: pdfContentType, Content: inv.Content},
		},
	}.Build()
	if err == nil {
		err = d.sender.Send(ctx, []string{recipient}, subject, raw)
	}
	if err != nil {
		if d.guard != nil {
			if relErr := d.guard.ReleaseDelivery(ctx, claimKey); relErr != nil {
				logger.Warn("Failed to release delivery claim", zap.Error(relErr))
			}
		}
		return false, err
	}

	util.InvoiceDeliveriesTotal.WithLabelValues("email", "ok").Inc()
	return true, nil
}

func invoiceEmailBody(inv *models.BuiltInvoice, issuerName string) string {
	var b strings.Builder
	b.WriteString("Hello,\n\n")
	fmt.Fprintf(&b, "Please find attached invoice %s", inv.InvoiceNumber)
	if !inv.GrandTotal.IsZero() {
		fmt.Fprintf(&b, " for %s %s", inv.GrandTotal.StringFixed(2), inv.Currency)
	}
	b.WriteString(".\n\nThank you for your business.\n")
	b.WriteString(issuerName + "\n")
	return b.String()
}

var metadataDateKeys = []string{"delivery_date", "date"}

// RoutingDate prefers the order's delivery date, then a date carried in the
// event metadata, then now.
func RoutingDate(order *models.Order, metadata map[string]string, now time.Time) time.Time {
	if order != nil && order.DeliveryDate != nil && !order.DeliveryDate.IsZero() {
		return *order.DeliveryDate
	}
	for _, key := range metadataDateKeys {
		if t, ok := parseDate(metadata[key]); ok {
			return t
		}
	}
	return now
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ResolveRecipient walks order email, customer details, metadata and the
// processor object's own email fields.
func ResolveRecipient(order *models.Order, obj *models.ProcessorObject) string {
	candidates := []string{}
	if order != nil {
		candidates = append(candidates, order.CustomerEmail)
	}
	if obj != nil {
		if obj.CustomerDetails != nil {
			candidates = append(candidates, obj.CustomerDetails.Email)
		}
		candidates = append(candidates, obj.Metadata["email"], obj.CustomerEmail, obj.ReceiptEmail)
		if obj.BillingDetails != nil {
			candidates = append(candidates, obj.BillingDetails.Email)
		}
	}
	return lo.CoalesceOrEmpty(lo.Map(candidates, func(s string, _ int) string {
		return strings.TrimSpace(s)
	})...)
}
