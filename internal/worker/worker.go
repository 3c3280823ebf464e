package worker

import (
	"context"
	"encoding/json"
	"errors"

	"invoice-service/internal/broker"
	"invoice-service/internal/models"
	"invoice-service/internal/service"
	"invoice-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// InvoiceIssuer is the part of the invoice service the worker drives.
type InvoiceIssuer interface {
	Issue(ctx context.Context, req *models.InvoiceRequest) (*models.InvoiceResult, error)
}

// InvoiceRequestWorker issues invoices for requests arriving on Kafka
type InvoiceRequestWorker struct {
	consumer *broker.Consumer
	issuer   InvoiceIssuer
	logger   *zap.Logger
}

// NewInvoiceRequestWorker creates a new invoice request worker
func NewInvoiceRequestWorker(consumer *broker.Consumer, issuer InvoiceIssuer) *InvoiceRequestWorker {
	return &InvoiceRequestWorker{
		consumer: consumer,
		issuer:   issuer,
		logger:   util.GetLogger(),
	}
}

// Start consumes until ctx is cancelled
func (w *InvoiceRequestWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting invoice request worker")
	return w.consumer.StartConsuming(ctx, w.HandleMessage)
}

// Stop closes the consumer
func (w *InvoiceRequestWorker) Stop() error {
	w.logger.Info("Stopping invoice request worker")
	return w.consumer.Close()
}

// HandleMessage issues one invoice. Malformed or invalid requests are logged
// and committed. Other failures are returned so the consumer retries the
// message and dead-letters it once retries run out.
func (w *InvoiceRequestWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	ctx, span := util.StartSpan(ctx, "InvoiceRequestWorker.HandleMessage")
	defer span.End()

	logger := w.logger.With(zap.String("key", string(msg.Key)), zap.Int64("offset", msg.Offset))

	var req models.InvoiceRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		logger.Error("Discarding malformed invoice request", zap.Error(err))
		return nil
	}

	result, err := w.issuer.Issue(ctx, &req)
	if errors.Is(err, service.ErrInvalidRequest) {
		logger.Error("Discarding invalid invoice request", zap.Error(err))
		return nil
	}
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}

	logger.Info("Invoice issued from request",
		zap.String("invoice_number", result.InvoiceNumber),
		zap.String("path", result.DocumentPath),
		zap.Bool("emailed", result.Emailed))
	return nil
}
