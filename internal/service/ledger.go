package service

import (
	"context"

	"invoice-service/internal/models"
	"invoice-service/internal/util"

	"go.uber.org/zap"
)

// EventLedger records every verified event once for audit and replay detection.
type EventLedger struct {
	store  EventStore
	logger *zap.Logger
}

func NewEventLedger(store EventStore) *EventLedger {
	return &EventLedger{store: store, logger: util.GetLogger()}
}

// Record stores the raw event. A duplicate returns false; downstream stages
// still run because they are idempotent. Write failures are logged and
// reported as new so processing continues.
func (l *EventLedger) Record(ctx context.Context, event *models.PaymentEvent) bool {
	ctx, span := util.StartSpan(ctx, "EventLedger.Record")
	defer span.End()

	logger := util.StageLogger(l.logger, "ledger", event.ID)

	isNew, err := l.store.RecordEvent(ctx, event.ID, event.Type, event.Raw)
	if err != nil {
		util.RecordSpanError(span, err)
		util.PipelineFailuresTotal.WithLabelValues("ledger").Inc()
		logger.Error("Failed to record event", zap.Error(err))
		return true
	}

	if !isNew {
		logger.Info("Duplicate event delivery", zap.String("type", event.Type))
	}
	return isNew
}
