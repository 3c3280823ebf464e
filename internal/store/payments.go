package store

import (
	"context"
	"fmt"

	"invoice-service/internal/models"
)

// UpsertPaymentReconciliation writes the reconciliation row. Rows with a
// payment id are upserted on it; rows without one are always inserted.
func (s *Store) UpsertPaymentReconciliation(ctx context.Context, rec *models.PaymentReconciliation) error {
	metadata := string(rec.Metadata)
	if metadata == "" {
		metadata = "{}"
	}

	if rec.PaymentID == nil {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO payment_reconciliations
				(session_id, order_id, amount, currency, status, customer_email, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)`,
			rec.SessionID, rec.OrderID, rec.Amount, rec.Currency, rec.Status, rec.CustomerEmail, metadata)
		if err != nil {
			return fmt.Errorf("failed to insert payment reconciliation: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_reconciliations
			(payment_id, session_id, order_id, amount, currency, status, customer_email, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		ON CONFLICT (payment_id) DO UPDATE SET
			session_id = COALESCE(EXCLUDED.session_id, payment_reconciliations.session_id),
			order_id = COALESCE(EXCLUDED.order_id, payment_reconciliations.order_id),
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			customer_email = EXCLUDED.customer_email,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()`,
		*rec.PaymentID, rec.SessionID, rec.OrderID, rec.Amount, rec.Currency, rec.Status, rec.CustomerEmail, metadata)
	if err != nil {
		return fmt.Errorf("failed to upsert payment reconciliation %s: %w", *rec.PaymentID, err)
	}
	return nil
}
