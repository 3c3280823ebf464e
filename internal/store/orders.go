package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"invoice-service/internal/models"
)

const orderColumns = `id, created_at, customer_email, product, quantity, unit_price, total,
	payment_status, paid_at, delivery_address, delivery_date, fulfilment_note`

// GetOrderByID returns nil, nil when the order does not exist
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	return &order, nil
}

// MarkOrderPaid sets payment_status=paid and paid_at. The first paid_at
// wins; repeating the call touches no rows. Returns whether a row changed.
func (s *Store) MarkOrderPaid(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $1, paid_at = COALESCE(paid_at, $2)
		WHERE id = $3
		  AND (payment_status IS DISTINCT FROM $1 OR paid_at IS NULL)`,
		models.PaymentStatusPaid, paidAt, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark order %s paid: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetCustomerProfile returns nil, nil when there is no profile for the email
func (s *Store) GetCustomerProfile(ctx context.Context, email string) (*models.CustomerProfile, error) {
	var profile models.CustomerProfile
	err := s.db.GetContext(ctx, &profile, `
		SELECT email, billing_name, company_name, address_line1, address_line2, city, postcode
		FROM customer_profiles WHERE lower(email) = lower($1)`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer profile: %w", err)
	}
	return &profile, nil
}
