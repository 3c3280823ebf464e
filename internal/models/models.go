package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a fuel/goods purchase request owned by the order ledger.
// Money columns are minor currency units.
type Order struct {
	ID              string           `db:"id" json:"id"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	CustomerEmail   string           `db:"customer_email" json:"customer_email"`
	Product         string           `db:"product" json:"product"`
	Quantity        *decimal.Decimal `db:"quantity" json:"quantity,omitempty"`
	UnitPrice       *int64           `db:"unit_price" json:"unit_price,omitempty"`
	Total           *int64           `db:"total" json:"total,omitempty"`
	PaymentStatus   string           `db:"payment_status" json:"payment_status"`
	PaidAt          *time.Time       `db:"paid_at" json:"paid_at,omitempty"`
	DeliveryAddress string           `db:"delivery_address" json:"delivery_address"`
	DeliveryDate    *time.Time       `db:"delivery_date" json:"delivery_date,omitempty"`
	FulfilmentNote  string           `db:"fulfilment_note" json:"fulfilment_note,omitempty"`
}

// Order payment statuses
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// PaymentReconciliation joins a processor payment reference to an order.
type PaymentReconciliation struct {
	ID            int64     `db:"id" json:"id"`
	PaymentID     *string   `db:"payment_id" json:"payment_id,omitempty"`
	SessionID     *string   `db:"session_id" json:"session_id,omitempty"`
	OrderID       *string   `db:"order_id" json:"order_id,omitempty"`
	Amount        int64     `db:"amount" json:"amount"`
	Currency      string    `db:"currency" json:"currency"`
	Status        string    `db:"status" json:"status"`
	CustomerEmail string    `db:"customer_email" json:"customer_email"`
	Metadata      []byte    `db:"metadata" json:"metadata"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ProcessorEvent is the event ledger row. Payload is stored verbatim.
type ProcessorEvent struct {
	EventID       string    `db:"event_id"`
	EventType     string    `db:"event_type"`
	Payload       []byte    `db:"payload"`
	DeliveryCount int       `db:"delivery_count"`
	ReceivedAt    time.Time `db:"received_at"`
	LastSeenAt    time.Time `db:"last_seen_at"`
}

// CustomerProfile is read-only contract state for a billing contact.
type CustomerProfile struct {
	Email        string `db:"email" json:"email"`
	BillingName  string `db:"billing_name" json:"billing_name"`
	CompanyName  string `db:"company_name" json:"company_name"`
	AddressLine1 string `db:"address_line1" json:"address_line1"`
	AddressLine2 string `db:"address_line2" json:"address_line2"`
	City         string `db:"city" json:"city"`
	Postcode     string `db:"postcode" json:"postcode"`
}

// AddressLines returns the non-empty address lines in display order.
func (p *CustomerProfile) AddressLines() []string {
	return nonEmpty(p.CompanyName, p.AddressLine1, p.AddressLine2, p.City, p.Postcode)
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
