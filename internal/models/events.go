package models

import (
	"encoding/json"
	"time"
)

// Processor event types
const (
	EventTypeSessionCompleted = "checkout.session.completed"
	EventTypeChargeSucceeded  = "charge.succeeded"
	EventTypeIntentSucceeded  = "payment_intent.succeeded"
)

// PaymentEvent is an inbound notification from the payment processor.
// Raw holds the exact bytes received and is never re-encoded.
type PaymentEvent struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
	Raw     []byte    `json:"-"`
}

type EventData struct {
	Object ProcessorObject `json:"object"`
}

// ProcessorObject covers the fields used from checkout sessions, charges and
// payment intents. Absent fields decode to zero values.
type ProcessorObject struct {
	ID              string              `json:"id"`
	Object          string              `json:"object"`
	PaymentIntent   PaymentRef          `json:"payment_intent"`
	AmountTotal     int64               `json:"amount_total"`
	Amount          int64               `json:"amount"`
	Currency        string              `json:"currency"`
	CustomerEmail   string              `json:"customer_email"`
	ReceiptEmail    string              `json:"receipt_email"`
	CustomerDetails *CustomerDetails    `json:"customer_details"`
	BillingDetails  *CustomerDetails    `json:"billing_details"`
	Metadata        map[string]string   `json:"metadata"`
	LineItems       *ProcessorLineItems `json:"line_items"`
	Status          string              `json:"status"`
	PaymentStatus   string              `json:"payment_status"`
}

// PaymentTotal is the amount the processor recorded in minor units.
func (o *ProcessorObject) PaymentTotal() int64 {
	if o.AmountTotal != 0 {
		return o.AmountTotal
	}
	return o.Amount
}

type CustomerDetails struct {
	Email   string         `json:"email"`
	Name    string         `json:"name"`
	Address *PostalAddress `json:"address"`
}

type PostalAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Lines returns the non-empty address lines.
func (a *PostalAddress) Lines() []string {
	if a == nil {
		return nil
	}
	return nonEmpty(a.Line1, a.Line2, a.City, a.PostalCode, a.Country)
}

type ProcessorLineItems struct {
	Data []ProcessorLineItem `json:"data"`
}

type ProcessorLineItem struct {
	Description string            `json:"description"`
	Quantity    int64             `json:"quantity"`
	AmountTotal int64             `json:"amount_total"`
	Price       *ProcessorPrice   `json:"price"`
	Metadata    map[string]string `json:"metadata"`
}

type ProcessorPrice struct {
	UnitAmount int64             `json:"unit_amount"`
	Metadata   map[string]string `json:"metadata"`
}

// PaymentRef is a nested payment reference that arrives either as a bare id
// or as an expanded object carrying its own metadata.
type PaymentRef struct {
	ID       string
	Metadata map[string]string
}

func (r *PaymentRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		r.ID = id
		return nil
	}
	var expanded struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(data, &expanded); err != nil {
		return err
	}
	r.ID = expanded.ID
	r.Metadata = expanded.Metadata
	return nil
}

func (r PaymentRef) MarshalJSON() ([]byte, error) {
	if r.Metadata == nil {
		if r.ID == "" {
			return []byte("null"), nil
		}
		return json.Marshal(r.ID)
	}
	return json.Marshal(struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata"`
	}{r.ID, r.Metadata})
}

// Published domain event types
const (
	EventTypeOrderPaid     = "ORDER_PAID"
	EventTypeInvoiceIssued = "INVOICE_ISSUED"
)

// BaseEvent contains common fields for all published events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPaidEvent published after the paid transition is applied
type OrderPaidEvent struct {
	BaseEvent
	OrderID       string    `json:"order_id"`
	SourceEventID string    `json:"source_event_id"`
	PaidAt        time.Time `json:"paid_at"`
}

// InvoiceIssuedEvent published once an invoice document is stored
type InvoiceIssuedEvent struct {
	BaseEvent
	InvoiceNumber string `json:"invoice_number"`
	OrderID       string `json:"order_id,omitempty"`
	DocumentPath  string `json:"document_path"`
	GrandTotal    string `json:"grand_total"`
	Currency      string `json:"currency"`
	Emailed       bool   `json:"emailed"`
}
