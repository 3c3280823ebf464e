package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// InvoiceLineItem is a billable row in major currency units. Exactly one of
// Total and UnitPrice is set.
type InvoiceLineItem struct {
	Description string           `json:"description"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Total       *decimal.Decimal `json:"total,omitempty"`
	UnitPrice   *decimal.Decimal `json:"unitPrice,omitempty"`
}

// Validate checks the single-pricing-representation rule.
func (i InvoiceLineItem) Validate() error {
	if (i.Total == nil) == (i.UnitPrice == nil) {
		return fmt.Errorf("item %q: exactly one of total or unitPrice is required", i.Description)
	}
	if i.Quantity.IsNegative() {
		return fmt.Errorf("item %q: quantity must not be negative", i.Description)
	}
	return nil
}

// BuiltInvoice is the rendered document handed to delivery.
type BuiltInvoice struct {
	Content       []byte
	Filename      string
	InvoiceNumber string
	GrandTotal    decimal.Decimal
	Currency      string
	PageCount     int
}

// InvoiceCustomer is the billed party.
type InvoiceCustomer struct {
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	AddressLines []string `json:"addressLines"`
}

type InvoiceMeta struct {
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	OrderID       string `json:"orderId,omitempty"`
	Notes         string `json:"notes,omitempty"`
	IssueDateISO  string `json:"issueDateISO,omitempty"`
}

// InvoiceRequest is the body accepted by the invoice construction boundary,
// both over HTTP and from the invoice request topic.
type InvoiceRequest struct {
	Customer InvoiceCustomer   `json:"customer"`
	Items    []InvoiceLineItem `json:"items"`
	Currency string            `json:"currency"`
	Meta     InvoiceMeta       `json:"meta"`
}

func (r *InvoiceRequest) Validate() error {
	if len(r.Items) == 0 {
		return errors.New("at least one item is required")
	}
	for _, item := range r.Items {
		if err := item.Validate(); err != nil {
			return err
		}
	}
	if r.Customer.Email != "" && !strings.Contains(r.Customer.Email, "@") {
		return fmt.Errorf("invalid customer email %q", r.Customer.Email)
	}
	return nil
}

// InvoiceResult is returned by the invoice construction boundary.
type InvoiceResult struct {
	DocumentPath  string `json:"documentPath"`
	InvoiceNumber string `json:"invoiceNumber"`
	PageCount     int    `json:"pageCount"`
	GrandTotal    string `json:"grandTotal"`
	Emailed       bool   `json:"emailed"`
}
