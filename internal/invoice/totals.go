package invoice

import (
	"invoice-service/internal/models"

	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// TaxPolicy is the configured tax regime.
type TaxPolicy struct {
	Enabled          bool
	RatePercent      decimal.Decimal
	PricesIncludeTax bool
}

// Rate is the tax rate as a fraction, zero when tax is disabled.
func (p TaxPolicy) Rate() decimal.Decimal {
	if !p.Enabled {
		return decimal.Zero
	}
	return p.RatePercent.Div(hundred)
}

// LineTotal holds the unrounded per-line figures. Quantity is the quantity
// billed, which can differ from Item.Quantity.
type LineTotal struct {
	Item     models.InvoiceLineItem
	Quantity decimal.Decimal
	UnitNet  decimal.Decimal
	Net      decimal.Decimal
	Tax      decimal.Decimal
}

type Totals struct {
	Lines []LineTotal
	Net   decimal.Decimal
	Tax   decimal.Decimal
	Grand decimal.Decimal
}

// ComputeTotals prices items one at a time. Sums stay in full precision and
// are rounded half-up to 2dp once. Grand is round(net) + round(tax), not
// round(net + tax); the two can differ by a cent.
func ComputeTotals(items []models.InvoiceLineItem, policy TaxPolicy) Totals {
	rate := policy.Rate()
	netSum := decimal.Zero
	taxSum := decimal.Zero

	lines := make([]LineTotal, 0, len(items))
	for _, item := range items {
		quantity, raw := rawUnitPrice(item)

		unitNet := raw
		if policy.Enabled && policy.PricesIncludeTax {
			unitNet = raw.Div(one.Add(rate))
		}

		net := quantity.Mul(unitNet)
		tax := decimal.Zero
		if policy.Enabled {
			tax = net.Mul(rate)
		}

		netSum = netSum.Add(net)
		taxSum = taxSum.Add(tax)
		lines = append(lines, LineTotal{Item: item, Quantity: quantity, UnitNet: unitNet, Net: net, Tax: tax})
	}

	net := netSum.Round(2)
	tax := taxSum.Round(2)
	return Totals{
		Lines: lines,
		Net:   net,
		Tax:   tax,
		Grand: net.Add(tax),
	}
}

// rawUnitPrice returns the quantity to bill and the price per unit as given.
// A total-priced item with no positive quantity is billed as one unit.
func rawUnitPrice(item models.InvoiceLineItem) (decimal.Decimal, decimal.Decimal) {
	quantity := item.Quantity
	switch {
	case item.UnitPrice != nil:
		return quantity, *item.UnitPrice
	case item.Total != nil:
		if !quantity.IsPositive() {
			quantity = one
		}
		return quantity, item.Total.Div(quantity)
	default:
		return quantity, decimal.Zero
	}
}
