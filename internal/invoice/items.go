// Package invoice derives, prices and renders invoice documents. It performs
// no I/O; callers supply orders and processor data and receive bytes.
package invoice

import (
	"errors"
	"strings"

	"invoice-service/internal/models"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// ErrPriceLookup reports that no source carried a usable amount. The chain
// still yields an item; callers log this and carry on.
var ErrPriceLookup = errors.New("no usable price data for line items")

const (
	defaultOrderDescription = "Fuel delivery"
	syntheticDescription    = "Payment"
)

// LineItemSource identifies which fallback tier produced the line items.
type LineItemSource int

const (
	SourceOrder LineItemSource = iota
	SourceProcessorItems
	SourcePaymentTotal
)

func (s LineItemSource) String() string {
	switch s {
	case SourceOrder:
		return "order"
	case SourceProcessorItems:
		return "processor_items"
	case SourcePaymentTotal:
		return "payment_total"
	default:
		return "unknown"
	}
}

// ItemInputs is everything the fallback chain may draw from. AmountTotal is
// the event total in minor units. FetchProcessorItems, when set, is called
// only if the order tier is empty and ProcessorItems is nil.
type ItemInputs struct {
	Order               *models.Order
	ProcessorItems      []models.ProcessorLineItem
	FetchProcessorItems func() []models.ProcessorLineItem
	Metadata            map[string]string
	AmountTotal         int64
}

type itemStage struct {
	source LineItemSource
	build  func(ItemInputs) []models.InvoiceLineItem
}

var itemStages = []itemStage{
	{SourceOrder, fromOrder},
	{SourceProcessorItems, fromProcessorItems},
	{SourcePaymentTotal, fromPaymentTotal},
}

// BuildItems walks the fallback tiers in priority order and returns the first
// non-empty result. It always returns at least one item.
func BuildItems(in ItemInputs) ([]models.InvoiceLineItem, LineItemSource) {
	for _, stage := range itemStages {
		if items := stage.build(in); len(items) > 0 {
			return items, stage.source
		}
	}
	return fromPaymentTotal(in), SourcePaymentTotal
}

// CheckPriceData returns ErrPriceLookup when every item is zero-priced.
func CheckPriceData(items []models.InvoiceLineItem) error {
	priced := lo.ContainsBy(items, func(item models.InvoiceLineItem) bool {
		return (item.Total != nil && !item.Total.IsZero()) || (item.UnitPrice != nil && !item.UnitPrice.IsZero())
	})
	if !priced {
		return ErrPriceLookup
	}
	return nil
}

// fromOrder prefers quantity + total; unit price is used only when the
// order carries no total.
func fromOrder(in ItemInputs) []models.InvoiceLineItem {
	order := in.Order
	if order == nil || order.Quantity == nil || !order.Quantity.IsPositive() {
		return nil
	}

	item := models.InvoiceLineItem{
		Description: lo.CoalesceOrEmpty(strings.TrimSpace(order.Product), defaultOrderDescription),
		Quantity:    *order.Quantity,
	}
	switch {
	case order.Total != nil:
		item.Total = lo.ToPtr(minorToMajor(*order.Total))
	case order.UnitPrice != nil:
		item.UnitPrice = lo.ToPtr(minorToMajor(*order.UnitPrice))
	default:
		return nil
	}
	return []models.InvoiceLineItem{item}
}

func fromProcessorItems(in ItemInputs) []models.InvoiceLineItem {
	source := in.ProcessorItems
	if source == nil && in.FetchProcessorItems != nil {
		source = in.FetchProcessorItems()
	}
	items := make([]models.InvoiceLineItem, 0, len(source))
	for _, pi := range source {
		item := models.InvoiceLineItem{
			Description: lo.CoalesceOrEmpty(strings.TrimSpace(pi.Description), "Item"),
			Quantity:    processorQuantity(pi, in.Metadata),
		}
		if pi.AmountTotal == 0 && pi.Price != nil && pi.Price.UnitAmount != 0 {
			item.UnitPrice = lo.ToPtr(minorToMajor(pi.Price.UnitAmount))
		} else {
			item.Total = lo.ToPtr(minorToMajor(pi.AmountTotal))
		}
		items = append(items, item)
	}
	return items
}

func fromPaymentTotal(in ItemInputs) []models.InvoiceLineItem {
	quantity, ok := metadataQuantity(in.Metadata)
	if !ok {
		quantity = decimal.NewFromInt(1)
	}
	return []models.InvoiceLineItem{{
		Description: syntheticDescription,
		Quantity:    quantity,
		Total:       lo.ToPtr(minorToMajor(in.AmountTotal)),
	}}
}

// processorQuantity: item metadata, then event metadata, then the raw count.
func processorQuantity(pi models.ProcessorLineItem, eventMeta map[string]string) decimal.Decimal {
	if q, ok := metadataQuantity(pi.Metadata); ok {
		return q
	}
	if q, ok := metadataQuantity(eventMeta); ok {
		return q
	}
	if pi.Quantity > 0 {
		return decimal.NewFromInt(pi.Quantity)
	}
	return decimal.NewFromInt(1)
}

var quantityKeys = []string{"quantity", "litres", "liters"}

func metadataQuantity(meta map[string]string) (decimal.Decimal, bool) {
	for _, key := range quantityKeys {
		raw, ok := meta[key]
		if !ok {
			continue
		}
		q, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err == nil && q.IsPositive() {
			return q, true
		}
	}
	return decimal.Zero, false
}

// minorToMajor is the single minor->major conversion point.
func minorToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
