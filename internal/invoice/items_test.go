package invoice

import (
	"testing"

	"invoice-service/internal/models"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBuildItemsPrefersOrderTotal(t *testing.T) {
	order := &models.Order{
		Product:   "Heating oil",
		Quantity:  lo.ToPtr(dec("1000")),
		UnitPrice: lo.ToPtr(int64(90)),
		Total:     lo.ToPtr(int64(183000)),
	}

	items, source := BuildItems(ItemInputs{
		Order:          order,
		ProcessorItems: []models.ProcessorLineItem{{Description: "ignored", AmountTotal: 5}},
		AmountTotal:    183000,
	})

	require.Len(t, items, 1)
	assert.Equal(t, SourceOrder, source)
	assert.Equal(t, "Heating oil", items[0].Description)
	assert.True(t, items[0].Quantity.Equal(dec("1000")))
	require.NotNil(t, items[0].Total)
	assert.True(t, items[0].Total.Equal(dec("1830.00")))
	assert.Nil(t, items[0].UnitPrice)
}

func TestBuildItemsOrderUnitPriceOnlyWhenNoTotal(t *testing.T) {
	order := &models.Order{
		Quantity:  lo.ToPtr(dec("500")),
		UnitPrice: lo.ToPtr(int64(92)),
	}

	items, source := BuildItems(ItemInputs{Order: order})

	require.Len(t, items, 1)
	assert.Equal(t, SourceOrder, source)
	assert.Equal(t, defaultOrderDescription, items[0].Description)
	require.NotNil(t, items[0].UnitPrice)
	assert.True(t, items[0].UnitPrice.Equal(dec("0.92")))
	assert.Nil(t, items[0].Total)
}

func TestBuildItemsSkipsOrderWithoutQuantity(t *testing.T) {
	order := &models.Order{Quantity: lo.ToPtr(decimal.Zero), Total: lo.ToPtr(int64(100))}

	items, source := BuildItems(ItemInputs{
		Order: order,
		ProcessorItems: []models.ProcessorLineItem{
			{Description: "Kerosene", Quantity: 1, AmountTotal: 45000, Metadata: map[string]string{"litres": "500"}},
		},
	})

	require.Len(t, items, 1)
	assert.Equal(t, SourceProcessorItems, source)
	assert.Equal(t, "Kerosene", items[0].Description)
	assert.True(t, items[0].Quantity.Equal(dec("500")))
	assert.True(t, items[0].Total.Equal(dec("450")))
}

func TestProcessorQuantityPrecedence(t *testing.T) {
	eventMeta := map[string]string{"quantity": "750"}

	cases := []struct {
		name string
		item models.ProcessorLineItem
		meta map[string]string
		want string
	}{
		{"item metadata wins", models.ProcessorLineItem{Quantity: 2, Metadata: map[string]string{"liters": "300"}}, eventMeta, "300"},
		{"event metadata next", models.ProcessorLineItem{Quantity: 2}, eventMeta, "750"},
		{"raw count", models.ProcessorLineItem{Quantity: 2}, nil, "2"},
		{"defaults to one", models.ProcessorLineItem{}, nil, "1"},
		{"unparseable metadata ignored", models.ProcessorLineItem{Quantity: 3, Metadata: map[string]string{"quantity": "lots"}}, nil, "3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := processorQuantity(tc.item, tc.meta)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestBuildItemsProcessorUnitAmountWhenNoTotal(t *testing.T) {
	items, _ := BuildItems(ItemInputs{
		ProcessorItems: []models.ProcessorLineItem{
			{Description: "Delivery", Quantity: 1, Price: &models.ProcessorPrice{UnitAmount: 2500}},
		},
	})

	require.Len(t, items, 1)
	require.NotNil(t, items[0].UnitPrice)
	assert.True(t, items[0].UnitPrice.Equal(dec("25")))
	assert.Nil(t, items[0].Total)
}

func TestBuildItemsFetchesProcessorItemsOnlyWhenNeeded(t *testing.T) {
	fetches := 0
	fetch := func() []models.ProcessorLineItem {
		fetches++
		return []models.ProcessorLineItem{{Description: "Red diesel", Quantity: 500, AmountTotal: 45000}}
	}

	order := &models.Order{Quantity: lo.ToPtr(dec("1000")), Total: lo.ToPtr(int64(183000))}
	_, source := BuildItems(ItemInputs{Order: order, FetchProcessorItems: fetch})
	assert.Equal(t, SourceOrder, source)
	assert.Equal(t, 0, fetches)

	items, source := BuildItems(ItemInputs{FetchProcessorItems: fetch, AmountTotal: 45000})
	assert.Equal(t, SourceProcessorItems, source)
	assert.Equal(t, 1, fetches)
	require.Len(t, items, 1)
	assert.Equal(t, "Red diesel", items[0].Description)
	assert.True(t, items[0].Total.Equal(dec("450")))

	embedded := []models.ProcessorLineItem{{Description: "Embedded", Quantity: 1, AmountTotal: 100}}
	items, _ = BuildItems(ItemInputs{ProcessorItems: embedded, FetchProcessorItems: fetch})
	assert.Equal(t, "Embedded", items[0].Description)
	assert.Equal(t, 1, fetches)
}

func TestBuildItemsFetchFailureFallsThrough(t *testing.T) {
	items, source := BuildItems(ItemInputs{
		FetchProcessorItems: func() []models.ProcessorLineItem { return nil },
		AmountTotal:         2500,
	})
	assert.Equal(t, SourcePaymentTotal, source)
	require.Len(t, items, 1)
	assert.True(t, items[0].Total.Equal(dec("25")))
}

func TestBuildItemsFallsBackToPaymentTotal(t *testing.T) {
	items, source := BuildItems(ItemInputs{
		Metadata:    map[string]string{"litres": "900"},
		AmountTotal: 72000,
	})

	require.Len(t, items, 1)
	assert.Equal(t, SourcePaymentTotal, source)
	assert.Equal(t, "Payment", items[0].Description)
	assert.True(t, items[0].Quantity.Equal(dec("900")))
	assert.True(t, items[0].Total.Equal(dec("720")))
	assert.NoError(t, CheckPriceData(items))
}

func TestCheckPriceDataFlagsZeroPricedItems(t *testing.T) {
	items, source := BuildItems(ItemInputs{})

	require.Len(t, items, 1)
	assert.Equal(t, SourcePaymentTotal, source)
	assert.ErrorIs(t, CheckPriceData(items), ErrPriceLookup)
}

func TestLineItemSourceString(t *testing.T) {
	assert.Equal(t, "order", SourceOrder.String())
	assert.Equal(t, "processor_items", SourceProcessorItems.String())
	assert.Equal(t, "payment_total", SourcePaymentTotal.String())
}
