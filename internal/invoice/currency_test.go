package invoice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "£1,440.00", FormatMoney(dec("1440"), "GBP"))
	assert.Equal(t, "€0.50", FormatMoney(dec("0.5"), "eur"))
	assert.Equal(t, "$1,234,567.89", FormatMoney(dec("1234567.885"), "USD"))
	assert.Equal(t, "-£12.00", FormatMoney(dec("-12"), "GBP"))
	assert.Equal(t, "100.00", FormatMoney(dec("100"), "CHF"))
}

func TestFormatUnitPrice(t *testing.T) {
	assert.Equal(t, "£0.9167", FormatUnitPrice(dec("0.916666"), "GBP"))
	assert.Equal(t, "£1.20", FormatUnitPrice(dec("1.2"), "GBP"))
}

func TestFormatQuantity(t *testing.T) {
	assert.Equal(t, "1000", FormatQuantity(dec("1000.000")))
	assert.Equal(t, "12.5", FormatQuantity(dec("12.50")))
}

func TestInvoiceNumber(t *testing.T) {
	at := time.Unix(1741000000, 0)

	assert.Equal(t, "INV-2025-001", InvoiceNumber("INV/2025/001", at))
	assert.Equal(t, "etc-passwd", InvoiceNumber("../etc/passwd", at))
	assert.Equal(t, "INV-1741000000", InvoiceNumber("", at))
	assert.Equal(t, "INV-1741000000", InvoiceNumber(" /// ", at))
}
