package entity

import "github.com/shopspring/decimal"

// LineItem línea de detalle de un DTE. Amount se deriva de cantidad, precio y descuento.
type LineItem struct {
	LineNumber      int
	Description     string
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal // 0..100
	TaxExempt       bool
	Amount          decimal.Decimal // MontoItem
}
