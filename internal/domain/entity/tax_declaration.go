package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// IVADeclaration resultado mensual de IVA (análogo F29). Derivado de sus entradas; no se edita.
type IVADeclaration struct {
	Period             string // YYYY-MM, vacío si se calculó sin período
	DebitBase          decimal.Decimal
	CreditBase         decimal.Decimal
	Withheld           decimal.Decimal
	OtherTaxes         decimal.Decimal
	VoluntaryPPM       decimal.Decimal
	PriorCredit        decimal.Decimal
	IVAPayable         decimal.Decimal
	CreditCarryForward decimal.Decimal // Remanente de crédito para el período siguiente
	ComputedAt         time.Time
}

// IncomeTaxDeclaration resultado anual de primera categoría (análogo F22).
type IncomeTaxDeclaration struct {
	GrossIncome      decimal.Decimal
	AcceptedExpenses decimal.Decimal
	TrainingCredit   decimal.Decimal
	TaxableIncome    decimal.Decimal // RLI, piso 0
	TaxLoss          decimal.Decimal // Pérdida tributaria cuando la RLI es negativa
	Rate             decimal.Decimal
	FirstCategoryTax decimal.Decimal
	PPMPaid          decimal.Decimal
	BalanceDue       decimal.Decimal
	Refund           decimal.Decimal // PPM pagados en exceso
}

// PPMResult pago provisional mensual.
type PPMResult struct {
	GrossRevenue decimal.Decimal
	Rate         decimal.Decimal
	Amount       decimal.Decimal
}
