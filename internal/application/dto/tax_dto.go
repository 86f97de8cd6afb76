package dto

import "github.com/shopspring/decimal"

// ComputeIVARequest body para POST /api/tax/iva.
type ComputeIVARequest struct {
	Period       string          `json:"period,omitempty"`
	DebitBase    decimal.Decimal `json:"debit_base"`
	CreditBase   decimal.Decimal `json:"credit_base"`
	Withheld     decimal.Decimal `json:"withheld"`
	OtherTaxes   decimal.Decimal `json:"other_taxes"`
	VoluntaryPPM decimal.Decimal `json:"voluntary_ppm"`
	PriorCredit  decimal.Decimal `json:"prior_credit"`
}

// IVAResponse resultado del cálculo de IVA.
type IVAResponse struct {
	Period             string          `json:"period,omitempty"`
	DebitBase          decimal.Decimal `json:"debit_base"`
	CreditBase         decimal.Decimal `json:"credit_base"`
	IVAPayable         decimal.Decimal `json:"iva_payable"`
	CreditCarryForward decimal.Decimal `json:"credit_carry_forward"`
}

// ComputeRLIRequest body para POST /api/tax/rli.
type ComputeRLIRequest struct {
	GrossIncome        decimal.Decimal `json:"gross_income"`
	AcceptedExpenses   decimal.Decimal `json:"accepted_expenses"`
	TrainingCreditBase decimal.Decimal `json:"training_credit_base"`
	PPMPaid            decimal.Decimal `json:"ppm_paid"`
	FirstCategoryRate  decimal.Decimal `json:"first_category_rate,omitempty"`
}

// RLIResponse resultado de la Renta Líquida Imponible.
type RLIResponse struct {
	TrainingCredit   decimal.Decimal `json:"training_credit"`
	TaxableIncome    decimal.Decimal `json:"taxable_income"`
	TaxLoss          decimal.Decimal `json:"tax_loss"`
	Rate             decimal.Decimal `json:"rate"`
	FirstCategoryTax decimal.Decimal `json:"first_category_tax"`
	BalanceDue       decimal.Decimal `json:"balance_due"`
	Refund           decimal.Decimal `json:"refund"`
}

// ComputePPMRequest body para POST /api/tax/ppm. Rate vacío usa la tasa configurada.
type ComputePPMRequest struct {
	GrossRevenue decimal.Decimal `json:"gross_revenue"`
	Rate         decimal.Decimal `json:"rate,omitempty"`
}

// PPMResponse resultado del PPM.
type PPMResponse struct {
	GrossRevenue decimal.Decimal `json:"gross_revenue"`
	Rate         decimal.Decimal `json:"rate"`
	Amount       decimal.Decimal `json:"amount"`
}

// BuildF29Request body para POST /api/tax/f29.
// Los créditos de compras vienen del libro de compras, externo a este servicio.
type BuildF29Request struct {
	IssuerRUT    string          `json:"issuer_rut"`
	Period       string          `json:"period"` // YYYY-MM
	CreditBase   decimal.Decimal `json:"credit_base"`
	Withheld     decimal.Decimal `json:"withheld"`
	OtherTaxes   decimal.Decimal `json:"other_taxes"`
	VoluntaryPPM decimal.Decimal `json:"voluntary_ppm"`
	PriorCredit  decimal.Decimal `json:"prior_credit"`
	PPMRate      decimal.Decimal `json:"ppm_rate,omitempty"`
}

// F29Response declaración mensual armada desde los DTE aceptados.
type F29Response struct {
	IssuerRUT    string          `json:"issuer_rut"`
	Period       string          `json:"period"`
	Documents    int             `json:"documents"`
	SalesNet     decimal.Decimal `json:"sales_net"`
	SalesExempt  decimal.Decimal `json:"sales_exempt"`
	IVA          IVAResponse     `json:"iva"`
	PPM          PPMResponse     `json:"ppm"`
	TotalPayable decimal.Decimal `json:"total_payable"`
}
