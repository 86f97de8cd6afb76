// Package tax implementa el cálculo de IVA (F29), PPM y Renta Líquida Imponible (F22).
// Todas las funciones son puras: mismas entradas, mismo resultado. Los subtotales
// intermedios no se redondean; el redondeo al peso ocurre una sola vez en cada salida.
package tax

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/sii-dte-api/internal/domain"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/pkg/money"
)

// Rates constantes económicas configurables (cambian por régimen y año tributario).
type Rates struct {
	FirstCategoryRate  decimal.Decimal // 0.25 / 0.27 según régimen
	TrainingCreditRate decimal.Decimal // 0.01 de la base de remuneraciones
	TrainingCreditCap  decimal.Decimal // tope en CLP; cero = sin tope
}

// Engine motor de cálculo tributario.
type Engine struct {
	rates Rates
}

// NewEngine crea el motor con las tasas dadas.
func NewEngine(rates Rates) *Engine {
	return &Engine{rates: rates}
}

// Rates devuelve las tasas configuradas.
func (e *Engine) Rates() Rates { return e.rates }

// IVAInput entradas del cálculo de IVA de un período.
type IVAInput struct {
	Period       string
	DebitBase    decimal.Decimal // IVA débito fiscal (ventas)
	CreditBase   decimal.Decimal // IVA crédito fiscal (compras)
	Withheld     decimal.Decimal // IVA retenido por terceros
	OtherTaxes   decimal.Decimal
	VoluntaryPPM decimal.Decimal
	PriorCredit  decimal.Decimal // remanente del período anterior
}

// ComputeIVA calcula:
//
//	ivaPayable = max(0, debit − credit − withheld) + otherTaxes + voluntaryPPM − priorCredit
//
// con piso 0. Si el crédito supera al débito, el exceso se informa como remanente.
func (e *Engine) ComputeIVA(in IVAInput) (*entity.IVADeclaration, error) {
	if err := nonNegative(
		named{"débito", in.DebitBase},
		named{"crédito", in.CreditBase},
		named{"retenido", in.Withheld},
		named{"otros impuestos", in.OtherTaxes},
		named{"ppm voluntario", in.VoluntaryPPM},
		named{"remanente", in.PriorCredit},
	); err != nil {
		return nil, err
	}

	diff := in.DebitBase.Sub(in.CreditBase).Sub(in.Withheld)
	payable := money.Max(decimal.Zero, diff).Add(in.OtherTaxes).Add(in.VoluntaryPPM).Sub(in.PriorCredit)

	carry := decimal.Zero
	if diff.IsNegative() {
		carry = diff.Neg()
	}
	if payable.IsNegative() {
		carry = carry.Add(payable.Neg())
		payable = decimal.Zero
	}

	return &entity.IVADeclaration{
		Period:             in.Period,
		DebitBase:          in.DebitBase,
		CreditBase:         in.CreditBase,
		Withheld:           in.Withheld,
		OtherTaxes:         in.OtherTaxes,
		VoluntaryPPM:       in.VoluntaryPPM,
		PriorCredit:        in.PriorCredit,
		IVAPayable:         money.Round(payable),
		CreditCarryForward: money.Round(carry),
	}, nil
}

// RLIInput entradas de la Renta Líquida Imponible.
type RLIInput struct {
	GrossIncome        decimal.Decimal
	AcceptedExpenses   decimal.Decimal
	TrainingCreditBase decimal.Decimal // remuneraciones imponibles del año
	PPMPaid            decimal.Decimal
	// FirstCategoryRate reemplaza la tasa configurada cuando no es cero.
	FirstCategoryRate decimal.Decimal
}

// ComputeRLI calcula impuesto de primera categoría:
//
//	trainingCredit = min(base × tasa, tope)
//	taxableIncome  = gross − expenses − trainingCredit
//	tax            = max(0, taxableIncome × rate)
//	balanceDue     = max(0, tax − ppmPaid)
//
// Una RLI negativa se informa como pérdida tributaria y la base queda en 0.
func (e *Engine) ComputeRLI(in RLIInput) (*entity.IncomeTaxDeclaration, error) {
	if err := nonNegative(
		named{"ingresos", in.GrossIncome},
		named{"gastos", in.AcceptedExpenses},
		named{"base SENCE", in.TrainingCreditBase},
		named{"ppm pagados", in.PPMPaid},
		named{"tasa", in.FirstCategoryRate},
	); err != nil {
		return nil, err
	}
	rate := e.rates.FirstCategoryRate
	if !in.FirstCategoryRate.IsZero() {
		rate = in.FirstCategoryRate
	}

	training := in.TrainingCreditBase.Mul(e.rates.TrainingCreditRate)
	if e.rates.TrainingCreditCap.IsPositive() {
		training = money.Min(training, e.rates.TrainingCreditCap)
	}

	rli := in.GrossIncome.Sub(in.AcceptedExpenses).Sub(training)
	loss := decimal.Zero
	if rli.IsNegative() {
		loss = rli.Neg()
		rli = decimal.Zero
	}

	tax := money.Max(decimal.Zero, rli.Mul(rate))
	balance := tax.Sub(in.PPMPaid)
	refund := decimal.Zero
	if balance.IsNegative() {
		refund = balance.Neg()
		balance = decimal.Zero
	}

	return &entity.IncomeTaxDeclaration{
		GrossIncome:      in.GrossIncome,
		AcceptedExpenses: in.AcceptedExpenses,
		TrainingCredit:   money.Round(training),
		TaxableIncome:    money.Round(rli),
		TaxLoss:          money.Round(loss),
		Rate:             rate,
		FirstCategoryTax: money.Round(tax),
		PPMPaid:          in.PPMPaid,
		BalanceDue:       money.Round(balance),
		Refund:           money.Round(refund),
	}, nil
}

// ComputePPM pago provisional mensual: ingresos brutos del mes × tasa PPM.
func (e *Engine) ComputePPM(grossRevenue, rate decimal.Decimal) (*entity.PPMResult, error) {
	if err := nonNegative(named{"ingresos", grossRevenue}, named{"tasa", rate}); err != nil {
		return nil, err
	}
	return &entity.PPMResult{
		GrossRevenue: grossRevenue,
		Rate:         rate,
		Amount:       money.ApplyRate(grossRevenue, rate),
	}, nil
}

type named struct {
	name  string
	value decimal.Decimal
}

func nonNegative(values ...named) error {
	var errs []error
	for _, v := range values {
		if v.value.IsNegative() {
			errs = append(errs, fmt.Errorf("%s negativo (%s)", v.name, v.value))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{domain.ErrInvalidInput}, errs...)...)
	}
	return nil
}
