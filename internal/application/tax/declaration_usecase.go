package tax

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/sii-dte-api/internal/application/dto"
	"github.com/jhoicas/sii-dte-api/internal/domain"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/internal/domain/repository"
	domaintax "github.com/jhoicas/sii-dte-api/internal/domain/tax"
	"github.com/jhoicas/sii-dte-api/pkg/money"
	"github.com/jhoicas/sii-dte-api/pkg/sii"
)

const periodLayout = "2006-01"

// DeclarationUseCase expone el motor tributario y arma el F29 del período desde los DTE aceptados.
type DeclarationUseCase struct {
	engine  *domaintax.Engine
	repo    repository.TaxDocumentRepository
	ppmRate decimal.Decimal
	log     zerolog.Logger
}

// NewDeclarationUseCase construye el caso de uso. ppmRate es la tasa PPM por defecto.
func NewDeclarationUseCase(engine *domaintax.Engine, repo repository.TaxDocumentRepository, ppmRate decimal.Decimal, log zerolog.Logger) *DeclarationUseCase {
	return &DeclarationUseCase{engine: engine, repo: repo, ppmRate: ppmRate, log: log}
}

// ComputeIVA cálculo directo del IVA del período.
func (uc *DeclarationUseCase) ComputeIVA(in dto.ComputeIVARequest) (*dto.IVAResponse, error) {
	decl, err := uc.engine.ComputeIVA(domaintax.IVAInput{
		Period:       in.Period,
		DebitBase:    in.DebitBase,
		CreditBase:   in.CreditBase,
		Withheld:     in.Withheld,
		OtherTaxes:   in.OtherTaxes,
		VoluntaryPPM: in.VoluntaryPPM,
		PriorCredit:  in.PriorCredit,
	})
	if err != nil {
		return nil, err
	}
	return toIVAResponse(decl), nil
}

// ComputeRLI cálculo de la Renta Líquida Imponible y el impuesto de primera categoría.
func (uc *DeclarationUseCase) ComputeRLI(in dto.ComputeRLIRequest) (*dto.RLIResponse, error) {
	decl, err := uc.engine.ComputeRLI(domaintax.RLIInput{
		GrossIncome:        in.GrossIncome,
		AcceptedExpenses:   in.AcceptedExpenses,
		TrainingCreditBase: in.TrainingCreditBase,
		PPMPaid:            in.PPMPaid,
		FirstCategoryRate:  in.FirstCategoryRate,
	})
	if err != nil {
		return nil, err
	}
	return &dto.RLIResponse{
		TrainingCredit:   decl.TrainingCredit,
		TaxableIncome:    decl.TaxableIncome,
		TaxLoss:          decl.TaxLoss,
		Rate:             decl.Rate,
		FirstCategoryTax: decl.FirstCategoryTax,
		BalanceDue:       decl.BalanceDue,
		Refund:           decl.Refund,
	}, nil
}

// ComputePPM PPM del mes. Sin tasa explícita usa la configurada.
func (uc *DeclarationUseCase) ComputePPM(in dto.ComputePPMRequest) (*dto.PPMResponse, error) {
	rate := in.Rate
	if rate.IsZero() {
		rate = uc.ppmRate
	}
	res, err := uc.engine.ComputePPM(in.GrossRevenue, rate)
	if err != nil {
		return nil, err
	}
	return &dto.PPMResponse{GrossRevenue: res.GrossRevenue, Rate: res.Rate, Amount: res.Amount}, nil
}

// BuildF29 arma la declaración mensual del emisor:
//
//	débito  = IVA de los DTE ACCEPTED del período (notas de crédito restan)
//	PPM     = (neto + exento) × tasa PPM
//	total   = IVA a pagar + PPM
//
// Si las notas de crédito dejan el débito negativo, el exceso pasa a crédito.
func (uc *DeclarationUseCase) BuildF29(ctx context.Context, in dto.BuildF29Request) (*dto.F29Response, error) {
	issuer, err := sii.NormalizeRUT(in.IssuerRUT)
	if err != nil {
		return nil, fmt.Errorf("%w: RUT emisor %q", domain.ErrInvalidTaxpayer, in.IssuerRUT)
	}
	from, err := time.Parse(periodLayout, strings.TrimSpace(in.Period))
	if err != nil {
		return nil, fmt.Errorf("%w: período %q (usar YYYY-MM)", domain.ErrInvalidInput, in.Period)
	}
	to := from.AddDate(0, 1, 0)

	docs, err := uc.repo.ListByPeriod(ctx, issuer, from, to)
	if err != nil {
		return nil, fmt.Errorf("f29: listar documentos: %w", err)
	}
	summary := domaintax.SummarizePeriod(docs)

	debit, credit := summary.Tax, in.CreditBase
	if debit.IsNegative() {
		credit = credit.Add(debit.Neg())
		debit = decimal.Zero
	}
	iva, err := uc.engine.ComputeIVA(domaintax.IVAInput{
		Period:       from.Format(periodLayout),
		DebitBase:    debit,
		CreditBase:   credit,
		Withheld:     in.Withheld,
		OtherTaxes:   in.OtherTaxes,
		VoluntaryPPM: in.VoluntaryPPM,
		PriorCredit:  in.PriorCredit,
	})
	if err != nil {
		return nil, err
	}

	rate := in.PPMRate
	if rate.IsZero() {
		rate = uc.ppmRate
	}
	ppm, err := uc.engine.ComputePPM(money.Max(decimal.Zero, summary.Net.Add(summary.Exempt)), rate)
	if err != nil {
		return nil, err
	}

	out := &dto.F29Response{
		IssuerRUT:    issuer,
		Period:       iva.Period,
		Documents:    summary.Documents,
		SalesNet:     summary.Net,
		SalesExempt:  summary.Exempt,
		IVA:          *toIVAResponse(iva),
		PPM:          dto.PPMResponse{GrossRevenue: ppm.GrossRevenue, Rate: ppm.Rate, Amount: ppm.Amount},
		TotalPayable: iva.IVAPayable.Add(ppm.Amount),
	}
	uc.log.Info().
		Str("issuer", issuer).
		Str("period", out.Period).
		Int("documents", out.Documents).
		Str("total_payable", out.TotalPayable.String()).
		Msg("F29 armado")
	return out, nil
}

func toIVAResponse(d *entity.IVADeclaration) *dto.IVAResponse {
	return &dto.IVAResponse{
		Period:             d.Period,
		DebitBase:          d.DebitBase,
		CreditBase:         d.CreditBase,
		IVAPayable:         d.IVAPayable,
		CreditCarryForward: d.CreditCarryForward,
	}
}
