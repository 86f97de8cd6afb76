package tax

import (
	"github.com/shopspring/decimal"

	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/pkg/sii"
)

// PeriodSummary totales de ventas de un período, base del débito fiscal del F29.
type PeriodSummary struct {
	Documents int
	Net       decimal.Decimal
	Exempt    decimal.Decimal
	Tax       decimal.Decimal
	Total     decimal.Decimal
}

// SummarizePeriod suma los documentos ACCEPTED. Las notas de crédito restan y las de
// débito suman; guías de despacho y facturas de compra no generan débito del emisor.
func SummarizePeriod(docs []*entity.TaxDocument) PeriodSummary {
	var s PeriodSummary
	for _, d := range docs {
		if d == nil || d.State != entity.StateAccepted {
			continue
		}
		var sign decimal.Decimal
		switch int(d.DocumentType) {
		case sii.DocTypeNotaCredito:
			sign = decimal.NewFromInt(-1)
		case sii.DocTypeGuiaDespacho, sii.DocTypeFacturaCompra:
			continue
		default:
			sign = decimal.NewFromInt(1)
		}
		s.Documents++
		s.Net = s.Net.Add(d.NetAmount.Mul(sign))
		s.Exempt = s.Exempt.Add(d.ExemptAmount.Mul(sign))
		s.Tax = s.Tax.Add(d.TaxAmount.Mul(sign))
		s.Total = s.Total.Add(d.TotalAmount.Mul(sign))
	}
	return s
}
