package dte_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sii-dte-api/internal/domain"
	"github.com/jhoicas/sii-dte-api/internal/domain/dte"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
)

var iva = decimal.RequireFromString("0.19")

func line(qty, price, discount string, exempt bool) entity.LineItem {
	return entity.LineItem{
		Description:     "Servicio contable",
		Quantity:        decimal.RequireFromString(qty),
		UnitPrice:       decimal.RequireFromString(price),
		DiscountPercent: decimal.RequireFromString(discount),
		TaxExempt:       exempt,
	}
}

func doc(docType entity.DocumentType, lines ...entity.LineItem) *entity.TaxDocument {
	return &entity.TaxDocument{
		DocumentType: docType,
		IssuerRUT:    "76086428-5",
		ReceiverRUT:  "12345678-5",
		IssueDate:    time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		IVARate:      iva,
		LineItems:    lines,
	}
}

// ── ComputeTotals ──────────────────────────────────────────────────────────

func TestComputeTotals_FacturaEscenarioBase(t *testing.T) {
	d := doc(33, line("2", "10000", "0", false))
	d.TotalAmount = decimal.NewFromInt(1) // total del llamador, debe sobrescribirse

	tot, err := dte.ComputeTotals(d)
	require.NoError(t, err)
	assert.Equal(t, "20000", tot.Net.String())
	assert.Equal(t, "3800", tot.Tax.String())
	assert.Equal(t, "23800", tot.Total.String())
	assert.Equal(t, "23800", d.TotalAmount.String(), "el total calculado es el autoritativo")
	assert.Equal(t, "20000", d.LineItems[0].Amount.String())
	assert.Equal(t, 1, d.LineItems[0].LineNumber)
}

func TestComputeTotals_LineasExentasYAfectas(t *testing.T) {
	d := doc(33, line("1", "10000", "10", false), line("3", "1500", "0", true))

	tot, err := dte.ComputeTotals(d)
	require.NoError(t, err)
	assert.Equal(t, "9000", tot.Net.String())
	assert.Equal(t, "1710", tot.Tax.String())
	assert.Equal(t, "4500", tot.Exempt.String())
	assert.Equal(t, "15210", tot.Total.String())
}

func TestComputeTotals_FacturaExentaFuerzaLineasExentas(t *testing.T) {
	d := doc(34, line("1", "50000", "0", false))

	tot, err := dte.ComputeTotals(d)
	require.NoError(t, err)
	assert.True(t, tot.Tax.IsZero())
	assert.True(t, tot.Net.IsZero())
	assert.Equal(t, "50000", tot.Exempt.String())
	assert.True(t, d.LineItems[0].TaxExempt)
}

func TestComputeTotals_BoletaPreciosBrutos(t *testing.T) {
	d := doc(39, line("1", "11900", "0", false), line("1", "1000", "0", false))

	tot, err := dte.ComputeTotals(d)
	require.NoError(t, err)
	assert.Equal(t, "12900", tot.Total.String())
	assert.True(t, tot.Net.Add(tot.Tax).Equal(decimal.NewFromInt(12900)), "neto + IVA debe igualar el bruto")
	assert.Equal(t, "10840", tot.Net.String())
}

func TestComputeTotals_Deterministico(t *testing.T) {
	a := doc(33, line("1.5", "333", "12.5", false), line("7", "990", "0", false))
	b := doc(33, line("1.5", "333", "12.5", false), line("7", "990", "0", false))
	ta, err := dte.ComputeTotals(a)
	require.NoError(t, err)
	tb, err := dte.ComputeTotals(b)
	require.NoError(t, err)
	assert.Equal(t, ta, tb)
}

func TestComputeTotals_EntradaInvalida(t *testing.T) {
	_, err := dte.ComputeTotals(doc(33))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = dte.ComputeTotals(doc(33, line("1", "-5", "0", false)))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = dte.ComputeTotals(doc(33, line("1", "5", "101", false)))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

// ── Validaciones ───────────────────────────────────────────────────────────

func TestValidateTaxpayers(t *testing.T) {
	d := doc(33, line("1", "1", "0", false))
	assert.NoError(t, dte.ValidateTaxpayers(d))

	d.ReceiverRUT = "12345678-4"
	err := dte.ValidateTaxpayers(d)
	assert.ErrorIs(t, err, domain.ErrInvalidTaxpayer)
	assert.Contains(t, err.Error(), "receptor")
}

func TestValidateDocument_NotaDeCreditoRequiereReferencia(t *testing.T) {
	d := doc(61, line("1", "1000", "0", false))
	err := dte.ValidateDocument(d)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	d.References = []entity.Reference{{DocumentType: 33, Folio: 1000, Code: 1, Reason: "Anula factura"}}
	assert.NoError(t, dte.ValidateDocument(d))
}

func TestValidateDocument_LineasInvalidas(t *testing.T) {
	d := doc(33, line("0", "1000", "0", false))
	d.LineItems[0].Description = " "
	err := dte.ValidateDocument(d)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "cantidad")
	assert.Contains(t, err.Error(), "descripción")

	assert.Error(t, dte.ValidateDocument(doc(99, line("1", "1", "0", false))))
}
