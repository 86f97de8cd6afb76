package pdf_test

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/internal/infrastructure/pdf"
)

func nota() *entity.TaxDocument {
	return &entity.TaxDocument{
		DocumentType: 61,
		Folio:        42,
		IssuerRUT:    "76086428-5",
		ReceiverRUT:  "12345678-5",
		ReceiverName: "Cliente SpA",
		IssueDate:    time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		LineItems: []entity.LineItem{
			{LineNumber: 1, Description: "Devolución", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(10000), Amount: decimal.NewFromInt(10000)},
		},
		References: []entity.Reference{
			{LineNumber: 1, DocumentType: 33, Folio: 1000, Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Code: 1, Reason: "Anula factura"},
		},
		IVARate:     decimal.RequireFromString("0.19"),
		NetAmount:   decimal.NewFromInt(10000),
		TaxAmount:   decimal.NewFromInt(1900),
		TotalAmount: decimal.NewFromInt(11900),
		State:       entity.StateSubmitted,
	}
}

func TestGenerate_ConTimbre(t *testing.T) {
	ted := `<TED version="1.0"><DD><RE>76086428-5</RE><TD>61</TD><F>42</F><CAF version="1.0"><DA><RS>COMERCIAL PEÑALOLÉN LTDA</RS></DA></CAF></DD><FRMT algoritmo="SHA1withRSA">abc=</FRMT></TED>`
	out, err := pdf.NewMarotoPDFGenerator().Generate(nota(), ted)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestTimbreBarcode_PDF417EnPNG(t *testing.T) {
	ted := `<TED version="1.0"><DD><RE>76086428-5</RE><TD>33</TD><F>7</F><RS>PEÑALOLÉN</RS></DD><FRMT algoritmo="SHA1withRSA">abc=</FRMT></TED>`
	out, err := pdf.TimbreBarcode(ted)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	b := img.Bounds()
	assert.Positive(t, b.Dx())
	assert.Positive(t, b.Dy())
	assert.Zero(t, b.Dx()%2, "escalado a módulos de 2 px")
}

func TestGenerate_SinTimbre(t *testing.T) {
	out, err := pdf.NewMarotoPDFGenerator().Generate(nota(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestGenerate_DocumentoNil(t *testing.T) {
	_, err := pdf.NewMarotoPDFGenerator().Generate(nil, "")
	assert.Error(t, err)
}
