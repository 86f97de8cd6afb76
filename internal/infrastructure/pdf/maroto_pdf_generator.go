// Package pdf implementa la representación impresa de un DTE (SII, Chile).
//
// Layout de la página A4:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  HEADER: Razón Social + RUT  │  Recuadro: RUT, tipo, N°      │
//	│  ─────────────────────────────────────────────────────────  │
//	│  RECEPTOR: Razón social + RUT + fecha de emisión             │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TABLA: Cant | Descripción | P.Unit | Desc% | Monto          │
//	│  REFERENCIAS (notas de crédito y débito)                     │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TOTALES: Neto / Exento / IVA / TOTAL                        │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TIMBRE ELECTRÓNICO SII + leyenda                            │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/image"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/extension"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"github.com/jhoicas/sii-dte-api/internal/application/ports"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/pkg/money"
	"github.com/jhoicas/sii-dte-api/pkg/sii"
)

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 190, Green: 20, Blue: 20}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
	colorWhite   = &props.Color{Red: 255, Green: 255, Blue: 255}
)

var _ ports.PDFGenerator = (*MarotoPDFGenerator)(nil)

// ── Generator ─────────────────────────────────────────────────────────────────

// MarotoPDFGenerator implementa ports.PDFGenerator usando Maroto v2.
type MarotoPDFGenerator struct{}

// NewMarotoPDFGenerator construye el generador.
func NewMarotoPDFGenerator() *MarotoPDFGenerator { return &MarotoPDFGenerator{} }

// Generate arma el PDF. timbre es el <TED> serializado; la razón social del emisor se
// toma del CAF incluido en él.
func (g *MarotoPDFGenerator) Generate(doc *entity.TaxDocument, timbre string) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("pdf: documento nil")
	}
	issuerName := companyFromTimbre(timbre)

	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle(docTypeName(doc.DocumentType), true).
		WithAuthor(nonEmpty(issuerName, doc.IssuerRUT), true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(headerRow(doc, issuerName))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(receptorRow(doc))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))

	m.AddRows(tableHeaderRow())
	m.AddRows(tableDetailRows(doc.LineItems)...)
	if len(doc.References) > 0 {
		m.AddRows(referenceRows(doc.References)...)
	}

	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(totalsRow(doc))

	m.AddRows(line.NewRow(3))
	m.AddRows(line.NewRow(1, props.Line{Color: colorGray, Thickness: 0.3}))
	timbreSection, err := timbreRows(timbre)
	if err != nil {
		return nil, err
	}
	m.AddRows(timbreSection...)

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar documento: %w", err)
	}
	return out.GetBytes(), nil
}

// ── Secciones ─────────────────────────────────────────────────────────────────

// headerRow: emisor (izq) y recuadro con RUT, tipo y folio (der).
func headerRow(doc *entity.TaxDocument, issuerName string) core.Row {
	issuer := formatRUT(doc.IssuerRUT)
	return row.New(22).Add(
		col.New(7).Add(
			text.New(nonEmpty(issuerName, issuer), props.Text{
				Style: fontstyle.Bold, Size: 13, Top: 1,
			}),
			text.New("RUT: "+issuer, props.Text{
				Size: 9, Top: 9, Color: colorGray,
			}),
		),
		col.New(5).Add(
			text.New("R.U.T.: "+issuer, props.Text{
				Style: fontstyle.Bold, Size: 10, Align: align.Center,
				Color: colorPrimary, Top: 1,
			}),
			text.New(docTypeName(doc.DocumentType), props.Text{
				Style: fontstyle.Bold, Size: 9, Align: align.Center,
				Color: colorPrimary, Top: 8,
			}),
			text.New(fmt.Sprintf("N° %d", doc.Folio), props.Text{
				Style: fontstyle.Bold, Size: 11, Align: align.Center,
				Color: colorPrimary, Top: 15,
			}),
		),
	)
}

// receptorRow: datos del receptor y fecha de emisión.
func receptorRow(doc *entity.TaxDocument) core.Row {
	return row.New(16).Add(
		col.New(12).Add(
			text.New("RECEPTOR", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(nonEmpty(doc.ReceiverName, "-"), props.Text{
				Style: fontstyle.Bold, Size: 10, Top: 6,
			}),
			text.New(fmt.Sprintf("RUT: %s   |   Fecha de emisión: %s",
				formatRUT(doc.ReceiverRUT),
				doc.IssueDate.Format("02/01/2006"),
			), props.Text{Size: 8, Top: 12, Color: colorGray}),
		),
	)
}

// tableHeaderRow: cabecera de la tabla de detalle.
func tableHeaderRow() core.Row {
	h := func(label string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 8, Align: a,
			Color: colorWhite, Top: 2, Left: 1, Right: 1,
		}))
	}
	return row.New(8).WithStyle(&props.Cell{BackgroundColor: colorPrimary}).Add(
		h("Cant.", 1, align.Center),
		h("Descripción", 5, align.Left),
		h("Precio Unit.", 2, align.Right),
		h("Desc.%", 1, align.Center),
		h("Monto", 3, align.Right),
	)
}

// tableDetailRows: una fila por línea; las exentas se marcan con "(E)".
func tableDetailRows(lines []entity.LineItem) []core.Row {
	result := make([]core.Row, 0, len(lines))
	for _, li := range lines {
		desc := li.Description
		if li.TaxExempt {
			desc += " (E)"
		}
		result = append(result, row.New(7).Add(
			col.New(1).Add(text.New(li.Quantity.String(), props.Text{Size: 8, Align: align.Center, Top: 1})),
			col.New(5).Add(text.New(desc, props.Text{Size: 8, Align: align.Left, Top: 1, Left: 1})),
			col.New(2).Add(text.New(money.FormatCLP(li.UnitPrice), props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1})),
			col.New(1).Add(text.New(li.DiscountPercent.String(), props.Text{Size: 8, Align: align.Center, Top: 1})),
			col.New(3).Add(text.New(money.FormatCLP(li.Amount), props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1})),
		))
	}
	return result
}

// referenceRows: documentos referenciados por notas de crédito y débito.
func referenceRows(refs []entity.Reference) []core.Row {
	rows := []core.Row{
		row.New(6).Add(col.New(12).Add(text.New("REFERENCIAS", props.Text{
			Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 2,
		}))),
	}
	for _, r := range refs {
		rows = append(rows, row.New(5).Add(col.New(12).Add(text.New(
			fmt.Sprintf("%s N° %d del %s: %s", docTypeName(r.DocumentType), r.Folio, r.Date.Format("02/01/2006"), r.Reason),
			props.Text{Size: 7.5, Top: 1, Left: 1},
		))))
	}
	return rows
}

// totalsRow: Neto, Exento, IVA y Total alineados a la derecha.
func totalsRow(doc *entity.TaxDocument) core.Row {
	label := func(s string, top float64) core.Component {
		return text.New(s, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Right: 2, Top: top})
	}
	value := func(s string, top float64) core.Component {
		return text.New(s, props.Text{Size: 9, Align: align.Right, Right: 1, Top: top})
	}
	grand := func(s string, right float64) core.Component {
		return text.New(s, props.Text{
			Style: fontstyle.Bold, Size: 10, Align: align.Right,
			Color: colorPrimary, Right: right, Top: 16,
		})
	}

	return row.New(24).Add(
		col.New(6), // espacio izquierdo
		col.New(3).Add(
			label("Monto neto:", 0),
			label("Monto exento:", 5),
			label(fmt.Sprintf("IVA %s%%:", doc.IVARate.Shift(2).String()), 10),
			grand("TOTAL:", 2),
		),
		col.New(3).Add(
			value(money.FormatCLP(doc.NetAmount), 0),
			value(money.FormatCLP(doc.ExemptAmount), 5),
			value(money.FormatCLP(doc.TaxAmount), 10),
			grand(money.FormatCLP(doc.TotalAmount), 1),
		),
	)
}

// timbreRows: timbre electrónico (PDF417 con el TED) y leyenda del SII.
func timbreRows(timbre string) ([]core.Row, error) {
	if strings.TrimSpace(timbre) == "" {
		return []core.Row{row.New(10).Add(col.New(12).Add(
			text.New("Documento sin timbre electrónico", props.Text{
				Style: fontstyle.Bold, Size: 9, Align: align.Center, Color: colorGray, Top: 2,
			}),
		))}, nil
	}
	img, err := TimbreBarcode(timbre)
	if err != nil {
		return nil, err
	}
	return []core.Row{
		row.New(30).Add(
			col.New(5).Add(image.NewFromBytes(img, extension.Png, props.Rect{Percent: 100, Center: true})),
			col.New(7),
		),
		row.New(10).Add(
			col.New(5).Add(
				text.New("Timbre Electrónico SII", props.Text{Style: fontstyle.Bold, Size: 8, Align: align.Center, Top: 1}),
				text.New("Verifique documento: www.sii.cl", props.Text{Size: 7, Align: align.Center, Top: 5, Color: colorGray}),
			),
			col.New(7),
		),
	}, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func companyFromTimbre(timbre string) string {
	if timbre == "" {
		return ""
	}
	x := etree.NewDocument()
	if err := x.ReadFromString(timbre); err != nil {
		return ""
	}
	if rs := x.FindElement("//CAF/DA/RS"); rs != nil {
		return strings.TrimSpace(rs.Text())
	}
	return ""
}

func docTypeName(t entity.DocumentType) string {
	if name, ok := sii.DocTypeNames[int(t)]; ok {
		return name
	}
	return fmt.Sprintf("DOCUMENTO TIPO %d", t)
}

func formatRUT(rut string) string {
	if f, err := sii.FormatRUT(rut); err == nil {
		return f
	}
	return rut
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
