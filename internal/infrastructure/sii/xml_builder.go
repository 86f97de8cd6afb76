package sii

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/sii-dte-api/internal/application/ports"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	siipkg "github.com/jhoicas/sii-dte-api/pkg/sii"
)

// Namespaces del formato EnvioDTE.
const (
	NsSiiDte       = "http://www.sii.cl/SiiDte"
	nsXsi          = "http://www.w3.org/2001/XMLSchema-instance"
	schemaLocation       = "http://www.sii.cl/SiiDte EnvioDTE_v10.xsd"
	schemaLocationBoleta = "http://www.sii.cl/SiiDte EnvioBOLETA_v11.xsd"

	// RutSII receptor de todos los envíos (Caratula/RutReceptor).
	RutSII = "60803000-K"

	timestampLayout = "2006-01-02T15:04:05"
	dateLayout      = "2006-01-02"
)

var _ ports.PayloadBuilder = (*XMLBuilder)(nil)

// BuilderConfig datos de la carátula que no vienen en el documento.
type BuilderConfig struct {
	SenderRUT        string // RutEnvia: persona dueña del certificado
	ResolutionNumber int    // NroResol
	ResolutionDate   string // FchResol YYYY-MM-DD
}

// Sobres de envío.
const (
	EnvelopeDTE    = "EnvioDTE"
	EnvelopeBoleta = "EnvioBOLETA"
)

// EnvelopeFor devuelve el sobre que corresponde al tipo de documento.
func EnvelopeFor(docType entity.DocumentType) string {
	if siipkg.IsBoletaDocType(int(docType)) {
		return EnvelopeBoleta
	}
	return EnvelopeDTE
}

// XMLBuilder construye el EnvioDTE (sin firma) y el timbre electrónico (TED).
type XMLBuilder struct {
	cfg BuilderConfig
	now func() time.Time
}

// NewXMLBuilder crea el builder.
func NewXMLBuilder(cfg BuilderConfig) *XMLBuilder {
	return &XMLBuilder{cfg: cfg, now: time.Now}
}

// WithClock fija el reloj (timestamps TSTED, TmstFirma y TmstFirmaEnv).
func (b *XMLBuilder) WithClock(now func() time.Time) *XMLBuilder {
	b.now = now
	return b
}

// Build genera el EnvioDTE con un único DTE: Caratula, Encabezado, Detalle, Referencia y TED.
// Las boletas (39, 41) van en un EnvioBOLETA con la misma estructura interna.
// El XML sale en UTF-8; el cliente lo transcodifica a ISO-8859-1 al subirlo.
func (b *XMLBuilder) Build(doc *entity.TaxDocument, caf *entity.FolioRange) ([]byte, error) {
	if doc == nil || caf == nil {
		return nil, fmt.Errorf("sii: faltan documento o CAF")
	}
	if !caf.Contains(doc.Folio) || caf.DocumentType != doc.DocumentType || caf.IssuerRUT != doc.IssuerRUT {
		return nil, fmt.Errorf("%w: el CAF %d-%d no autoriza el folio %d tipo %d", ErrInvalidCAF, caf.RangeStart, caf.RangeEnd, doc.Folio, doc.DocumentType)
	}
	cafDoc, err := parseCAFXML(caf)
	if err != nil {
		return nil, err
	}
	ts := b.now().Format(timestampLayout)

	x := etree.NewDocument()
	x.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root, schema := EnvelopeFor(doc.DocumentType), schemaLocation
	if root == EnvelopeBoleta {
		schema = schemaLocationBoleta
	}
	envio := x.CreateElement(root)
	envio.CreateAttr("xmlns", NsSiiDte)
	envio.CreateAttr("xmlns:xsi", nsXsi)
	envio.CreateAttr("xsi:schemaLocation", schema)
	envio.CreateAttr("version", "1.0")

	set := envio.CreateElement("SetDTE")
	set.CreateAttr("ID", "SetDoc")

	// ---- Carátula
	car := set.CreateElement("Caratula")
	car.CreateAttr("version", "1.0")
	text(car, "RutEmisor", doc.IssuerRUT)
	text(car, "RutEnvia", b.senderRUT(doc))
	text(car, "RutReceptor", RutSII)
	text(car, "FchResol", b.cfg.ResolutionDate)
	text(car, "NroResol", strconv.Itoa(b.cfg.ResolutionNumber))
	text(car, "TmstFirmaEnv", ts)
	sub := car.CreateElement("SubTotDTE")
	text(sub, "TpoDTE", strconv.Itoa(int(doc.DocumentType)))
	text(sub, "NroDTE", "1")

	dte := set.CreateElement("DTE")
	dte.CreateAttr("version", "1.0")
	documento := dte.CreateElement("Documento")
	documento.CreateAttr("ID", fmt.Sprintf("F%dT%d", doc.Folio, doc.DocumentType))

	// ---- Encabezado
	enc := documento.CreateElement("Encabezado")
	idDoc := enc.CreateElement("IdDoc")
	text(idDoc, "TipoDTE", strconv.Itoa(int(doc.DocumentType)))
	text(idDoc, "Folio", strconv.FormatInt(doc.Folio, 10))
	text(idDoc, "FchEmis", doc.IssueDate.Format(dateLayout))

	emisor := enc.CreateElement("Emisor")
	text(emisor, "RUTEmisor", doc.IssuerRUT)
	text(emisor, "RznSoc", cafCompanyName(cafDoc))

	receptor := enc.CreateElement("Receptor")
	text(receptor, "RUTRecep", doc.ReceiverRUT)
	text(receptor, "RznSocRecep", truncate(doc.ReceiverName, 100))

	tot := enc.CreateElement("Totales")
	if doc.NetAmount.IsPositive() {
		text(tot, "MntNeto", amount(doc.NetAmount))
	}
	if doc.ExemptAmount.IsPositive() {
		text(tot, "MntExe", amount(doc.ExemptAmount))
	}
	if doc.NetAmount.IsPositive() {
		text(tot, "TasaIVA", doc.IVARate.Shift(2).String())
		text(tot, "IVA", amount(doc.TaxAmount))
	}
	text(tot, "MntTotal", amount(doc.TotalAmount))

	// ---- Detalle
	for _, li := range doc.LineItems {
		det := documento.CreateElement("Detalle")
		text(det, "NroLinDet", strconv.Itoa(li.LineNumber))
		if li.TaxExempt {
			text(det, "IndExe", "1")
		}
		text(det, "NmbItem", truncate(li.Description, 80))
		text(det, "QtyItem", li.Quantity.String())
		text(det, "PrcItem", li.UnitPrice.String())
		if li.DiscountPercent.IsPositive() {
			text(det, "DescuentoPct", li.DiscountPercent.String())
		}
		text(det, "MontoItem", amount(li.Amount))
	}

	// ---- Referencia
	for _, ref := range doc.References {
		r := documento.CreateElement("Referencia")
		text(r, "NroLinRef", strconv.Itoa(ref.LineNumber))
		text(r, "TpoDocRef", strconv.Itoa(int(ref.DocumentType)))
		text(r, "FolioRef", strconv.FormatInt(ref.Folio, 10))
		text(r, "FchRef", ref.Date.Format(dateLayout))
		if ref.Code > 0 {
			text(r, "CodRef", strconv.Itoa(ref.Code))
		}
		text(r, "RazonRef", truncate(ref.Reason, 90))
	}

	// ---- TED + TmstFirma
	ted, err := b.ted(doc, cafDoc, ts)
	if err != nil {
		return nil, err
	}
	documento.AddChild(ted)
	text(documento, "TmstFirma", ts)

	x.Indent(2)
	return x.WriteToBytes()
}

// Timbre devuelve el TED serializado, el contenido del código de barras de la representación impresa.
func (b *XMLBuilder) Timbre(doc *entity.TaxDocument, caf *entity.FolioRange) (string, error) {
	cafDoc, err := parseCAFXML(caf)
	if err != nil {
		return "", err
	}
	ted, err := b.ted(doc, cafDoc, b.now().Format(timestampLayout))
	if err != nil {
		return "", err
	}
	x := etree.NewDocument()
	x.SetRoot(ted)
	return x.WriteToString()
}

// ted arma DD con el nodo CAF y lo firma (FRMT) con la llave RSASK del CAF.
// Sin llave en el CAF el FRMT queda vacío, lo que solo acepta el simulador.
func (b *XMLBuilder) ted(doc *entity.TaxDocument, cafDoc *etree.Document, ts string) (*etree.Element, error) {
	cafNode := cafDoc.FindElement("//CAF")
	if cafNode == nil {
		return nil, fmt.Errorf("%w: falta el nodo CAF", ErrInvalidCAF)
	}

	ted := etree.NewElement("TED")
	ted.CreateAttr("version", "1.0")
	dd := ted.CreateElement("DD")
	text(dd, "RE", doc.IssuerRUT)
	text(dd, "TD", strconv.Itoa(int(doc.DocumentType)))
	text(dd, "F", strconv.FormatInt(doc.Folio, 10))
	text(dd, "FE", doc.IssueDate.Format(dateLayout))
	text(dd, "RR", doc.ReceiverRUT)
	text(dd, "RSR", truncate(doc.ReceiverName, 40))
	text(dd, "MNT", amount(doc.TotalAmount))
	it1 := ""
	if len(doc.LineItems) > 0 {
		it1 = doc.LineItems[0].Description
	}
	text(dd, "IT1", truncate(it1, 40))
	dd.AddChild(cafNode.Copy())
	text(dd, "TSTED", ts)

	frmt := ted.CreateElement("FRMT")
	frmt.CreateAttr("algoritmo", "SHA1withRSA")
	if rsask := cafDoc.FindElement("//RSASK"); rsask != nil {
		key, err := parseRSAKey(rsask.Text())
		if err != nil {
			return nil, fmt.Errorf("%w: RSASK: %w", ErrInvalidCAF, err)
		}
		sig, err := signDD(dd, key)
		if err != nil {
			return nil, err
		}
		frmt.SetText(sig)
	}
	return ted, nil
}

// signDD firma el DD serializado sin espacios entre elementos.
func signDD(dd *etree.Element, key *rsa.PrivateKey) (string, error) {
	x := etree.NewDocument()
	x.SetRoot(dd.Copy())
	x.Unindent()
	raw, err := x.WriteToBytes()
	if err != nil {
		return "", err
	}
	h := sha1.Sum(raw)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA1, h[:])
	if err != nil {
		return "", fmt.Errorf("sii: firmar TED: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func parseCAFXML(caf *entity.FolioRange) (*etree.Document, error) {
	if caf == nil || strings.TrimSpace(caf.CAFXML) == "" {
		return nil, fmt.Errorf("%w: el rango no trae XML del CAF", ErrInvalidCAF)
	}
	d := etree.NewDocument()
	if err := d.ReadFromString(caf.CAFXML); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCAF, err)
	}
	return d, nil
}

func cafCompanyName(cafDoc *etree.Document) string {
	if rs := cafDoc.FindElement("//CAF/DA/RS"); rs != nil {
		return strings.TrimSpace(rs.Text())
	}
	return ""
}

func (b *XMLBuilder) senderRUT(doc *entity.TaxDocument) string {
	if b.cfg.SenderRUT != "" {
		return b.cfg.SenderRUT
	}
	return doc.IssuerRUT
}

func text(parent *etree.Element, tag, value string) {
	parent.CreateElement(tag).SetText(value)
}

func amount(d decimal.Decimal) string {
	return d.Round(0).StringFixed(0)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
