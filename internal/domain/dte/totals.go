// Package dte contiene las reglas de dominio de un Documento Tributario Electrónico:
// cálculo de totales desde las líneas y validaciones previas al envío al SII.
package dte

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/sii-dte-api/internal/domain"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/pkg/money"
	"github.com/jhoicas/sii-dte-api/pkg/sii"
)

// Totals montos derivados de las líneas de detalle.
type Totals struct {
	Net    decimal.Decimal
	Exempt decimal.Decimal
	Tax    decimal.Decimal
	Total  decimal.Decimal
}

// ComputeTotals recalcula MontoItem de cada línea y los totales del documento.
// Los valores calculados sobrescriben cualquier total que traiga el documento.
// Tipos exentos (34, 41) fuerzan todas las líneas a exentas; la boleta afecta (39)
// trae precios con IVA incluido y se desglosa con NetFromGross sobre el total afecto.
func ComputeTotals(doc *entity.TaxDocument) (Totals, error) {
	if doc == nil || len(doc.LineItems) == 0 {
		return Totals{}, fmt.Errorf("%w: el documento debe tener al menos una línea", domain.ErrInvalidInput)
	}
	docType := int(doc.DocumentType)
	exemptDoc := sii.IsExemptDocType(docType)

	var affected, exempt decimal.Decimal
	for i := range doc.LineItems {
		li := &doc.LineItems[i]
		li.LineNumber = i + 1
		if exemptDoc {
			li.TaxExempt = true
		}
		amount, err := money.LineTotal(li.Quantity, li.UnitPrice, li.DiscountPercent)
		if err != nil {
			return Totals{}, fmt.Errorf("%w: línea %d: %w", domain.ErrInvalidInput, li.LineNumber, err)
		}
		li.Amount = amount
		if li.TaxExempt {
			exempt = exempt.Add(amount)
		} else {
			affected = affected.Add(amount)
		}
	}

	var t Totals
	t.Exempt = exempt
	if sii.IsGrossPricedDocType(docType) {
		net, tax, err := money.NetFromGross(affected, doc.IVARate)
		if err != nil {
			return Totals{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
		t.Net, t.Tax = net, tax
	} else {
		t.Net = affected
		t.Tax = money.ApplyRate(affected, doc.IVARate)
	}
	t.Total = t.Net.Add(t.Tax).Add(t.Exempt)

	doc.NetAmount = t.Net
	doc.ExemptAmount = t.Exempt
	doc.TaxAmount = t.Tax
	doc.TotalAmount = t.Total
	return t, nil
}

// ValidateTaxpayers verifica los RUT de emisor y receptor. Se ejecuta antes de cualquier
// llamada al SII para no gastar un envío en un documento que será rechazado.
func ValidateTaxpayers(doc *entity.TaxDocument) error {
	var errs []error
	if !sii.ValidateRUT(doc.IssuerRUT) {
		errs = append(errs, fmt.Errorf("RUT emisor %q", doc.IssuerRUT))
	}
	if !sii.ValidateRUT(doc.ReceiverRUT) {
		errs = append(errs, fmt.Errorf("RUT receptor %q", doc.ReceiverRUT))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{domain.ErrInvalidTaxpayer}, errs...)...)
	}
	return nil
}

// ValidateDocument valida la estructura del documento (tipo, fecha, líneas y referencias).
func ValidateDocument(doc *entity.TaxDocument) error {
	if doc == nil {
		return fmt.Errorf("%w: documento nulo", domain.ErrInvalidInput)
	}
	var errs []error
	docType := int(doc.DocumentType)
	if !sii.IsKnownDocType(docType) {
		errs = append(errs, fmt.Errorf("tipo de documento %d no soportado", docType))
	}
	if doc.IssueDate.IsZero() {
		errs = append(errs, errors.New("fecha de emisión requerida"))
	}
	if doc.IVARate.IsNegative() {
		errs = append(errs, fmt.Errorf("tasa de IVA negativa (%s)", doc.IVARate))
	}
	if len(doc.LineItems) == 0 {
		errs = append(errs, errors.New("el documento debe tener al menos una línea"))
	}
	for i, li := range doc.LineItems {
		if strings.TrimSpace(li.Description) == "" {
			errs = append(errs, fmt.Errorf("línea %d: descripción requerida", i+1))
		}
		if !li.Quantity.IsPositive() {
			errs = append(errs, fmt.Errorf("línea %d: la cantidad debe ser mayor que cero", i+1))
		}
		if li.UnitPrice.IsNegative() {
			errs = append(errs, fmt.Errorf("línea %d: precio unitario negativo", i+1))
		}
		if li.DiscountPercent.IsNegative() || li.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
			errs = append(errs, fmt.Errorf("línea %d: descuento fuera de [0,100]", i+1))
		}
	}
	if sii.RequiresReference(docType) && len(doc.References) == 0 {
		errs = append(errs, fmt.Errorf("el tipo %d requiere una referencia al documento que modifica", docType))
	}
	for i, ref := range doc.References {
		if ref.Folio <= 0 {
			errs = append(errs, fmt.Errorf("referencia %d: folio inválido", i+1))
		}
		if sii.RequiresReference(docType) && (ref.Code < sii.RefCodeAnula || ref.Code > sii.RefCodeCorrigeMontos) {
			errs = append(errs, fmt.Errorf("referencia %d: código %d inválido", i+1, ref.Code))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{domain.ErrInvalidInput}, errs...)...)
	}
	return nil
}
