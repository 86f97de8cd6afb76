// Package sii contiene catálogos y validaciones alineados a la normativa de
// Documentos Tributarios Electrónicos del Servicio de Impuestos Internos (Chile).
package sii

// =============================================================================
// Tipos de DTE (Formato DTE SII - campo TipoDTE)
// =============================================================================

const (
	DocTypeFactura       = 33 // Factura electrónica
	DocTypeFacturaExenta = 34 // Factura no afecta o exenta electrónica
	DocTypeBoleta        = 39 // Boleta electrónica
	DocTypeBoletaExenta  = 41 // Boleta exenta electrónica
	DocTypeFacturaCompra = 46 // Factura de compra electrónica
	DocTypeGuiaDespacho  = 52 // Guía de despacho electrónica
	DocTypeNotaDebito    = 56 // Nota de débito electrónica
	DocTypeNotaCredito   = 61 // Nota de crédito electrónica
)

// DocTypeNames glosas usadas en la representación impresa.
var DocTypeNames = map[int]string{
	DocTypeFactura:       "FACTURA ELECTRÓNICA",
	DocTypeFacturaExenta: "FACTURA NO AFECTA O EXENTA ELECTRÓNICA",
	DocTypeBoleta:        "BOLETA ELECTRÓNICA",
	DocTypeBoletaExenta:  "BOLETA EXENTA ELECTRÓNICA",
	DocTypeFacturaCompra: "FACTURA DE COMPRA ELECTRÓNICA",
	DocTypeGuiaDespacho:  "GUÍA DE DESPACHO ELECTRÓNICA",
	DocTypeNotaDebito:    "NOTA DE DÉBITO ELECTRÓNICA",
	DocTypeNotaCredito:   "NOTA DE CRÉDITO ELECTRÓNICA",
}

// =============================================================================
// Códigos de referencia (campo CodRef, notas de crédito y débito)
// =============================================================================

const (
	RefCodeAnula         = 1 // Anula documento de referencia
	RefCodeCorrigeTexto  = 2 // Corrige texto del documento de referencia
	RefCodeCorrigeMontos = 3 // Corrige montos
)

// =============================================================================
// Estados de envío (QueryEstUp) devueltos por el SII para un TrackID
// =============================================================================

const (
	UploadStatusEPR = "EPR" // Envío procesado
	UploadStatusRCH = "RCH" // DTE rechazado
	UploadStatusRCT = "RCT" // Rechazado por error en carátula
	UploadStatusRFR = "RFR" // Rechazado por error en firma
	UploadStatusRCO = "RCO" // Rechazado por consistencia
	UploadStatusRSC = "RSC" // Rechazado por error en schema
	UploadStatusRPR = "RPR" // Aceptado con reparos
	UploadStatusREC = "REC" // Envío recibido
	UploadStatusSOK = "SOK" // Schema validado
	UploadStatusCRT = "CRT" // Carátula OK
	UploadStatusFOK = "FOK" // Firma de envío validada
	UploadStatusPRD = "PRD" // Envío en proceso
)

// RejectedUploadStatuses estados terminales de rechazo.
var RejectedUploadStatuses = map[string]bool{
	UploadStatusRCH: true,
	UploadStatusRCT: true,
	UploadStatusRFR: true,
	UploadStatusRCO: true,
	UploadStatusRSC: true,
}

// AcceptedUploadStatuses estados terminales de aceptación. EPR no figura: un envío
// procesado se acepta o rechaza según los contadores de su detalle.
var AcceptedUploadStatuses = map[string]bool{
	UploadStatusRPR: true,
}

// UploadCounts contadores del detalle de un envío EPR, sumados sobre todos los tipos de documento.
type UploadCounts struct {
	Informed int
	Accepted int
	Rejected int
	Repairs  int
}

// Rejects indica si el SII rechazó algún documento del envío.
func (c UploadCounts) Rejects() bool { return c.Rejected > 0 }

// IsExemptDocType indica si el tipo de documento es íntegramente exento de IVA.
func IsExemptDocType(docType int) bool {
	return docType == DocTypeFacturaExenta || docType == DocTypeBoletaExenta
}

// IsGrossPricedDocType indica si los precios de línea incluyen IVA (boletas afectas).
func IsGrossPricedDocType(docType int) bool {
	return docType == DocTypeBoleta
}

// RequiresReference indica si el documento debe referenciar a otro (notas).
func RequiresReference(docType int) bool {
	return docType == DocTypeNotaCredito || docType == DocTypeNotaDebito
}

// IsKnownDocType valida el código contra el catálogo.
func IsKnownDocType(docType int) bool {
	_, ok := DocTypeNames[docType]
	return ok
}

// IsBoletaDocType boletas afectas y exentas; sus CAF no vencen.
func IsBoletaDocType(docType int) bool {
	return docType == DocTypeBoleta || docType == DocTypeBoletaExenta
}
