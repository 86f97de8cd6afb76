package ports

import (
	"context"

	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
)

// AuthorityStatus estado de un envío informado por el SII.
type AuthorityStatus string

const (
	AuthorityProcessing AuthorityStatus = "PROCESSING"
	AuthorityAccepted   AuthorityStatus = "ACCEPTED"
	AuthorityRejected   AuthorityStatus = "REJECTED"
)

// Payload envío listo para el SII (EnvioDTE firmado o sin firmar).
type Payload struct {
	DocumentID string
	IssuerRUT  string
	FileName   string
	XML        []byte
}

// SubmitResult respuesta del SII a un upload aceptado.
type SubmitResult struct {
	TrackID string
	Message string
}

// StatusResult respuesta del SII a una consulta de estado.
type StatusResult struct {
	Status  AuthorityStatus
	Code    string // EPR, RCH, RPR, REC, ...
	Message string
}

// TaxAuthorityGateway define el puerto de salida hacia el SII.
// Cualquier adaptador (cliente HTTP real, simulador dev, fake de tests) implementa este contrato.
//
// Errores: fallas de transporte envuelven domain.ErrGatewayUnavailable; el rechazo de la
// solicitud en sí (no del contenido tributario) envuelve domain.ErrRequestRejected.
// Las respuestas pueden llegar con latencia o fuera de orden.
type TaxAuthorityGateway interface {
	// FetchCAF devuelve los CAF vigentes del emisor para el tipo de documento.
	FetchCAF(ctx context.Context, issuerRUT string, docType entity.DocumentType) ([]*entity.FolioRange, error)
	// SubmitDocument sube el envío y devuelve el TrackID asignado.
	SubmitDocument(ctx context.Context, payload *Payload) (*SubmitResult, error)
	// QueryStatus consulta el estado de un envío por TrackID.
	QueryStatus(ctx context.Context, issuerRUT, trackID string) (*StatusResult, error)
}

// PayloadBuilder construye el XML del envío para un documento y el CAF que autoriza su folio.
type PayloadBuilder interface {
	Build(doc *entity.TaxDocument, caf *entity.FolioRange) ([]byte, error)
}

// Signer firma el XML del envío. nil significa enviar sin firma (solo simulador).
type Signer interface {
	Sign(xmlBytes []byte) ([]byte, error)
}

// PDFGenerator genera la representación impresa de un DTE.
type PDFGenerator interface {
	Generate(doc *entity.TaxDocument, timbre string) ([]byte, error)
}
