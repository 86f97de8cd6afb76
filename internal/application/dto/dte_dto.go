package dto

import "github.com/shopspring/decimal"

// IssueDocumentRequest body para POST /api/documents.
// Los totales no se reciben: se calculan desde las líneas.
type IssueDocumentRequest struct {
	DocumentType int                `json:"document_type"`
	IssuerRUT    string             `json:"issuer_rut"`
	ReceiverRUT  string             `json:"receiver_rut"`
	ReceiverName string             `json:"receiver_name,omitempty"`
	IssueDate    string             `json:"issue_date"` // YYYY-MM-DD
	Items        []LineItemRequest  `json:"items"`
	References   []ReferenceRequest `json:"references,omitempty"`
}

// LineItemRequest línea de detalle.
type LineItemRequest struct {
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	TaxExempt       bool            `json:"tax_exempt"`
}

// ReferenceRequest referencia a otro documento (notas de crédito y débito).
type ReferenceRequest struct {
	DocumentType int    `json:"document_type"`
	Folio        int64  `json:"folio"`
	Date         string `json:"date"`
	Code         int    `json:"code"`
	Reason       string `json:"reason"`
}

// DocumentResponse DTE para GET /api/documents/:id.
type DocumentResponse struct {
	ID                 string              `json:"id"`
	DocumentType       int                 `json:"document_type"`
	DocumentTypeName   string              `json:"document_type_name"`
	Folio              int64               `json:"folio"`
	IssuerRUT          string              `json:"issuer_rut"`
	ReceiverRUT        string              `json:"receiver_rut"`
	ReceiverName       string              `json:"receiver_name,omitempty"`
	IssueDate          string              `json:"issue_date"`
	NetAmount          decimal.Decimal     `json:"net_amount"`
	ExemptAmount       decimal.Decimal     `json:"exempt_amount"`
	TaxAmount          decimal.Decimal     `json:"tax_amount"`
	TotalAmount        decimal.Decimal     `json:"total_amount"`
	State              string              `json:"state"`
	TrackID            string              `json:"track_id,omitempty"`
	AuthorityMessage   string              `json:"authority_message,omitempty"`
	SubmissionAttempts int                 `json:"submission_attempts"`
	Items              []LineItemResponse  `json:"items"`
	References         []ReferenceResponse `json:"references,omitempty"`
}

// LineItemResponse línea de detalle con su monto calculado.
type LineItemResponse struct {
	LineNumber      int             `json:"line_number"`
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	TaxExempt       bool            `json:"tax_exempt"`
	Amount          decimal.Decimal `json:"amount"`
}

// ReferenceResponse referencia en la respuesta.
type ReferenceResponse struct {
	DocumentType int    `json:"document_type"`
	Folio        int64  `json:"folio"`
	Date         string `json:"date"`
	Code         int    `json:"code"`
	Reason       string `json:"reason"`
}

// PollResult respuesta ligera de GET /api/documents/track/:track_id/status.
// PollAgain indica que el SII aún procesa el envío y el llamador debe consultar más tarde.
type PollResult struct {
	DocumentID string `json:"document_id"`
	TrackID    string `json:"track_id"`
	State      string `json:"state"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	PollAgain  bool   `json:"poll_again"`
}

// PollBatchResult resumen de una pasada sobre los documentos SUBMITTED.
type PollBatchResult struct {
	Checked  int          `json:"checked"`
	Accepted int          `json:"accepted"`
	Rejected int          `json:"rejected"`
	Pending  int          `json:"pending"`
	Failed   int          `json:"failed"`
	Results  []PollResult `json:"results"`
}
