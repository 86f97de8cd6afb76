package dto

// FolioRangeResponse CAF en respuestas.
type FolioRangeResponse struct {
	ID           string `json:"id"`
	IssuerRUT    string `json:"issuer_rut"`
	DocumentType int    `json:"document_type"`
	RangeStart   int64  `json:"range_start"`
	RangeEnd     int64  `json:"range_end"`
	AuthorizedAt string `json:"authorized_at,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
	Expired      bool   `json:"expired"`
}

// FolioStatusResponse disponibilidad de folios para (emisor, tipo).
type FolioStatusResponse struct {
	IssuerRUT    string               `json:"issuer_rut"`
	DocumentType int                  `json:"document_type"`
	Available    int64                `json:"available"`
	NextFolio    int64                `json:"next_folio,omitempty"`
	LowStock     bool                 `json:"low_stock"`
	Ranges       []FolioRangeUsageDTO `json:"ranges"`
}

// FolioRangeUsageDTO uso de un CAF vigente.
type FolioRangeUsageDTO struct {
	RangeStart int64  `json:"range_start"`
	RangeEnd   int64  `json:"range_end"`
	Used       int64  `json:"used"`
	Available  int64  `json:"available"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}
