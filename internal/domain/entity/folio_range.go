package entity

import "time"

// FolioRange representa un CAF (Código de Autorización de Folios) emitido por el SII.
// Autoriza los folios [RangeStart, RangeEnd] para un emisor y tipo de documento.
// Un rango vencido no se usa aunque le queden folios.
type FolioRange struct {
	ID           string
	IssuerRUT    string
	DocumentType DocumentType
	RangeStart   int64     // Folio inicial autorizado (inclusive)
	RangeEnd     int64     // Folio final autorizado (inclusive)
	AuthorizedAt time.Time // Fecha de autorización (FA)
	ExpiresAt    time.Time
	CAFXML       string // XML <AUTORIZACION> en UTF-8: nodo <CAF> para el TED y llave RSASK para firmarlo
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Contains indica si el folio cae dentro del rango.
func (r *FolioRange) Contains(folio int64) bool {
	return folio >= r.RangeStart && folio <= r.RangeEnd
}

// Expired indica si el rango ya no es utilizable en el instante dado.
func (r *FolioRange) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Size cantidad de folios autorizados.
func (r *FolioRange) Size() int64 {
	return r.RangeEnd - r.RangeStart + 1
}

// Valid verifica la forma del rango.
func (r *FolioRange) Valid() bool {
	return r.RangeStart > 0 && r.RangeStart <= r.RangeEnd
}
