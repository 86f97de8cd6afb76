package dte

import (
	"context"

	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
)

// FolioAssigner asigna un folio y persiste el documento bajo el mismo lock (folio.Authority).
type FolioAssigner interface {
	Assign(ctx context.Context, issuerRUT string, docType entity.DocumentType, persist func(folio int64) error) (int64, error)
}

// RangeResolver encuentra el CAF que autoriza un folio (folio.Authority).
type RangeResolver interface {
	RangeFor(ctx context.Context, issuerRUT string, docType entity.DocumentType, folio int64) (*entity.FolioRange, error)
}

// TimbreBuilder arma el timbre electrónico (TED) que se imprime en la representación impresa.
type TimbreBuilder interface {
	Timbre(doc *entity.TaxDocument, caf *entity.FolioRange) (string, error)
}
