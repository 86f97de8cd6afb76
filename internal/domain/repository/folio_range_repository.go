package repository

import (
	"context"

	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
)

// FolioRangeRepository define el puerto de persistencia para CAF.
type FolioRangeRepository interface {
	// Upsert inserta el CAF o actualiza vencimiento y XML si ya existe (emisor, tipo, folio inicial).
	Upsert(ctx context.Context, r *entity.FolioRange) error
	// ListByIssuerAndType devuelve todos los CAF del emisor y tipo, ordenados por RangeStart.
	ListByIssuerAndType(ctx context.Context, issuerRUT string, docType entity.DocumentType) ([]*entity.FolioRange, error)
}
