package repository

import (
	"context"
	"time"

	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
)

// TaxDocumentRepository define el puerto de persistencia para DTE.
// GetByID y GetByTrackID devuelven nil, nil si no existe.
type TaxDocumentRepository interface {
	// Create persiste un documento nuevo con sus líneas y referencias.
	// Devuelve domain.ErrDuplicate si el folio ya existe para (emisor, tipo).
	Create(ctx context.Context, doc *entity.TaxDocument) error
	GetByID(ctx context.Context, id string) (*entity.TaxDocument, error)
	GetByTrackID(ctx context.Context, trackID string) (*entity.TaxDocument, error)

	// CompareAndSwap actualiza estado, TrackID, totales, glosa e intentos solo si el estado
	// persistido sigue siendo expected. Devuelve false si otro proceso ganó la carrera.
	CompareAndSwap(ctx context.Context, doc *entity.TaxDocument, expected entity.LifecycleState) (bool, error)

	// AssignedFolios folios ya usados por documentos del emisor y tipo dentro de [from, to], ascendentes.
	AssignedFolios(ctx context.Context, issuerRUT string, docType entity.DocumentType, from, to int64) ([]int64, error)

	ListByState(ctx context.Context, state entity.LifecycleState, limit int) ([]*entity.TaxDocument, error)
	ListByIssuer(ctx context.Context, issuerRUT string, limit, offset int) ([]*entity.TaxDocument, error)
	// ListByPeriod documentos del emisor con fecha de emisión en [from, to).
	ListByPeriod(ctx context.Context, issuerRUT string, from, to time.Time) ([]*entity.TaxDocument, error)
}
