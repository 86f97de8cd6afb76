package dte

import (
	"context"
	"fmt"

	"github.com/jhoicas/sii-dte-api/internal/application/ports"
	"github.com/jhoicas/sii-dte-api/internal/domain"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/internal/domain/repository"
)

// PDFUseCase genera la representación impresa de un DTE con su timbre electrónico.
// Solo para documentos ya enviados (SUBMITTED o ACCEPTED).
type PDFUseCase struct {
	repo      repository.TaxDocumentRepository
	ranges    RangeResolver
	timbre    TimbreBuilder
	generator ports.PDFGenerator
}

// NewPDFUseCase construye el caso de uso.
func NewPDFUseCase(repo repository.TaxDocumentRepository, ranges RangeResolver, timbre TimbreBuilder, generator ports.PDFGenerator) *PDFUseCase {
	return &PDFUseCase{repo: repo, ranges: ranges, timbre: timbre, generator: generator}
}

// Download devuelve el PDF y el nombre de archivo sugerido.
//
// Retorna:
//   - domain.ErrNotFound        si el documento no existe.
//   - domain.ErrInvalidTransition si el documento no fue enviado o fue rechazado.
func (uc *PDFUseCase) Download(ctx context.Context, id string) (pdfBytes []byte, filename string, err error) {
	doc, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("pdf: obtener documento: %w", err)
	}
	if doc == nil {
		return nil, "", domain.ErrNotFound
	}
	if doc.State != entity.StateSubmitted && doc.State != entity.StateAccepted {
		return nil, "", fmt.Errorf("%w: el documento está en %s, solo se imprimen documentos enviados", domain.ErrInvalidTransition, doc.State)
	}

	caf, err := uc.ranges.RangeFor(ctx, doc.IssuerRUT, doc.DocumentType, doc.Folio)
	if err != nil {
		return nil, "", fmt.Errorf("pdf: CAF del folio: %w", err)
	}
	ted, err := uc.timbre.Timbre(doc, caf)
	if err != nil {
		return nil, "", fmt.Errorf("pdf: timbre: %w", err)
	}
	pdfBytes, err = uc.generator.Generate(doc, ted)
	if err != nil {
		return nil, "", fmt.Errorf("pdf: generación fallida: %w", err)
	}
	return pdfBytes, fmt.Sprintf("DTE_%d_%d.pdf", doc.DocumentType, doc.Folio), nil
}
