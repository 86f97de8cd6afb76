package dte

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/sii-dte-api/internal/application/dto"
	"github.com/jhoicas/sii-dte-api/internal/domain"
	domaindte "github.com/jhoicas/sii-dte-api/internal/domain/dte"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/internal/domain/repository"
	"github.com/jhoicas/sii-dte-api/pkg/sii"
)

// IssueDocumentUseCase crea DTE en DRAFT con totales calculados y folio asignado.
type IssueDocumentUseCase struct {
	repo    repository.TaxDocumentRepository
	folios  FolioAssigner
	ivaRate decimal.Decimal
	log     zerolog.Logger
}

// NewIssueDocumentUseCase construye el caso de uso.
func NewIssueDocumentUseCase(
	repo repository.TaxDocumentRepository,
	folios FolioAssigner,
	ivaRate decimal.Decimal,
	log zerolog.Logger,
) *IssueDocumentUseCase {
	return &IssueDocumentUseCase{repo: repo, folios: folios, ivaRate: ivaRate, log: log}
}

// Issue valida el documento, calcula los totales y lo persiste con el siguiente folio.
// Los RUT se validan antes de pedir folio: un contribuyente inválido no gasta folios.
func (uc *IssueDocumentUseCase) Issue(ctx context.Context, in dto.IssueDocumentRequest) (*dto.DocumentResponse, error) {
	doc, err := uc.fromRequest(in)
	if err != nil {
		return nil, err
	}
	if err := domaindte.ValidateTaxpayers(doc); err != nil {
		return nil, err
	}
	if err := domaindte.ValidateDocument(doc); err != nil {
		return nil, err
	}
	if _, err := domaindte.ComputeTotals(doc); err != nil {
		return nil, err
	}

	_, err = uc.folios.Assign(ctx, doc.IssuerRUT, doc.DocumentType, func(folio int64) error {
		doc.ID = uuid.New().String()
		doc.Folio = folio
		return uc.repo.Create(ctx, doc)
	})
	if err != nil {
		return nil, fmt.Errorf("emitir documento: %w", err)
	}

	uc.log.Info().
		Str("document_id", doc.ID).
		Int("document_type", int(doc.DocumentType)).
		Int64("folio", doc.Folio).
		Str("issuer", doc.IssuerRUT).
		Str("total", doc.TotalAmount.String()).
		Msg("documento emitido")
	return ToDocumentResponse(doc), nil
}

// Get devuelve un documento por ID.
func (uc *IssueDocumentUseCase) Get(ctx context.Context, id string) (*dto.DocumentResponse, error) {
	doc, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("obtener documento: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	return ToDocumentResponse(doc), nil
}

// ListByIssuer lista documentos de un emisor con paginación.
func (uc *IssueDocumentUseCase) ListByIssuer(ctx context.Context, issuerRUT string, page dto.PageRequest) ([]*dto.DocumentResponse, error) {
	page.DefaultPage()
	rut, err := sii.NormalizeRUT(issuerRUT)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	docs, err := uc.repo.ListByIssuer(ctx, rut, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("listar documentos: %w", err)
	}
	out := make([]*dto.DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, ToDocumentResponse(d))
	}
	return out, nil
}

func (uc *IssueDocumentUseCase) fromRequest(in dto.IssueDocumentRequest) (*entity.TaxDocument, error) {
	issuer, err := sii.NormalizeRUT(in.IssuerRUT)
	if err != nil {
		return nil, fmt.Errorf("%w: RUT emisor %q", domain.ErrInvalidTaxpayer, in.IssuerRUT)
	}
	receiver, err := sii.NormalizeRUT(in.ReceiverRUT)
	if err != nil {
		return nil, fmt.Errorf("%w: RUT receptor %q", domain.ErrInvalidTaxpayer, in.ReceiverRUT)
	}
	issueDate, err := time.Parse(dateLayout, strings.TrimSpace(in.IssueDate))
	if err != nil {
		return nil, fmt.Errorf("%w: fecha de emisión %q (usar YYYY-MM-DD)", domain.ErrInvalidInput, in.IssueDate)
	}

	doc := &entity.TaxDocument{
		DocumentType: entity.DocumentType(in.DocumentType),
		IssuerRUT:    issuer,
		ReceiverRUT:  receiver,
		ReceiverName: strings.TrimSpace(in.ReceiverName),
		IssueDate:    issueDate,
		IVARate:      uc.ivaRate,
		State:        entity.StateDraft,
	}
	for _, it := range in.Items {
		doc.LineItems = append(doc.LineItems, entity.LineItem{
			Description:     strings.TrimSpace(it.Description),
			Quantity:        it.Quantity,
			UnitPrice:       it.UnitPrice,
			DiscountPercent: it.DiscountPercent,
			TaxExempt:       it.TaxExempt,
		})
	}
	for i, ref := range in.References {
		refDate, err := time.Parse(dateLayout, strings.TrimSpace(ref.Date))
		if err != nil {
			return nil, fmt.Errorf("%w: fecha de referencia %q", domain.ErrInvalidInput, ref.Date)
		}
		doc.References = append(doc.References, entity.Reference{
			LineNumber:   i + 1,
			DocumentType: entity.DocumentType(ref.DocumentType),
			Folio:        ref.Folio,
			Date:         refDate,
			Code:         ref.Code,
			Reason:       strings.TrimSpace(ref.Reason),
		})
	}
	return doc, nil
}
