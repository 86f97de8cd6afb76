package dte

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jhoicas/sii-dte-api/internal/application/dto"
	"github.com/jhoicas/sii-dte-api/internal/application/ports"
	"github.com/jhoicas/sii-dte-api/internal/domain"
	domaindte "github.com/jhoicas/sii-dte-api/internal/domain/dte"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/internal/domain/repository"
	"github.com/jhoicas/sii-dte-api/pkg/keylock"
	"github.com/jhoicas/sii-dte-api/pkg/sii"
)

// SubmissionPipeline orquesta el envío de un DTE al SII:
//
//	RUT → totales → CAF del folio → EnvioDTE XML → firma → upload → TrackID
//
// El folio se asignó al emitir y nunca se vuelve a pedir: un reintento reutiliza el mismo.
// Los envíos de un mismo documento se serializan con un lock por ID, así dos llamadas
// concurrentes no generan dos uploads al SII.
type SubmissionPipeline struct {
	repo    repository.TaxDocumentRepository
	ranges  RangeResolver
	builder ports.PayloadBuilder
	signer  ports.Signer // nil: envío sin firma (simulador dev)
	gateway ports.TaxAuthorityGateway
	locks   *keylock.KeyedMutex
	log     zerolog.Logger
}

// NewSubmissionPipeline construye el pipeline. signer puede ser nil.
func NewSubmissionPipeline(
	repo repository.TaxDocumentRepository,
	ranges RangeResolver,
	builder ports.PayloadBuilder,
	signer ports.Signer,
	gateway ports.TaxAuthorityGateway,
	log zerolog.Logger,
) *SubmissionPipeline {
	return &SubmissionPipeline{
		repo:    repo,
		ranges:  ranges,
		builder: builder,
		signer:  signer,
		gateway: gateway,
		locks:   keylock.New(),
		log:     log,
	}
}

// Submit envía el documento al SII.
//
//   - SUBMITTED o ACCEPTED: no hace nada y devuelve el estado guardado (mismo TrackID).
//   - REJECTED: domain.ErrInvalidTransition; hay que emitir un documento nuevo.
//   - ERROR: reintento implícito (ERROR → DRAFT → SUBMITTED) con el mismo folio.
//   - Falla de transporte o rechazo de la solicitud: ERROR, sin TrackID, folio intacto.
//   - Contexto cancelado o vencido: ninguna transición; el documento queda como estaba.
func (p *SubmissionPipeline) Submit(ctx context.Context, id string) (*dto.DocumentResponse, error) {
	if err := p.locks.Lock(ctx, id); err != nil {
		return nil, err
	}
	defer p.locks.Unlock(id)

	doc, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("submit: obtener documento: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}

	logger := p.log.With().Str("document_id", doc.ID).Int64("folio", doc.Folio).Logger()

	from := doc.State
	switch from {
	case entity.StateSubmitted, entity.StateAccepted:
		logger.Debug().Str("state", string(from)).Msg("documento ya enviado, sin reenvío")
		return ToDocumentResponse(doc), nil
	case entity.StateRejected:
		return nil, fmt.Errorf("%w: %w, emitir un documento nuevo", domain.ErrInvalidTransition, domain.ErrAuthorityRejected)
	case entity.StateError:
		// Reintento implícito: el documento vuelve a DRAFT antes de enviarse.
		logger.Info().Int("attempts", doc.SubmissionAttempts).Msg("reintentando envío de documento en ERROR")
	case entity.StateDraft:
	default:
		return nil, fmt.Errorf("%w: estado %q", domain.ErrInvalidTransition, from)
	}

	// ── 1. Contribuyentes: se valida antes de cualquier llamada al SII ─────
	if err := domaindte.ValidateTaxpayers(doc); err != nil {
		return nil, err
	}

	// ── 2. Totales: los calculados sobrescriben lo guardado ────────────────
	if _, err := domaindte.ComputeTotals(doc); err != nil {
		return nil, err
	}

	// ── 3. Folio ya asignado y su CAF ──────────────────────────────────────
	if doc.Folio <= 0 {
		return nil, fmt.Errorf("%w: el documento no tiene folio asignado", domain.ErrInvalidInput)
	}
	caf, err := p.ranges.RangeFor(ctx, doc.IssuerRUT, doc.DocumentType, doc.Folio)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, p.markError(ctx, doc, from, "caf", err)
	}

	// ── 4. Payload y firma ────────────────────────────────────────────────
	xmlBytes, err := p.builder.Build(doc, caf)
	if err != nil {
		return nil, p.markError(ctx, doc, from, "xml-build", err)
	}
	if p.signer != nil {
		if xmlBytes, err = p.signer.Sign(xmlBytes); err != nil {
			return nil, p.markError(ctx, doc, from, "xml-sign", err)
		}
	}

	// ── 5. Upload al SII ──────────────────────────────────────────────────
	res, err := p.gateway.SubmitDocument(ctx, &ports.Payload{
		DocumentID: doc.ID,
		IssuerRUT:  doc.IssuerRUT,
		FileName:   fmt.Sprintf("%s_%d_%d.xml", envelopeName(doc.DocumentType), doc.DocumentType, doc.Folio),
		XML:        xmlBytes,
	})
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn().Err(ctx.Err()).Msg("envío cancelado por el llamador, estado sin cambios")
			return nil, fmt.Errorf("submit: %w", ctx.Err())
		}
		return nil, p.markError(ctx, doc, from, "upload", err)
	}
	if res == nil || res.TrackID == "" {
		return nil, p.markError(ctx, doc, from, "upload", fmt.Errorf("%w: respuesta sin TrackID", domain.ErrRequestRejected))
	}

	// ── 6. DRAFT → SUBMITTED con TrackID ──────────────────────────────────
	// El SII ya tiene el envío: se persiste aunque el llamador haya cancelado,
	// para no perder el TrackID y no duplicar el upload en el próximo intento.
	doc.State = entity.StateSubmitted
	doc.TrackID = res.TrackID
	doc.AuthorityMessage = res.Message
	doc.SubmissionAttempts++
	ok, err := p.repo.CompareAndSwap(context.WithoutCancel(ctx), doc, from)
	if err != nil {
		return nil, fmt.Errorf("submit: persistir SUBMITTED: %w", err)
	}
	if !ok {
		logger.Error().Str("track_id", res.TrackID).Msg("el estado cambió durante el envío")
		return nil, fmt.Errorf("%w: el documento cambió de estado durante el envío (TrackID %s)", domain.ErrConflict, res.TrackID)
	}

	logger.Info().Str("track_id", doc.TrackID).Str("state", string(doc.State)).Msg("documento enviado al SII")
	return ToDocumentResponse(doc), nil
}

// markError deja el documento en ERROR sin TrackID y con el folio intacto, y devuelve
// el error original envuelto con el paso que falló.
func (p *SubmissionPipeline) markError(ctx context.Context, doc *entity.TaxDocument, from entity.LifecycleState, step string, cause error) error {
	doc.State = entity.StateError
	doc.TrackID = ""
	doc.AuthorityMessage = fmt.Sprintf("%s: %v", step, cause)
	doc.SubmissionAttempts++
	ok, err := p.repo.CompareAndSwap(ctx, doc, from)
	switch {
	case err != nil:
		p.log.Error().Err(err).Str("document_id", doc.ID).Msg("no se pudo persistir ERROR")
	case !ok:
		p.log.Warn().Str("document_id", doc.ID).Msg("el estado cambió antes de persistir ERROR")
	}
	p.log.Error().Err(cause).Str("document_id", doc.ID).Int64("folio", doc.Folio).Str("step", step).Msg("envío fallido")
	return fmt.Errorf("submit %s: %w", step, cause)
}

// Retry devuelve a DRAFT un documento en ERROR, conservando folio y totales.
func (p *SubmissionPipeline) Retry(ctx context.Context, id string) (*dto.DocumentResponse, error) {
	if err := p.locks.Lock(ctx, id); err != nil {
		return nil, err
	}
	defer p.locks.Unlock(id)

	doc, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("retry: obtener documento: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	if !doc.State.CanTransition(entity.StateDraft) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, doc.State, entity.StateDraft)
	}
	doc.State = entity.StateDraft
	doc.TrackID = ""
	ok, err := p.repo.CompareAndSwap(ctx, doc, entity.StateError)
	if err != nil {
		return nil, fmt.Errorf("retry: %w", err)
	}
	if !ok {
		return nil, domain.ErrConflict
	}
	p.log.Info().Str("document_id", doc.ID).Int64("folio", doc.Folio).Msg("documento devuelto a DRAFT")
	return ToDocumentResponse(doc), nil
}

func envelopeName(docType entity.DocumentType) string {
	if sii.IsBoletaDocType(int(docType)) {
		return "EnvioBOLETA"
	}
	return "EnvioDTE"
}
