package dte

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/sii-dte-api/internal/application/dto"
	"github.com/jhoicas/sii-dte-api/internal/application/ports"
	"github.com/jhoicas/sii-dte-api/internal/domain"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/internal/domain/repository"
)

// StateTracker consulta al SII el estado de los envíos y lleva el documento a su estado
// terminal. No agenda nada: la cadencia de consulta la decide quien llama.
type StateTracker struct {
	repo        repository.TaxDocumentRepository
	gateway     ports.TaxAuthorityGateway
	concurrency int
	log         zerolog.Logger
}

// NewStateTracker construye el tracker. concurrency acota las consultas simultáneas en PollPending.
func NewStateTracker(repo repository.TaxDocumentRepository, gateway ports.TaxAuthorityGateway, concurrency int, log zerolog.Logger) *StateTracker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &StateTracker{repo: repo, gateway: gateway, concurrency: concurrency, log: log}
}

// Poll consulta el estado de un TrackID. ACCEPTED y REJECTED son terminales: un documento
// en esos estados se responde desde la base sin consultar al SII. PROCESSING no cambia
// nada y marca PollAgain.
func (t *StateTracker) Poll(ctx context.Context, trackID string) (*dto.PollResult, error) {
	doc, err := t.repo.GetByTrackID(ctx, trackID)
	if err != nil {
		return nil, fmt.Errorf("poll: obtener documento: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	return t.poll(ctx, doc)
}

func (t *StateTracker) poll(ctx context.Context, doc *entity.TaxDocument) (*dto.PollResult, error) {
	result := &dto.PollResult{DocumentID: doc.ID, TrackID: doc.TrackID, State: string(doc.State), Message: doc.AuthorityMessage}
	if doc.State.IsTerminal() {
		return result, nil
	}
	if doc.State != entity.StateSubmitted {
		return nil, fmt.Errorf("%w: el documento está en %s", domain.ErrInvalidTransition, doc.State)
	}

	st, err := t.gateway.QueryStatus(ctx, doc.IssuerRUT, doc.TrackID)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", doc.TrackID, err)
	}
	result.Code = st.Code
	result.Message = st.Message

	var next entity.LifecycleState
	switch st.Status {
	case ports.AuthorityAccepted:
		next = entity.StateAccepted
	case ports.AuthorityRejected:
		next = entity.StateRejected
	default:
		result.PollAgain = true
		return result, nil
	}

	doc.State = next
	doc.AuthorityMessage = statusMessage(st)
	ok, err := t.repo.CompareAndSwap(ctx, doc, entity.StateSubmitted)
	if err != nil {
		return nil, fmt.Errorf("poll: persistir %s: %w", next, err)
	}
	if !ok {
		// Otra consulta llegó antes; lo guardado manda.
		cur, err := t.repo.GetByID(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("poll: releer documento: %w", err)
		}
		if cur == nil {
			return nil, fmt.Errorf("poll: releer documento %s: %w", doc.ID, domain.ErrNotFound)
		}
		result.State = string(cur.State)
		result.Message = cur.AuthorityMessage
		return result, nil
	}

	result.State = string(next)
	t.log.Info().Str("document_id", doc.ID).Str("track_id", doc.TrackID).Str("state", string(next)).
		Str("code", st.Code).Msg("estado final informado por el SII")
	return result, nil
}

func statusMessage(st *ports.StatusResult) string {
	if st.Code == "" {
		return st.Message
	}
	if st.Message == "" {
		return st.Code
	}
	return st.Code + ": " + st.Message
}

// PollPending consulta hasta limit documentos SUBMITTED con concurrencia acotada.
// Un error en un documento no detiene al resto; se cuenta en Failed.
func (t *StateTracker) PollPending(ctx context.Context, limit int) (*dto.PollBatchResult, error) {
	docs, err := t.repo.ListByState(ctx, entity.StateSubmitted, limit)
	if err != nil {
		return nil, fmt.Errorf("listar documentos enviados: %w", err)
	}

	out := &dto.PollBatchResult{Results: []dto.PollResult{}}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			res, err := t.poll(gctx, doc)
			mu.Lock()
			defer mu.Unlock()
			out.Checked++
			if err != nil {
				out.Failed++
				t.log.Warn().Err(err).Str("document_id", doc.ID).Str("track_id", doc.TrackID).Msg("consulta de estado fallida")
				return nil
			}
			switch {
			case res.PollAgain:
				out.Pending++
			case res.State == string(entity.StateAccepted):
				out.Accepted++
			case res.State == string(entity.StateRejected):
				out.Rejected++
			}
			out.Results = append(out.Results, *res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	return out, nil
}
