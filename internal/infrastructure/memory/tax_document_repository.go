// Package memory implementa los repositorios en memoria (APP_STORAGE=memory y tests).
// Cumplen el mismo contrato que los de PostgreSQL, incluido el compare-and-swap de estado.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/sii-dte-api/internal/domain"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/internal/domain/repository"
)

var _ repository.TaxDocumentRepository = (*TaxDocumentRepo)(nil)

// TaxDocumentRepo repositorio de DTE protegido por RWMutex.
type TaxDocumentRepo struct {
	mu    sync.RWMutex
	docs  map[string]*entity.TaxDocument
	folio map[string]string // issuer|type|folio -> id
}

// NewTaxDocumentRepository crea el repositorio vacío.
func NewTaxDocumentRepository() *TaxDocumentRepo {
	return &TaxDocumentRepo{
		docs:  make(map[string]*entity.TaxDocument),
		folio: make(map[string]string),
	}
}

func folioKey(issuer string, docType entity.DocumentType, folio int64) string {
	return fmt.Sprintf("%s|%d|%d", issuer, docType, folio)
}

func (r *TaxDocumentRepo) Create(_ context.Context, doc *entity.TaxDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if _, ok := r.docs[doc.ID]; ok {
		return fmt.Errorf("%w: documento %s", domain.ErrDuplicate, doc.ID)
	}
	fk := folioKey(doc.IssuerRUT, doc.DocumentType, doc.Folio)
	if _, ok := r.folio[fk]; ok {
		return fmt.Errorf("%w: folio %d ya usado", domain.ErrDuplicate, doc.Folio)
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	r.docs[doc.ID] = doc.Clone()
	r.folio[fk] = doc.ID
	return nil
}

func (r *TaxDocumentRepo) GetByID(_ context.Context, id string) (*entity.TaxDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.docs[id].Clone(), nil
}

func (r *TaxDocumentRepo) GetByTrackID(_ context.Context, trackID string) (*entity.TaxDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.docs {
		if trackID != "" && d.TrackID == trackID {
			return d.Clone(), nil
		}
	}
	return nil, nil
}

// CompareAndSwap reemplaza los campos mutables solo si el estado guardado es expected.
// Folio, tipo, emisor y fecha no se tocan: son inmutables.
func (r *TaxDocumentRepo) CompareAndSwap(_ context.Context, doc *entity.TaxDocument, expected entity.LifecycleState) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.docs[doc.ID]
	if !ok {
		return false, fmt.Errorf("%w: documento %s", domain.ErrNotFound, doc.ID)
	}
	if cur.State != expected {
		return false, nil
	}
	next := cur.Clone()
	next.State = doc.State
	next.TrackID = doc.TrackID
	next.AuthorityMessage = doc.AuthorityMessage
	next.SubmissionAttempts = doc.SubmissionAttempts
	next.LineItems = append([]entity.LineItem(nil), doc.LineItems...)
	next.NetAmount = doc.NetAmount
	next.ExemptAmount = doc.ExemptAmount
	next.TaxAmount = doc.TaxAmount
	next.TotalAmount = doc.TotalAmount
	next.UpdatedAt = time.Now()
	r.docs[doc.ID] = next
	doc.UpdatedAt = next.UpdatedAt
	return true, nil
}

func (r *TaxDocumentRepo) AssignedFolios(_ context.Context, issuerRUT string, docType entity.DocumentType, from, to int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []int64
	for _, d := range r.docs {
		if d.IssuerRUT == issuerRUT && d.DocumentType == docType && d.Folio >= from && d.Folio <= to {
			out = append(out, d.Folio)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *TaxDocumentRepo) ListByState(_ context.Context, state entity.LifecycleState, limit int) ([]*entity.TaxDocument, error) {
	return r.list(func(d *entity.TaxDocument) bool { return d.State == state }, limit, 0), nil
}

func (r *TaxDocumentRepo) ListByIssuer(_ context.Context, issuerRUT string, limit, offset int) ([]*entity.TaxDocument, error) {
	return r.list(func(d *entity.TaxDocument) bool { return d.IssuerRUT == issuerRUT }, limit, offset), nil
}

func (r *TaxDocumentRepo) ListByPeriod(_ context.Context, issuerRUT string, from, to time.Time) ([]*entity.TaxDocument, error) {
	return r.list(func(d *entity.TaxDocument) bool {
		return d.IssuerRUT == issuerRUT && !d.IssueDate.Before(from) && d.IssueDate.Before(to)
	}, 0, 0), nil
}

// list filtra y ordena por fecha de creación (luego folio) para respuestas estables.
func (r *TaxDocumentRepo) list(match func(*entity.TaxDocument) bool, limit, offset int) []*entity.TaxDocument {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entity.TaxDocument
	for _, d := range r.docs {
		if match(d) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Folio < out[j].Folio
	})
	if offset > 0 {
		if offset >= len(out) {
			return nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
