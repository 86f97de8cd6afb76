package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/internal/domain/repository"
)

var _ repository.FolioRangeRepository = (*FolioRangeRepo)(nil)

// FolioRangeRepo repositorio de CAF en memoria, único por (emisor, tipo, folio inicial).
type FolioRangeRepo struct {
	mu     sync.RWMutex
	ranges map[string]*entity.FolioRange
}

// NewFolioRangeRepository crea el repositorio vacío.
func NewFolioRangeRepository() *FolioRangeRepo {
	return &FolioRangeRepo{ranges: make(map[string]*entity.FolioRange)}
}

func (r *FolioRangeRepo) Upsert(_ context.Context, fr *entity.FolioRange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := folioKey(fr.IssuerRUT, fr.DocumentType, fr.RangeStart)
	now := time.Now()
	if cur, ok := r.ranges[k]; ok {
		cur.RangeEnd = fr.RangeEnd
		cur.AuthorizedAt = fr.AuthorizedAt
		cur.ExpiresAt = fr.ExpiresAt
		cur.CAFXML = fr.CAFXML
		cur.UpdatedAt = now
		fr.ID = cur.ID
		return nil
	}
	if fr.ID == "" {
		fr.ID = uuid.New().String()
	}
	cp := *fr
	cp.CreatedAt, cp.UpdatedAt = now, now
	r.ranges[k] = &cp
	return nil
}

func (r *FolioRangeRepo) ListByIssuerAndType(_ context.Context, issuerRUT string, docType entity.DocumentType) ([]*entity.FolioRange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entity.FolioRange
	for _, fr := range r.ranges {
		if fr.IssuerRUT == issuerRUT && fr.DocumentType == docType {
			cp := *fr
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RangeStart < out[j].RangeStart })
	return out, nil
}
