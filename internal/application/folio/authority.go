// Package folio administra los rangos de folios autorizados por el SII (CAF) y asigna
// el siguiente folio libre por (emisor, tipo de documento).
//
// La asignación para un mismo (emisor, tipo) está serializada: nunca hay dos asignaciones
// en vuelo para la misma clave. Los folios se consumen del menor libre hacia arriba,
// recorriendo los CAF vigentes en orden de RangeStart.
package folio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jhoicas/sii-dte-api/internal/application/dto"
	"github.com/jhoicas/sii-dte-api/internal/domain"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/internal/domain/repository"
	"github.com/jhoicas/sii-dte-api/pkg/keylock"
)

// CAFSource origen de los CAF (el SII o el almacén local de CAF descargados).
type CAFSource interface {
	FetchCAF(ctx context.Context, issuerRUT string, docType entity.DocumentType) ([]*entity.FolioRange, error)
}

// FolioLedger consulta los folios ya usados por documentos persistidos.
type FolioLedger interface {
	AssignedFolios(ctx context.Context, issuerRUT string, docType entity.DocumentType, from, to int64) ([]int64, error)
}

// RangeCache cache con TTL de los CAF por clave.
type RangeCache interface {
	Get(key string) ([]*entity.FolioRange, bool)
	Set(key string, ranges []*entity.FolioRange, ttl time.Duration)
	Invalidate(key string)
}

// Config parámetros del administrador de folios.
type Config struct {
	CacheTTL          time.Duration
	LowStockThreshold int64
	FetchTimeout      time.Duration // tope de una consulta compartida de CAF
}

// Authority administrador de CAF y asignación de folios.
type Authority struct {
	source CAFSource
	ranges repository.FolioRangeRepository // puede ser nil: sin persistencia de CAF
	ledger FolioLedger
	cache  RangeCache
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time

	locks *keylock.KeyedMutex
	group singleflight.Group

	mu       sync.Mutex
	reserved map[string]map[int64]struct{} // folios entregados aún no persistidos
}

// NewAuthority construye el administrador con sus dependencias.
func NewAuthority(
	source CAFSource,
	ranges repository.FolioRangeRepository,
	ledger FolioLedger,
	cache RangeCache,
	cfg Config,
	log zerolog.Logger,
) *Authority {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	return &Authority{
		source:   source,
		ranges:   ranges,
		ledger:   ledger,
		cache:    cache,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		locks:    keylock.New(),
		reserved: make(map[string]map[int64]struct{}),
	}
}

// WithClock reemplaza el reloj usado para evaluar vencimientos (tests).
func (a *Authority) WithClock(now func() time.Time) *Authority {
	a.now = now
	return a
}

func key(issuerRUT string, docType entity.DocumentType) string {
	return fmt.Sprintf("%s|%d", issuerRUT, docType)
}

// FetchRanges pide los CAF al origen, los persiste, los cachea y los devuelve ordenados
// por RangeStart. Una falla de transporte se devuelve como domain.ErrGatewayUnavailable
// y no toca el cache. Llamadas concurrentes para la misma clave comparten una sola consulta,
// que corre desligada de la cancelación de quien la inició y acotada por FetchTimeout.
// Un llamador cancelado recibe ctx.Err() sin abortar la consulta de los demás.
func (a *Authority) FetchRanges(ctx context.Context, issuerRUT string, docType entity.DocumentType) ([]*entity.FolioRange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := key(issuerRUT, docType)
	ch := a.group.DoChan(k, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.FetchTimeout)
		defer cancel()

		fetched, err := a.source.FetchCAF(ctx, issuerRUT, docType)
		if err != nil {
			if errors.Is(err, domain.ErrGatewayUnavailable) || errors.Is(err, domain.ErrRequestRejected) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
		}

		valid := make([]*entity.FolioRange, 0, len(fetched))
		for _, r := range fetched {
			if r == nil || !r.Valid() {
				a.log.Warn().Str("issuer", issuerRUT).Int("document_type", int(docType)).Msg("CAF con rango inválido descartado")
				continue
			}
			if (r.IssuerRUT != "" && r.IssuerRUT != issuerRUT) || (r.DocumentType != 0 && r.DocumentType != docType) {
				a.log.Warn().Str("issuer", issuerRUT).Str("caf_issuer", r.IssuerRUT).Msg("CAF de otro emisor o tipo descartado")
				continue
			}
			cp := *r
			cp.IssuerRUT = issuerRUT
			cp.DocumentType = docType
			valid = append(valid, &cp)
		}
		sort.Slice(valid, func(i, j int) bool { return valid[i].RangeStart < valid[j].RangeStart })

		if a.ranges != nil {
			for _, r := range valid {
				if err := a.ranges.Upsert(ctx, r); err != nil {
					return nil, fmt.Errorf("persistir CAF %d-%d: %w", r.RangeStart, r.RangeEnd, err)
				}
			}
		}
		a.cache.Set(k, valid, a.cfg.CacheTTL)
		a.log.Debug().Str("issuer", issuerRUT).Int("document_type", int(docType)).Int("ranges", len(valid)).Msg("CAF actualizados")
		return valid, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneRanges(res.Val.([]*entity.FolioRange)), nil
	}
}

// loadRanges devuelve los CAF cacheados o los busca. Si el SII no responde y hay CAF
// persistidos, se usan esos: son autorizaciones ya emitidas, no folios inventados.
func (a *Authority) loadRanges(ctx context.Context, issuerRUT string, docType entity.DocumentType) ([]*entity.FolioRange, error) {
	if cached, ok := a.cache.Get(key(issuerRUT, docType)); ok {
		return cached, nil
	}
	ranges, err := a.FetchRanges(ctx, issuerRUT, docType)
	if err == nil {
		return ranges, nil
	}
	if !errors.Is(err, domain.ErrGatewayUnavailable) || a.ranges == nil {
		return nil, err
	}
	stored, repoErr := a.ranges.ListByIssuerAndType(ctx, issuerRUT, docType)
	if repoErr != nil || len(stored) == 0 {
		return nil, err
	}
	a.log.Warn().Err(err).Str("issuer", issuerRUT).Int("document_type", int(docType)).
		Msg("SII no disponible, usando CAF persistidos")
	return stored, nil
}

// NextFolio devuelve el menor folio libre de los CAF vigentes y lo deja reservado hasta
// que se persista un documento con él o se llame Release. Si no queda ninguno se
// refrescan los CAF una vez; si aún no hay, devuelve domain.ErrFoliosExhausted.
func (a *Authority) NextFolio(ctx context.Context, issuerRUT string, docType entity.DocumentType) (int64, error) {
	k := key(issuerRUT, docType)
	if err := a.locks.Lock(ctx, k); err != nil {
		return 0, err
	}
	defer a.locks.Unlock(k)

	folio, err := a.nextLocked(ctx, issuerRUT, docType)
	if err != nil {
		return 0, err
	}
	a.reserve(k, folio)
	return folio, nil
}

// Assign reserva el siguiente folio y ejecuta persist con él sin soltar el lock de la clave.
// Si persist falla la reserva se libera: no hay consumo parcial de folios.
func (a *Authority) Assign(ctx context.Context, issuerRUT string, docType entity.DocumentType, persist func(folio int64) error) (int64, error) {
	k := key(issuerRUT, docType)
	if err := a.locks.Lock(ctx, k); err != nil {
		return 0, err
	}
	defer a.locks.Unlock(k)

	folio, err := a.nextLocked(ctx, issuerRUT, docType)
	if err != nil {
		return 0, err
	}
	a.reserve(k, folio)
	defer a.unreserve(k, folio)

	if err := persist(folio); err != nil {
		return 0, err
	}
	return folio, nil
}

// Release libera un folio reservado con NextFolio que no llegó a persistirse.
func (a *Authority) Release(issuerRUT string, docType entity.DocumentType, folio int64) {
	a.unreserve(key(issuerRUT, docType), folio)
}

func (a *Authority) nextLocked(ctx context.Context, issuerRUT string, docType entity.DocumentType) (int64, error) {
	ranges, err := a.loadRanges(ctx, issuerRUT, docType)
	if err != nil {
		return 0, err
	}
	folio, ok, err := a.scan(ctx, issuerRUT, docType, ranges)
	if err != nil || ok {
		return folio, err
	}

	// Sin folios: un solo refresco de CAF antes de declarar agotamiento.
	a.cache.Invalidate(key(issuerRUT, docType))
	fresh, err := a.FetchRanges(ctx, issuerRUT, docType)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		a.log.Error().Err(err).Str("issuer", issuerRUT).Int("document_type", int(docType)).Msg("folios agotados y no se pudo refrescar CAF")
		return 0, fmt.Errorf("%w: %w", domain.ErrFoliosExhausted, err)
	}
	folio, ok, err = a.scan(ctx, issuerRUT, docType, fresh)
	if err != nil {
		return 0, err
	}
	if !ok {
		a.log.Error().Str("issuer", issuerRUT).Int("document_type", int(docType)).Msg("folios agotados")
		return 0, fmt.Errorf("%w: emisor %s tipo %d", domain.ErrFoliosExhausted, issuerRUT, docType)
	}
	return folio, nil
}

// scan recorre los CAF vigentes en orden y devuelve el menor folio no usado ni reservado.
func (a *Authority) scan(ctx context.Context, issuerRUT string, docType entity.DocumentType, ranges []*entity.FolioRange) (int64, bool, error) {
	k := key(issuerRUT, docType)
	now := a.now()
	for _, r := range ranges {
		if r.Expired(now) {
			continue
		}
		used, err := a.usedIn(ctx, k, issuerRUT, docType, r)
		if err != nil {
			return 0, false, err
		}
		for f := r.RangeStart; f <= r.RangeEnd; f++ {
			if _, taken := used[f]; !taken {
				return f, true, nil
			}
		}
	}
	return 0, false, nil
}

// usedIn folios persistidos y reservados dentro del rango. Las reservas que ya aparecen
// persistidas se descartan.
func (a *Authority) usedIn(ctx context.Context, k, issuerRUT string, docType entity.DocumentType, r *entity.FolioRange) (map[int64]struct{}, error) {
	assigned, err := a.ledger.AssignedFolios(ctx, issuerRUT, docType, r.RangeStart, r.RangeEnd)
	if err != nil {
		return nil, fmt.Errorf("consultar folios asignados: %w", err)
	}
	used := make(map[int64]struct{}, len(assigned))
	for _, f := range assigned {
		used[f] = struct{}{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for f := range a.reserved[k] {
		if _, persisted := used[f]; persisted {
			delete(a.reserved[k], f)
			continue
		}
		if r.Contains(f) {
			used[f] = struct{}{}
		}
	}
	return used, nil
}

func (a *Authority) reserve(k string, folio int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reserved[k] == nil {
		a.reserved[k] = make(map[int64]struct{})
	}
	a.reserved[k][folio] = struct{}{}
}

func (a *Authority) unreserve(k string, folio int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.reserved[k], folio)
	if len(a.reserved[k]) == 0 {
		delete(a.reserved, k)
	}
}

// RangeFor devuelve el CAF que autoriza el folio (vigente o no: el timbre se hace con el
// CAF con que se asignó). domain.ErrFolioOutOfRange si ninguno lo contiene.
func (a *Authority) RangeFor(ctx context.Context, issuerRUT string, docType entity.DocumentType, folio int64) (*entity.FolioRange, error) {
	ranges, err := a.loadRanges(ctx, issuerRUT, docType)
	if err == nil {
		if r := findRange(ranges, folio); r != nil {
			return r, nil
		}
	}
	if a.ranges != nil {
		stored, repoErr := a.ranges.ListByIssuerAndType(ctx, issuerRUT, docType)
		if repoErr != nil {
			return nil, fmt.Errorf("listar CAF: %w", repoErr)
		}
		if r := findRange(stored, folio); r != nil {
			return r, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: folio %d emisor %s tipo %d", domain.ErrFolioOutOfRange, folio, issuerRUT, docType)
}

func findRange(ranges []*entity.FolioRange, folio int64) *entity.FolioRange {
	for _, r := range ranges {
		if r.Contains(folio) {
			return r
		}
	}
	return nil
}

// Status resume la disponibilidad de folios de los CAF vigentes y avisa si queda poco stock.
func (a *Authority) Status(ctx context.Context, issuerRUT string, docType entity.DocumentType) (*dto.FolioStatusResponse, error) {
	k := key(issuerRUT, docType)
	if err := a.locks.Lock(ctx, k); err != nil {
		return nil, err
	}
	defer a.locks.Unlock(k)

	ranges, err := a.loadRanges(ctx, issuerRUT, docType)
	if err != nil {
		return nil, err
	}
	out := &dto.FolioStatusResponse{IssuerRUT: issuerRUT, DocumentType: int(docType), Ranges: []dto.FolioRangeUsageDTO{}}
	now := a.now()
	for _, r := range ranges {
		if r.Expired(now) {
			continue
		}
		used, err := a.usedIn(ctx, k, issuerRUT, docType, r)
		if err != nil {
			return nil, err
		}
		available := r.Size() - int64(len(used))
		if out.NextFolio == 0 && available > 0 {
			for f := r.RangeStart; f <= r.RangeEnd; f++ {
				if _, taken := used[f]; !taken {
					out.NextFolio = f
					break
				}
			}
		}
		usage := dto.FolioRangeUsageDTO{
			RangeStart: r.RangeStart,
			RangeEnd:   r.RangeEnd,
			Used:       int64(len(used)),
			Available:  available,
		}
		if !r.ExpiresAt.IsZero() {
			usage.ExpiresAt = r.ExpiresAt.Format(time.RFC3339)
		}
		out.Ranges = append(out.Ranges, usage)
		out.Available += available
	}
	out.LowStock = out.Available < a.cfg.LowStockThreshold
	if out.LowStock {
		a.log.Warn().Str("issuer", issuerRUT).Int("document_type", int(docType)).Int64("available", out.Available).
			Msg("quedan pocos folios, solicitar un nuevo CAF")
	}
	return out, nil
}

func cloneRanges(in []*entity.FolioRange) []*entity.FolioRange {
	out := make([]*entity.FolioRange, len(in))
	for i, r := range in {
		cp := *r
		out[i] = &cp
	}
	return out
}
