package folio_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sii-dte-api/internal/application/folio"
	"github.com/jhoicas/sii-dte-api/internal/domain"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/internal/infrastructure/cache"
	"github.com/jhoicas/sii-dte-api/internal/infrastructure/memory"
)

const issuer = "76086428-5"

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeSource CAF configurables; cuenta las consultas.
type fakeSource struct {
	mu     sync.Mutex
	ranges []*entity.FolioRange
	err    error
	calls  int32
}

func (f *fakeSource) FetchCAF(_ context.Context, _ string, _ entity.DocumentType) ([]*entity.FolioRange, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.ranges, nil
}

func (f *fakeSource) set(err error, ranges ...*entity.FolioRange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	f.ranges = ranges
}

func rng(start, end int64, expires time.Time) *entity.FolioRange {
	return &entity.FolioRange{IssuerRUT: issuer, DocumentType: 33, RangeStart: start, RangeEnd: end, ExpiresAt: expires}
}

type fixture struct {
	source *fakeSource
	docs   *memory.TaxDocumentRepo
	ranges *memory.FolioRangeRepo
	auth   *folio.Authority
}

func newFixture(threshold int64) *fixture {
	f := &fixture{
		source: &fakeSource{},
		docs:   memory.NewTaxDocumentRepository(),
		ranges: memory.NewFolioRangeRepository(),
	}
	f.auth = folio.NewAuthority(f.source, f.ranges, f.docs, cache.NewCAFCache(),
		folio.Config{CacheTTL: time.Minute, LowStockThreshold: threshold}, zerolog.Nop()).
		WithClock(func() time.Time { return now })
	return f
}

// persist crea un documento con el folio asignado, como hace la emisión real.
func (f *fixture) persist(ctx context.Context) func(int64) error {
	return func(n int64) error {
		return f.docs.Create(ctx, &entity.TaxDocument{IssuerRUT: issuer, DocumentType: 33, Folio: n, State: entity.StateDraft})
	}
}

// ── Asignación ─────────────────────────────────────────────────────────────

func TestAssign_RangoAgotadoDevuelveFoliosExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0)
	f.source.set(nil, rng(1000, 1001, now.Add(24*time.Hour)))

	first, err := f.auth.Assign(ctx, issuer, 33, f.persist(ctx))
	require.NoError(t, err)
	second, err := f.auth.Assign(ctx, issuer, 33, f.persist(ctx))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), first)
	assert.Equal(t, int64(1001), second)

	_, err = f.auth.Assign(ctx, issuer, 33, f.persist(ctx))
	assert.ErrorIs(t, err, domain.ErrFoliosExhausted)
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.source.calls), "una consulta inicial y un solo refresco")
}

func TestNextFolio_RefrescoTraeNuevoCAF(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0)
	f.source.set(nil, rng(1, 1, now.Add(time.Hour)))

	n, err := f.auth.Assign(ctx, issuer, 33, f.persist(ctx))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	f.source.set(nil, rng(1, 1, now.Add(time.Hour)), rng(2, 50, now.Add(time.Hour)))
	n, err = f.auth.NextFolio(ctx, issuer, 33)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestNextFolio_ReservaHastaRelease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0)
	f.source.set(nil, rng(10, 20, time.Time{}))

	a, err := f.auth.NextFolio(ctx, issuer, 33)
	require.NoError(t, err)
	b, err := f.auth.NextFolio(ctx, issuer, 33)
	require.NoError(t, err)
	assert.Equal(t, int64(10), a)
	assert.Equal(t, int64(11), b, "un folio reservado no se entrega dos veces")

	f.auth.Release(issuer, 33, a)
	c, err := f.auth.NextFolio(ctx, issuer, 33)
	require.NoError(t, err)
	assert.Equal(t, int64(10), c)
}

func TestNextFolio_SaltaCAFVencidos(t *testing.T) {
	f := newFixture(0)
	f.source.set(nil, rng(1, 5, now.Add(-time.Hour)), rng(100, 110, now.Add(time.Hour)))

	n, err := f.auth.NextFolio(context.Background(), issuer, 33)
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
}

func TestNextFolio_UsaCache(t *testing.T) {
	f := newFixture(0)
	f.source.set(nil, rng(1, 100, time.Time{}))

	for i := 0; i < 5; i++ {
		_, err := f.auth.NextFolio(context.Background(), issuer, 33)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.source.calls))
}

func TestAssign_FallaDePersistenciaNoConsumeFolio(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0)
	f.source.set(nil, rng(1, 10, time.Time{}))

	_, err := f.auth.Assign(ctx, issuer, 33, func(int64) error { return errors.New("db caída") })
	require.Error(t, err)

	n, err := f.auth.Assign(ctx, issuer, 33, f.persist(ctx))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAssign_ConcurrenteSinFoliosRepetidos(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0)
	f.source.set(nil, rng(1, 40, time.Time{}), rng(41, 200, time.Time{}))

	const n = 64
	var wg sync.WaitGroup
	results := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			folioN, err := f.auth.Assign(ctx, issuer, 33, f.persist(ctx))
			if assert.NoError(t, err) {
				results <- folioN
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int64]bool{}
	for r := range results {
		assert.False(t, seen[r], "folio %d repetido", r)
		seen[r] = true
	}
	assert.Len(t, seen, n)
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "se consume del menor libre hacia arriba: falta %d", i)
	}
}

func TestAssign_ContextoCanceladoNoAsigna(t *testing.T) {
	f := newFixture(0)
	f.source.set(nil, rng(1, 10, time.Time{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.auth.Assign(ctx, issuer, 33, func(int64) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

// ── Fallas del SII ─────────────────────────────────────────────────────────

func TestFetchRanges_SIINoDisponible(t *testing.T) {
	f := newFixture(0)
	f.source.set(fmt.Errorf("dial tcp: timeout"))

	_, err := f.auth.FetchRanges(context.Background(), issuer, 33)
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)

	_, err = f.auth.NextFolio(context.Background(), issuer, 33)
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable, "sin CAF persistidos no hay folio")
}

// gatedSource retiene la consulta hasta release y registra el estado de su contexto.
type gatedSource struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
	calls   int32
	ctxErr  atomic.Value
}

func (g *gatedSource) FetchCAF(ctx context.Context, _ string, _ entity.DocumentType) ([]*entity.FolioRange, error) {
	atomic.AddInt32(&g.calls, 1)
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	g.ctxErr.Store(fmt.Sprint(ctx.Err()))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []*entity.FolioRange{rng(1, 10, time.Time{})}, nil
}

func TestFetchRanges_CancelarPrimerLlamadorNoAbortaLaConsulta(t *testing.T) {
	src := &gatedSource{started: make(chan struct{}), release: make(chan struct{})}
	auth := folio.NewAuthority(src, memory.NewFolioRangeRepository(), memory.NewTaxDocumentRepository(), cache.NewCAFCache(),
		folio.Config{CacheTTL: time.Minute}, zerolog.Nop()).
		WithClock(func() time.Time { return now })

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := auth.FetchRanges(ctx, issuer, 33)
		firstErr <- err
	}()
	<-src.started
	cancel()

	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, domain.ErrGatewayUnavailable)
	case <-time.After(5 * time.Second):
		t.Fatal("el llamador cancelado no volvió")
	}

	close(src.release)
	n, err := auth.NextFolio(context.Background(), issuer, 33)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls), "la consulta compartida terminó y quedó en cache")
	assert.Equal(t, "<nil>", src.ctxErr.Load())
}

func TestNextFolio_SIICaidoUsaCAFPersistidos(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0)
	require.NoError(t, f.ranges.Upsert(ctx, rng(500, 510, time.Time{})))
	f.source.set(domain.ErrGatewayUnavailable)

	n, err := f.auth.NextFolio(ctx, issuer, 33)
	require.NoError(t, err)
	assert.Equal(t, int64(500), n)
}

func TestFetchRanges_PersisteYOrdena(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0)
	f.source.set(nil, rng(300, 400, time.Time{}), rng(1, 99, time.Time{}), &entity.FolioRange{RangeStart: 9, RangeEnd: 1})

	got, err := f.auth.FetchRanges(ctx, issuer, 33)
	require.NoError(t, err)
	require.Len(t, got, 2, "el rango inválido se descarta")
	assert.Equal(t, int64(1), got[0].RangeStart)
	assert.Equal(t, int64(300), got[1].RangeStart)

	stored, err := f.ranges.ListByIssuerAndType(ctx, issuer, 33)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

// ── RangeFor y Status ──────────────────────────────────────────────────────

func TestRangeFor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(0)
	f.source.set(nil, rng(1000, 1001, now.Add(time.Hour)))

	r, err := f.auth.RangeFor(ctx, issuer, 33, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), r.RangeStart)

	_, err = f.auth.RangeFor(ctx, issuer, 33, 5)
	assert.ErrorIs(t, err, domain.ErrFolioOutOfRange)
}

func TestStatus_StockBajo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(5)
	f.source.set(nil, rng(1, 4, time.Time{}), rng(10, 11, now.Add(-time.Minute)))

	_, err := f.auth.Assign(ctx, issuer, 33, f.persist(ctx))
	require.NoError(t, err)

	st, err := f.auth.Status(ctx, issuer, 33)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Available)
	assert.Equal(t, int64(2), st.NextFolio)
	assert.True(t, st.LowStock)
	require.Len(t, st.Ranges, 1, "el CAF vencido no cuenta")
	assert.Equal(t, int64(1), st.Ranges[0].Used)
}
