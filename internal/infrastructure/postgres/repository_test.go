package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sii-dte-api/internal/domain"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/internal/domain/repository"
	"github.com/jhoicas/sii-dte-api/internal/infrastructure/postgres"
	"github.com/jhoicas/sii-dte-api/pkg/config"
)

// Emisor exclusivo de estos tests; se limpia al comenzar cada uno.
const testIssuer = "11111111-1"

// openTestPool conecta a TEST_DATABASE_URL. Sin esa variable los tests se omiten.
func openTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" || testing.Short() {
		t.Skip("TEST_DATABASE_URL no definido: se omiten tests de integración con PostgreSQL")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, config.DBConfig{DatabaseURL: url, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.EnsureSchema(ctx, pool))
	_, err = pool.Exec(ctx, `DELETE FROM tax_documents WHERE issuer_rut = $1`, testIssuer)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `DELETE FROM folio_ranges WHERE issuer_rut = $1`, testIssuer)
	require.NoError(t, err)
	return pool
}

func newDocument(folio int64) *entity.TaxDocument {
	return &entity.TaxDocument{
		DocumentType: 33,
		Folio:        folio,
		IssuerRUT:    testIssuer,
		ReceiverRUT:  "12345678-5",
		ReceiverName: "Cliente SpA",
		IssueDate:    time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		IVARate:      decimal.RequireFromString("0.19"),
		LineItems: []entity.LineItem{
			{LineNumber: 1, Description: "Asesoría", Quantity: decimal.RequireFromString("1.5"), UnitPrice: decimal.NewFromInt(10000), Amount: decimal.NewFromInt(15000)},
			{LineNumber: 2, Description: "Libro", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(5000), TaxExempt: true, Amount: decimal.NewFromInt(5000)},
		},
		NetAmount:    decimal.NewFromInt(15000),
		ExemptAmount: decimal.NewFromInt(5000),
		TaxAmount:    decimal.NewFromInt(2850),
		TotalAmount:  decimal.NewFromInt(22850),
		State:        entity.StateDraft,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// TaxDocumentRepo
// ──────────────────────────────────────────────────────────────────────────────

func TestTaxDocumentRepo_CreateYGetByID(t *testing.T) {
	pool := openTestPool(t)
	repo := postgres.NewTaxDocumentRepository(pool)
	ctx := context.Background()

	doc := newDocument(1)
	require.NoError(t, repo.Create(ctx, doc))
	require.NotEmpty(t, doc.ID)

	got, err := repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.Folio)
	assert.Equal(t, entity.StateDraft, got.State)
	assert.True(t, decimal.NewFromInt(22850).Equal(got.TotalAmount))
	require.Len(t, got.LineItems, 2)
	assert.True(t, decimal.RequireFromString("1.5").Equal(got.LineItems[0].Quantity))
	assert.True(t, got.LineItems[1].TaxExempt)

	missing, err := repo.GetByID(ctx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTaxDocumentRepo_FolioDuplicado(t *testing.T) {
	pool := openTestPool(t)
	repo := postgres.NewTaxDocumentRepository(pool)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newDocument(7)))
	err := repo.Create(ctx, newDocument(7))
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestTaxDocumentRepo_CompareAndSwap(t *testing.T) {
	pool := openTestPool(t)
	repo := postgres.NewTaxDocumentRepository(pool)
	ctx := context.Background()

	doc := newDocument(3)
	require.NoError(t, repo.Create(ctx, doc))

	doc.State = entity.StateSubmitted
	doc.TrackID = "1000000001"
	doc.SubmissionAttempts = 1
	ok, err := repo.CompareAndSwap(ctx, doc, entity.StateDraft)
	require.NoError(t, err)
	assert.True(t, ok)

	// El estado esperado ya no coincide
	doc.State = entity.StateError
	ok, err = repo.CompareAndSwap(ctx, doc, entity.StateDraft)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByTrackID(ctx, "1000000001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entity.StateSubmitted, got.State)
	assert.Equal(t, 1, got.SubmissionAttempts)

	ghost := newDocument(99)
	ghost.ID = "00000000-0000-0000-0000-000000000000"
	_, err = repo.CompareAndSwap(ctx, ghost, entity.StateDraft)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTaxDocumentRepo_AssignedFoliosYListados(t *testing.T) {
	pool := openTestPool(t)
	repo := postgres.NewTaxDocumentRepository(pool)
	ctx := context.Background()

	for _, f := range []int64{5, 2, 9} {
		require.NoError(t, repo.Create(ctx, newDocument(f)))
	}
	folios, err := repo.AssignedFolios(ctx, testIssuer, 33, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 5}, folios)

	page, err := repo.ListByIssuer(ctx, testIssuer, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	inPeriod, err := repo.ListByPeriod(ctx, testIssuer,
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, inPeriod, 3)
}

// ──────────────────────────────────────────────────────────────────────────────
// FolioRangeRepo
// ──────────────────────────────────────────────────────────────────────────────

func TestFolioRangeRepo_UpsertIdempotente(t *testing.T) {
	pool := openTestPool(t)
	repo := postgres.NewFolioRangeRepository(pool)
	ctx := context.Background()

	authorized := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	r := &entity.FolioRange{
		IssuerRUT: testIssuer, DocumentType: 33, RangeStart: 1, RangeEnd: 100,
		AuthorizedAt: authorized, ExpiresAt: authorized.AddDate(0, 6, 0), CAFXML: "<AUTORIZACION/>",
	}
	require.NoError(t, repo.Upsert(ctx, r))
	firstID := r.ID

	again := *r
	again.ID = ""
	again.RangeEnd = 150
	require.NoError(t, repo.Upsert(ctx, &again))
	assert.Equal(t, firstID, again.ID)

	list, err := repo.ListByIssuerAndType(ctx, testIssuer, 33)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(150), list[0].RangeEnd)

	boleta := &entity.FolioRange{IssuerRUT: testIssuer, DocumentType: 39, RangeStart: 1, RangeEnd: 10, AuthorizedAt: authorized}
	require.NoError(t, repo.Upsert(ctx, boleta))
	list, err = repo.ListByIssuerAndType(ctx, testIssuer, 39)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].ExpiresAt.IsZero(), "los CAF de boleta no vencen")
}

func TestTxRunner_RollbackDescartaTodo(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	err := postgres.NewTxRunner(pool).Run(ctx, func(ranges repository.FolioRangeRepository, _ repository.TaxDocumentRepository) error {
		r := &entity.FolioRange{IssuerRUT: testIssuer, DocumentType: 33, RangeStart: 500, RangeEnd: 600, AuthorizedAt: time.Now()}
		if err := ranges.Upsert(ctx, r); err != nil {
			return err
		}
		return domain.ErrConflict
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	list, err := postgres.NewFolioRangeRepository(pool).ListByIssuerAndType(ctx, testIssuer, 33)
	require.NoError(t, err)
	assert.Empty(t, list)
}
