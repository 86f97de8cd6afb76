package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/internal/domain/repository"
)

var _ repository.FolioRangeRepository = (*FolioRangeRepo)(nil)

// FolioRangeRepo implementación de FolioRangeRepository (usable con pool o tx).
type FolioRangeRepo struct {
	q Querier
}

// NewFolioRangeRepository construye el adaptador. Pasar pool o tx (Querier).
func NewFolioRangeRepository(q Querier) *FolioRangeRepo {
	return &FolioRangeRepo{q: q}
}

// Upsert inserta el CAF; si ya existe (emisor, tipo, folio inicial) actualiza fin, vencimiento y XML.
func (r *FolioRangeRepo) Upsert(ctx context.Context, fr *entity.FolioRange) error {
	if fr.ID == "" {
		fr.ID = uuid.New().String()
	}
	now := time.Now()
	err := r.q.QueryRow(ctx, `
		INSERT INTO folio_ranges (id, issuer_rut, document_type, range_start, range_end, authorized_at, expires_at, caf_xml, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (issuer_rut, document_type, range_start) DO UPDATE
		SET range_end     = EXCLUDED.range_end,
		    authorized_at = EXCLUDED.authorized_at,
		    expires_at    = EXCLUDED.expires_at,
		    caf_xml       = EXCLUDED.caf_xml,
		    updated_at    = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at`,
		fr.ID, fr.IssuerRUT, int(fr.DocumentType), fr.RangeStart, fr.RangeEnd,
		fr.AuthorizedAt, nullIfZero(fr.ExpiresAt), fr.CAFXML, now,
	).Scan(&fr.ID, &fr.CreatedAt, &fr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert folio range: %w", err)
	}
	return nil
}

// ListByIssuerAndType CAF del emisor y tipo ordenados por folio inicial.
func (r *FolioRangeRepo) ListByIssuerAndType(ctx context.Context, issuerRUT string, docType entity.DocumentType) ([]*entity.FolioRange, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, issuer_rut, document_type, range_start, range_end, authorized_at, expires_at, caf_xml, created_at, updated_at
		FROM folio_ranges WHERE issuer_rut = $1 AND document_type = $2 ORDER BY range_start`,
		issuerRUT, int(docType),
	)
	if err != nil {
		return nil, fmt.Errorf("list folio ranges: %w", err)
	}
	defer rows.Close()
	var list []*entity.FolioRange
	for rows.Next() {
		fr, err := scanFolioRange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folio range: %w", err)
		}
		list = append(list, fr)
	}
	return list, rows.Err()
}

func scanFolioRange(row pgxScanner) (*entity.FolioRange, error) {
	var fr entity.FolioRange
	var docType int
	var expires *time.Time
	if err := row.Scan(&fr.ID, &fr.IssuerRUT, &docType, &fr.RangeStart, &fr.RangeEnd,
		&fr.AuthorizedAt, &expires, &fr.CAFXML, &fr.CreatedAt, &fr.UpdatedAt); err != nil {
		return nil, err
	}
	fr.DocumentType = entity.DocumentType(docType)
	if expires != nil {
		fr.ExpiresAt = *expires
	}
	return &fr, nil
}

// nullIfZero vencimiento vacío = CAF sin vencimiento.
func nullIfZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
