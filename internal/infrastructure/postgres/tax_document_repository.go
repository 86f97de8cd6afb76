package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/sii-dte-api/internal/domain"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/internal/domain/repository"
)

var _ repository.TaxDocumentRepository = (*TaxDocumentRepo)(nil)

// TaxDocumentRepo implementación de TaxDocumentRepository (usable con pool o tx).
// Cabecera en tax_documents; líneas y referencias en tablas hijas.
type TaxDocumentRepo struct {
	q Querier
}

// NewTaxDocumentRepository construye el adaptador. Pasar pool o tx (Querier).
func NewTaxDocumentRepository(q Querier) *TaxDocumentRepo {
	return &TaxDocumentRepo{q: q}
}

const documentColumns = `
	id, document_type, folio, issuer_rut, receiver_rut, receiver_name, issue_date,
	iva_rate, net_amount, exempt_amount, tax_amount, total_amount,
	state, track_id, authority_message, submission_attempts, created_at, updated_at`

// Create persiste cabecera, líneas y referencias en una sola transacción.
// El índice único (issuer_rut, document_type, folio) impide reutilizar un folio.
func (r *TaxDocumentRepo) Create(ctx context.Context, doc *entity.TaxDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	err := pgx.BeginFunc(ctx, r.q, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO tax_documents (`+documentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			doc.ID, int(doc.DocumentType), doc.Folio, doc.IssuerRUT, doc.ReceiverRUT, nullIfEmpty(doc.ReceiverName), doc.IssueDate,
			doc.IVARate, doc.NetAmount, doc.ExemptAmount, doc.TaxAmount, doc.TotalAmount,
			string(doc.State), nullIfEmpty(doc.TrackID), nullIfEmpty(doc.AuthorityMessage), doc.SubmissionAttempts,
			doc.CreatedAt, doc.UpdatedAt,
		)
		if err != nil {
			return err
		}
		for _, li := range doc.LineItems {
			_, err := tx.Exec(ctx, `
				INSERT INTO tax_document_lines (document_id, line_number, description, quantity, unit_price, discount_percent, tax_exempt, amount)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				doc.ID, li.LineNumber, li.Description, li.Quantity, li.UnitPrice, li.DiscountPercent, li.TaxExempt, li.Amount,
			)
			if err != nil {
				return fmt.Errorf("insert line %d: %w", li.LineNumber, err)
			}
		}
		for _, ref := range doc.References {
			_, err := tx.Exec(ctx, `
				INSERT INTO tax_document_references (document_id, line_number, document_type, folio, ref_date, code, reason)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				doc.ID, ref.LineNumber, int(ref.DocumentType), ref.Folio, ref.Date, ref.Code, ref.Reason,
			)
			if err != nil {
				return fmt.Errorf("insert reference %d: %w", ref.LineNumber, err)
			}
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: folio %d tipo %d ya usado", domain.ErrDuplicate, doc.Folio, doc.DocumentType)
		}
		return fmt.Errorf("insert tax document: %w", err)
	}
	return nil
}

// GetByID obtiene un documento completo por ID.
func (r *TaxDocumentRepo) GetByID(ctx context.Context, id string) (*entity.TaxDocument, error) {
	return r.getOne(ctx, `SELECT `+documentColumns+` FROM tax_documents WHERE id = $1`, id)
}

// GetByTrackID obtiene el documento enviado con ese TrackID.
func (r *TaxDocumentRepo) GetByTrackID(ctx context.Context, trackID string) (*entity.TaxDocument, error) {
	if trackID == "" {
		return nil, nil
	}
	return r.getOne(ctx, `SELECT `+documentColumns+` FROM tax_documents WHERE track_id = $1`, trackID)
}

func (r *TaxDocumentRepo) getOne(ctx context.Context, query string, arg any) (*entity.TaxDocument, error) {
	doc, err := scanDocument(r.q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tax document: %w", err)
	}
	if err := r.loadChildren(ctx, []*entity.TaxDocument{doc}); err != nil {
		return nil, err
	}
	return doc, nil
}

// CompareAndSwap actualiza estado, TrackID, mensaje, intentos y totales solo si el estado
// guardado sigue siendo expected. Folio, tipo, emisor y fecha no se tocan.
func (r *TaxDocumentRepo) CompareAndSwap(ctx context.Context, doc *entity.TaxDocument, expected entity.LifecycleState) (bool, error) {
	swapped := false
	now := time.Now()
	err := pgx.BeginFunc(ctx, r.q, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, `
			UPDATE tax_documents
			SET state               = $2,
			    track_id            = $3,
			    authority_message   = $4,
			    submission_attempts = $5,
			    net_amount          = $6,
			    exempt_amount       = $7,
			    tax_amount          = $8,
			    total_amount        = $9,
			    updated_at          = $10
			WHERE id = $1 AND state = $11`,
			doc.ID, string(doc.State), nullIfEmpty(doc.TrackID), nullIfEmpty(doc.AuthorityMessage), doc.SubmissionAttempts,
			doc.NetAmount, doc.ExemptAmount, doc.TaxAmount, doc.TotalAmount, now, string(expected),
		)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tax_documents WHERE id = $1)`, doc.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: documento %s", domain.ErrNotFound, doc.ID)
			}
			return nil
		}
		for _, li := range doc.LineItems {
			if _, err := tx.Exec(ctx,
				`UPDATE tax_document_lines SET amount = $3, tax_exempt = $4 WHERE document_id = $1 AND line_number = $2`,
				doc.ID, li.LineNumber, li.Amount, li.TaxExempt,
			); err != nil {
				return fmt.Errorf("update line %d: %w", li.LineNumber, err)
			}
		}
		swapped = true
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, err
		}
		return false, fmt.Errorf("compare-and-swap tax document: %w", err)
	}
	if swapped {
		doc.UpdatedAt = now
	}
	return swapped, nil
}

// AssignedFolios folios persistidos del emisor y tipo dentro de [from, to], ordenados.
func (r *TaxDocumentRepo) AssignedFolios(ctx context.Context, issuerRUT string, docType entity.DocumentType, from, to int64) ([]int64, error) {
	rows, err := r.q.Query(ctx, `
		SELECT folio FROM tax_documents
		WHERE issuer_rut = $1 AND document_type = $2 AND folio BETWEEN $3 AND $4
		ORDER BY folio`,
		issuerRUT, int(docType), from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("list assigned folios: %w", err)
	}
	folios, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan folio: %w", err)
	}
	return folios, nil
}

// ListByState documentos en un estado, los más antiguos primero. limit <= 0 = sin límite.
func (r *TaxDocumentRepo) ListByState(ctx context.Context, state entity.LifecycleState, limit int) ([]*entity.TaxDocument, error) {
	query := `SELECT ` + documentColumns + ` FROM tax_documents WHERE state = $1 ORDER BY created_at, folio`
	args := []any{string(state)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

// ListByIssuer documentos del emisor con paginación.
func (r *TaxDocumentRepo) ListByIssuer(ctx context.Context, issuerRUT string, limit, offset int) ([]*entity.TaxDocument, error) {
	return r.list(ctx, `
		SELECT `+documentColumns+` FROM tax_documents
		WHERE issuer_rut = $1 ORDER BY created_at, folio LIMIT $2 OFFSET $3`,
		issuerRUT, limit, offset,
	)
}

// ListByPeriod documentos del emisor con fecha de emisión en [from, to).
func (r *TaxDocumentRepo) ListByPeriod(ctx context.Context, issuerRUT string, from, to time.Time) ([]*entity.TaxDocument, error) {
	return r.list(ctx, `
		SELECT `+documentColumns+` FROM tax_documents
		WHERE issuer_rut = $1 AND issue_date >= $2 AND issue_date < $3 ORDER BY issue_date, folio`,
		issuerRUT, from, to,
	)
}

func (r *TaxDocumentRepo) list(ctx context.Context, query string, args ...any) ([]*entity.TaxDocument, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tax documents: %w", err)
	}
	defer rows.Close()
	var list []*entity.TaxDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tax document: %w", err)
		}
		list = append(list, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tax documents: %w", err)
	}
	if err := r.loadChildren(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// loadChildren completa líneas y referencias con una consulta por tabla.
func (r *TaxDocumentRepo) loadChildren(ctx context.Context, docs []*entity.TaxDocument) error {
	if len(docs) == 0 {
		return nil
	}
	byID := make(map[string]*entity.TaxDocument, len(docs))
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
		ids = append(ids, d.ID)
	}

	rows, err := r.q.Query(ctx, `
		SELECT document_id, line_number, description, quantity, unit_price, discount_percent, tax_exempt, amount
		FROM tax_document_lines WHERE document_id = ANY($1) ORDER BY document_id, line_number`, ids)
	if err != nil {
		return fmt.Errorf("list document lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var docID string
		var li entity.LineItem
		if err := rows.Scan(&docID, &li.LineNumber, &li.Description, &li.Quantity, &li.UnitPrice,
			&li.DiscountPercent, &li.TaxExempt, &li.Amount); err != nil {
			return fmt.Errorf("scan line: %w", err)
		}
		byID[docID].LineItems = append(byID[docID].LineItems, li)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list document lines: %w", err)
	}

	refRows, err := r.q.Query(ctx, `
		SELECT document_id, line_number, document_type, folio, ref_date, code, reason
		FROM tax_document_references WHERE document_id = ANY($1) ORDER BY document_id, line_number`, ids)
	if err != nil {
		return fmt.Errorf("list document references: %w", err)
	}
	defer refRows.Close()
	for refRows.Next() {
		var docID string
		var ref entity.Reference
		var docType int
		if err := refRows.Scan(&docID, &ref.LineNumber, &docType, &ref.Folio, &ref.Date, &ref.Code, &ref.Reason); err != nil {
			return fmt.Errorf("scan reference: %w", err)
		}
		ref.DocumentType = entity.DocumentType(docType)
		byID[docID].References = append(byID[docID].References, ref)
	}
	return refRows.Err()
}

func scanDocument(row pgxScanner) (*entity.TaxDocument, error) {
	var d entity.TaxDocument
	var docType int
	var state string
	var receiverName, trackID, message *string
	err := row.Scan(
		&d.ID, &docType, &d.Folio, &d.IssuerRUT, &d.ReceiverRUT, &receiverName, &d.IssueDate,
		&d.IVARate, &d.NetAmount, &d.ExemptAmount, &d.TaxAmount, &d.TotalAmount,
		&state, &trackID, &message, &d.SubmissionAttempts, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.DocumentType = entity.DocumentType(docType)
	d.State = entity.LifecycleState(state)
	d.ReceiverName = derefStr(receiverName)
	d.TrackID = derefStr(trackID)
	d.AuthorityMessage = derefStr(message)
	return &d, nil
}
