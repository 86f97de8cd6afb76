package folio

import (
	"time"

	"github.com/jhoicas/sii-dte-api/internal/application/dto"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
)

// ToRangeResponse convierte un CAF a su DTO; Expired se evalúa en now.
func ToRangeResponse(r *entity.FolioRange, now time.Time) dto.FolioRangeResponse {
	out := dto.FolioRangeResponse{
		ID:           r.ID,
		IssuerRUT:    r.IssuerRUT,
		DocumentType: int(r.DocumentType),
		RangeStart:   r.RangeStart,
		RangeEnd:     r.RangeEnd,
		Expired:      r.Expired(now),
	}
	if !r.AuthorizedAt.IsZero() {
		out.AuthorizedAt = r.AuthorizedAt.Format("2006-01-02")
	}
	if !r.ExpiresAt.IsZero() {
		out.ExpiresAt = r.ExpiresAt.Format(time.RFC3339)
	}
	return out
}
