package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/sii-dte-api/internal/application/dto"
	"github.com/jhoicas/sii-dte-api/internal/application/folio"
	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
	"github.com/jhoicas/sii-dte-api/pkg/sii"
)

// FolioHandler CAF y disponibilidad de folios.
type FolioHandler struct {
	auth *folio.Authority
}

// NewFolioHandler construye el handler.
func NewFolioHandler(auth *folio.Authority) *FolioHandler {
	return &FolioHandler{auth: auth}
}

// folioParams valida RUT emisor y tipo de documento de la ruta. Con ok=false la
// respuesta de error ya quedó escrita.
func folioParams(c *fiber.Ctx) (rut string, docType entity.DocumentType, ok bool) {
	rut, err := sii.NormalizeRUT(c.Params("issuer_rut"))
	if err != nil {
		_ = badRequest(c, "INVALID_TAXPAYER", err.Error())
		return "", 0, false
	}
	n, err := c.ParamsInt("document_type")
	if err != nil || !sii.IsKnownDocType(n) {
		_ = badRequest(c, "VALIDATION", "tipo de documento desconocido")
		return "", 0, false
	}
	return rut, entity.DocumentType(n), true
}

// Ranges refresca y lista los CAF del emisor.
// GET /api/folios/:issuer_rut/:document_type/ranges
func (h *FolioHandler) Ranges(c *fiber.Ctx) error {
	rut, docType, ok := folioParams(c)
	if !ok {
		return nil
	}
	ranges, err := h.auth.FetchRanges(c.Context(), rut, docType)
	if err != nil {
		return writeError(c, err)
	}
	now := time.Now()
	out := make([]dto.FolioRangeResponse, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, folio.ToRangeResponse(r, now))
	}
	return c.JSON(out)
}

// Status folios disponibles y próximo folio, sin reservarlo.
// GET /api/folios/:issuer_rut/:document_type/status
func (h *FolioHandler) Status(c *fiber.Ctx) error {
	rut, docType, ok := folioParams(c)
	if !ok {
		return nil
	}
	out, err := h.auth.Status(c.Context(), rut, docType)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}
