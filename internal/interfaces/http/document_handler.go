package http

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/sii-dte-api/internal/application/dte"
	"github.com/jhoicas/sii-dte-api/internal/application/dto"
)

// DocumentHandler emisión, envío, consulta de estado y PDF de DTE.
type DocumentHandler struct {
	issue    *dte.IssueDocumentUseCase
	pipeline *dte.SubmissionPipeline
	tracker  *dte.StateTracker
	pdf      *dte.PDFUseCase
	batch    int
}

// NewDocumentHandler construye el handler. batch es el límite por defecto de POST /poll.
func NewDocumentHandler(issue *dte.IssueDocumentUseCase, pipeline *dte.SubmissionPipeline, tracker *dte.StateTracker, pdf *dte.PDFUseCase, batch int) *DocumentHandler {
	return &DocumentHandler{issue: issue, pipeline: pipeline, tracker: tracker, pdf: pdf, batch: batch}
}

// Issue crea un DTE en DRAFT con folio y totales.
// POST /api/documents
func (h *DocumentHandler) Issue(c *fiber.Ctx) error {
	var in dto.IssueDocumentRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	out, err := h.issue.Issue(c.Context(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// GetByID devuelve el documento.
// GET /api/documents/:id
func (h *DocumentHandler) GetByID(c *fiber.Ctx) error {
	out, err := h.issue.Get(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// List documentos de un emisor.
// GET /api/documents?issuer_rut=76086428-5&limit=20&offset=0
func (h *DocumentHandler) List(c *fiber.Ctx) error {
	issuer := c.Query("issuer_rut")
	if issuer == "" {
		return badRequest(c, "VALIDATION", "issuer_rut requerido")
	}
	var page dto.PageRequest
	if err := c.QueryParser(&page); err != nil {
		return badRequest(c, "VALIDATION", "paginación inválida")
	}
	page.DefaultPage()
	out, err := h.issue.ListByIssuer(c.Context(), issuer, page)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"items": out,
		"page":  dto.PageResponse{Limit: page.Limit, Offset: page.Offset},
	})
}

// Submit envía el documento al SII. Repetir la llamada no duplica el envío.
// POST /api/documents/:id/submit
func (h *DocumentHandler) Submit(c *fiber.Ctx) error {
	out, err := h.pipeline.Submit(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// Retry devuelve a DRAFT un documento en ERROR.
// POST /api/documents/:id/retry
func (h *DocumentHandler) Retry(c *fiber.Ctx) error {
	out, err := h.pipeline.Retry(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// PollStatus consulta al SII el estado de un envío.
// GET /api/documents/track/:track_id/status
func (h *DocumentHandler) PollStatus(c *fiber.Ctx) error {
	out, err := h.tracker.Poll(c.Context(), c.Params("track_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// PollPending consulta una tanda de documentos SUBMITTED.
// POST /api/documents/poll?limit=100
func (h *DocumentHandler) PollPending(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", h.batch)
	if limit <= 0 {
		return badRequest(c, "VALIDATION", "limit debe ser positivo")
	}
	out, err := h.tracker.PollPending(c.Context(), limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// PDF descarga la representación impresa.
// GET /api/documents/:id/pdf
func (h *DocumentHandler) PDF(c *fiber.Ctx) error {
	body, filename, err := h.pdf.Download(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Send(body)
}
