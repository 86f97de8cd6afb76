package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/sii-dte-api/internal/application/dte"
	"github.com/jhoicas/sii-dte-api/internal/application/folio"
	apptax "github.com/jhoicas/sii-dte-api/internal/application/tax"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	IssueUC        *dte.IssueDocumentUseCase
	Pipeline       *dte.SubmissionPipeline
	Tracker        *dte.StateTracker
	PDFUC          *dte.PDFUseCase
	FolioAuthority *folio.Authority
	DeclarationUC  *apptax.DeclarationUseCase
	PollBatchSize  int
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	// Documentos tributarios electrónicos
	documents := api.Group("/documents")
	documentHandler := NewDocumentHandler(deps.IssueUC, deps.Pipeline, deps.Tracker, deps.PDFUC, deps.PollBatchSize)
	documents.Post("/", documentHandler.Issue)
	documents.Get("/", documentHandler.List)
	documents.Post("/poll", documentHandler.PollPending)
	documents.Get("/track/:track_id/status", documentHandler.PollStatus)
	documents.Get("/:id", documentHandler.GetByID)
	documents.Post("/:id/submit", documentHandler.Submit)
	documents.Post("/:id/retry", documentHandler.Retry)
	documents.Get("/:id/pdf", documentHandler.PDF)

	// Folios (CAF)
	folios := api.Group("/folios")
	folioHandler := NewFolioHandler(deps.FolioAuthority)
	folios.Get("/:issuer_rut/:document_type/ranges", folioHandler.Ranges)
	folios.Get("/:issuer_rut/:document_type/status", folioHandler.Status)

	// Cálculos tributarios
	tax := api.Group("/tax")
	taxHandler := NewTaxHandler(deps.DeclarationUC)
	tax.Post("/iva", taxHandler.IVA)
	tax.Post("/rli", taxHandler.RLI)
	tax.Post("/ppm", taxHandler.PPM)
	tax.Post("/f29", taxHandler.F29)
}
