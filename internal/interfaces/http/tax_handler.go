package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/sii-dte-api/internal/application/dto"
	apptax "github.com/jhoicas/sii-dte-api/internal/application/tax"
)

// TaxHandler cálculos tributarios (IVA, RLI, PPM) y armado del F29.
type TaxHandler struct {
	uc *apptax.DeclarationUseCase
}

// NewTaxHandler construye el handler.
func NewTaxHandler(uc *apptax.DeclarationUseCase) *TaxHandler {
	return &TaxHandler{uc: uc}
}

// IVA POST /api/tax/iva
func (h *TaxHandler) IVA(c *fiber.Ctx) error {
	var in dto.ComputeIVARequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	out, err := h.uc.ComputeIVA(in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// RLI POST /api/tax/rli
func (h *TaxHandler) RLI(c *fiber.Ctx) error {
	var in dto.ComputeRLIRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	out, err := h.uc.ComputeRLI(in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// PPM POST /api/tax/ppm
func (h *TaxHandler) PPM(c *fiber.Ctx) error {
	var in dto.ComputePPMRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	out, err := h.uc.ComputePPM(in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// F29 arma la declaración mensual desde los DTE aceptados del período.
// POST /api/tax/f29
func (h *TaxHandler) F29(c *fiber.Ctx) error {
	var in dto.BuildF29Request
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	out, err := h.uc.BuildF29(c.Context(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}
