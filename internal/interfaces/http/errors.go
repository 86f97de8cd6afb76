package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/sii-dte-api/internal/application/dto"
	"github.com/jhoicas/sii-dte-api/internal/domain"
)

// errorStatus traduce errores de dominio a HTTP. El orden importa: un rechazo del SII
// llega envuelto en ErrInvalidTransition y se informa como transición inválida.
var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrInvalidTaxpayer, fiber.StatusBadRequest, "INVALID_TAXPAYER"},
	{domain.ErrInvalidInput, fiber.StatusBadRequest, "VALIDATION"},
	{domain.ErrNotFound, fiber.StatusNotFound, "NOT_FOUND"},
	{domain.ErrInvalidTransition, fiber.StatusConflict, "INVALID_TRANSITION"},
	{domain.ErrConflict, fiber.StatusConflict, "CONFLICT"},
	{domain.ErrDuplicate, fiber.StatusConflict, "DUPLICATE"},
	{domain.ErrFoliosExhausted, fiber.StatusUnprocessableEntity, "FOLIOS_EXHAUSTED"},
	{domain.ErrFolioOutOfRange, fiber.StatusUnprocessableEntity, "FOLIO_OUT_OF_RANGE"},
	{domain.ErrAuthorityRejected, fiber.StatusUnprocessableEntity, "AUTHORITY_REJECTED"},
	{domain.ErrRequestRejected, fiber.StatusBadGateway, "REQUEST_REJECTED"},
	{domain.ErrGatewayUnavailable, fiber.StatusServiceUnavailable, "SII_UNAVAILABLE"},
	{context.DeadlineExceeded, fiber.StatusGatewayTimeout, "TIMEOUT"},
	{context.Canceled, fiber.StatusRequestTimeout, "CANCELED"},
}

// writeError responde con dto.ErrorResponse según el error de dominio.
func writeError(c *fiber.Ctx, err error) error {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return c.Status(e.status).JSON(dto.ErrorResponse{Code: e.code, Message: err.Error()})
		}
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}

func badRequest(c *fiber.Ctx, code, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: code, Message: msg})
}
