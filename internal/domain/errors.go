package domain

import "errors"

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound  = errors.New("recurso no encontrado")
	ErrDuplicate = errors.New("recurso duplicado")
	ErrConflict  = errors.New("conflicto con el estado actual")

	// ErrInvalidInput entrada aritmética o de RUT mal formada; la corrige quien llama, nunca se reintenta.
	ErrInvalidInput = errors.New("entrada inválida")
	// ErrInvalidTaxpayer RUT de emisor o receptor con dígito verificador incorrecto.
	ErrInvalidTaxpayer = errors.New("contribuyente inválido")
	// ErrFoliosExhausted no queda folio utilizable en ningún CAF vigente.
	ErrFoliosExhausted = errors.New("folios agotados")
	// ErrFolioOutOfRange el folio no pertenece a ningún CAF conocido del emisor y tipo.
	ErrFolioOutOfRange = errors.New("folio fuera de los rangos autorizados")
	// ErrGatewayUnavailable falla de transporte con el SII; es seguro reintentar.
	ErrGatewayUnavailable = errors.New("servicio del SII no disponible")
	// ErrRequestRejected el SII rechazó la solicitud de envío en sí (no el contenido tributario).
	ErrRequestRejected = errors.New("envío rechazado por el SII")
	// ErrAuthorityRejected el SII rechazó el contenido del documento; estado terminal.
	ErrAuthorityRejected = errors.New("documento rechazado por el SII")
	// ErrInvalidTransition transición de estado no permitida por el ciclo de vida.
	ErrInvalidTransition = errors.New("transición de estado inválida")
)
