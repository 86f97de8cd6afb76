package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentType código de tipo de DTE según el SII (campo TipoDTE).
type DocumentType int

// LifecycleState estado del documento frente al SII.
type LifecycleState string

// Estados del ciclo de vida de un DTE.
const (
	StateDraft     LifecycleState = "DRAFT"     // Creado con folio y totales, aún no enviado
	StateSubmitted LifecycleState = "SUBMITTED" // Enviado al SII, con TrackID
	StateAccepted  LifecycleState = "ACCEPTED"  // Aceptado por el SII
	StateRejected  LifecycleState = "REJECTED"  // Rechazado por el SII (terminal)
	StateError     LifecycleState = "ERROR"     // Falló el envío (transporte o solicitud); reintentable
)

// transitions aristas permitidas del ciclo de vida.
var transitions = map[LifecycleState][]LifecycleState{
	StateDraft:     {StateSubmitted, StateError},
	StateSubmitted: {StateAccepted, StateRejected},
	StateError:     {StateDraft},
}

// CanTransition indica si el paso from -> to es válido.
func (s LifecycleState) CanTransition(to LifecycleState) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal ACCEPTED y REJECTED no vuelven a cambiar.
func (s LifecycleState) IsTerminal() bool {
	return s == StateAccepted || s == StateRejected
}

// Valid indica si el estado pertenece al catálogo.
func (s LifecycleState) Valid() bool {
	switch s {
	case StateDraft, StateSubmitted, StateAccepted, StateRejected, StateError:
		return true
	}
	return false
}

// Reference referencia a otro documento (obligatoria en notas de crédito y débito).
type Reference struct {
	LineNumber   int
	DocumentType DocumentType
	Folio        int64
	Date         time.Time
	Code         int    // CodRef: 1 anula, 2 corrige texto, 3 corrige montos
	Reason       string // RazonRef
}

// TaxDocument representa un Documento Tributario Electrónico.
// Los montos se derivan de LineItems; nunca se editan por separado.
type TaxDocument struct {
	ID                 string
	DocumentType       DocumentType
	Folio              int64
	IssuerRUT          string
	ReceiverRUT        string
	ReceiverName       string
	IssueDate          time.Time
	LineItems          []LineItem
	References         []Reference
	IVARate            decimal.Decimal
	NetAmount          decimal.Decimal // MntNeto
	ExemptAmount       decimal.Decimal // MntExe
	TaxAmount          decimal.Decimal // IVA
	TotalAmount        decimal.Decimal // MntTotal
	State              LifecycleState
	TrackID            string // Asignado solo tras un envío exitoso; inmutable
	AuthorityMessage   string // Último detalle devuelto por el SII (glosa de estado o error)
	SubmissionAttempts int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Clone copia profunda, para que los repositorios en memoria no compartan slices.
func (d *TaxDocument) Clone() *TaxDocument {
	if d == nil {
		return nil
	}
	c := *d
	c.LineItems = append([]LineItem(nil), d.LineItems...)
	c.References = append([]Reference(nil), d.References...)
	return &c
}
