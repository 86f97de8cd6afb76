package sii

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState estado del circuit breaker hacia el SII.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // operación normal
	BreakerOpen                         // falla rápido sin llamar al SII
	BreakerHalfOpen                     // probando si el SII se recuperó
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrBreakerOpen el circuito está abierto; el cliente lo envuelve en domain.ErrGatewayUnavailable.
var ErrBreakerOpen = errors.New("sii: circuit breaker abierto")

// CircuitBreaker corta las llamadas al SII tras fallas de transporte consecutivas.
// Solo cuentan como falla los errores que devuelve fn; el cliente decide cuáles reporta.
type CircuitBreaker struct {
	maxFailures      int
	cooldown         time.Duration
	successThreshold int
	now              func() time.Time

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int
	totalRequests   int
	lastStateChange time.Time
}

// NewCircuitBreaker abre el circuito tras maxFailures fallas y lo prueba de nuevo pasado cooldown.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		maxFailures:      maxFailures,
		cooldown:         cooldown,
		successThreshold: 2,
		now:              time.Now,
		state:            BreakerClosed,
	}
}

// Execute ejecuta fn protegido por el breaker.
// La cancelación del contexto no cuenta como falla del SII.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.totalRequests++

	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		cb.failureCount++
		cb.successCount = 0
		switch {
		case cb.state == BreakerHalfOpen:
			// Cualquier falla en half-open vuelve a abrir
			cb.setState(BreakerOpen)
		case cb.state == BreakerClosed && cb.failureCount >= cb.maxFailures:
			cb.setState(BreakerOpen)
		}
		return err
	}

	cb.successCount++
	switch cb.state {
	case BreakerHalfOpen:
		if cb.successCount >= cb.successThreshold {
			cb.setState(BreakerClosed)
			cb.failureCount = 0
			cb.successCount = 0
			cb.totalRequests = 0
		}
	case BreakerClosed:
		cb.failureCount = 0
	}
	return nil
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != BreakerOpen {
		return nil
	}
	if cb.now().Sub(cb.lastStateChange) < cb.cooldown {
		return ErrBreakerOpen
	}
	cb.setState(BreakerHalfOpen)
	cb.successCount = 0
	return nil
}

func (cb *CircuitBreaker) setState(s BreakerState) {
	cb.state = s
	cb.lastStateChange = cb.now()
}

// State estado actual.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerStats contadores para logs y health.
type BreakerStats struct {
	State         BreakerState
	FailureCount  int
	SuccessCount  int
	TotalRequests int
}

// Stats foto de los contadores.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{
		State:         cb.state,
		FailureCount:  cb.failureCount,
		SuccessCount:  cb.successCount,
		TotalRequests: cb.totalRequests,
	}
}

// Reset vuelve a cerrado.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(BreakerClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.totalRequests = 0
}
