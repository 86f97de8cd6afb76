package sii

import (
	"context"
	"sync"
)

// RequestLimiter acota las llamadas simultáneas al SII (semáforo con canal).
type RequestLimiter struct {
	slots chan struct{}

	mu            sync.Mutex
	active        int
	waiting       int
	totalAcquired int64
}

// NewRequestLimiter crea el limitador; max <= 0 usa 4.
func NewRequestLimiter(max int) *RequestLimiter {
	if max <= 0 {
		max = 4
	}
	return &RequestLimiter{slots: make(chan struct{}, max)}
}

// Acquire bloquea hasta obtener un cupo o hasta que el contexto termine.
func (l *RequestLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	l.waiting++
	l.mu.Unlock()

	select {
	case l.slots <- struct{}{}:
		l.mu.Lock()
		l.waiting--
		l.active++
		l.totalAcquired++
		l.mu.Unlock()
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.waiting--
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Release devuelve el cupo.
func (l *RequestLimiter) Release() {
	<-l.slots
	l.mu.Lock()
	l.active--
	l.mu.Unlock()
}

// LimiterStats contadores del limitador.
type LimiterStats struct {
	Max           int
	Active        int
	Waiting       int
	TotalAcquired int64
}

// Stats foto de los contadores.
func (l *RequestLimiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LimiterStats{
		Max:           cap(l.slots),
		Active:        l.active,
		Waiting:       l.waiting,
		TotalAcquired: l.totalAcquired,
	}
}
