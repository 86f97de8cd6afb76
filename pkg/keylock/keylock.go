// Package keylock ofrece exclusión mutua por clave con soporte de cancelación vía context.
// Cada clave tiene un semáforo de capacidad 1; Lock bloquea hasta obtenerlo o hasta que
// el contexto termine.
package keylock

import (
	"context"
	"sync"
)

// KeyedMutex serializa operaciones que comparten la misma clave.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch      chan struct{}
	waiters int
}

// New crea un KeyedMutex vacío.
func New() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

// Lock adquiere la clave. Devuelve ctx.Err() si el contexto termina antes.
func (k *KeyedMutex) Lock(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.waiters++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.release(key, s)
		return ctx.Err()
	}
}

// Unlock libera la clave. Llamar Unlock sin Lock previo es un error de programación.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	s, ok := k.slots[key]
	k.mu.Unlock()
	if !ok {
		panic("keylock: unlock de clave no bloqueada: " + key)
	}
	<-s.ch
	k.release(key, s)
}

// release descuenta un interesado y elimina el slot cuando nadie más lo usa.
func (k *KeyedMutex) release(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.waiters--
	if s.waiters == 0 {
		delete(k.slots, key)
	}
}

// Len devuelve cuántas claves tienen interesados (bloqueadas o en espera).
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
