package cache

import (
	"sync"
	"time"
)

// TokenCache guarda el token de sesión del SII (obtenido con semilla firmada) con TTL.
type TokenCache struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewTokenCache crea un cache de token vacío.
func NewTokenCache() *TokenCache {
	return &TokenCache{}
}

// Get devuelve el token si sigue vigente.
func (c *TokenCache) Get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token == "" || time.Now().After(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

// Set guarda el token con el TTL indicado.
func (c *TokenCache) Set(token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = token
	c.expiresAt = time.Now().Add(ttl)
}

// Clear descarta el token (por ejemplo tras un 401 o un estado de token inválido).
func (c *TokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = ""
	c.expiresAt = time.Time{}
}
