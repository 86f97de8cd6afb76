package cache

import (
	"sync"
	"time"

	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
)

// CAFCache cache thread-safe de rangos de folios por (emisor, tipo) con TTL.
// Guarda copias: quien lee no puede alterar lo cacheado.
type CAFCache struct {
	mu      sync.RWMutex
	entries map[string]cafEntry
	now     func() time.Time
}

type cafEntry struct {
	ranges    []*entity.FolioRange
	expiresAt time.Time
}

// NewCAFCache crea un cache vacío.
func NewCAFCache() *CAFCache {
	return &CAFCache{entries: make(map[string]cafEntry), now: time.Now}
}

// WithClock reemplaza el reloj (tests).
func (c *CAFCache) WithClock(now func() time.Time) *CAFCache {
	c.now = now
	return c
}

// Get devuelve los rangos cacheados si la entrada sigue vigente.
func (c *CAFCache) Get(key string) ([]*entity.FolioRange, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		return nil, false
	}
	return copyRanges(e.ranges), true
}

// Set guarda los rangos con el TTL indicado.
func (c *CAFCache) Set(key string, ranges []*entity.FolioRange, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cafEntry{ranges: copyRanges(ranges), expiresAt: c.now().Add(ttl)}
}

// Invalidate elimina la entrada de la clave.
func (c *CAFCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len cantidad de entradas (vigentes o no).
func (c *CAFCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func copyRanges(in []*entity.FolioRange) []*entity.FolioRange {
	out := make([]*entity.FolioRange, len(in))
	for i, r := range in {
		cp := *r
		out[i] = &cp
	}
	return out
}
