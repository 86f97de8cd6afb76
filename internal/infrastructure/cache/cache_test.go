package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sii-dte-api/internal/domain/entity"
)

func TestCAFCache_TTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewCAFCache().WithClock(func() time.Time { return now })

	_, ok := c.Get("76086428-5|33")
	assert.False(t, ok, "cache vacío")

	c.Set("76086428-5|33", []*entity.FolioRange{{RangeStart: 1000, RangeEnd: 1001}}, time.Minute)
	got, ok := c.Get("76086428-5|33")
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1000), got[0].RangeStart)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("76086428-5|33")
	assert.False(t, ok, "la entrada venció")
}

func TestCAFCache_DevuelveCopias(t *testing.T) {
	c := NewCAFCache()
	c.Set("k", []*entity.FolioRange{{RangeStart: 1, RangeEnd: 10}}, time.Hour)

	got, _ := c.Get("k")
	got[0].RangeEnd = 99

	again, _ := c.Get("k")
	assert.Equal(t, int64(10), again[0].RangeEnd)
}

func TestCAFCache_Invalidate(t *testing.T) {
	c := NewCAFCache()
	c.Set("k", nil, time.Hour)
	assert.Equal(t, 1, c.Len())
	c.Invalidate("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestTokenCache_Get(t *testing.T) {
	tests := []struct {
		name        string
		setupCache  func() *TokenCache
		expectedOk  bool
		expectedTok string
	}{
		{
			name:       "cache vacío",
			setupCache: NewTokenCache,
		},
		{
			name: "token vigente",
			setupCache: func() *TokenCache {
				c := NewTokenCache()
				c.Set("TOKEN-SII", time.Hour)
				return c
			},
			expectedOk:  true,
			expectedTok: "TOKEN-SII",
		},
		{
			name: "token vencido",
			setupCache: func() *TokenCache {
				c := NewTokenCache()
				c.Set("TOKEN-SII", -time.Hour)
				return c
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, ok := tt.setupCache().Get()
			assert.Equal(t, tt.expectedOk, ok)
			assert.Equal(t, tt.expectedTok, tok)
		})
	}
}

func TestTokenCache_Concurrente(t *testing.T) {
	c := NewTokenCache()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); c.Set("t", time.Hour) }()
		go func() { defer wg.Done(); c.Get() }()
	}
	wg.Wait()
	c.Clear()
	_, ok := c.Get()
	assert.False(t, ok)
}
