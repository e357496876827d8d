package finanzgw

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sized(n int) CachedResponse {
	return CachedResponse{Status: http.StatusOK, Body: bytes.Repeat([]byte("x"), n)}
}

func TestRAMCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newRAMCache(300, nil)
	c.Put("a", sized(100))
	c.Put("b", sized(100))
	c.Put("c", sized(100))

	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("d", sized(100))

	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	for _, k := range []string{"a", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, int64(300), c.TotalSize())
	assert.Equal(t, 3, c.Len())
}

func TestRAMCacheSkipsOversizedEntries(t *testing.T) {
	c := newRAMCache(50, nil)
	c.Put("big", sized(51))
	assert.Zero(t, c.Len())
	assert.Zero(t, c.TotalSize())
}

func TestRAMCacheReplaceUpdatesSize(t *testing.T) {
	c := newRAMCache(1000, nil)
	c.Put("a", sized(100))
	c.Put("a", sized(40))
	assert.Equal(t, int64(40), c.TotalSize())
	assert.Equal(t, 1, c.Len())
}

func TestRAMCacheLogsEvictions(t *testing.T) {
	var buf bytes.Buffer
	l := log.New(&buf)
	c := newRAMCache(100, newRateLimitedLogger(l, time.Hour))
	c.Put("a", sized(80))
	c.Put("b", sized(80))
	c.Put("c", sized(80))

	assert.Equal(t, 1, strings.Count(buf.String(), "RAM tier full"))
}

func TestRAMBucketFallsBackToDurableBucket(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStorage()
	durable, err := st.Open(ctx, "finanzapp-v1")
	require.NoError(t, err)
	require.NoError(t, durable.PutAll(ctx, map[string]CachedResponse{
		"GET /a": sized(80),
		"GET /b": sized(80),
	}))

	b := &ramBucket{Bucket: durable, ram: newRAMCache(100, nil)}
	for _, k := range []string{"GET /a", "GET /b", "GET /a"} {
		ent, ok, err := b.Match(ctx, k)
		require.NoError(t, err)
		require.True(t, ok, k)
		assert.Len(t, ent.Body, 80)
	}
	assert.Equal(t, 1, b.ram.Len())

	_, ok, err := b.Match(ctx, "GET /missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
