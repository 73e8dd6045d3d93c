package cache

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMemoryCacheStoreLoad(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	_, ok := c.Load(ctx, "w1")
	assert.False(t, ok)

	c.Store(ctx, "w1", decimal.RequireFromString("12.5"))
	v, ok := c.Load(ctx, "w1")
	assert.True(t, ok)
	assert.True(t, v.Equal(decimal.RequireFromString("12.5")))
}

func TestMemoryCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	c.Store(ctx, "w1", decimal.NewFromInt(7))
	c.Invalidate(ctx, "w1")
	_, ok := c.Load(ctx, "w1")
	assert.False(t, ok)

	c.Invalidate(ctx, "missing")
}
