package cache

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// BalanceCache holds derived wallet balances for fast reads. It is never
// authoritative; the transaction log is. Writers invalidate after every
// append and readers fill on a miss.
type BalanceCache interface {
	Store(ctx context.Context, walletID string, balance decimal.Decimal)
	Load(ctx context.Context, walletID string) (decimal.Decimal, bool)
	Invalidate(ctx context.Context, walletID string)
}

type MemoryCache struct {
	m sync.Map
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Store(_ context.Context, walletID string, balance decimal.Decimal) {
	c.m.Store(walletID, balance)
}

func (c *MemoryCache) Load(_ context.Context, walletID string) (decimal.Decimal, bool) {
	v, ok := c.m.Load(walletID)
	if !ok {
		return decimal.Zero, false
	}
	return v.(decimal.Decimal), true
}

func (c *MemoryCache) Invalidate(_ context.Context, walletID string) {
	c.m.Delete(walletID)
}
