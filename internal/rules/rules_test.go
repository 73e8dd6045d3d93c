package rules

import (
	"context"
	"testing"
	"time"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/config"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/ledger"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/logger"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newService(t *testing.T) *Service {
	t.Helper()
	return NewService(testutil.NewDB(t), Defaults(config.Load().Ledger), logger.Discard())
}

func TestCurrentFallsBackToDefaults(t *testing.T) {
	svc := newService(t)

	snap, err := svc.Current(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, snap.Version)
	assert.True(t, snap.DirectCommissionRate.Equal(dec("0.5")))
	assert.True(t, snap.NetworkOverrideRate.Equal(dec("0.1")))
	assert.Equal(t, 2, snap.OverrideDepth)
	assert.True(t, snap.FeeRate(model.FeeTaskReward).Equal(dec("0.1")))
	assert.True(t, snap.FeeRate(model.FeeCashOut).IsZero())
	assert.True(t, snap.FeeRate("unknown").IsZero())
}

func TestPublishAppliesFromEffectiveTime(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	published, err := svc.Publish(ctx, Snapshot{
		DirectCommissionRate: dec("0.40"),
		NetworkOverrideRate:  dec("0.05"),
		OverrideDepth:        1,
		FeeRates:             map[model.FeeKind]decimal.Decimal{model.FeeTaskReward: dec("0.2")},
		EffectiveFrom:        now.Add(-time.Minute),
	}, "admin-1")
	require.NoError(t, err)
	assert.NotZero(t, published.Version)

	_, err = svc.Publish(ctx, Snapshot{
		DirectCommissionRate: dec("0.30"),
		NetworkOverrideRate:  dec("0.05"),
		OverrideDepth:        2,
		EffectiveFrom:        now.Add(time.Hour),
	}, "admin-1")
	require.NoError(t, err)

	current, err := svc.Current(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, published.Version, current.Version)
	assert.True(t, current.DirectCommissionRate.Equal(dec("0.4")))
	assert.Equal(t, 1, current.OverrideDepth)
	assert.True(t, current.FeeRate(model.FeeTaskReward).Equal(dec("0.2")))

	later, err := svc.Current(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, later.DirectCommissionRate.Equal(dec("0.3")))

	history, err := svc.History(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestPublishValidates(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	bad := []Snapshot{
		{DirectCommissionRate: dec("1.5"), NetworkOverrideRate: dec("0.1"), OverrideDepth: 1},
		{DirectCommissionRate: dec("0.5"), NetworkOverrideRate: dec("-0.1"), OverrideDepth: 1},
		{DirectCommissionRate: dec("0.5"), NetworkOverrideRate: dec("0.1"), OverrideDepth: 3},
		{DirectCommissionRate: dec("0.5"), NetworkOverrideRate: dec("0.1"), OverrideDepth: 0},
		{
			DirectCommissionRate: dec("0.5"), NetworkOverrideRate: dec("0.1"), OverrideDepth: 2,
			FeeRates: map[model.FeeKind]decimal.Decimal{model.FeeCashOut: dec("2")},
		},
	}
	for _, snap := range bad {
		_, err := svc.Publish(ctx, snap, "admin")
		var inv *ledger.InvalidEventError
		assert.ErrorAs(t, err, &inv)
	}

	history, err := svc.History(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}
