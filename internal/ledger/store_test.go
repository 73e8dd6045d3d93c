package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/cache"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/events"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/logger"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSystem = SystemAccounts{Platform: "platform", Escrow: "escrow"}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newStore(t *testing.T) (*WalletStore, *events.Recorder) {
	t.Helper()
	rec := &events.Recorder{}
	store := NewWalletStore(testutil.NewDB(t), rec, cache.NewMemoryCache(), testSystem, logger.Discard())
	require.NoError(t, store.Bootstrap(context.Background()))
	return store, rec
}

func openAccount(t *testing.T, store *WalletStore, userID, sponsorCode string) (*model.Account, map[model.WalletType]model.Wallet) {
	t.Helper()
	account, wallets, err := store.OpenAccount(context.Background(), OpenAccountInput{UserID: userID, SponsorCode: sponsorCode})
	require.NoError(t, err)
	byType := map[model.WalletType]model.Wallet{}
	for _, w := range wallets {
		byType[w.WalletType] = w
	}
	return account, byType
}

func balanceOf(t *testing.T, store *WalletStore, walletID string) decimal.Decimal {
	t.Helper()
	b, err := store.Log().BalanceOf(context.Background(), walletID)
	require.NoError(t, err)
	return b
}

func assertBalance(t *testing.T, store *WalletStore, walletID, want string) {
	t.Helper()
	got := balanceOf(t, store, walletID)
	assert.True(t, got.Equal(dec(want)), "wallet %s: want %s, got %s", walletID, want, got)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Bootstrap(ctx))

	for _, id := range []string{"platform", "escrow"} {
		account, err := store.Account(ctx, id)
		require.NoError(t, err)
		assert.True(t, account.System)

		wallets, err := store.Wallets(ctx, id)
		require.NoError(t, err)
		assert.Len(t, wallets, 3)
	}
}

func TestOpenAccount(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	sponsor, wallets := openAccount(t, store, "sam", "")
	assert.Nil(t, sponsor.ReferredBy)
	assert.Equal(t, model.TierBasic, sponsor.MembershipTier)
	assert.Len(t, sponsor.ReferralCode, 8)
	require.Len(t, wallets, 3)
	for _, w := range wallets {
		assert.True(t, w.IsActive)
	}

	child, _ := openAccount(t, store, "una", sponsor.ReferralCode)
	require.NotNil(t, child.ReferredBy)
	assert.Equal(t, "sam", *child.ReferredBy)

	downline, err := store.Downline(ctx, "sam")
	require.NoError(t, err)
	require.Len(t, downline, 1)
	assert.Equal(t, "una", downline[0].UserID)

	_, _, err = store.OpenAccount(ctx, OpenAccountInput{UserID: "sam"})
	assert.ErrorIs(t, err, ErrAccountExists)

	_, _, err = store.OpenAccount(ctx, OpenAccountInput{UserID: "vic", SponsorCode: "NOPE0000"})
	var inv *InvalidEventError
	assert.ErrorAs(t, err, &inv)

	_, _, err = store.OpenAccount(ctx, OpenAccountInput{UserID: "platform"})
	assert.ErrorAs(t, err, &inv)

	_, _, err = store.OpenAccount(ctx, OpenAccountInput{UserID: "  "})
	assert.ErrorAs(t, err, &inv)
}

func TestBalanceIsSumOfEntries(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	_, w := openAccount(t, store, "u1", "")
	main := w[model.WalletMain].ID

	_, err := store.ApplyDelta(ctx, main, dec("100"), model.TxDeposit, "dep-1")
	require.NoError(t, err)
	wallet, err := store.ApplyDelta(ctx, main, dec("-30.25"), model.TxWithdrawal, "wd-1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(dec("69.75")))

	assertBalance(t, store, main, "69.75")

	history, err := store.Log().History(ctx, main, 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "wd-1", history[0].CauseID)
	assert.Equal(t, "dep-1", history[1].CauseID)
	assert.Greater(t, history[0].ID, history[1].ID)

	sum := decimal.Zero
	for _, e := range history {
		sum = sum.Add(e.Amount)
	}
	assert.True(t, sum.Equal(balanceOf(t, store, main)))
}

func TestApplyDeltaRejectsOverdraft(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	_, w := openAccount(t, store, "u1", "")
	main := w[model.WalletMain].ID

	_, err := store.ApplyDelta(ctx, main, dec("40"), model.TxDeposit, "dep-1")
	require.NoError(t, err)

	_, err = store.ApplyDelta(ctx, main, dec("-50"), model.TxWithdrawal, "wd-1")
	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Balance.Equal(dec("40")))
	assert.True(t, insufficient.Required.Equal(dec("50")))
	assert.True(t, IsInvariant(err))

	assertBalance(t, store, main, "40")
}

func TestDuplicateCauseIsRejected(t *testing.T) {
	store, rec := newStore(t)
	ctx := context.Background()
	_, w := openAccount(t, store, "u1", "")
	main := w[model.WalletMain].ID

	_, err := store.ApplyDelta(ctx, main, dec("10"), model.TxDeposit, "dep-1")
	require.NoError(t, err)

	_, err = store.ApplyDelta(ctx, main, dec("10"), model.TxDeposit, "dep-1")
	var dup *DuplicateCauseError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "dep-1", dup.CauseID)
	assert.True(t, IsConflict(err))

	assertBalance(t, store, main, "10")
	assert.Len(t, rec.WalletChanges(), 1)

	// Same cause, different type is a different posting.
	_, err = store.ApplyDelta(ctx, main, dec("-1"), model.TxFee, "dep-1")
	require.NoError(t, err)
}

func TestTransferInsufficientBalance(t *testing.T) {
	store, rec := newStore(t)
	ctx := context.Background()
	_, a := openAccount(t, store, "a", "")
	_, b := openAccount(t, store, "b", "")
	from, to := a[model.WalletMain].ID, b[model.WalletMain].ID

	_, err := store.ApplyDelta(ctx, from, dec("40"), model.TxDeposit, "dep-a")
	require.NoError(t, err)

	_, err = store.Transfer(ctx, TransferInput{
		FromWalletID: from,
		ToWalletID:   to,
		Amount:       dec("50"),
		Fee:          dec("15"),
		CauseID:      "tr-1",
	})
	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Required.Equal(dec("65")))

	assertBalance(t, store, from, "40")
	assertBalance(t, store, to, "0")

	entries, err := store.Log().EntriesByCause(ctx, "tr-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Len(t, rec.WalletChanges(), 1)
}

func TestTransferConservesValue(t *testing.T) {
	store, rec := newStore(t)
	ctx := context.Background()
	_, a := openAccount(t, store, "a", "")
	_, b := openAccount(t, store, "b", "")
	from, to := a[model.WalletMain].ID, b[model.WalletMain].ID

	_, err := store.ApplyDelta(ctx, from, dec("100"), model.TxDeposit, "dep-a")
	require.NoError(t, err)

	res, err := store.Transfer(ctx, TransferInput{
		FromWalletID: from,
		ToWalletID:   to,
		Amount:       dec("60"),
		Fee:          dec("5"),
		CauseID:      "tr-1",
	})
	require.NoError(t, err)
	assert.True(t, res.From.Balance.Equal(dec("35")))
	assert.True(t, res.To.Balance.Equal(dec("60")))
	assert.True(t, res.ChangeSet.Total().IsZero())
	assert.Len(t, res.ChangeSet.Postings, 3)

	platform, err := store.Wallets(ctx, "platform")
	require.NoError(t, err)
	assert.True(t, platform[0].Balance.Equal(dec("5")))

	changes := rec.WalletChanges()
	require.Len(t, changes, 2)
	last := changes[1]
	assert.Equal(t, "tr-1", last.CauseID)
	assert.Len(t, last.Changes, 3)
}

func TestTransferValidation(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	_, a := openAccount(t, store, "a", "")
	_, b := openAccount(t, store, "b", "")

	cases := []TransferInput{
		{FromWalletID: a[model.WalletMain].ID, ToWalletID: a[model.WalletMain].ID, Amount: dec("1"), CauseID: "x"},
		{FromWalletID: a[model.WalletMain].ID, ToWalletID: b[model.WalletMain].ID, Amount: dec("0"), CauseID: "x"},
		{FromWalletID: a[model.WalletMain].ID, ToWalletID: b[model.WalletMain].ID, Amount: dec("1"), Fee: dec("-1"), CauseID: "x"},
	}
	for _, in := range cases {
		_, err := store.Transfer(ctx, in)
		var inv *InvalidEventError
		assert.ErrorAs(t, err, &inv)
		assert.True(t, IsValidation(err))
	}
}

func TestSystemWalletsRefuseDirectDebits(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	_, a := openAccount(t, store, "a", "")
	to := a[model.WalletMain].ID

	escrow, err := store.Wallets(ctx, "escrow")
	require.NoError(t, err)
	escrowID := escrow[0].ID
	_, err = store.ApplyDelta(ctx, escrowID, dec("100"), model.TxDeposit, "hold-1")
	require.NoError(t, err)

	_, err = store.Transfer(ctx, TransferInput{
		FromWalletID: escrowID,
		ToWalletID:   to,
		Amount:       dec("100"),
		CauseID:      "drain-1",
	})
	var invalid *InvalidWalletError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "system wallet", invalid.Reason)

	_, err = store.ApplyDelta(ctx, escrowID, dec("-100"), model.TxWithdrawal, "drain-2")
	require.ErrorAs(t, err, &invalid)

	platform, err := store.Wallets(ctx, "platform")
	require.NoError(t, err)
	_, err = store.ApplyDelta(ctx, platform[0].ID, dec("5"), model.TxFee, "fee-1")
	require.NoError(t, err)
	_, err = store.ApplyDelta(ctx, platform[0].ID, dec("-5"), model.TxWithdrawal, "drain-3")
	require.ErrorAs(t, err, &invalid)

	assertBalance(t, store, escrowID, "100")
	assertBalance(t, store, to, "0")
}

func TestInactiveWalletRejectsPostings(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	_, w := openAccount(t, store, "u1", "")
	task := w[model.WalletTask].ID

	frozen, err := store.SetWalletActive(ctx, task, false)
	require.NoError(t, err)
	assert.False(t, frozen.IsActive)

	_, err = store.ApplyDelta(ctx, task, dec("5"), model.TxDeposit, "dep-1")
	var invWallet *InvalidWalletError
	require.ErrorAs(t, err, &invWallet)
	assert.Equal(t, task, invWallet.WalletID)

	_, err = store.SetWalletActive(ctx, task, true)
	require.NoError(t, err)
	_, err = store.ApplyDelta(ctx, task, dec("5"), model.TxDeposit, "dep-1")
	require.NoError(t, err)

	_, err = store.SetWalletActive(ctx, "missing", false)
	assert.ErrorAs(t, err, &invWallet)
}

func TestAppendValidation(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	_, w := openAccount(t, store, "u1", "")
	main := w[model.WalletMain].ID

	_, err := store.Log().Append(ctx, EntryInput{WalletID: main, Amount: dec("0"), Type: model.TxDeposit, CauseID: "c"})
	var inv *InvalidEventError
	assert.ErrorAs(t, err, &inv)

	_, err = store.Log().Append(ctx, EntryInput{WalletID: main, Amount: dec("1.123456789"), Type: model.TxDeposit, CauseID: "c"})
	assert.ErrorAs(t, err, &inv)

	_, err = store.Log().Append(ctx, EntryInput{WalletID: main, Amount: dec("1"), Type: "bonus", CauseID: "c"})
	assert.ErrorAs(t, err, &inv)

	_, err = store.Log().Append(ctx, EntryInput{WalletID: "nope", Amount: dec("1"), Type: model.TxDeposit, CauseID: "c"})
	var invWallet *InvalidWalletError
	assert.ErrorAs(t, err, &invWallet)

	entry, err := store.Log().Append(ctx, EntryInput{WalletID: main, Amount: dec("1"), Type: model.TxDeposit, CauseID: "c"})
	require.NoError(t, err)
	assert.NotZero(t, entry.ID)
}

func TestScopeRollsBackOnError(t *testing.T) {
	store, rec := newStore(t)
	ctx := context.Background()
	_, w := openAccount(t, store, "u1", "")
	main := w[model.WalletMain].ID

	boom := errors.New("boom")
	_, err := store.InScope(ctx, func(sc *Scope) error {
		if _, err := sc.Post(EntryInput{WalletID: main, Amount: dec("10"), Type: model.TxDeposit, CauseID: "dep-1"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assertBalance(t, store, main, "0")
	assert.Empty(t, rec.WalletChanges())
}

func TestCachedBalanceReadsThrough(t *testing.T) {
	rec := &events.Recorder{}
	mem := cache.NewMemoryCache()
	store := NewWalletStore(testutil.NewDB(t), rec, mem, testSystem, logger.Discard())
	ctx := context.Background()
	require.NoError(t, store.Bootstrap(ctx))

	_, w := openAccount(t, store, "u1", "")
	main := w[model.WalletMain].ID

	_, err := store.ApplyDelta(ctx, main, dec("12"), model.TxDeposit, "dep-1")
	require.NoError(t, err)

	balance, hit, err := store.CachedBalance(ctx, main)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.True(t, balance.Equal(dec("12")))

	balance, hit, err = store.CachedBalance(ctx, main)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.True(t, balance.Equal(dec("12")))

	other := w[model.WalletRoyalty].ID
	balance, hit, err = store.CachedBalance(ctx, other)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.True(t, balance.IsZero())
}

func TestCommitInvalidatesSharedCache(t *testing.T) {
	db := testutil.NewDB(t)
	shared := cache.NewMemoryCache()
	ctx := context.Background()
	first := NewWalletStore(db, &events.Recorder{}, shared, testSystem, logger.Discard())
	second := NewWalletStore(db, &events.Recorder{}, shared, testSystem, logger.Discard())
	require.NoError(t, first.Bootstrap(ctx))

	_, w := openAccount(t, first, "u1", "")
	main := w[model.WalletMain].ID

	_, err := first.ApplyDelta(ctx, main, dec("100"), model.TxDeposit, "dep-1")
	require.NoError(t, err)
	balance, _, err := second.CachedBalance(ctx, main)
	require.NoError(t, err)
	require.True(t, balance.Equal(dec("100")))

	_, err = first.ApplyDelta(ctx, main, dec("-60"), model.TxWithdrawal, "wd-1")
	require.NoError(t, err)
	_, ok := shared.Load(ctx, main)
	assert.False(t, ok)

	balance, hit, err := second.CachedBalance(ctx, main)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.True(t, balance.Equal(dec("40")))
}
