package api

import (
	"time"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/ledger"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/shopspring/decimal"
)

type walletView struct {
	ID         string           `json:"id"`
	AccountID  string           `json:"account_id"`
	WalletType model.WalletType `json:"wallet_type"`
	IsActive   bool             `json:"is_active"`
	Balance    decimal.Decimal  `json:"balance"`
	Display    string           `json:"display"`
}

func newWalletView(w model.Wallet) walletView {
	return walletView{
		ID:         w.ID,
		AccountID:  w.AccountID,
		WalletType: w.WalletType,
		IsActive:   w.IsActive,
		Balance:    w.Balance,
		Display:    ledger.FormatAmount(w.Balance),
	}
}

func newWalletViews(ws []model.Wallet) []walletView {
	out := make([]walletView, len(ws))
	for i, w := range ws {
		out[i] = newWalletView(w)
	}
	return out
}

type accountView struct {
	UserID         string       `json:"user_id"`
	MembershipTier model.Tier   `json:"membership_tier"`
	ReferredBy     *string      `json:"referred_by,omitempty"`
	ReferralCode   string       `json:"referral_code"`
	CreatedAt      time.Time    `json:"created_at"`
	Wallets        []walletView `json:"wallets,omitempty"`
}

func newAccountView(a *model.Account, wallets []model.Wallet) accountView {
	v := accountView{
		UserID:         a.UserID,
		MembershipTier: a.MembershipTier,
		ReferredBy:     a.ReferredBy,
		ReferralCode:   a.ReferralCode,
		CreatedAt:      a.CreatedAt,
	}
	if len(wallets) > 0 {
		v.Wallets = newWalletViews(wallets)
	}
	return v
}

type postingView struct {
	EntryID      uint64                `json:"entry_id"`
	WalletID     string                `json:"wallet_id"`
	AccountID    string                `json:"account_id"`
	WalletType   model.WalletType      `json:"wallet_type"`
	Type         model.TransactionType `json:"transaction_type"`
	Amount       decimal.Decimal       `json:"amount"`
	CauseID      string                `json:"cause_id"`
	LevelDepth   *int                  `json:"level_depth,omitempty"`
	BalanceAfter decimal.Decimal       `json:"balance_after"`
}

func newPostingViews(cs *ledger.ChangeSet) []postingView {
	if cs == nil {
		return []postingView{}
	}
	out := make([]postingView, len(cs.Postings))
	for i, p := range cs.Postings {
		out[i] = postingView(p)
	}
	return out
}
