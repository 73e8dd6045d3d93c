package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/repository"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Posting is one committed entry together with the wallet balance it left.
type Posting struct {
	EntryID      uint64
	WalletID     string
	AccountID    string
	WalletType   model.WalletType
	Type         model.TransactionType
	Amount       decimal.Decimal
	CauseID      string
	LevelDepth   *int
	BalanceAfter decimal.Decimal
}

// ChangeSet lists the postings of one atomic group in the order they were made.
type ChangeSet struct {
	Postings []Posting
}

// Total sums every posting; zero for a conserving group.
func (c *ChangeSet) Total() decimal.Decimal {
	total := decimal.Zero
	for _, p := range c.Postings {
		total = total.Add(p.Amount)
	}
	return total
}

// Scope is one open ledger transaction. Wallets touched through it are
// row-locked until commit, and every posting is checked against the
// balance the lock protects.
type Scope struct {
	ctx      context.Context
	tx       *gorm.DB
	txlog    *TransactionLog
	wallets  *repository.WalletRepository
	accounts *repository.AccountRepository
	system   SystemAccounts

	locked   map[string]*model.Wallet
	balances map[string]decimal.Decimal
	postings []Posting
}

func (s *Scope) Context() context.Context { return s.ctx }

// Tx is the transaction handle; repositories used inside the scope must
// be bound to it.
func (s *Scope) Tx() *gorm.DB { return s.tx }

func (s *Scope) Accounts() *repository.AccountRepository { return s.accounts }

func (s *Scope) System() SystemAccounts { return s.system }

func (s *Scope) Account(userID string) (*model.Account, error) {
	account, err := s.accounts.FindByUserID(s.ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("account %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("load account %s: %w", userID, err)
	}
	return account, nil
}

func (s *Scope) WalletOf(accountID string, walletType model.WalletType) (*model.Wallet, error) {
	wallet, err := s.wallets.FindByAccountAndType(s.ctx, accountID, walletType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &InvalidWalletError{
				WalletID: accountID + "/" + string(walletType),
				Reason:   "no such wallet",
			}
		}
		return nil, fmt.Errorf("load %s wallet of %s: %w", walletType, accountID, err)
	}
	return wallet, nil
}

// FeeSink is the platform account's main wallet.
func (s *Scope) FeeSink() (*model.Wallet, error) {
	return s.WalletOf(s.system.Platform, model.WalletMain)
}

// EscrowWallet holds campaign budgets and pending cash-outs.
func (s *Scope) EscrowWallet() (*model.Wallet, error) {
	return s.WalletOf(s.system.Escrow, model.WalletMain)
}

// Lock row-locks the given wallets and loads their balances. Lock the full
// set in one call; a second call only adds wallets not yet held.
// userDebit refuses a direct debit of a platform or escrow wallet. Those
// only move through the flows that own them.
func (s *Scope) userDebit(walletID string) error {
	wallet, err := s.wallets.FindByID(s.ctx, walletID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &InvalidWalletError{WalletID: walletID, Reason: "no such wallet"}
		}
		return fmt.Errorf("load wallet %s: %w", walletID, err)
	}
	if s.system.IsSystem(wallet.AccountID) {
		return &InvalidWalletError{WalletID: walletID, Reason: "system wallet"}
	}
	return nil
}

func (s *Scope) Lock(walletIDs ...string) error {
	var missing []string
	seen := map[string]bool{}
	for _, id := range walletIDs {
		if _, ok := s.locked[id]; ok || seen[id] {
			continue
		}
		seen[id] = true
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return nil
	}

	wallets, err := s.wallets.LockByIDs(s.ctx, missing)
	if err != nil {
		return fmt.Errorf("lock wallets: %w", err)
	}
	found := map[string]bool{}
	for i := range wallets {
		w := wallets[i]
		s.locked[w.ID] = &w
		found[w.ID] = true
	}
	for _, id := range missing {
		if !found[id] {
			return &InvalidWalletError{WalletID: id, Reason: "unknown wallet"}
		}
	}

	sums, err := s.txlog.balances(s.ctx, missing)
	if err != nil {
		return err
	}
	for id, sum := range sums {
		s.balances[id] = sum
	}
	return nil
}

// Balance returns the wallet balance including postings made in this scope.
func (s *Scope) Balance(walletID string) (decimal.Decimal, error) {
	if err := s.Lock(walletID); err != nil {
		return decimal.Zero, err
	}
	return s.balances[walletID], nil
}

// Post appends one entry. Debits that would take the wallet below zero
// fail with InsufficientBalanceError.
func (s *Scope) Post(in EntryInput) (Posting, error) {
	if err := in.validate(); err != nil {
		return Posting{}, err
	}
	if err := s.Lock(in.WalletID); err != nil {
		return Posting{}, err
	}
	wallet := s.locked[in.WalletID]
	balance := s.balances[in.WalletID]

	if !wallet.IsActive {
		return Posting{}, &InvalidWalletError{WalletID: wallet.ID, Reason: "wallet is inactive"}
	}
	if in.Amount.IsNegative() && balance.Add(in.Amount).IsNegative() {
		return Posting{}, &InsufficientBalanceError{
			WalletID: wallet.ID,
			Balance:  balance,
			Required: in.Amount.Neg(),
		}
	}

	entry, err := s.txlog.appendTo(s.ctx, wallet, in)
	if err != nil {
		return Posting{}, err
	}

	balance = balance.Add(entry.Amount)
	s.balances[wallet.ID] = balance

	p := Posting{
		EntryID:      entry.ID,
		WalletID:     wallet.ID,
		AccountID:    wallet.AccountID,
		WalletType:   wallet.WalletType,
		Type:         entry.TransactionType,
		Amount:       entry.Amount,
		CauseID:      entry.CauseID,
		LevelDepth:   entry.LevelDepth,
		BalanceAfter: balance,
	}
	s.postings = append(s.postings, p)
	return p, nil
}

type TransferInput struct {
	FromWalletID string
	ToWalletID   string
	Amount       decimal.Decimal
	Fee          decimal.Decimal
	CauseID      string
}

func (in TransferInput) validate() error {
	if !in.Amount.IsPositive() {
		return invalid("transfer amount must be positive")
	}
	if in.Fee.IsNegative() {
		return invalid("transfer fee must not be negative")
	}
	if in.FromWalletID == "" || in.ToWalletID == "" {
		return invalid("transfer needs both wallets")
	}
	if in.FromWalletID == in.ToWalletID {
		return invalid("cannot transfer to the same wallet")
	}
	return nil
}

// Transfer debits from by amount+fee, credits to by amount and the fee sink
// by fee, all under one cause.
func (s *Scope) Transfer(in TransferInput) error {
	if err := in.validate(); err != nil {
		return err
	}

	ids := []string{in.FromWalletID, in.ToWalletID}
	var sinkID string
	if in.Fee.IsPositive() {
		sink, err := s.FeeSink()
		if err != nil {
			return err
		}
		sinkID = sink.ID
		ids = append(ids, sinkID)
	}
	if err := s.Lock(ids...); err != nil {
		return err
	}

	debit := in.Amount.Add(in.Fee)
	if _, err := s.Post(EntryInput{
		WalletID: in.FromWalletID,
		Amount:   debit.Neg(),
		Type:     model.TxTransfer,
		CauseID:  in.CauseID,
	}); err != nil {
		return err
	}
	if _, err := s.Post(EntryInput{
		WalletID: in.ToWalletID,
		Amount:   in.Amount,
		Type:     model.TxTransfer,
		CauseID:  in.CauseID,
	}); err != nil {
		return err
	}
	if sinkID != "" {
		if _, err := s.Post(EntryInput{
			WalletID: sinkID,
			Amount:   in.Fee,
			Type:     model.TxFee,
			CauseID:  in.CauseID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Postings made so far in this scope.
func (s *Scope) Postings() []Posting {
	return append([]Posting(nil), s.postings...)
}

// LockedWallet returns the locked wallet row with its running balance.
func (s *Scope) LockedWallet(walletID string) (model.Wallet, error) {
	if err := s.Lock(walletID); err != nil {
		return model.Wallet{}, err
	}
	w := *s.locked[walletID]
	w.Balance = s.balances[walletID]
	return w, nil
}

// CauseExists reports whether any entry already carries causeID.
func (s *Scope) CauseExists(causeID string) (bool, error) {
	exists, err := s.txlog.entries.CauseExists(s.ctx, causeID)
	if err != nil {
		return false, fmt.Errorf("check cause %s: %w", causeID, err)
	}
	return exists, nil
}
