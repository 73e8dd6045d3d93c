package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	amountScale    = 8
	maxCauseLength = 128
)

type EntryInput struct {
	WalletID   string
	Amount     decimal.Decimal
	Type       model.TransactionType
	CauseID    string
	LevelDepth *int
}

func (in EntryInput) validate() error {
	if in.Amount.IsZero() {
		return invalid("amount must be non-zero")
	}
	if !in.Amount.Equal(in.Amount.Round(amountScale)) {
		return invalid("amount %s has more than %d decimal places", in.Amount, amountScale)
	}
	if !in.Type.Valid() {
		return invalid("unknown transaction type %q", in.Type)
	}
	if in.CauseID == "" {
		return invalid("cause_id is required")
	}
	if len(in.CauseID) > maxCauseLength {
		return invalid("cause_id longer than %d characters", maxCauseLength)
	}
	return nil
}

// TransactionLog is the append-only record every balance is derived from.
type TransactionLog struct {
	wallets *repository.WalletRepository
	entries *repository.EntryRepository
	log     *logrus.Logger
}

func NewTransactionLog(db *gorm.DB, log *logrus.Logger) *TransactionLog {
	return &TransactionLog{
		wallets: repository.NewWalletRepository(db, log),
		entries: repository.NewEntryRepository(db, log),
		log:     log,
	}
}

// WithTx returns a log whose reads and writes join tx.
func (l *TransactionLog) WithTx(tx *gorm.DB) *TransactionLog {
	return &TransactionLog{
		wallets: l.wallets.WithTx(tx),
		entries: l.entries.WithTx(tx),
		log:     l.log,
	}
}

// Append records one entry. It performs no balance check.
func (l *TransactionLog) Append(ctx context.Context, in EntryInput) (*model.TransactionLogEntry, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	wallet, err := l.wallets.FindByID(ctx, in.WalletID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &InvalidWalletError{WalletID: in.WalletID, Reason: "unknown wallet"}
		}
		return nil, fmt.Errorf("load wallet %s: %w", in.WalletID, err)
	}
	return l.appendTo(ctx, wallet, in)
}

func (l *TransactionLog) appendTo(ctx context.Context, wallet *model.Wallet, in EntryInput) (*model.TransactionLogEntry, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if !wallet.IsActive {
		return nil, &InvalidWalletError{WalletID: wallet.ID, Reason: "wallet is inactive"}
	}

	dup := &DuplicateCauseError{CauseID: in.CauseID, WalletID: wallet.ID, Type: in.Type}

	exists, err := l.entries.EntryExists(ctx, wallet.ID, in.CauseID, in.Type)
	if err != nil {
		return nil, fmt.Errorf("check entry: %w", err)
	}
	if exists {
		return nil, dup
	}

	entry := &model.TransactionLogEntry{
		WalletID:        wallet.ID,
		CauseID:         in.CauseID,
		TransactionType: in.Type,
		Amount:          in.Amount,
		LevelDepth:      in.LevelDepth,
	}
	if err := l.entries.SaveEntry(ctx, entry); err != nil {
		// A concurrent writer got the unique index first.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, dup
		}
		return nil, fmt.Errorf("save entry: %w", err)
	}

	l.log.WithFields(logrus.Fields{
		"entry_id":  entry.ID,
		"wallet_id": entry.WalletID,
		"cause_id":  entry.CauseID,
		"type":      entry.TransactionType,
		"amount":    entry.Amount.String(),
	}).Debug("entry appended")

	return entry, nil
}

// BalanceOf folds every entry of the wallet in sequence order.
func (l *TransactionLog) BalanceOf(ctx context.Context, walletID string) (decimal.Decimal, error) {
	if _, err := l.wallet(ctx, walletID); err != nil {
		return decimal.Zero, err
	}
	sums, err := l.entries.SumByWallets(ctx, []string{walletID})
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum entries: %w", err)
	}
	return sums[walletID], nil
}

func (l *TransactionLog) balances(ctx context.Context, walletIDs []string) (map[string]decimal.Decimal, error) {
	sums, err := l.entries.SumByWallets(ctx, walletIDs)
	if err != nil {
		return nil, fmt.Errorf("sum entries: %w", err)
	}
	return sums, nil
}

// History returns one page of a wallet's entries, newest first.
func (l *TransactionLog) History(ctx context.Context, walletID string, page, limit int) ([]model.TransactionLogEntry, error) {
	if _, err := l.wallet(ctx, walletID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	entries, err := l.entries.History(ctx, walletID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return entries, nil
}

func (l *TransactionLog) EntriesByCause(ctx context.Context, causeID string) ([]model.TransactionLogEntry, error) {
	entries, err := l.entries.ByCause(ctx, causeID)
	if err != nil {
		return nil, fmt.Errorf("load entries for cause %s: %w", causeID, err)
	}
	return entries, nil
}

func (l *TransactionLog) wallet(ctx context.Context, walletID string) (*model.Wallet, error) {
	wallet, err := l.wallets.FindByID(ctx, walletID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &InvalidWalletError{WalletID: walletID, Reason: "unknown wallet"}
		}
		return nil, fmt.Errorf("load wallet %s: %w", walletID, err)
	}
	return wallet, nil
}
