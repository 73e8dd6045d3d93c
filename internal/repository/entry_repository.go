package repository

import (
	"context"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type EntryRepository struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewEntryRepository(db *gorm.DB, log *logrus.Logger) *EntryRepository {
	return &EntryRepository{
		db:  db,
		log: log,
	}
}

// WithTx returns a repository bound to tx.
func (r *EntryRepository) WithTx(tx *gorm.DB) *EntryRepository {
	return &EntryRepository{db: tx, log: r.log}
}

// SaveEntry inserts one log entry; the unique (wallet_id, cause_id,
// transaction_type) index rejects replays.
func (r *EntryRepository) SaveEntry(ctx context.Context, entry *model.TransactionLogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// EntryExists checks if the (wallet, cause, type) tuple was already posted
func (r *EntryRepository) EntryExists(ctx context.Context, walletID, causeID string, txType model.TransactionType) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.TransactionLogEntry{}).
		Where("wallet_id = ? AND cause_id = ? AND transaction_type = ?", walletID, causeID, txType).
		Count(&count).Error

	return count > 0, err
}

// CauseExists checks if any entry carries causeID
func (r *EntryRepository) CauseExists(ctx context.Context, causeID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.TransactionLogEntry{}).
		Where("cause_id = ?", causeID).
		Count(&count).Error

	return count > 0, err
}

type walletAmount struct {
	WalletID string
	Amount   decimal.Decimal
}

// SumByWallets folds the log into one balance per wallet. Amounts are summed
// in decimal on our side so the result never depends on the driver's numeric
// aggregate type. Wallets with no entries are reported as zero.
func (r *EntryRepository) SumByWallets(ctx context.Context, walletIDs []string) (map[string]decimal.Decimal, error) {
	sums := make(map[string]decimal.Decimal, len(walletIDs))
	if len(walletIDs) == 0 {
		return sums, nil
	}
	for _, id := range walletIDs {
		sums[id] = decimal.Zero
	}

	var rows []walletAmount
	err := r.db.WithContext(ctx).
		Model(&model.TransactionLogEntry{}).
		Select("wallet_id", "amount").
		Where("wallet_id IN ?", walletIDs).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		sums[row.WalletID] = sums[row.WalletID].Add(row.Amount)
	}
	return sums, nil
}

// History returns a wallet's entries newest first
func (r *EntryRepository) History(ctx context.Context, walletID string, limit, offset int) ([]model.TransactionLogEntry, error) {
	var entries []model.TransactionLogEntry
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error

	return entries, err
}

// ByCause returns every entry posted for causeID in insertion order
func (r *EntryRepository) ByCause(ctx context.Context, causeID string) ([]model.TransactionLogEntry, error) {
	var entries []model.TransactionLogEntry
	err := r.db.WithContext(ctx).
		Where("cause_id = ?", causeID).
		Order("id").
		Find(&entries).Error

	return entries, err
}
