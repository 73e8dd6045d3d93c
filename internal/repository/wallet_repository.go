package repository

import (
	"context"
	"sort"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WalletRepository struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewWalletRepository(db *gorm.DB, log *logrus.Logger) *WalletRepository {
	return &WalletRepository{
		db:  db,
		log: log,
	}
}

// WithTx returns a repository bound to tx.
func (r *WalletRepository) WithTx(tx *gorm.DB) *WalletRepository {
	return &WalletRepository{db: tx, log: r.log}
}

// CreateBatch inserts the wallets of a newly opened account
func (r *WalletRepository) CreateBatch(ctx context.Context, wallets []model.Wallet) error {
	if len(wallets) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&wallets).Error
}

func (r *WalletRepository) FindByID(ctx context.Context, id string) (*model.Wallet, error) {
	var wallet model.Wallet
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *WalletRepository) FindByAccountAndType(ctx context.Context, accountID string, walletType model.WalletType) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND wallet_type = ?", accountID, walletType).
		Take(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// FindByAccount returns the account's wallets ordered main, task, royalty
func (r *WalletRepository) FindByAccount(ctx context.Context, accountID string) ([]model.Wallet, error) {
	var wallets []model.Wallet
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Find(&wallets).Error
	if err != nil {
		return nil, err
	}

	order := map[model.WalletType]int{}
	for i, t := range model.WalletTypes {
		order[t] = i
	}
	sort.Slice(wallets, func(i, j int) bool {
		return order[wallets[i].WalletType] < order[wallets[j].WalletType]
	})
	return wallets, nil
}

// LockByIDs takes row locks on the wallets in ascending id order so that
// concurrent callers locking overlapping sets cannot deadlock.
func (r *WalletRepository) LockByIDs(ctx context.Context, ids []string) ([]model.Wallet, error) {
	var wallets []model.Wallet
	if len(ids) == 0 {
		return wallets, nil
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", sorted).
		Order("id").
		Find(&wallets).Error

	return wallets, err
}

func (r *WalletRepository) SetActive(ctx context.Context, id string, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ?", id).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListIDs pages through wallet ids (for cache sync)
func (r *WalletRepository) ListIDs(ctx context.Context, limit, offset int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.Wallet{}).
		Order("id").
		Limit(limit).
		Offset(offset).
		Pluck("id", &ids).Error

	return ids, err
}

// CountWallets returns total count of wallets
func (r *WalletRepository) CountWallets(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Wallet{}).Count(&count).Error
	return count, err
}
