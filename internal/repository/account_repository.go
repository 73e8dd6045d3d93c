package repository

import (
	"context"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccountRepository struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewAccountRepository(db *gorm.DB, log *logrus.Logger) *AccountRepository {
	return &AccountRepository{
		db:  db,
		log: log,
	}
}

// WithTx returns a repository bound to tx.
func (r *AccountRepository) WithTx(tx *gorm.DB) *AccountRepository {
	return &AccountRepository{db: tx, log: r.log}
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *AccountRepository) FindByUserID(ctx context.Context, userID string) (*model.Account, error) {
	var account model.Account
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// LockByUserID loads the account holding a row lock until the transaction ends.
func (r *AccountRepository) LockByUserID(ctx context.Context, userID string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Take(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) FindByReferralCode(ctx context.Context, code string) (*model.Account, error) {
	var account model.Account
	if err := r.db.WithContext(ctx).Where("referral_code = ?", code).Take(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) UpdateTier(ctx context.Context, userID string, tier model.Tier) error {
	res := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ?", userID).
		Update("membership_tier", tier)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Downline returns the accounts directly referred by userID
func (r *AccountRepository) Downline(ctx context.Context, userID string) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.WithContext(ctx).
		Where("referred_by = ?", userID).
		Order("created_at").
		Find(&accounts).Error

	return accounts, err
}
