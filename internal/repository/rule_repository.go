package repository

import (
	"context"
	"time"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type RuleRepository struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewRuleRepository(db *gorm.DB, log *logrus.Logger) *RuleRepository {
	return &RuleRepository{
		db:  db,
		log: log,
	}
}

func (r *RuleRepository) Create(ctx context.Context, rule *model.CommissionRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

// EffectiveAt returns the rule in force at t, or gorm.ErrRecordNotFound when
// none has been published yet.
func (r *RuleRepository) EffectiveAt(ctx context.Context, t time.Time) (*model.CommissionRule, error) {
	var rule model.CommissionRule
	err := r.db.WithContext(ctx).
		Where("effective_from <= ?", t).
		Order("effective_from DESC").
		Order("id DESC").
		Take(&rule).Error
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// History lists published rules newest first
func (r *RuleRepository) History(ctx context.Context, limit int) ([]model.CommissionRule, error) {
	var rules []model.CommissionRule
	err := r.db.WithContext(ctx).
		Order("effective_from DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rules).Error

	return rules, err
}
