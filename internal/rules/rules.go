package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/config"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/ledger"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	MinOverrideDepth = 1
	MaxOverrideDepth = 2
)

// Snapshot is an immutable view of the commission rule in force at one
// instant. Callers read it once per event.
type Snapshot struct {
	Version              uint64                            `json:"version"`
	DirectCommissionRate decimal.Decimal                   `json:"direct_commission_rate"`
	NetworkOverrideRate  decimal.Decimal                   `json:"network_override_rate"`
	OverrideDepth        int                               `json:"override_depth"`
	FeeRates             map[model.FeeKind]decimal.Decimal `json:"platform_fee_rates"`
	EffectiveFrom        time.Time                         `json:"effective_from"`
}

// FeeRate returns the fee rate for kind, zero when unset.
func (s Snapshot) FeeRate(kind model.FeeKind) decimal.Decimal {
	if r, ok := s.FeeRates[kind]; ok {
		return r
	}
	return decimal.Zero
}

func (s Snapshot) Validate() error {
	if err := rate("direct_commission_rate", s.DirectCommissionRate); err != nil {
		return err
	}
	if err := rate("network_override_rate", s.NetworkOverrideRate); err != nil {
		return err
	}
	if s.OverrideDepth < MinOverrideDepth || s.OverrideDepth > MaxOverrideDepth {
		return &ledger.InvalidEventError{
			Reason: fmt.Sprintf("override_depth must be between %d and %d", MinOverrideDepth, MaxOverrideDepth),
		}
	}
	for kind, r := range s.FeeRates {
		if err := rate("fee rate "+string(kind), r); err != nil {
			return err
		}
	}
	return nil
}

func rate(name string, r decimal.Decimal) error {
	if r.IsNegative() || r.GreaterThan(decimal.NewFromInt(1)) {
		return &ledger.InvalidEventError{Reason: name + " must be within [0, 1]"}
	}
	return nil
}

func (s Snapshot) clone() Snapshot {
	fees := make(map[model.FeeKind]decimal.Decimal, len(s.FeeRates))
	for k, v := range s.FeeRates {
		fees[k] = v
	}
	s.FeeRates = fees
	return s
}

// Defaults builds the rule used until one is published.
func Defaults(cfg config.LedgerConfig) Snapshot {
	return Snapshot{
		DirectCommissionRate: cfg.DirectCommissionRate,
		NetworkOverrideRate:  cfg.NetworkOverrideRate,
		OverrideDepth:        cfg.OverrideDepth,
		FeeRates: map[model.FeeKind]decimal.Decimal{
			model.FeeTaskReward:     cfg.TaskFeeRate,
			model.FeeCampaignRefund: cfg.CampaignRefundFee,
			model.FeeCashOut:        cfg.CashOutFeeRate,
			model.FeeCashOutRefund:  cfg.CashOutRefundFee,
			model.FeeTransfer:       decimal.Zero,
		},
	}
}

type Service struct {
	repo     *repository.RuleRepository
	defaults Snapshot
	log      *logrus.Logger
}

func NewService(db *gorm.DB, defaults Snapshot, log *logrus.Logger) *Service {
	return &Service{
		repo:     repository.NewRuleRepository(db, log),
		defaults: defaults,
		log:      log,
	}
}

// Current returns the rule in force at at.
func (s *Service) Current(ctx context.Context, at time.Time) (Snapshot, error) {
	row, err := s.repo.EffectiveAt(ctx, at.UTC())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.defaults.clone(), nil
		}
		return Snapshot{}, fmt.Errorf("load commission rule: %w", err)
	}
	return fromRow(row)
}

// Publish inserts a new rule. A zero EffectiveFrom means now.
func (s *Service) Publish(ctx context.Context, snap Snapshot, createdBy string) (Snapshot, error) {
	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	if snap.EffectiveFrom.IsZero() {
		snap.EffectiveFrom = time.Now()
	}

	fees, err := json.Marshal(snap.FeeRates)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode fee rates: %w", err)
	}

	row := &model.CommissionRule{
		DirectCommissionRate: snap.DirectCommissionRate,
		NetworkOverrideRate:  snap.NetworkOverrideRate,
		OverrideDepth:        snap.OverrideDepth,
		PlatformFeeRates:     string(fees),
		EffectiveFrom:        snap.EffectiveFrom.UTC(),
		CreatedBy:            createdBy,
	}
	if err := s.repo.Create(ctx, row); err != nil {
		return Snapshot{}, fmt.Errorf("save commission rule: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"version":        row.ID,
		"direct_rate":    row.DirectCommissionRate.String(),
		"override_rate":  row.NetworkOverrideRate.String(),
		"override_depth": row.OverrideDepth,
		"effective_from": row.EffectiveFrom,
		"created_by":     createdBy,
	}).Info("commission rule published")

	return fromRow(row)
}

func (s *Service) History(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.repo.History(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("load rule history: %w", err)
	}
	out := make([]Snapshot, 0, len(rows))
	for i := range rows {
		snap, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func fromRow(row *model.CommissionRule) (Snapshot, error) {
	fees := map[model.FeeKind]decimal.Decimal{}
	if row.PlatformFeeRates != "" {
		if err := json.Unmarshal([]byte(row.PlatformFeeRates), &fees); err != nil {
			return Snapshot{}, fmt.Errorf("decode fee rates of rule %d: %w", row.ID, err)
		}
	}
	return Snapshot{
		Version:              row.ID,
		DirectCommissionRate: row.DirectCommissionRate,
		NetworkOverrideRate:  row.NetworkOverrideRate,
		OverrideDepth:        row.OverrideDepth,
		FeeRates:             fees,
		EffectiveFrom:        row.EffectiveFrom,
	}, nil
}
