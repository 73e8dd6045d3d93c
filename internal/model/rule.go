package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeKind names an operation the platform charges a fee on.
type FeeKind string

const (
	FeeTaskReward     FeeKind = "task_reward"
	FeeCampaignRefund FeeKind = "campaign_refund"
	FeeCashOut        FeeKind = "cash_out"
	FeeCashOutRefund  FeeKind = "cash_out_refund"
	FeeTransfer       FeeKind = "transfer"
)

// CommissionRule rows are inserted, never updated. The row with the latest
// EffectiveFrom not after an event's time governs that event.
type CommissionRule struct {
	ID                   uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	DirectCommissionRate decimal.Decimal `gorm:"type:numeric(10,6);not null" json:"direct_commission_rate"`
	NetworkOverrideRate  decimal.Decimal `gorm:"type:numeric(10,6);not null" json:"network_override_rate"`
	OverrideDepth        int             `gorm:"not null" json:"override_depth"`
	PlatformFeeRates     string          `gorm:"type:text;not null" json:"platform_fee_rates"`
	EffectiveFrom        time.Time       `gorm:"not null;index" json:"effective_from"`
	CreatedBy            string          `gorm:"size:64" json:"created_by"`
	CreatedAt            time.Time       `json:"created_at"`
}

// TableName specifies the table name
func (CommissionRule) TableName() string {
	return "commission_rules"
}
