package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxWithdrawal TransactionType = "withdrawal"
	TxTransfer   TransactionType = "transfer"
	TxCommission TransactionType = "commission"
	TxTaskReward TransactionType = "task_reward"
	TxFee        TransactionType = "fee"
	TxYield      TransactionType = "yield"
	TxLoan       TransactionType = "loan"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxTransfer, TxCommission, TxTaskReward, TxFee, TxYield, TxLoan:
		return true
	}
	return false
}

// TransactionLogEntry is append-only. ID is the per-table insertion sequence
// and gives every wallet's entries a total order.
type TransactionLogEntry struct {
	ID              uint64          `gorm:"primaryKey;autoIncrement;index:idx_entry_wallet_seq,priority:2" json:"id"`
	WalletID        string          `gorm:"size:36;not null;uniqueIndex:idx_entry_cause,priority:1;index:idx_entry_wallet_seq,priority:1" json:"wallet_id"`
	CauseID         string          `gorm:"size:128;not null;uniqueIndex:idx_entry_cause,priority:2;index:idx_entry_cause_id" json:"cause_id"`
	TransactionType TransactionType `gorm:"size:16;not null;uniqueIndex:idx_entry_cause,priority:3" json:"transaction_type"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"amount"`
	LevelDepth      *int            `json:"level_depth,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// TableName specifies the table name
func (TransactionLogEntry) TableName() string {
	return "transaction_log"
}
