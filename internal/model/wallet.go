package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type WalletType string

const (
	WalletMain    WalletType = "main"
	WalletTask    WalletType = "task"
	WalletRoyalty WalletType = "royalty"
)

// WalletTypes lists the three wallets every account owns.
var WalletTypes = []WalletType{WalletMain, WalletTask, WalletRoyalty}

func (w WalletType) Valid() bool {
	switch w {
	case WalletMain, WalletTask, WalletRoyalty:
		return true
	}
	return false
}

// Wallet has no stored balance. Balance is filled from the transaction log
// when a wallet is read through the ledger.
type Wallet struct {
	ID         string          `gorm:"primaryKey;size:36" json:"id"`
	AccountID  string          `gorm:"size:64;not null;uniqueIndex:idx_wallet_account_type,priority:1" json:"account_id"`
	WalletType WalletType      `gorm:"size:16;not null;uniqueIndex:idx_wallet_account_type,priority:2" json:"wallet_type"`
	IsActive   bool            `gorm:"not null" json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Balance    decimal.Decimal `gorm:"-" json:"balance"`
}

// TableName specifies the table name
func (Wallet) TableName() string {
	return "wallets"
}
