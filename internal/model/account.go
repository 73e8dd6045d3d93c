package model

import (
	"time"
)

type Tier string

const (
	TierBasic  Tier = "basic"
	TierPro    Tier = "pro"
	TierExpert Tier = "expert"
	TierElite  Tier = "elite"
)

var tierRank = map[Tier]int{
	TierBasic:  0,
	TierPro:    1,
	TierExpert: 2,
	TierElite:  3,
}

func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// Rank orders tiers from basic (0) to elite (3); unknown tiers rank -1.
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return -1
}

// EarnsOverrides reports whether an upline of this tier is paid network
// overrides on downline activity.
func (t Tier) EarnsOverrides() bool {
	return t == TierExpert || t == TierElite
}

// Account is one member, or one of the platform's system accounts.
type Account struct {
	UserID         string    `gorm:"primaryKey;size:64" json:"user_id"`
	MembershipTier Tier      `gorm:"size:16;not null" json:"membership_tier"`
	ReferredBy     *string   `gorm:"size:64;index" json:"referred_by,omitempty"`
	ReferralCode   string    `gorm:"size:16;uniqueIndex;not null" json:"referral_code"`
	System         bool      `gorm:"not null" json:"system"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name
func (Account) TableName() string {
	return "accounts"
}

func (a *Account) HasSponsor() bool {
	return a.ReferredBy != nil && *a.ReferredBy != ""
}
