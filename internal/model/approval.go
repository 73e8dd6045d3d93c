package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type SubjectKind string

const (
	SubjectPayment        SubjectKind = "payment"
	SubjectTaskSubmission SubjectKind = "task_submission"
	SubjectCampaign       SubjectKind = "campaign"
	SubjectCashOut        SubjectKind = "cash_out"
)

func (k SubjectKind) Valid() bool {
	switch k {
	case SubjectPayment, SubjectTaskSubmission, SubjectCampaign, SubjectCashOut:
		return true
	}
	return false
}

// Escrowed reports whether submissions of this kind hold funds until decided.
func (k SubjectKind) Escrowed() bool {
	return k == SubjectCampaign || k == SubjectCashOut
}

type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
	StatusFlagged  ApprovalStatus = "flagged"
)

// Open reports whether a decision can still be taken.
func (s ApprovalStatus) Open() bool {
	return s == StatusPending || s == StatusFlagged
}

type ApprovalRequest struct {
	ID              string          `gorm:"primaryKey;size:36" json:"id"`
	Kind            SubjectKind     `gorm:"size:24;not null;index" json:"kind"`
	SubjectID       string          `gorm:"size:128;not null" json:"subject_id"`
	RequesterID     string          `gorm:"size:64;not null;index" json:"requester_id"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"amount"`
	Status          ApprovalStatus  `gorm:"size:16;not null;index" json:"status"`
	ReviewerID      *string         `gorm:"size:64" json:"reviewer_id,omitempty"`
	DecisionReason  *string         `gorm:"type:text" json:"decision_reason,omitempty"`
	ProofURL        *string         `gorm:"type:text" json:"proof_url,omitempty"`
	Payload         string          `gorm:"type:text;not null" json:"payload"`
	Escrowed        decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"escrowed"`
	EscrowRemaining decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"escrow_remaining"`
	DecidedAt       *time.Time      `json:"decided_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TableName specifies the table name
func (ApprovalRequest) TableName() string {
	return "approval_requests"
}
