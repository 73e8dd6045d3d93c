package approval

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/ledger"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/shopspring/decimal"
)

// Subject is the per-kind payload of an approval request. It is stored as
// JSON next to the request row.
type Subject interface {
	Kind() model.SubjectKind
	validate(amount decimal.Decimal) error
}

// PaymentSubject is a membership payment that upgrades the requester.
type PaymentSubject struct {
	Tier      model.Tier `json:"tier"`
	Reference string     `json:"reference,omitempty"`
}

func (PaymentSubject) Kind() model.SubjectKind { return model.SubjectPayment }

func (s PaymentSubject) validate(decimal.Decimal) error {
	if !s.Tier.Valid() || s.Tier == model.TierBasic {
		return &ledger.InvalidEventError{Reason: fmt.Sprintf("cannot pay for tier %q", s.Tier)}
	}
	return nil
}

type TaskSubmissionSubject struct {
	TaskID string `json:"task_id"`
	Notes  string `json:"notes,omitempty"`
}

func (TaskSubmissionSubject) Kind() model.SubjectKind { return model.SubjectTaskSubmission }

func (s TaskSubmissionSubject) validate(decimal.Decimal) error {
	if strings.TrimSpace(s.TaskID) == "" {
		return &ledger.InvalidEventError{Reason: "task_id is required"}
	}
	return nil
}

// CampaignSubject is an advertiser campaign. The request amount is the
// budget held in escrow; each completed slot pays RewardPerSlot from it.
type CampaignSubject struct {
	Title         string          `json:"title"`
	Slots         int             `json:"slots"`
	RewardPerSlot decimal.Decimal `json:"reward_per_slot"`
}

func (CampaignSubject) Kind() model.SubjectKind { return model.SubjectCampaign }

func (s CampaignSubject) validate(amount decimal.Decimal) error {
	if strings.TrimSpace(s.Title) == "" {
		return &ledger.InvalidEventError{Reason: "campaign title is required"}
	}
	if s.Slots <= 0 {
		return &ledger.InvalidEventError{Reason: "campaign needs at least one slot"}
	}
	if !s.RewardPerSlot.IsPositive() {
		return &ledger.InvalidEventError{Reason: "reward_per_slot must be positive"}
	}
	if s.RewardPerSlot.Mul(decimal.NewFromInt(int64(s.Slots))).GreaterThan(amount) {
		return &ledger.InvalidEventError{Reason: "campaign budget does not cover all slots"}
	}
	return nil
}

type CashOutSubject struct {
	SourceWallet model.WalletType `json:"source_wallet"`
	Destination  string           `json:"destination"`
}

func (CashOutSubject) Kind() model.SubjectKind { return model.SubjectCashOut }

func (s CashOutSubject) validate(decimal.Decimal) error {
	if !s.SourceWallet.Valid() {
		return &ledger.InvalidEventError{Reason: fmt.Sprintf("unknown source wallet %q", s.SourceWallet)}
	}
	if strings.TrimSpace(s.Destination) == "" {
		return &ledger.InvalidEventError{Reason: "cash-out destination is required"}
	}
	return nil
}

func encodeSubject(s Subject) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode %s subject: %w", s.Kind(), err)
	}
	return string(raw), nil
}

// DecodeSubject rebuilds the typed payload of a stored request.
func DecodeSubject(kind model.SubjectKind, payload string) (Subject, error) {
	var s Subject
	switch kind {
	case model.SubjectPayment:
		var v PaymentSubject
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, fmt.Errorf("decode payment subject: %w", err)
		}
		s = v
	case model.SubjectTaskSubmission:
		var v TaskSubmissionSubject
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, fmt.Errorf("decode task subject: %w", err)
		}
		s = v
	case model.SubjectCampaign:
		var v CampaignSubject
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, fmt.Errorf("decode campaign subject: %w", err)
		}
		s = v
	case model.SubjectCashOut:
		var v CashOutSubject
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, fmt.Errorf("decode cash-out subject: %w", err)
		}
		s = v
	default:
		return nil, &ledger.InvalidEventError{Reason: fmt.Sprintf("unknown subject kind %q", kind)}
	}
	return s, nil
}

// escrowSource is the requester wallet an escrowed request draws from and
// refunds to.
func escrowSource(s Subject) model.WalletType {
	if c, ok := s.(CashOutSubject); ok {
		return c.SourceWallet
	}
	return model.WalletMain
}
