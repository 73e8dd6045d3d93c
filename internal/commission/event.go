package commission

import (
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/ledger"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/shopspring/decimal"
)

// QualifyingEvent is one of MembershipUpgrade, TaskApproved or
// CampaignCompletion. Its ID becomes the cause of every posting.
type QualifyingEvent interface {
	EventID() string
	actor() string
	validate() error
}

type MembershipUpgrade struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Tier      model.Tier      `json:"tier"`
	Amount    decimal.Decimal `json:"amount"`
}

func (e MembershipUpgrade) EventID() string { return e.ID }
func (e MembershipUpgrade) actor() string   { return e.AccountID }

func (e MembershipUpgrade) validate() error {
	if err := common(e.ID, e.AccountID, e.Amount); err != nil {
		return err
	}
	if !e.Tier.Valid() {
		return &ledger.InvalidEventError{Reason: "unknown tier " + string(e.Tier)}
	}
	return nil
}

type TaskApproved struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"account_id"`
	TaskReward decimal.Decimal `json:"task_reward"`
}

func (e TaskApproved) EventID() string { return e.ID }
func (e TaskApproved) actor() string   { return e.AccountID }
func (e TaskApproved) validate() error { return common(e.ID, e.AccountID, e.TaskReward) }

// CampaignCompletion pays a worker for one completed slot of an approved
// campaign. The reward is drawn from the campaign's escrow.
type CampaignCompletion struct {
	ID           string          `json:"id"`
	CampaignID   string          `json:"campaign_id"`
	AdvertiserID string          `json:"advertiser_id"`
	WorkerID     string          `json:"worker_id"`
	Reward       decimal.Decimal `json:"reward"`
}

func (e CampaignCompletion) EventID() string { return e.ID }
func (e CampaignCompletion) actor() string   { return e.WorkerID }

func (e CampaignCompletion) validate() error {
	if err := common(e.ID, e.WorkerID, e.Reward); err != nil {
		return err
	}
	if e.CampaignID == "" {
		return &ledger.InvalidEventError{Reason: "campaign_id is required"}
	}
	if e.WorkerID == e.AdvertiserID {
		return &ledger.InvalidEventError{Reason: "advertiser cannot complete their own campaign"}
	}
	return nil
}

func common(id, account string, amount decimal.Decimal) error {
	if id == "" {
		return &ledger.InvalidEventError{Reason: "event id is required"}
	}
	if account == "" {
		return &ledger.InvalidEventError{Reason: "account id is required"}
	}
	if !amount.IsPositive() {
		return &ledger.InvalidEventError{Reason: "amount must be positive"}
	}
	return nil
}
