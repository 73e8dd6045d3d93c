package processor

import (
	"fmt"
	"time"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/commission"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/ledger"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionApprove    Action = "approve"
	ActionReject     Action = "reject"
	ActionFlag       Action = "flag"
	ActionUnflag     Action = "unflag"
	ActionDistribute Action = "distribute"
)

// IntentMessage is one queued instruction from the admin backend.
type IntentMessage struct {
	IntentID   string        `json:"intent_id"`
	Action     Action        `json:"action"`
	RequestID  string        `json:"request_id,omitempty"`
	ReviewerID string        `json:"reviewer_id,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Event      *EventPayload `json:"event,omitempty"`
	Timestamp  string        `json:"timestamp"`
	IssuedAt   string        `json:"issued_at"` // Alternative field name
}

// EventPayload is the wire form of a commission.QualifyingEvent.
type EventPayload struct {
	Type         string          `json:"type"`
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id,omitempty"`
	Tier         model.Tier      `json:"tier,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	CampaignID   string          `json:"campaign_id,omitempty"`
	AdvertiserID string          `json:"advertiser_id,omitempty"`
	WorkerID     string          `json:"worker_id,omitempty"`
}

const (
	EventMembershipUpgrade  = "membership_upgrade"
	EventTaskApproved       = "task_approved"
	EventCampaignCompletion = "campaign_completion"
)

func (p EventPayload) QualifyingEvent() (commission.QualifyingEvent, error) {
	switch p.Type {
	case EventMembershipUpgrade:
		return commission.MembershipUpgrade{ID: p.ID, AccountID: p.AccountID, Tier: p.Tier, Amount: p.Amount}, nil
	case EventTaskApproved:
		return commission.TaskApproved{ID: p.ID, AccountID: p.AccountID, TaskReward: p.Amount}, nil
	case EventCampaignCompletion:
		return commission.CampaignCompletion{
			ID:           p.ID,
			CampaignID:   p.CampaignID,
			AdvertiserID: p.AdvertiserID,
			WorkerID:     p.WorkerID,
			Reward:       p.Amount,
		}, nil
	}
	return nil, &ledger.InvalidEventError{Reason: fmt.Sprintf("unknown event type %q", p.Type)}
}

// Validate checks the envelope; the ledger validates the rest.
func (m *IntentMessage) Validate() error {
	switch m.Action {
	case ActionApprove, ActionReject, ActionFlag, ActionUnflag:
		if m.RequestID == "" {
			return &ledger.InvalidEventError{Reason: "request_id is required for " + string(m.Action)}
		}
	case ActionDistribute:
		if m.Event == nil {
			return &ledger.InvalidEventError{Reason: "event is required for distribute"}
		}
	default:
		return &ledger.InvalidEventError{Reason: fmt.Sprintf("unknown action %q", m.Action)}
	}
	return nil
}

// GetTimestamp returns the timestamp (handles both field names)
func (m *IntentMessage) GetTimestamp() string {
	if m.IssuedAt != "" {
		return m.IssuedAt
	}
	return m.Timestamp
}

// ParseTimestamp parses the timestamp string to time.Time
func (m *IntentMessage) ParseTimestamp() (time.Time, error) {
	ts := m.GetTimestamp()
	if ts == "" {
		return time.Now(), nil
	}

	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	}
	var err error
	for _, format := range formats {
		var t time.Time
		if t, err = time.Parse(format, ts); err == nil {
			return t, nil
		}
	}
	return time.Now(), err
}

type IncomingIntent struct {
	Payload  IntentMessage
	Delivery amqp091.Delivery
}
