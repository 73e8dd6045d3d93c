package events

import (
	"context"
	"sync"
	"time"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/shopspring/decimal"
)

const (
	RoutingWalletChanged   = "wallet.changed"
	RoutingApprovalDecided = "approval.decided"
)

// Event is a domain notification emitted after a ledger transaction commits.
type Event interface {
	RoutingKey() string
}

type WalletChange struct {
	EntryID         uint64                `json:"entry_id"`
	WalletID        string                `json:"wallet_id"`
	AccountID       string                `json:"account_id"`
	WalletType      model.WalletType      `json:"wallet_type"`
	TransactionType model.TransactionType `json:"transaction_type"`
	Amount          decimal.Decimal       `json:"amount"`
	Balance         decimal.Decimal       `json:"balance"`
	LevelDepth      *int                  `json:"level_depth,omitempty"`
}

// WalletChanged carries every posting of one committed cause.
type WalletChanged struct {
	CauseID    string         `json:"cause_id"`
	Changes    []WalletChange `json:"changes"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func (WalletChanged) RoutingKey() string { return RoutingWalletChanged }

type ApprovalDecided struct {
	RequestID   string               `json:"request_id"`
	Kind        model.SubjectKind    `json:"kind"`
	RequesterID string               `json:"requester_id"`
	Status      model.ApprovalStatus `json:"status"`
	ReviewerID  string               `json:"reviewer_id"`
	Reason      string               `json:"reason,omitempty"`
	OccurredAt  time.Time            `json:"occurred_at"`
}

func (ApprovalDecided) RoutingKey() string { return RoutingApprovalDecided }

// Publisher delivers events to subscribers. Delivery is best effort: the
// ledger has already committed by the time Publish is called.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// WalletChanges returns the recorded WalletChanged events in order.
func (r *Recorder) WalletChanges() []WalletChanged {
	var out []WalletChanged
	for _, ev := range r.Events() {
		if wc, ok := ev.(WalletChanged); ok {
			out = append(out, wc)
		}
	}
	return out
}

func (r *Recorder) Decisions() []ApprovalDecided {
	var out []ApprovalDecided
	for _, ev := range r.Events() {
		if d, ok := ev.(ApprovalDecided); ok {
			out = append(out, d)
		}
	}
	return out
}

// Fanout publishes to each publisher in turn.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) {
	for _, p := range f {
		p.Publish(ctx, ev)
	}
}
