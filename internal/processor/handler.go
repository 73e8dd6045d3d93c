package processor

import (
	"context"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/approval"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/commission"
	"github.com/sirupsen/logrus"
)

type Handler interface {
	Handle(ctx context.Context, msg IntentMessage) error
}

// LedgerHandler applies intents to the approval gate and commission engine.
type LedgerHandler struct {
	gate   *approval.Gate
	engine *commission.Engine
	log    *logrus.Logger
}

func NewLedgerHandler(gate *approval.Gate, engine *commission.Engine, log *logrus.Logger) *LedgerHandler {
	return &LedgerHandler{gate: gate, engine: engine, log: log}
}

func (h *LedgerHandler) Handle(ctx context.Context, msg IntentMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	var err error
	switch msg.Action {
	case ActionApprove:
		_, err = h.gate.Approve(ctx, msg.RequestID, msg.ReviewerID)
	case ActionReject:
		_, err = h.gate.Reject(ctx, msg.RequestID, msg.ReviewerID, msg.Reason)
	case ActionFlag:
		_, err = h.gate.Flag(ctx, msg.RequestID, msg.ReviewerID, msg.Reason)
	case ActionUnflag:
		_, err = h.gate.Unflag(ctx, msg.RequestID, msg.ReviewerID)
	case ActionDistribute:
		ev, convErr := msg.Event.QualifyingEvent()
		if convErr != nil {
			return convErr
		}
		_, err = h.engine.Distribute(ctx, ev)
	}
	return err
}
