package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/commission"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/events"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/ledger"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/metrics"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/repository"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/rules"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	escrowSuffix = ":escrow"
	refundSuffix = ":refund"
)

// Gate is the admin review state machine in front of every payout.
//
//	pending --approve--> approved
//	pending --reject---> rejected
//	pending --flag-----> flagged --unflag--> pending
//	flagged --approve/reject--> approved/rejected
type Gate struct {
	store     *ledger.WalletStore
	engine    *commission.Engine
	rules     commission.RuleSource
	requests  *repository.ApprovalRepository
	publisher events.Publisher
	log       *logrus.Logger
}

func NewGate(
	db *gorm.DB,
	store *ledger.WalletStore,
	engine *commission.Engine,
	rules commission.RuleSource,
	publisher events.Publisher,
	log *logrus.Logger,
) *Gate {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Gate{
		store:     store,
		engine:    engine,
		rules:     rules,
		requests:  repository.NewApprovalRepository(db, log),
		publisher: publisher,
		log:       log,
	}
}

type SubmitInput struct {
	RequesterID string
	SubjectID   string
	Amount      decimal.Decimal
	ProofURL    *string
	Subject     Subject
}

type Result struct {
	Request   *model.ApprovalRequest
	ChangeSet *ledger.ChangeSet
	// NetPayout is what leaves the platform on an approved cash-out.
	NetPayout decimal.Decimal
}

// Submit opens a pending request. Campaign budgets and cash-outs move into
// escrow in the same transaction.
func (g *Gate) Submit(ctx context.Context, in SubmitInput) (*Result, error) {
	if in.Subject == nil {
		return nil, &ledger.InvalidEventError{Reason: "subject is required"}
	}
	if strings.TrimSpace(in.RequesterID) == "" {
		return nil, &ledger.InvalidEventError{Reason: "requester_id is required"}
	}
	if !in.Amount.IsPositive() {
		return nil, &ledger.InvalidEventError{Reason: "amount must be positive"}
	}
	if err := in.Subject.validate(in.Amount); err != nil {
		return nil, err
	}
	payload, err := encodeSubject(in.Subject)
	if err != nil {
		return nil, err
	}

	kind := in.Subject.Kind()
	req := &model.ApprovalRequest{
		ID:              uuid.NewString(),
		Kind:            kind,
		SubjectID:       in.SubjectID,
		RequesterID:     in.RequesterID,
		Amount:          in.Amount,
		Status:          model.StatusPending,
		ProofURL:        in.ProofURL,
		Payload:         payload,
		Escrowed:        decimal.Zero,
		EscrowRemaining: decimal.Zero,
	}
	if req.SubjectID == "" {
		req.SubjectID = req.ID
	}

	cs, err := g.store.InScope(ctx, func(sc *ledger.Scope) error {
		requester, err := sc.Account(in.RequesterID)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return &ledger.InvalidEventError{Reason: "unknown requester " + in.RequesterID}
			}
			return err
		}
		if requester.System {
			return &ledger.InvalidEventError{Reason: "system accounts cannot submit requests"}
		}
		if p, ok := in.Subject.(PaymentSubject); ok && p.Tier.Rank() <= requester.MembershipTier.Rank() {
			return &ledger.InvalidEventError{
				Reason: fmt.Sprintf("tier %s is not an upgrade from %s", p.Tier, requester.MembershipTier),
			}
		}

		if kind.Escrowed() {
			if err := g.hold(sc, req, in.Subject); err != nil {
				return err
			}
		}
		if err := g.requests.WithTx(sc.Tx()).Create(ctx, req); err != nil {
			return fmt.Errorf("create approval request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.log.WithFields(logrus.Fields{
		"request_id": req.ID,
		"kind":       req.Kind,
		"requester":  req.RequesterID,
		"amount":     req.Amount.String(),
	}).Info("approval request submitted")

	return &Result{Request: req, ChangeSet: cs}, nil
}

func (g *Gate) hold(sc *ledger.Scope, req *model.ApprovalRequest, subject Subject) error {
	from, err := sc.WalletOf(req.RequesterID, escrowSource(subject))
	if err != nil {
		return err
	}
	escrow, err := sc.EscrowWallet()
	if err != nil {
		return err
	}
	if err := sc.Transfer(ledger.TransferInput{
		FromWalletID: from.ID,
		ToWalletID:   escrow.ID,
		Amount:       req.Amount,
		Fee:          decimal.Zero,
		CauseID:      req.ID + escrowSuffix,
	}); err != nil {
		return err
	}
	req.Escrowed = req.Amount
	req.EscrowRemaining = req.Amount
	return nil
}

func (g *Gate) Approve(ctx context.Context, requestID, reviewerID string) (*Result, error) {
	rule, err := g.rules.Current(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	res := &Result{NetPayout: decimal.Zero}
	cs, err := g.decide(ctx, requestID, reviewerID, func(sc *ledger.Scope, req *model.ApprovalRequest, subject Subject) error {
		switch s := subject.(type) {
		case PaymentSubject:
			account, err := sc.Accounts().LockByUserID(ctx, req.RequesterID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("account %s: %w", req.RequesterID, ledger.ErrNotFound)
				}
				return fmt.Errorf("lock account %s: %w", req.RequesterID, err)
			}
			// Another payment may have been approved since this one was submitted.
			if s.Tier.Rank() <= account.MembershipTier.Rank() {
				return &ledger.InvalidEventError{
					Reason: fmt.Sprintf("tier %s is not an upgrade from %s", s.Tier, account.MembershipTier),
				}
			}
			if err := sc.Accounts().UpdateTier(ctx, req.RequesterID, s.Tier); err != nil {
				return fmt.Errorf("update tier: %w", err)
			}
			return g.engine.DistributeIn(sc, commission.MembershipUpgrade{
				ID:        req.ID,
				AccountID: req.RequesterID,
				Tier:      s.Tier,
				Amount:    req.Amount,
			}, rule)

		case TaskSubmissionSubject:
			return g.engine.DistributeIn(sc, commission.TaskApproved{
				ID:         req.ID,
				AccountID:  req.RequesterID,
				TaskReward: req.Amount,
			}, rule)

		case CampaignSubject:
			// Live: the budget stays in escrow and pays completions.
			return nil

		case CashOutSubject:
			net, err := g.payOut(sc, req, rule)
			res.NetPayout = net
			return err
		}
		return &ledger.InvalidEventError{Reason: "unsupported subject " + string(req.Kind)}
	}, model.StatusApproved, "")
	if err != nil {
		return nil, err
	}
	res.Request = cs.request
	res.ChangeSet = cs.changes
	return res, nil
}

// payOut releases an escrowed cash-out to the outside world. The fee stays
// with the platform.
func (g *Gate) payOut(sc *ledger.Scope, req *model.ApprovalRequest, rule rules.Snapshot) (decimal.Decimal, error) {
	escrow, err := sc.EscrowWallet()
	if err != nil {
		return decimal.Zero, err
	}
	fee := req.EscrowRemaining.Mul(rule.FeeRate(model.FeeCashOut)).Round(2)

	ids := []string{escrow.ID}
	var sinkID string
	if fee.IsPositive() {
		sink, err := sc.FeeSink()
		if err != nil {
			return decimal.Zero, err
		}
		sinkID = sink.ID
		ids = append(ids, sinkID)
	}
	if err := sc.Lock(ids...); err != nil {
		return decimal.Zero, err
	}

	if _, err := sc.Post(ledger.EntryInput{
		WalletID: escrow.ID,
		Amount:   req.EscrowRemaining.Neg(),
		Type:     model.TxWithdrawal,
		CauseID:  req.ID,
	}); err != nil {
		return decimal.Zero, err
	}
	if sinkID != "" {
		if _, err := sc.Post(ledger.EntryInput{
			WalletID: sinkID,
			Amount:   fee,
			Type:     model.TxFee,
			CauseID:  req.ID,
		}); err != nil {
			return decimal.Zero, err
		}
	}

	net := req.EscrowRemaining.Sub(fee)
	req.EscrowRemaining = decimal.Zero
	return net, nil
}

func (g *Gate) Reject(ctx context.Context, requestID, reviewerID, reason string) (*Result, error) {
	rule, err := g.rules.Current(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	cs, err := g.decide(ctx, requestID, reviewerID, func(sc *ledger.Scope, req *model.ApprovalRequest, subject Subject) error {
		if !req.Kind.Escrowed() || !req.EscrowRemaining.IsPositive() {
			return nil
		}
		return g.refund(sc, req, subject, rule)
	}, model.StatusRejected, reason)
	if err != nil {
		return nil, err
	}
	return &Result{Request: cs.request, ChangeSet: cs.changes, NetPayout: decimal.Zero}, nil
}

// refund returns what is left in escrow to the requester, less the refund fee.
func (g *Gate) refund(sc *ledger.Scope, req *model.ApprovalRequest, subject Subject, rule rules.Snapshot) error {
	feeKind := model.FeeCampaignRefund
	if req.Kind == model.SubjectCashOut {
		feeKind = model.FeeCashOutRefund
	}

	escrow, err := sc.EscrowWallet()
	if err != nil {
		return err
	}
	back, err := sc.WalletOf(req.RequesterID, escrowSource(subject))
	if err != nil {
		return err
	}
	remaining := req.EscrowRemaining
	fee := remaining.Mul(rule.FeeRate(feeKind)).Round(2)
	if fee.GreaterThan(remaining) {
		fee = remaining
	}
	net := remaining.Sub(fee)

	ids := []string{escrow.ID, back.ID}
	var sinkID string
	if fee.IsPositive() {
		sink, err := sc.FeeSink()
		if err != nil {
			return err
		}
		sinkID = sink.ID
		ids = append(ids, sinkID)
	}
	if err := sc.Lock(ids...); err != nil {
		return err
	}

	cause := req.ID + refundSuffix
	postings := []ledger.EntryInput{
		{WalletID: escrow.ID, Amount: remaining.Neg(), Type: model.TxTransfer, CauseID: cause},
	}
	if net.IsPositive() {
		postings = append(postings, ledger.EntryInput{WalletID: back.ID, Amount: net, Type: model.TxTransfer, CauseID: cause})
	}
	if sinkID != "" {
		postings = append(postings, ledger.EntryInput{WalletID: sinkID, Amount: fee, Type: model.TxFee, CauseID: cause})
	}
	for _, p := range postings {
		if _, err := sc.Post(p); err != nil {
			return err
		}
	}

	req.EscrowRemaining = decimal.Zero
	return nil
}

type decision struct {
	request *model.ApprovalRequest
	changes *ledger.ChangeSet
}

// decide locks the request row, runs apply and records the terminal status,
// all in one transaction.
func (g *Gate) decide(
	ctx context.Context,
	requestID, reviewerID string,
	apply func(*ledger.Scope, *model.ApprovalRequest, Subject) error,
	status model.ApprovalStatus,
	reason string,
) (*decision, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return nil, &ledger.InvalidEventError{Reason: "reviewer_id is required"}
	}

	var req *model.ApprovalRequest
	cs, err := g.store.InScope(ctx, func(sc *ledger.Scope) error {
		var err error
		req, err = g.lockOpen(sc, requestID, reviewerID)
		if err != nil {
			return err
		}
		subject, err := DecodeSubject(req.Kind, req.Payload)
		if err != nil {
			return err
		}
		if err := apply(sc, req, subject); err != nil {
			return err
		}
		return g.record(sc, req, status, reviewerID, reason)
	})
	if err != nil {
		g.log.WithError(err).WithFields(logrus.Fields{
			"request_id": requestID,
			"reviewer":   reviewerID,
			"status":     status,
			"class":      ledger.Classify(err),
		}).Warn("approval decision refused")
		metrics.OutcomesTotal.WithLabelValues("decide", ledger.Classify(err)).Inc()
		return nil, err
	}

	g.decided(ctx, req)
	return &decision{request: req, changes: cs}, nil
}

func (g *Gate) lockOpen(sc *ledger.Scope, requestID, reviewerID string) (*model.ApprovalRequest, error) {
	req, err := g.requests.WithTx(sc.Tx()).LockByID(sc.Context(), requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("approval request %s: %w", requestID, ledger.ErrNotFound)
		}
		return nil, fmt.Errorf("lock approval request %s: %w", requestID, err)
	}
	if !req.Status.Open() {
		return nil, &ledger.AlreadyDecidedError{RequestID: req.ID, Status: req.Status}
	}
	if req.RequesterID == reviewerID {
		return nil, &ledger.InvalidEventError{Reason: "reviewers cannot decide their own requests"}
	}
	return req, nil
}

func (g *Gate) record(sc *ledger.Scope, req *model.ApprovalRequest, status model.ApprovalStatus, reviewerID, reason string) error {
	now := time.Now().UTC()
	req.Status = status
	req.ReviewerID = &reviewerID
	if reason != "" {
		req.DecisionReason = &reason
	}
	if status == model.StatusApproved || status == model.StatusRejected {
		req.DecidedAt = &now
	}
	if err := g.requests.WithTx(sc.Tx()).SaveDecision(sc.Context(), req); err != nil {
		return fmt.Errorf("save decision: %w", err)
	}
	return nil
}

func (g *Gate) decided(ctx context.Context, req *model.ApprovalRequest) {
	metrics.DecisionsTotal.WithLabelValues(string(req.Kind), string(req.Status)).Inc()

	ev := events.ApprovalDecided{
		RequestID:   req.ID,
		Kind:        req.Kind,
		RequesterID: req.RequesterID,
		Status:      req.Status,
		OccurredAt:  time.Now().UTC(),
	}
	if req.ReviewerID != nil {
		ev.ReviewerID = *req.ReviewerID
	}
	if req.DecisionReason != nil {
		ev.Reason = *req.DecisionReason
	}
	g.publisher.Publish(ctx, ev)

	g.log.WithFields(logrus.Fields{
		"request_id": req.ID,
		"kind":       req.Kind,
		"status":     req.Status,
		"reviewer":   ev.ReviewerID,
	}).Info("approval request decided")
}

// Flag parks a pending request for closer review.
func (g *Gate) Flag(ctx context.Context, requestID, reviewerID, reason string) (*model.ApprovalRequest, error) {
	return g.transition(ctx, requestID, reviewerID, reason, model.StatusPending, model.StatusFlagged)
}

// Unflag returns a flagged request to the pending queue.
func (g *Gate) Unflag(ctx context.Context, requestID, reviewerID string) (*model.ApprovalRequest, error) {
	return g.transition(ctx, requestID, reviewerID, "", model.StatusFlagged, model.StatusPending)
}

func (g *Gate) transition(ctx context.Context, requestID, reviewerID, reason string, from, to model.ApprovalStatus) (*model.ApprovalRequest, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return nil, &ledger.InvalidEventError{Reason: "reviewer_id is required"}
	}

	var req *model.ApprovalRequest
	_, err := g.store.InScope(ctx, func(sc *ledger.Scope) error {
		var err error
		req, err = g.lockOpen(sc, requestID, reviewerID)
		if err != nil {
			return err
		}
		if req.Status != from {
			return &ledger.InvalidEventError{Reason: fmt.Sprintf("request %s is %s, expected %s", req.ID, req.Status, from)}
		}
		return g.record(sc, req, to, reviewerID, reason)
	})
	if err != nil {
		return nil, err
	}

	g.decided(ctx, req)
	return req, nil
}

func (g *Gate) Get(ctx context.Context, requestID string) (*model.ApprovalRequest, Subject, error) {
	req, err := g.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("approval request %s: %w", requestID, ledger.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("load approval request %s: %w", requestID, err)
	}
	subject, err := DecodeSubject(req.Kind, req.Payload)
	if err != nil {
		return nil, nil, err
	}
	return req, subject, nil
}

func (g *Gate) List(ctx context.Context, filter repository.ApprovalFilter, page, limit int) ([]model.ApprovalRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	reqs, err := g.requests.List(ctx, filter, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	return reqs, nil
}

type CompletionInput struct {
	CampaignID   string
	WorkerID     string
	CompletionID string
}

// CompleteCampaign pays one slot of a live campaign to WorkerID.
func (g *Gate) CompleteCampaign(ctx context.Context, in CompletionInput) (*ledger.ChangeSet, error) {
	if in.CompletionID == "" {
		return nil, &ledger.InvalidEventError{Reason: "completion_id is required"}
	}
	req, subject, err := g.Get(ctx, in.CampaignID)
	if err != nil {
		return nil, err
	}
	campaign, ok := subject.(CampaignSubject)
	if !ok {
		return nil, &ledger.InvalidEventError{Reason: in.CampaignID + " is not a campaign"}
	}

	return g.engine.Distribute(ctx, commission.CampaignCompletion{
		ID:           req.ID + "/" + in.CompletionID,
		CampaignID:   req.ID,
		AdvertiserID: req.RequesterID,
		WorkerID:     in.WorkerID,
		Reward:       campaign.RewardPerSlot,
	})
}
