package api

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/approval"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/ledger"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/repository"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/rules"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	store *ledger.WalletStore
	gate  *approval.Gate
	rules *rules.Service
	log   *logrus.Logger
}

func NewHandler(store *ledger.WalletStore, gate *approval.Gate, rules *rules.Service, log *logrus.Logger) *Handler {
	return &Handler{store: store, gate: gate, rules: rules, log: log}
}

// fail logs the error with the handler name and writes the mapped response.
func (h *Handler) fail(c *fiber.Ctx, op, message string, err error) error {
	entry := h.log.WithFields(logrus.Fields{
		"op":    op,
		"class": ledger.Classify(err),
		"path":  c.Path(),
	}).WithError(err)
	if ledger.IsConflict(err) || ledger.IsValidation(err) {
		entry.Info("request refused")
	} else {
		entry.Error("request failed")
	}
	return writeLedgerError(c, message, err)
}

func pageParams(c *fiber.Ctx) (int, int) {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return page, limit
}

// Accounts

type openAccountRequest struct {
	UserID      string `json:"user_id" validate:"required,max=64"`
	SponsorCode string `json:"sponsor_code" validate:"omitempty,max=16"`
}

func (h *Handler) OpenAccount(c *fiber.Ctx) error {
	var req openAccountRequest
	if err := bind(c, &req); err != nil {
		return writeBindError(c, err)
	}

	account, wallets, err := h.store.OpenAccount(c.UserContext(), ledger.OpenAccountInput{
		UserID:      req.UserID,
		SponsorCode: req.SponsorCode,
	})
	if err != nil {
		return h.fail(c, "OpenAccount", "Failed to open account", err)
	}
	return writeSuccess(c, fiber.StatusCreated, "Account opened", newAccountView(account, wallets))
}

func (h *Handler) GetAccount(c *fiber.Ctx) error {
	account, err := h.store.Account(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, "GetAccount", "Failed to load account", err)
	}
	return writeSuccess(c, fiber.StatusOK, "Account", newAccountView(account, nil))
}

func (h *Handler) ListWallets(c *fiber.Ctx) error {
	wallets, err := h.store.Wallets(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, "ListWallets", "Failed to load wallets", err)
	}
	return writeSuccess(c, fiber.StatusOK, "Wallets", newWalletViews(wallets))
}

func (h *Handler) Downline(c *fiber.Ctx) error {
	accounts, err := h.store.Downline(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, "Downline", "Failed to load downline", err)
	}
	out := make([]accountView, len(accounts))
	for i := range accounts {
		out[i] = newAccountView(&accounts[i], nil)
	}
	return writeSuccess(c, fiber.StatusOK, "Downline", out)
}

// Wallets

func (h *Handler) GetWallet(c *fiber.Ctx) error {
	wallet, err := h.store.Wallet(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, "GetWallet", "Failed to load wallet", err)
	}
	return writeSuccess(c, fiber.StatusOK, "Wallet", newWalletView(*wallet))
}

func (h *Handler) GetBalance(c *fiber.Ctx) error {
	id := c.Params("id")
	balance, cached, err := h.store.CachedBalance(c.UserContext(), id)
	if err != nil {
		return h.fail(c, "GetBalance", "Failed to load balance", err)
	}
	return writeSuccess(c, fiber.StatusOK, "Balance", fiber.Map{
		"wallet_id": id,
		"balance":   balance,
		"display":   ledger.FormatAmount(balance),
		"cached":    cached,
	})
}

func (h *Handler) History(c *fiber.Ctx) error {
	page, limit := pageParams(c)
	entries, err := h.store.Log().History(c.UserContext(), c.Params("id"), page, limit)
	if err != nil {
		return h.fail(c, "History", "Failed to load history", err)
	}
	return writeSuccessWithMeta(c, "History", entries, &Meta{Page: page, Limit: limit, Count: len(entries)})
}

// CauseEntries lists every entry posted under one cause, for audit.
func (h *Handler) CauseEntries(c *fiber.Ctx) error {
	entries, err := h.store.Log().EntriesByCause(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, "CauseEntries", "Failed to load entries", err)
	}
	return writeSuccess(c, fiber.StatusOK, "Entries", entries)
}

type postEntryRequest struct {
	Amount          decimal.Decimal       `json:"amount"`
	TransactionType model.TransactionType `json:"transaction_type" validate:"required"`
	CauseID         string                `json:"cause_id" validate:"required,max=128"`
}

// PostEntry is the operator path for deposits and manual adjustments.
func (h *Handler) PostEntry(c *fiber.Ctx) error {
	var req postEntryRequest
	if err := bind(c, &req); err != nil {
		return writeBindError(c, err)
	}

	wallet, err := h.store.ApplyDelta(c.UserContext(), c.Params("id"), req.Amount, req.TransactionType, req.CauseID)
	if err != nil {
		return h.fail(c, "PostEntry", "Failed to post entry", err)
	}
	return writeSuccess(c, fiber.StatusCreated, "Entry posted", newWalletView(*wallet))
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *Handler) SetActive(c *fiber.Ctx) error {
	var req setActiveRequest
	if err := bind(c, &req); err != nil {
		return writeBindError(c, err)
	}

	wallet, err := h.store.SetWalletActive(c.UserContext(), c.Params("id"), *req.Active)
	if err != nil {
		return h.fail(c, "SetActive", "Failed to update wallet", err)
	}
	return writeSuccess(c, fiber.StatusOK, "Wallet updated", newWalletView(*wallet))
}

type transferRequest struct {
	FromWalletID string          `json:"from_wallet_id" validate:"required"`
	ToWalletID   string          `json:"to_wallet_id" validate:"required,nefield=FromWalletID"`
	Amount       decimal.Decimal `json:"amount"`
	CauseID      string          `json:"cause_id" validate:"required,max=128"`
}

// Transfer charges the transfer fee rate in force, rounded to cents.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := bind(c, &req); err != nil {
		return writeBindError(c, err)
	}

	rule, err := h.rules.Current(c.UserContext(), time.Now())
	if err != nil {
		return h.fail(c, "Transfer", "Failed to load commission rule", err)
	}
	fee := req.Amount.Mul(rule.FeeRate(model.FeeTransfer)).Round(2)

	res, err := h.store.Transfer(c.UserContext(), ledger.TransferInput{
		FromWalletID: req.FromWalletID,
		ToWalletID:   req.ToWalletID,
		Amount:       req.Amount,
		Fee:          fee,
		CauseID:      req.CauseID,
	})
	if err != nil {
		return h.fail(c, "Transfer", "Failed to transfer", err)
	}
	return writeSuccess(c, fiber.StatusCreated, "Transfer completed", fiber.Map{
		"from":     newWalletView(res.From),
		"to":       newWalletView(res.To),
		"fee":      fee,
		"postings": newPostingViews(res.ChangeSet),
	})
}

// Approvals

type submitRequest struct {
	Kind        model.SubjectKind `json:"kind" validate:"required,oneof=payment task_submission campaign cash_out"`
	RequesterID string            `json:"requester_id" validate:"required,max=64"`
	SubjectID   string            `json:"subject_id" validate:"required,max=128"`
	Amount      decimal.Decimal   `json:"amount"`
	ProofURL    *string           `json:"proof_url" validate:"omitempty,url"`
	Subject     json.RawMessage   `json:"subject" validate:"required"`
}

func (h *Handler) Submit(c *fiber.Ctx) error {
	var req submitRequest
	if err := bind(c, &req); err != nil {
		return writeBindError(c, err)
	}

	subject, err := approval.DecodeSubject(req.Kind, string(req.Subject))
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, "Invalid subject", err.Error())
	}

	res, err := h.gate.Submit(c.UserContext(), approval.SubmitInput{
		RequesterID: req.RequesterID,
		SubjectID:   req.SubjectID,
		Amount:      req.Amount,
		ProofURL:    req.ProofURL,
		Subject:     subject,
	})
	if err != nil {
		return h.fail(c, "Submit", "Failed to submit request", err)
	}
	return writeSuccess(c, fiber.StatusCreated, "Request submitted", resultView(res))
}

func resultView(res *approval.Result) fiber.Map {
	return fiber.Map{
		"request":    res.Request,
		"postings":   newPostingViews(res.ChangeSet),
		"net_payout": res.NetPayout,
	}
}

func (h *Handler) ListApprovals(c *fiber.Ctx) error {
	page, limit := pageParams(c)
	filter := repository.ApprovalFilter{
		Kind:        model.SubjectKind(c.Query("kind")),
		Status:      model.ApprovalStatus(c.Query("status")),
		RequesterID: c.Query("requester_id"),
	}

	reqs, err := h.gate.List(c.UserContext(), filter, page, limit)
	if err != nil {
		return h.fail(c, "ListApprovals", "Failed to list requests", err)
	}
	return writeSuccessWithMeta(c, "Approval requests", reqs, &Meta{Page: page, Limit: limit, Count: len(reqs)})
}

func (h *Handler) GetApproval(c *fiber.Ctx) error {
	req, subject, err := h.gate.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, "GetApproval", "Failed to load request", err)
	}
	return writeSuccess(c, fiber.StatusOK, "Approval request", fiber.Map{
		"request": req,
		"subject": subject,
	})
}

type decisionRequest struct {
	ReviewerID string `json:"reviewer_id" validate:"required,max=64"`
	Reason     string `json:"reason" validate:"max=1024"`
}

func (h *Handler) Approve(c *fiber.Ctx) error {
	var req decisionRequest
	if err := bind(c, &req); err != nil {
		return writeBindError(c, err)
	}

	res, err := h.gate.Approve(c.UserContext(), c.Params("id"), req.ReviewerID)
	if err != nil {
		return h.fail(c, "Approve", "Failed to approve request", err)
	}
	return writeSuccess(c, fiber.StatusOK, "Request approved", resultView(res))
}

func (h *Handler) Reject(c *fiber.Ctx) error {
	var req decisionRequest
	if err := bind(c, &req); err != nil {
		return writeBindError(c, err)
	}

	res, err := h.gate.Reject(c.UserContext(), c.Params("id"), req.ReviewerID, req.Reason)
	if err != nil {
		return h.fail(c, "Reject", "Failed to reject request", err)
	}
	return writeSuccess(c, fiber.StatusOK, "Request rejected", resultView(res))
}

func (h *Handler) Flag(c *fiber.Ctx) error {
	var req decisionRequest
	if err := bind(c, &req); err != nil {
		return writeBindError(c, err)
	}

	res, err := h.gate.Flag(c.UserContext(), c.Params("id"), req.ReviewerID, req.Reason)
	if err != nil {
		return h.fail(c, "Flag", "Failed to flag request", err)
	}
	return writeSuccess(c, fiber.StatusOK, "Request flagged", res)
}

func (h *Handler) Unflag(c *fiber.Ctx) error {
	var req decisionRequest
	if err := bind(c, &req); err != nil {
		return writeBindError(c, err)
	}

	res, err := h.gate.Unflag(c.UserContext(), c.Params("id"), req.ReviewerID)
	if err != nil {
		return h.fail(c, "Unflag", "Failed to unflag request", err)
	}
	return writeSuccess(c, fiber.StatusOK, "Request returned to queue", res)
}

type completionRequest struct {
	WorkerID     string `json:"worker_id" validate:"required,max=64"`
	CompletionID string `json:"completion_id" validate:"required,max=64"`
}

func (h *Handler) CompleteCampaign(c *fiber.Ctx) error {
	var req completionRequest
	if err := bind(c, &req); err != nil {
		return writeBindError(c, err)
	}

	cs, err := h.gate.CompleteCampaign(c.UserContext(), approval.CompletionInput{
		CampaignID:   c.Params("id"),
		WorkerID:     req.WorkerID,
		CompletionID: req.CompletionID,
	})
	if err != nil {
		return h.fail(c, "CompleteCampaign", "Failed to record completion", err)
	}
	return writeSuccess(c, fiber.StatusCreated, "Completion paid", newPostingViews(cs))
}

// Commission rules

func (h *Handler) CurrentRule(c *fiber.Ctx) error {
	at := time.Now()
	if raw := c.Query("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "Invalid at parameter", err.Error())
		}
		at = parsed
	}

	snap, err := h.rules.Current(c.UserContext(), at)
	if err != nil {
		return h.fail(c, "CurrentRule", "Failed to load commission rule", err)
	}
	return writeSuccess(c, fiber.StatusOK, "Commission rule", snap)
}

func (h *Handler) RuleHistory(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	snaps, err := h.rules.History(c.UserContext(), limit)
	if err != nil {
		return h.fail(c, "RuleHistory", "Failed to load rule history", err)
	}
	return writeSuccess(c, fiber.StatusOK, "Commission rule history", snaps)
}

type publishRuleRequest struct {
	DirectCommissionRate decimal.Decimal                   `json:"direct_commission_rate"`
	NetworkOverrideRate  decimal.Decimal                   `json:"network_override_rate"`
	OverrideDepth        int                               `json:"override_depth" validate:"required,min=1,max=2"`
	FeeRates             map[model.FeeKind]decimal.Decimal `json:"platform_fee_rates"`
	EffectiveFrom        *time.Time                        `json:"effective_from"`
	CreatedBy            string                            `json:"created_by" validate:"required,max=64"`
}

func (h *Handler) PublishRule(c *fiber.Ctx) error {
	var req publishRuleRequest
	if err := bind(c, &req); err != nil {
		return writeBindError(c, err)
	}

	snap := rules.Snapshot{
		DirectCommissionRate: req.DirectCommissionRate,
		NetworkOverrideRate:  req.NetworkOverrideRate,
		OverrideDepth:        req.OverrideDepth,
		FeeRates:             req.FeeRates,
	}
	if req.EffectiveFrom != nil {
		snap.EffectiveFrom = *req.EffectiveFrom
	}

	published, err := h.rules.Publish(c.UserContext(), snap, req.CreatedBy)
	if err != nil {
		return h.fail(c, "PublishRule", "Failed to publish commission rule", err)
	}
	return writeSuccess(c, fiber.StatusCreated, "Commission rule published", published)
}
