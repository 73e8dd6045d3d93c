package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/approval"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/commission"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/config"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/ledger"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/logger"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/rules"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	app   *fiber.App
	store *ledger.WalletStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := testutil.NewDB(t)
	log := logger.Discard()

	store := ledger.NewWalletStore(db, nil, nil, ledger.SystemAccounts{Platform: "platform", Escrow: "escrow"}, log)
	require.NoError(t, store.Bootstrap(context.Background()))

	ruleSvc := rules.NewService(db, rules.Defaults(config.LedgerConfig{
		DirectCommissionRate: decimal.RequireFromString("0.50"),
		NetworkOverrideRate:  decimal.RequireFromString("0.10"),
		OverrideDepth:        2,
		TaskFeeRate:          decimal.RequireFromString("0.10"),
		CampaignRefundFee:    decimal.RequireFromString("0.10"),
		CashOutFeeRate:       decimal.Zero,
		CashOutRefundFee:     decimal.Zero,
	}), log)
	engine := commission.NewEngine(store, ruleSvc, approval.NewCampaignEscrow(db, log), log)
	gate := approval.NewGate(db, store, engine, ruleSvc, nil, log)

	app := NewApp(config.HTTPConfig{ReadTimeout: time.Second, WriteTimeout: time.Second},
		NewHandler(store, gate, ruleSvc, log), log)
	return &testServer{app: app, store: store}
}

type apiResponse struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	Idempotent bool            `json:"idempotent"`
	Meta       *Meta           `json:"meta"`
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, apiResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out apiResponse
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (s *testServer) openAccount(t *testing.T, userID, sponsorCode string) accountView {
	t.Helper()
	code, resp := s.do(t, http.MethodPost, "/api/accounts", fiber.Map{"user_id": userID, "sponsor_code": sponsorCode})
	require.Equal(t, http.StatusCreated, code, resp.Error)
	var v accountView
	require.NoError(t, json.Unmarshal(resp.Data, &v))
	return v
}

func walletOf(v accountView, wt model.WalletType) string {
	for _, w := range v.Wallets {
		if w.WalletType == wt {
			return w.ID
		}
	}
	return ""
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	code, resp := s.do(t, http.MethodGet, "/api/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
}

func TestOpenAccountAndListWallets(t *testing.T) {
	s := newTestServer(t)
	sponsor := s.openAccount(t, "sam", "")
	member := s.openAccount(t, "mia", sponsor.ReferralCode)

	require.NotNil(t, member.ReferredBy)
	assert.Equal(t, "sam", *member.ReferredBy)
	assert.Len(t, member.Wallets, 3)

	code, resp := s.do(t, http.MethodPost, "/api/accounts", fiber.Map{"user_id": "mia"})
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, resp.Success)

	code, resp = s.do(t, http.MethodPost, "/api/wallets/"+walletOf(member, model.WalletMain)+"/entries", fiber.Map{
		"amount":           "1234.5",
		"transaction_type": "deposit",
		"cause_id":         "dep-1",
	})
	require.Equal(t, http.StatusCreated, code, resp.Error)

	code, resp = s.do(t, http.MethodGet, "/api/accounts/mia/wallets", nil)
	require.Equal(t, http.StatusOK, code)
	var wallets []walletView
	require.NoError(t, json.Unmarshal(resp.Data, &wallets))
	require.Len(t, wallets, 3)
	assert.Equal(t, model.WalletMain, wallets[0].WalletType)
	assert.Equal(t, "₳ 1,234.50", wallets[0].Display)

	code, resp = s.do(t, http.MethodGet, "/api/accounts/sam/downline", nil)
	require.Equal(t, http.StatusOK, code)
	var downline []accountView
	require.NoError(t, json.Unmarshal(resp.Data, &downline))
	require.Len(t, downline, 1)
	assert.Equal(t, "mia", downline[0].UserID)
}

func TestUnknownAccountIs404(t *testing.T) {
	s := newTestServer(t)
	code, resp := s.do(t, http.MethodGet, "/api/accounts/ghost", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/api/accounts", fiber.Map{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Error, "UserID is required")

	code, _ = s.do(t, http.MethodPost, "/api/approvals", fiber.Map{
		"kind":         "loan",
		"requester_id": "x",
		"subject_id":   "s",
		"amount":       "1",
		"subject":      fiber.Map{},
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReplayedEntryIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	acc := s.openAccount(t, "mia", "")
	path := "/api/wallets/" + walletOf(acc, model.WalletMain) + "/entries"
	body := fiber.Map{"amount": "50", "transaction_type": "deposit", "cause_id": "dep-1"}

	code, _ := s.do(t, http.MethodPost, path, body)
	require.Equal(t, http.StatusCreated, code)

	code, resp := s.do(t, http.MethodPost, path, body)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.True(t, resp.Idempotent)

	code, resp = s.do(t, http.MethodGet, "/api/wallets/"+walletOf(acc, model.WalletMain)+"/entries", nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, 1, resp.Meta.Count)
}

func TestTransferOverdraftIs422(t *testing.T) {
	s := newTestServer(t)
	from := s.openAccount(t, "mia", "")
	to := s.openAccount(t, "sam", "")

	code, resp := s.do(t, http.MethodPost, "/api/transfers", fiber.Map{
		"from_wallet_id": walletOf(from, model.WalletMain),
		"to_wallet_id":   walletOf(to, model.WalletMain),
		"amount":         "10",
		"cause_id":       "t-1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, resp.Error, "insufficient balance")

	_, err := s.store.ApplyDelta(context.Background(), walletOf(from, model.WalletMain), decimal.NewFromInt(25), model.TxDeposit, "seed")
	require.NoError(t, err)

	code, resp = s.do(t, http.MethodPost, "/api/transfers", fiber.Map{
		"from_wallet_id": walletOf(from, model.WalletMain),
		"to_wallet_id":   walletOf(to, model.WalletMain),
		"amount":         "10",
		"cause_id":       "t-1",
	})
	require.Equal(t, http.StatusCreated, code, resp.Error)

	code, resp = s.do(t, http.MethodGet, "/api/causes/t-1/entries", nil)
	require.Equal(t, http.StatusOK, code)
	var entries []model.TransactionLogEntry
	require.NoError(t, json.Unmarshal(resp.Data, &entries))
	assert.Len(t, entries, 2)

	code, resp = s.do(t, http.MethodGet, "/api/wallets/"+walletOf(to, model.WalletMain)+"/balance", nil)
	require.Equal(t, http.StatusOK, code)
	var bal struct {
		Balance decimal.Decimal `json:"balance"`
		Display string          `json:"display"`
		Cached  bool            `json:"cached"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &bal))
	assert.True(t, bal.Balance.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "₳ 10.00", bal.Display)
	assert.False(t, bal.Cached)

	code, resp = s.do(t, http.MethodGet, "/api/wallets/"+walletOf(to, model.WalletMain)+"/balance", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &bal))
	assert.True(t, bal.Cached)
}

func TestFrozenWalletRefusesPostings(t *testing.T) {
	s := newTestServer(t)
	acc := s.openAccount(t, "mia", "")
	main := walletOf(acc, model.WalletMain)

	code, resp := s.do(t, http.MethodPatch, "/api/wallets/"+main+"/active", fiber.Map{"active": false})
	require.Equal(t, http.StatusOK, code, resp.Error)

	code, resp = s.do(t, http.MethodPost, "/api/wallets/"+main+"/entries", fiber.Map{
		"amount": "5", "transaction_type": "deposit", "cause_id": "dep-frozen",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, resp.Error, "inactive")

	code, _ = s.do(t, http.MethodPatch, "/api/wallets/"+main+"/active", fiber.Map{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCampaignLifecycle(t *testing.T) {
	s := newTestServer(t)
	adv := s.openAccount(t, "adv", "")
	worker := s.openAccount(t, "wrk", "")
	_, err := s.store.ApplyDelta(context.Background(), walletOf(adv, model.WalletMain), decimal.NewFromInt(500), model.TxDeposit, "seed")
	require.NoError(t, err)

	code, resp := s.do(t, http.MethodPost, "/api/approvals", fiber.Map{
		"kind":         "campaign",
		"requester_id": "adv",
		"subject_id":   "camp-1",
		"amount":       "500",
		"subject":      fiber.Map{"title": "Follow us", "slots": 10, "reward_per_slot": "50"},
	})
	require.Equal(t, http.StatusCreated, code, resp.Error)
	var submitted struct {
		Request model.ApprovalRequest `json:"request"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &submitted))
	id := submitted.Request.ID
	assert.Equal(t, model.StatusPending, submitted.Request.Status)

	code, resp = s.do(t, http.MethodGet, "/api/approvals?kind=campaign&status=pending", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, resp.Meta.Count)

	code, resp = s.do(t, http.MethodPost, "/api/approvals/"+id+"/approve", fiber.Map{"reviewer_id": "adv"})
	assert.Equal(t, http.StatusUnprocessableEntity, code, resp.Error)

	code, resp = s.do(t, http.MethodPost, "/api/approvals/"+id+"/approve", fiber.Map{"reviewer_id": "admin"})
	require.Equal(t, http.StatusOK, code, resp.Error)

	code, resp = s.do(t, http.MethodPost, "/api/approvals/"+id+"/reject", fiber.Map{"reviewer_id": "admin", "reason": "late"})
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Idempotent)

	code, resp = s.do(t, http.MethodPost, "/api/campaigns/"+id+"/completions", fiber.Map{"worker_id": "wrk", "completion_id": "c1"})
	require.Equal(t, http.StatusCreated, code, resp.Error)

	code, resp = s.do(t, http.MethodGet, "/api/wallets/"+walletOf(worker, model.WalletTask)+"/balance", nil)
	require.Equal(t, http.StatusOK, code)
	var bal struct {
		Balance decimal.Decimal `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &bal))
	assert.True(t, bal.Balance.Equal(decimal.NewFromInt(45)), "got %s", bal.Balance)

	code, resp = s.do(t, http.MethodPost, "/api/campaigns/"+id+"/completions", fiber.Map{"worker_id": "wrk", "completion_id": "c1"})
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Idempotent)
}

func TestCommissionRules(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodGet, "/api/commission-rules", nil)
	require.Equal(t, http.StatusOK, code)
	var current rules.Snapshot
	require.NoError(t, json.Unmarshal(resp.Data, &current))
	assert.True(t, current.DirectCommissionRate.Equal(decimal.RequireFromString("0.5")))

	code, resp = s.do(t, http.MethodPost, "/api/commission-rules", fiber.Map{
		"direct_commission_rate": "0.40",
		"network_override_rate":  "0.05",
		"override_depth":         1,
		"platform_fee_rates":     fiber.Map{"task_reward": "0.2"},
		"created_by":             "admin",
	})
	require.Equal(t, http.StatusCreated, code, resp.Error)

	code, resp = s.do(t, http.MethodGet, "/api/commission-rules", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &current))
	assert.True(t, current.DirectCommissionRate.Equal(decimal.RequireFromString("0.4")))
	assert.Equal(t, 1, current.OverrideDepth)

	code, _ = s.do(t, http.MethodPost, "/api/commission-rules", fiber.Map{
		"direct_commission_rate": "1.5",
		"network_override_rate":  "0.05",
		"override_depth":         1,
		"created_by":             "admin",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, resp = s.do(t, http.MethodGet, "/api/commission-rules/history", nil)
	require.Equal(t, http.StatusOK, code)
	var history []rules.Snapshot
	require.NoError(t, json.Unmarshal(resp.Data, &history))
	assert.Len(t, history, 1)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/healthz", nil)

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "http_requests_total")
}
