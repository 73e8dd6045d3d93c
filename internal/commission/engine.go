package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/ledger"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/metrics"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/rules"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const amountScale = 8

type RuleSource interface {
	Current(ctx context.Context, at time.Time) (rules.Snapshot, error)
}

// EscrowReserver draws a completion reward from a campaign's remaining
// escrow inside the caller's scope.
type EscrowReserver interface {
	Reserve(sc *ledger.Scope, campaignID, advertiserID, workerID string, amount decimal.Decimal) error
}

type Engine struct {
	store  *ledger.WalletStore
	rules  RuleSource
	escrow EscrowReserver
	log    *logrus.Logger
}

func NewEngine(store *ledger.WalletStore, rules RuleSource, escrow EscrowReserver, log *logrus.Logger) *Engine {
	return &Engine{
		store:  store,
		rules:  rules,
		escrow: escrow,
		log:    log,
	}
}

// Upline is one ancestor in the acting account's referral chain.
type Upline struct {
	Account *model.Account
	Level   int
}

type posting struct {
	accountID  string
	walletType model.WalletType
	amount     decimal.Decimal
	txType     model.TransactionType
	level      *int
}

// Distribute computes and posts the payout for ev in its own transaction.
func (e *Engine) Distribute(ctx context.Context, ev QualifyingEvent) (*ledger.ChangeSet, error) {
	if err := ev.validate(); err != nil {
		return nil, err
	}
	rule, err := e.rules.Current(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	cs, err := e.store.InScope(ctx, func(sc *ledger.Scope) error {
		return e.DistributeIn(sc, ev, rule)
	})
	metrics.OutcomesTotal.WithLabelValues("distribute", ledger.Classify(err)).Inc()
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// DistributeIn posts the payout for ev inside an existing scope, using the
// rule snapshot the caller read.
func (e *Engine) DistributeIn(sc *ledger.Scope, ev QualifyingEvent, rule rules.Snapshot) error {
	if err := ev.validate(); err != nil {
		return err
	}
	cause := ev.EventID()

	exists, err := sc.CauseExists(cause)
	if err != nil {
		return err
	}
	if exists {
		return &ledger.DuplicateCauseError{CauseID: cause}
	}

	acting, err := sc.Account(ev.actor())
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return &ledger.InvalidEventError{Reason: "unknown account " + ev.actor()}
		}
		return err
	}
	if acting.System {
		return &ledger.InvalidEventError{Reason: "system accounts do not take part in commissions"}
	}

	chain, err := ResolveUplines(sc, acting, rule.OverrideDepth)
	if err != nil {
		return err
	}

	var plan []posting
	switch ev := ev.(type) {
	case MembershipUpgrade:
		plan = upgradePlan(ev, chain, rule)
	case TaskApproved:
		plan = rewardPlan(acting.UserID, ev.TaskReward, chain, rule, sc.System())
	case CampaignCompletion:
		if e.escrow != nil {
			if err := e.escrow.Reserve(sc, ev.CampaignID, ev.AdvertiserID, ev.WorkerID, ev.Reward); err != nil {
				return err
			}
		}
		plan = append(plan, posting{
			accountID:  sc.System().Escrow,
			walletType: model.WalletMain,
			amount:     ev.Reward.Neg(),
			txType:     model.TxTransfer,
		})
		plan = append(plan, rewardPlan(acting.UserID, ev.Reward, chain, rule, sc.System())...)
	default:
		return &ledger.InvalidEventError{Reason: fmt.Sprintf("unsupported event %T", ev)}
	}

	walletIDs := make([]string, len(plan))
	for i, p := range plan {
		w, err := sc.WalletOf(p.accountID, p.walletType)
		if err != nil {
			return err
		}
		walletIDs[i] = w.ID
	}
	if err := sc.Lock(walletIDs...); err != nil {
		return err
	}

	for i, p := range plan {
		if p.amount.IsZero() {
			continue
		}
		if _, err := sc.Post(ledger.EntryInput{
			WalletID:   walletIDs[i],
			Amount:     p.amount,
			Type:       p.txType,
			CauseID:    cause,
			LevelDepth: p.level,
		}); err != nil {
			return err
		}
	}

	e.log.WithFields(logrus.Fields{
		"cause_id":     cause,
		"actor":        acting.UserID,
		"rule_version": rule.Version,
		"uplines":      len(chain),
		"postings":     len(plan),
	}).Info("commission distributed")
	return nil
}

// Membership upgrades pay the direct sponsor only.
func upgradePlan(ev MembershipUpgrade, chain []Upline, rule rules.Snapshot) []posting {
	if len(chain) == 0 {
		return nil
	}
	level := 1
	return []posting{{
		accountID:  chain[0].Account.UserID,
		walletType: model.WalletRoyalty,
		amount:     ev.Amount.Mul(rule.DirectCommissionRate).Round(amountScale),
		txType:     model.TxCommission,
		level:      &level,
	}}
}

// rewardPlan splits reward between the worker and the fee sink and pays
// overrides to qualifying uplines.
func rewardPlan(worker string, reward decimal.Decimal, chain []Upline, rule rules.Snapshot, system ledger.SystemAccounts) []posting {
	fee := reward.Mul(rule.FeeRate(model.FeeTaskReward)).Round(amountScale)
	plan := []posting{
		{
			accountID:  worker,
			walletType: model.WalletTask,
			amount:     reward.Sub(fee),
			txType:     model.TxTaskReward,
		},
		{
			accountID:  system.Platform,
			walletType: model.WalletMain,
			amount:     fee,
			txType:     model.TxFee,
		},
	}

	override := reward.Mul(rule.NetworkOverrideRate).Round(amountScale)
	for _, up := range chain {
		if !up.Account.MembershipTier.EarnsOverrides() {
			continue
		}
		level := up.Level
		plan = append(plan, posting{
			accountID:  up.Account.UserID,
			walletType: model.WalletRoyalty,
			amount:     override,
			txType:     model.TxCommission,
			level:      &level,
		})
	}
	return plan
}

// ResolveUplines walks referred_by from acting for at most depth levels.
// A missing sponsor ends the chain. Seeing any account twice, the acting
// one included, is a CyclicReferralError; the check also looks one link
// past the last level so a loop closing there is caught.
func ResolveUplines(sc *ledger.Scope, acting *model.Account, depth int) ([]Upline, error) {
	visited := map[string]bool{acting.UserID: true}
	path := []string{acting.UserID}
	var chain []Upline

	current := acting
	for level := 1; current.HasSponsor(); level++ {
		next := *current.ReferredBy
		if visited[next] {
			return nil, &ledger.CyclicReferralError{AccountID: acting.UserID, Chain: append(path, next)}
		}
		if level > depth {
			break
		}

		sponsor, err := sc.Account(next)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				break
			}
			return nil, err
		}
		visited[next] = true
		path = append(path, next)
		if !sponsor.System {
			chain = append(chain, Upline{Account: sponsor, Level: level})
		}
		current = sponsor
	}
	return chain, nil
}
