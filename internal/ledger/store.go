package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/cache"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/events"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/metrics"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	maxUserIDLength   = 64
	referralCodeLen   = 8
	referralCodeTries = 5
)

// SystemAccounts names the reserved accounts. Platform's main wallet is the
// fee sink; Escrow's main wallet holds funds awaiting a decision.
type SystemAccounts struct {
	Platform string
	Escrow   string
}

func (s SystemAccounts) IsSystem(userID string) bool {
	return userID == s.Platform || userID == s.Escrow
}

type WalletStore struct {
	db        *gorm.DB
	txlog     *TransactionLog
	accounts  *repository.AccountRepository
	wallets   *repository.WalletRepository
	publisher events.Publisher
	cache     cache.BalanceCache
	system    SystemAccounts
	log       *logrus.Logger
}

func NewWalletStore(
	db *gorm.DB,
	publisher events.Publisher,
	balances cache.BalanceCache,
	system SystemAccounts,
	log *logrus.Logger,
) *WalletStore {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if balances == nil {
		balances = cache.NewMemoryCache()
	}
	return &WalletStore{
		db:        db,
		txlog:     NewTransactionLog(db, log),
		accounts:  repository.NewAccountRepository(db, log),
		wallets:   repository.NewWalletRepository(db, log),
		publisher: publisher,
		cache:     balances,
		system:    system,
		log:       log,
	}
}

func (s *WalletStore) Log() *TransactionLog { return s.txlog }

func (s *WalletStore) System() SystemAccounts { return s.system }

// InScope runs fn in one database transaction. On commit the balance cache
// is refreshed and one WalletChanged event per cause is published. Nothing
// is published for a rolled back scope.
func (s *WalletStore) InScope(ctx context.Context, fn func(*Scope) error) (*ChangeSet, error) {
	var scope *Scope
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope = &Scope{
			ctx:      ctx,
			tx:       tx,
			txlog:    s.txlog.WithTx(tx),
			wallets:  s.wallets.WithTx(tx),
			accounts: s.accounts.WithTx(tx),
			system:   s.system,
			locked:   map[string]*model.Wallet{},
			balances: map[string]decimal.Decimal{},
		}
		return fn(scope)
	})
	if err != nil {
		return nil, err
	}

	cs := &ChangeSet{Postings: scope.Postings()}
	s.afterCommit(ctx, cs)
	return cs, nil
}

func (s *WalletStore) afterCommit(ctx context.Context, cs *ChangeSet) {
	if len(cs.Postings) == 0 {
		return
	}

	var order []string
	byCause := map[string][]events.WalletChange{}
	for _, p := range cs.Postings {
		s.cache.Invalidate(ctx, p.WalletID)
		metrics.PostingsTotal.WithLabelValues(string(p.Type)).Inc()

		if _, ok := byCause[p.CauseID]; !ok {
			order = append(order, p.CauseID)
		}
		byCause[p.CauseID] = append(byCause[p.CauseID], events.WalletChange{
			EntryID:         p.EntryID,
			WalletID:        p.WalletID,
			AccountID:       p.AccountID,
			WalletType:      p.WalletType,
			TransactionType: p.Type,
			Amount:          p.Amount,
			Balance:         p.BalanceAfter,
			LevelDepth:      p.LevelDepth,
		})
	}

	now := time.Now().UTC()
	for _, cause := range order {
		s.publisher.Publish(ctx, events.WalletChanged{
			CauseID:    cause,
			Changes:    byCause[cause],
			OccurredAt: now,
		})
	}
}

// ApplyDelta posts a single entry, refusing debits that would overdraw
// and any debit of a system wallet.
func (s *WalletStore) ApplyDelta(
	ctx context.Context,
	walletID string,
	amount decimal.Decimal,
	txType model.TransactionType,
	causeID string,
) (*model.Wallet, error) {
	var wallet model.Wallet
	_, err := s.InScope(ctx, func(sc *Scope) error {
		if amount.IsNegative() {
			if err := sc.userDebit(walletID); err != nil {
				return err
			}
		}
		if _, err := sc.Post(EntryInput{
			WalletID: walletID,
			Amount:   amount,
			Type:     txType,
			CauseID:  causeID,
		}); err != nil {
			return err
		}
		w, err := sc.LockedWallet(walletID)
		wallet = w
		return err
	})
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

type TransferResult struct {
	From      model.Wallet
	To        model.Wallet
	ChangeSet *ChangeSet
}

func (s *WalletStore) Transfer(ctx context.Context, in TransferInput) (*TransferResult, error) {
	res := &TransferResult{}
	cs, err := s.InScope(ctx, func(sc *Scope) error {
		if err := in.validate(); err != nil {
			return err
		}
		if err := sc.userDebit(in.FromWalletID); err != nil {
			return err
		}
		if err := sc.Transfer(in); err != nil {
			return err
		}
		var err error
		if res.From, err = sc.LockedWallet(in.FromWalletID); err != nil {
			return err
		}
		res.To, err = sc.LockedWallet(in.ToWalletID)
		return err
	})
	if err != nil {
		return nil, err
	}
	res.ChangeSet = cs
	return res, nil
}

type OpenAccountInput struct {
	UserID      string
	SponsorCode string
}

// OpenAccount creates the account and its three wallets. The sponsor is
// fixed here and never changes afterwards.
func (s *WalletStore) OpenAccount(ctx context.Context, in OpenAccountInput) (*model.Account, []model.Wallet, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		return nil, nil, invalid("user_id is required")
	}
	if len(in.UserID) > maxUserIDLength {
		return nil, nil, invalid("user_id longer than %d characters", maxUserIDLength)
	}
	if s.system.IsSystem(in.UserID) {
		return nil, nil, invalid("user_id %s is reserved", in.UserID)
	}

	var account *model.Account
	var wallets []model.Wallet
	_, err := s.InScope(ctx, func(sc *Scope) error {
		var sponsor *string
		if code := strings.TrimSpace(in.SponsorCode); code != "" {
			ref, err := sc.Accounts().FindByReferralCode(ctx, strings.ToUpper(code))
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return invalid("unknown referral code %s", code)
				}
				return fmt.Errorf("resolve referral code: %w", err)
			}
			if ref.System {
				return invalid("referral code %s belongs to a system account", code)
			}
			sponsor = &ref.UserID
		}

		var err error
		account, wallets, err = s.createAccount(sc, in.UserID, sponsor, false)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":     account.UserID,
		"referred_by": account.ReferredBy,
	}).Info("account opened")
	return account, wallets, nil
}

// Bootstrap creates the system accounts if they do not exist yet.
func (s *WalletStore) Bootstrap(ctx context.Context) error {
	for _, id := range []string{s.system.Platform, s.system.Escrow} {
		_, err := s.InScope(ctx, func(sc *Scope) error {
			if _, err := sc.Account(id); err == nil {
				return nil
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
			_, _, err := s.createAccount(sc, id, nil, true)
			return err
		})
		if err != nil {
			return fmt.Errorf("bootstrap system account %s: %w", id, err)
		}
	}
	return nil
}

func (s *WalletStore) createAccount(sc *Scope, userID string, sponsor *string, system bool) (*model.Account, []model.Wallet, error) {
	ctx := sc.Context()
	if _, err := sc.Account(userID); err == nil {
		return nil, nil, fmt.Errorf("%s: %w", userID, ErrAccountExists)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, nil, err
	}

	code, err := s.referralCode(sc)
	if err != nil {
		return nil, nil, err
	}

	account := &model.Account{
		UserID:         userID,
		MembershipTier: model.TierBasic,
		ReferredBy:     sponsor,
		ReferralCode:   code,
		System:         system,
	}
	if err := sc.Accounts().Create(ctx, account); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, nil, fmt.Errorf("%s: %w", userID, ErrAccountExists)
		}
		return nil, nil, fmt.Errorf("create account: %w", err)
	}

	wallets := make([]model.Wallet, 0, len(model.WalletTypes))
	for _, t := range model.WalletTypes {
		wallets = append(wallets, model.Wallet{
			ID:         uuid.NewString(),
			AccountID:  userID,
			WalletType: t,
			IsActive:   true,
		})
	}
	if err := sc.wallets.CreateBatch(ctx, wallets); err != nil {
		return nil, nil, fmt.Errorf("create wallets: %w", err)
	}
	return account, wallets, nil
}

func (s *WalletStore) referralCode(sc *Scope) (string, error) {
	for i := 0; i < referralCodeTries; i++ {
		code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:referralCodeLen])
		_, err := sc.Accounts().FindByReferralCode(sc.Context(), code)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("check referral code: %w", err)
		}
	}
	return "", errors.New("could not allocate a unique referral code")
}

func (s *WalletStore) Account(ctx context.Context, userID string) (*model.Account, error) {
	account, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("account %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("load account %s: %w", userID, err)
	}
	return account, nil
}

func (s *WalletStore) Downline(ctx context.Context, userID string) ([]model.Account, error) {
	if _, err := s.Account(ctx, userID); err != nil {
		return nil, err
	}
	accounts, err := s.accounts.Downline(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load downline of %s: %w", userID, err)
	}
	return accounts, nil
}

// Wallets returns the account's three wallets with balances derived from
// the log.
func (s *WalletStore) Wallets(ctx context.Context, userID string) ([]model.Wallet, error) {
	if _, err := s.Account(ctx, userID); err != nil {
		return nil, err
	}
	wallets, err := s.wallets.FindByAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load wallets of %s: %w", userID, err)
	}

	ids := make([]string, len(wallets))
	for i, w := range wallets {
		ids[i] = w.ID
	}
	sums, err := s.txlog.balances(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range wallets {
		wallets[i].Balance = sums[wallets[i].ID]
		s.cache.Store(ctx, wallets[i].ID, wallets[i].Balance)
	}
	return wallets, nil
}

func (s *WalletStore) Wallet(ctx context.Context, walletID string) (*model.Wallet, error) {
	wallet, err := s.txlog.wallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	balance, err := s.txlog.BalanceOf(ctx, walletID)
	if err != nil {
		return nil, err
	}
	wallet.Balance = balance
	s.cache.Store(ctx, walletID, balance)
	return wallet, nil
}

// CachedBalance serves a balance from the cache, reading through to the
// log on a miss. The bool reports a cache hit.
func (s *WalletStore) CachedBalance(ctx context.Context, walletID string) (decimal.Decimal, bool, error) {
	if balance, ok := s.cache.Load(ctx, walletID); ok {
		return balance, true, nil
	}
	balance, err := s.txlog.BalanceOf(ctx, walletID)
	if err != nil {
		return decimal.Zero, false, err
	}
	s.cache.Store(ctx, walletID, balance)
	return balance, false, nil
}

// SetWalletActive freezes or unfreezes a wallet. Frozen wallets reject
// every posting.
func (s *WalletStore) SetWalletActive(ctx context.Context, walletID string, active bool) (*model.Wallet, error) {
	if err := s.wallets.SetActive(ctx, walletID, active); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &InvalidWalletError{WalletID: walletID, Reason: "unknown wallet"}
		}
		return nil, fmt.Errorf("set wallet %s active=%t: %w", walletID, active, err)
	}

	s.log.WithFields(logrus.Fields{
		"wallet_id": walletID,
		"active":    active,
	}).Info("wallet status changed")
	return s.Wallet(ctx, walletID)
}
