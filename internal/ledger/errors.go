package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/shopspring/decimal"
)

var (
	ErrAccountExists = errors.New("account already exists")
	ErrNotFound      = errors.New("not found")
)

// InvalidEventError rejects malformed input before anything is written.
type InvalidEventError struct {
	Reason string
}

func (e *InvalidEventError) Error() string {
	return "invalid event: " + e.Reason
}

func invalid(format string, args ...any) error {
	return &InvalidEventError{Reason: fmt.Sprintf(format, args...)}
}

type InvalidWalletError struct {
	WalletID string
	Reason   string
}

func (e *InvalidWalletError) Error() string {
	return fmt.Sprintf("invalid wallet %s: %s", e.WalletID, e.Reason)
}

// DuplicateCauseError means the posting already happened. Callers treat it
// as an idempotent success.
type DuplicateCauseError struct {
	CauseID  string
	WalletID string
	Type     model.TransactionType
}

func (e *DuplicateCauseError) Error() string {
	if e.WalletID == "" {
		return fmt.Sprintf("cause %s already posted", e.CauseID)
	}
	return fmt.Sprintf("cause %s already posted to wallet %s as %s", e.CauseID, e.WalletID, e.Type)
}

type AlreadyDecidedError struct {
	RequestID string
	Status    model.ApprovalStatus
}

func (e *AlreadyDecidedError) Error() string {
	return fmt.Sprintf("approval request %s already %s", e.RequestID, e.Status)
}

type CyclicReferralError struct {
	AccountID string
	Chain     []string
}

func (e *CyclicReferralError) Error() string {
	return fmt.Sprintf("referral cycle at %s: %s", e.AccountID, strings.Join(e.Chain, " -> "))
}

type InsufficientBalanceError struct {
	WalletID string
	Balance  decimal.Decimal
	Required decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance in %s: have %s, need %s", e.WalletID, e.Balance, e.Required)
}

// IsConflict reports replays and races lost to an earlier decision.
func IsConflict(err error) bool {
	var dup *DuplicateCauseError
	var decided *AlreadyDecidedError
	return errors.As(err, &dup) || errors.As(err, &decided)
}

// IsValidation reports input the caller must fix.
func IsValidation(err error) bool {
	var inv *InvalidEventError
	var wallet *InvalidWalletError
	return errors.As(err, &inv) || errors.As(err, &wallet) ||
		errors.Is(err, ErrAccountExists) || errors.Is(err, ErrNotFound)
}

// IsInvariant reports operations refused because they would break a ledger
// invariant.
func IsInvariant(err error) bool {
	var cyc *CyclicReferralError
	var bal *InsufficientBalanceError
	return errors.As(err, &cyc) || errors.As(err, &bal)
}

// Classify names the error class of err for logs and metrics.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsConflict(err):
		return "conflict"
	case IsValidation(err):
		return "validation"
	case IsInvariant(err):
		return "invariant"
	}
	return "error"
}
