package approval

import (
	"errors"
	"fmt"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/ledger"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CampaignEscrow tracks how much of an approved campaign's budget is left
// for completion rewards.
type CampaignEscrow struct {
	requests *repository.ApprovalRepository
	log      *logrus.Logger
}

func NewCampaignEscrow(db *gorm.DB, log *logrus.Logger) *CampaignEscrow {
	return &CampaignEscrow{
		requests: repository.NewApprovalRepository(db, log),
		log:      log,
	}
}

// Reserve locks the campaign row and deducts amount from its remaining escrow.
// The advertiser is taken from the campaign row; a non-empty advertiserID
// must match it.
func (c *CampaignEscrow) Reserve(sc *ledger.Scope, campaignID, advertiserID, workerID string, amount decimal.Decimal) error {
	repo := c.requests.WithTx(sc.Tx())
	req, err := repo.LockByID(sc.Context(), campaignID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &ledger.InvalidEventError{Reason: "unknown campaign " + campaignID}
		}
		return fmt.Errorf("lock campaign %s: %w", campaignID, err)
	}
	if req.Kind != model.SubjectCampaign {
		return &ledger.InvalidEventError{Reason: campaignID + " is not a campaign"}
	}
	if req.Status != model.StatusApproved {
		return &ledger.InvalidEventError{Reason: fmt.Sprintf("campaign %s is %s, not live", campaignID, req.Status)}
	}
	if advertiserID != "" && advertiserID != req.RequesterID {
		return &ledger.InvalidEventError{Reason: "campaign belongs to another advertiser"}
	}
	if workerID == req.RequesterID {
		return &ledger.InvalidEventError{Reason: "advertiser cannot complete their own campaign"}
	}
	if req.EscrowRemaining.LessThan(amount) {
		return &ledger.InsufficientBalanceError{
			WalletID: "campaign:" + campaignID,
			Balance:  req.EscrowRemaining,
			Required: amount,
		}
	}

	remaining := req.EscrowRemaining.Sub(amount)
	if err := repo.UpdateEscrowRemaining(sc.Context(), campaignID, remaining); err != nil {
		return fmt.Errorf("update campaign escrow: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"reserved":    amount.String(),
		"remaining":   remaining.String(),
	}).Debug("campaign escrow reserved")
	return nil
}
