package repository

import (
	"context"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ApprovalRepository struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewApprovalRepository(db *gorm.DB, log *logrus.Logger) *ApprovalRepository {
	return &ApprovalRepository{
		db:  db,
		log: log,
	}
}

// WithTx returns a repository bound to tx.
func (r *ApprovalRepository) WithTx(tx *gorm.DB) *ApprovalRepository {
	return &ApprovalRepository{db: tx, log: r.log}
}

func (r *ApprovalRepository) Create(ctx context.Context, req *model.ApprovalRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *ApprovalRepository) FindByID(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	var req model.ApprovalRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// LockByID reads the request under a row lock; two reviewers deciding the
// same request serialize here.
func (r *ApprovalRepository) LockByID(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	var req model.ApprovalRequest
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// SaveDecision persists the mutable review columns of req
func (r *ApprovalRepository) SaveDecision(ctx context.Context, req *model.ApprovalRequest) error {
	return r.db.WithContext(ctx).
		Model(req).
		Select("status", "reviewer_id", "decision_reason", "decided_at", "escrow_remaining", "updated_at").
		Updates(req).Error
}

type ApprovalFilter struct {
	Kind        model.SubjectKind
	Status      model.ApprovalStatus
	RequesterID string
}

// List returns matching requests oldest first, the order reviewers work the queue in
func (r *ApprovalRepository) List(ctx context.Context, filter ApprovalFilter, limit, offset int) ([]model.ApprovalRequest, error) {
	q := r.db.WithContext(ctx).Model(&model.ApprovalRequest{})
	if filter.Kind != "" {
		q = q.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.RequesterID != "" {
		q = q.Where("requester_id = ?", filter.RequesterID)
	}

	var reqs []model.ApprovalRequest
	err := q.Order("created_at").Order("id").
		Limit(limit).
		Offset(offset).
		Find(&reqs).Error

	return reqs, err
}

func (r *ApprovalRepository) UpdateEscrowRemaining(ctx context.Context, id string, remaining decimal.Decimal) error {
	return r.db.WithContext(ctx).
		Model(&model.ApprovalRequest{}).
		Where("id = ?", id).
		Update("escrow_remaining", remaining).Error
}
