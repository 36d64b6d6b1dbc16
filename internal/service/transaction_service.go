package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/richardliu001/treasury-service/internal/approval"
	"github.com/richardliu001/treasury-service/internal/model"
	"github.com/richardliu001/treasury-service/internal/notify"
	"github.com/richardliu001/treasury-service/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RoleResolver returns the role names currently held by a user.
type RoleResolver interface {
	RoleNames(ctx context.Context, userID uint64) ([]string, error)
}

// AssignmentScope answers which members a group admin may act for.
type AssignmentScope interface {
	Assignees(ctx context.Context, responsible uint64) ([]uint64, error)
	InScope(ctx context.Context, responsible, target uint64) (bool, error)
}

// ProofStore keeps proof-of-payment images.
type ProofStore interface {
	Upload(ctx context.Context, filename, contentType string, body io.Reader) (url, key string, err error)
	Delete(ctx context.Context, url string) error
}

// Actor is an authenticated caller with its roles resolved for this request.
type Actor struct {
	ID    uint64
	Roles approval.RoleSet
}

// TransactionService is the approval engine: it gates every mutation of a
// transaction, applies the lifecycle transitions and decides quorum.
type TransactionService struct {
	repo     repo.RepositoryInterface
	roles    RoleResolver
	scope    AssignmentScope
	notifier notify.Notifier
	proofs   ProofStore
	log      *zap.SugaredLogger
	now      func() time.Time
}

// NewTransactionService wires the engine. proofs may be nil when no proof
// storage is configured.
func NewTransactionService(r repo.RepositoryInterface, roles RoleResolver, sc AssignmentScope,
	n notify.Notifier, proofs ProofStore, logger *zap.SugaredLogger) *TransactionService {
	return &TransactionService{
		repo: r, roles: roles, scope: sc, notifier: n, proofs: proofs, log: logger, now: time.Now,
	}
}

// Actor resolves the caller's roles.
func (s *TransactionService) Actor(ctx context.Context, id uint64) (Actor, error) {
	names, err := s.roles.RoleNames(ctx, id)
	if err != nil {
		return Actor{}, err
	}
	return Actor{ID: id, Roles: approval.NewRoleSet(names...)}, nil
}

// CreateInput carries the fields of a new transaction.
type CreateInput struct {
	Amount           decimal.Decimal
	ProofReference   string
	UsersID          uint64
	PaymentMethodsID uint64
	TransactionType  string
	Submit           bool
}

// UpdateInput carries optional field changes; nil means unchanged.
type UpdateInput struct {
	Amount           *decimal.Decimal
	ProofReference   *string
	PaymentMethodsID *uint64
	TransactionType  *string
}

// ListQuery is the caller-facing list filter.
type ListQuery struct {
	Status           string
	TransactionType  string
	UsersID          *uint64
	RecordedByID     *uint64
	PaymentMethodsID *uint64
	From             *time.Time
	To               *time.Time
}

func validAmount(a decimal.Decimal) error {
	if a.LessThanOrEqual(decimal.Zero) {
		return validationf("amount must be positive")
	}
	return nil
}

// Create records a transaction in SAVED, or directly in PENDING when
// in.Submit is set, in which case the submission side effects apply.
func (s *TransactionService) Create(ctx context.Context, actorID uint64, in CreateInput) (*model.Transaction, error) {
	if err := validAmount(in.Amount); err != nil {
		return nil, err
	}
	proof := strings.TrimSpace(in.ProofReference)
	if proof == "" {
		return nil, validationf("proof required (transaction number or URL)")
	}
	typ, err := approval.ParseType(in.TransactionType)
	if err != nil {
		return nil, validationf("%v", err)
	}

	actor, err := s.Actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !approval.CanCreate(actor.Roles) {
		return nil, forbiddenf("role cannot record transactions")
	}
	if !approval.CanUseType(actor.Roles, typ) {
		return nil, forbiddenf("only board or treasury can record EXPENSE transactions")
	}
	for _, uid := range []uint64{in.UsersID, actor.ID} {
		ok, err := s.repo.UserExists(ctx, uid)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, storeErr(gorm.ErrRecordNotFound, "user")
		}
	}
	if err := s.checkPaymentMethod(ctx, in.PaymentMethodsID); err != nil {
		return nil, err
	}
	if in.UsersID != actor.ID {
		inScope := false
		if actor.Roles.Has(approval.RoleAdminGroup) && !actor.Roles.Has(approval.RoleTreasury) {
			if inScope, err = s.scope.InScope(ctx, actor.ID, in.UsersID); err != nil {
				return nil, err
			}
		}
		if !approval.CanRecordFor(actor.ID, in.UsersID, actor.Roles, inScope) {
			return nil, forbiddenf("cannot record a transaction for user %d", in.UsersID)
		}
	}

	now := s.now()
	t := &model.Transaction{
		Amount:           in.Amount,
		Status:           approval.StatusSaved,
		TransactionType:  typ,
		ProofReference:   proof,
		UsersID:          in.UsersID,
		RecordedByID:     actor.ID,
		PaymentMethodsID: in.PaymentMethodsID,
		CreatedAt:        now,
		UpdatedAt:        now,
		UpdatedBy:        actor.ID,
	}
	if in.Submit {
		t.Status = approval.StatusPending
		t.IsSubmitted = true
	}
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.CreateTransaction(ctx, tx, t); err != nil {
			return err
		}
		if in.Submit {
			return s.autoApprove(ctx, tx, t, actor, noteAutoOnCreate)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "transaction")
	}
	s.log.Infof("transaction %d recorded by %d for %d status=%s", t.ID, actor.ID, t.UsersID, t.Status)

	if in.Submit {
		s.afterSubmit(ctx, actor.ID, []model.Transaction{*t})
	}
	return s.reload(ctx, t.ID)
}

func (s *TransactionService) checkPaymentMethod(ctx context.Context, id uint64) error {
	pm, err := s.repo.GetPaymentMethod(ctx, id)
	if err != nil {
		return storeErr(err, "payment method")
	}
	if !pm.Usable() {
		return validationf("invalid or inactive payment method")
	}
	return nil
}

// Update edits amount, payment method, proof and type.
func (s *TransactionService) Update(ctx context.Context, actorID, txID uint64, in UpdateInput) (*model.Transaction, error) {
	fields := map[string]interface{}{}
	if in.Amount != nil {
		if err := validAmount(*in.Amount); err != nil {
			return nil, err
		}
		fields["amount"] = *in.Amount
	}
	if in.ProofReference != nil {
		proof := strings.TrimSpace(*in.ProofReference)
		if proof == "" {
			return nil, validationf("proof reference cannot be empty")
		}
		fields["proof_reference"] = proof
	}
	var newType approval.TransactionType
	if in.TransactionType != nil {
		typ, err := approval.ParseType(*in.TransactionType)
		if err != nil {
			return nil, validationf("%v", err)
		}
		newType = typ
		fields["transaction_type"] = typ
	}

	actor, err := s.Actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if newType != "" && !approval.CanUseType(actor.Roles, newType) {
		return nil, forbiddenf("only board or treasury can set EXPENSE")
	}
	if in.PaymentMethodsID != nil {
		if err := s.checkPaymentMethod(ctx, *in.PaymentMethodsID); err != nil {
			return nil, err
		}
		fields["payment_methods_id"] = *in.PaymentMethodsID
	}

	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.repo.GetTransactionForUpdate(ctx, tx, txID)
		if err != nil {
			return err
		}
		if !approval.CanEdit(actor.ID, t.RecordedByID, t.Status, actor.Roles) {
			return forbiddenf("cannot edit transaction %d in status %s", t.ID, t.Status)
		}
		if len(fields) == 0 {
			return nil
		}
		fields["updated_by"] = actor.ID
		fields["updated_at"] = s.now()
		return s.repo.UpdateTransaction(ctx, tx, t.ID, fields)
	})
	if err != nil {
		return nil, storeErr(err, "transaction")
	}
	return s.reload(ctx, txID)
}

// SetProof replaces the proof reference.
func (s *TransactionService) SetProof(ctx context.Context, actorID, txID uint64, url string) (*model.Transaction, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, validationf("proof url required")
	}
	actor, err := s.Actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !approval.Elevated(actor.Roles) {
		return nil, forbiddenf("role cannot manage proofs")
	}
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.repo.GetTransactionForUpdate(ctx, tx, txID)
		if err != nil {
			return err
		}
		return s.repo.UpdateTransaction(ctx, tx, t.ID, map[string]interface{}{
			"proof_reference": url,
			"updated_by":      actor.ID,
			"updated_at":      s.now(),
		})
	})
	if err != nil {
		return nil, storeErr(err, "transaction")
	}
	return s.reload(ctx, txID)
}

// UploadProof stores an image and returns where it lives.
func (s *TransactionService) UploadProof(ctx context.Context, actorID uint64, filename, contentType string, body io.Reader) (string, string, error) {
	actor, err := s.Actor(ctx, actorID)
	if err != nil {
		return "", "", err
	}
	if !approval.Elevated(actor.Roles) {
		return "", "", forbiddenf("role cannot manage proofs")
	}
	if s.proofs == nil {
		return "", "", errors.New("proof storage not configured")
	}
	return s.proofs.Upload(ctx, filename, contentType, body)
}

// DeleteProof removes a stored proof image.
func (s *TransactionService) DeleteProof(ctx context.Context, actorID uint64, url string) error {
	actor, err := s.Actor(ctx, actorID)
	if err != nil {
		return err
	}
	if !approval.Elevated(actor.Roles) {
		return forbiddenf("role cannot manage proofs")
	}
	if s.proofs == nil {
		return errors.New("proof storage not configured")
	}
	return s.proofs.Delete(ctx, url)
}

// Delete removes a SAVED or PENDING transaction and its approvals, then
// tries to remove the stored proof.
func (s *TransactionService) Delete(ctx context.Context, actorID, txID uint64) error {
	actor, err := s.Actor(ctx, actorID)
	if err != nil {
		return err
	}
	if !approval.Elevated(actor.Roles) {
		return forbiddenf("role cannot delete transactions")
	}
	current, err := s.repo.GetTransaction(ctx, s.repo.DB(ctx), txID)
	if err != nil {
		return storeErr(err, "transaction")
	}
	if approval.DeleteNeedsScope(actor.Roles) && current.UsersID != actor.ID {
		ok, err := s.scope.InScope(ctx, actor.ID, current.UsersID)
		if err != nil {
			return err
		}
		if !ok {
			return forbiddenf("user %d is not assigned to you", current.UsersID)
		}
	}

	var proof string
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.repo.GetTransactionForUpdate(ctx, tx, txID)
		if err != nil {
			return err
		}
		if !t.Status.Deletable() {
			return conflictf("only PENDING or SAVED transactions can be deleted, status is %s", t.Status)
		}
		proof = t.ProofReference
		return s.repo.DeleteTransaction(ctx, tx, t.ID)
	})
	if err != nil {
		return storeErr(err, "transaction")
	}
	s.log.Infof("transaction %d deleted by %d", txID, actor.ID)

	if s.proofs != nil && (strings.HasPrefix(proof, "http://") || strings.HasPrefix(proof, "https://")) {
		if err := s.proofs.Delete(ctx, proof); err != nil {
			s.log.Warnf("delete proof for transaction %d: %v", txID, err)
		}
	}
	return nil
}

func (s *TransactionService) visibility(ctx context.Context, actor Actor) (approval.Visibility, error) {
	var scoped []uint64
	if approval.TierFor(actor.Roles) == approval.VisibleScoped {
		ids, err := s.scope.Assignees(ctx, actor.ID)
		if err != nil {
			return approval.Visibility{}, err
		}
		scoped = ids
	}
	return approval.NewVisibility(actor.ID, actor.Roles, scoped), nil
}

// Get returns one visible transaction with its approvals.
func (s *TransactionService) Get(ctx context.Context, actorID, txID uint64) (*model.Transaction, error) {
	actor, err := s.Actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	vis, err := s.visibility(ctx, actor)
	if err != nil {
		return nil, err
	}
	t, err := s.reload(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !vis.Allows(t.UsersID) {
		return nil, forbiddenf("transaction %d is not visible", txID)
	}
	return t, nil
}

// List returns the visible transactions matching q, newest first.
func (s *TransactionService) List(ctx context.Context, actorID uint64, q ListQuery) ([]model.Transaction, error) {
	f := repo.ListFilter{
		UsersID:          q.UsersID,
		RecordedByID:     q.RecordedByID,
		PaymentMethodsID: q.PaymentMethodsID,
		From:             q.From,
		To:               q.To,
	}
	// unknown filter values are ignored rather than rejected
	if st, err := approval.ParseStatus(q.Status); err == nil {
		f.Status = &st
	}
	if typ, err := approval.ParseType(q.TransactionType); err == nil {
		f.Type = &typ
	}

	actor, err := s.Actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	vis, err := s.visibility(ctx, actor)
	if err != nil {
		return nil, err
	}
	f.OwnerIDs = vis.OwnerIDs()
	return s.repo.ListTransactions(ctx, f)
}

// ListApprovals returns the approvals of a visible transaction, newest first.
func (s *TransactionService) ListApprovals(ctx context.Context, actorID, txID uint64) ([]model.Approval, error) {
	if _, err := s.Get(ctx, actorID, txID); err != nil {
		return nil, err
	}
	return s.repo.ListApprovals(ctx, txID)
}

func (s *TransactionService) reload(ctx context.Context, id uint64) (*model.Transaction, error) {
	var t model.Transaction
	err := s.repo.DB(ctx).Preload("Approvals", func(db *gorm.DB) *gorm.DB {
		return db.Order("approved_at asc")
	}).Where("id = ?", id).First(&t).Error
	if err != nil {
		return nil, storeErr(err, "transaction")
	}
	return &t, nil
}
