package service

import (
	"context"
	"errors"

	"github.com/richardliu001/treasury-service/internal/approval"
	"github.com/richardliu001/treasury-service/internal/model"
	"gorm.io/gorm"
)

// BulkResult aggregates a bulk call. Skipped items are not errors.
type BulkResult struct {
	Processed int `json:"processed"`
	Validated int `json:"validated"`
}

// ApproveResult is the approved transaction and the role the approval was recorded under.
type ApproveResult struct {
	Transaction *model.Transaction `json:"transaction"`
	Role        approval.Role      `json:"approver_role"`
}

// recordApproval inserts an approval for t and recomputes its status. t must
// be locked by tx; the count, pool size and status write all happen under
// that lock so concurrent approvers observe each other.
func (s *TransactionService) recordApproval(ctx context.Context, tx *gorm.DB, t *model.Transaction,
	actorID uint64, role approval.Role, note *string) error {
	exists, err := s.repo.ApprovalExists(ctx, tx, t.ID, actorID)
	if err != nil {
		return err
	}
	if exists {
		return conflictf("user %d already approved transaction %d", actorID, t.ID)
	}
	now := s.now()
	a := &model.Approval{
		TransactionsID: t.ID,
		UsersID:        actorID,
		RoleAtApproval: role,
		ApprovedAt:     now,
		Note:           note,
	}
	if err := s.repo.CreateApproval(ctx, tx, a); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return conflictf("user %d already approved transaction %d", actorID, t.ID)
		}
		return err
	}

	count, err := s.repo.CountApprovers(ctx, tx, t.ID)
	if err != nil {
		return err
	}
	rule := approval.RuleFor(t.TransactionType)
	pool := 0
	if rule.NeedsPool() {
		// live membership, never cached: the board can change between approvals
		if pool, err = s.repo.CountRoleHolders(ctx, tx, rule.Pool); err != nil {
			return err
		}
	}
	next := rule.Outcome(count, pool)
	fields := map[string]interface{}{
		"status":     next,
		"updated_at": now,
		"updated_by": actorID,
	}
	if next == approval.StatusValidated {
		fields["validated_at"] = now
		t.ValidatedAt = &now
	}
	if err := s.repo.UpdateTransaction(ctx, tx, t.ID, fields); err != nil {
		return err
	}
	t.Status = next
	s.log.Infof("approval tx=%d user=%d role=%s count=%d pool=%d status=%s",
		t.ID, actorID, role, count, pool, next)
	return nil
}

// Notes stored on automatic approvals.
const (
	noteAutoOnCreate = "Auto-approval on creation"
	noteAutoOnSubmit = "Auto-approval on submission"
)

// autoApprove records the submitter's approval when a treasurer submits
// money-in. t is already PENDING and locked by tx.
func (s *TransactionService) autoApprove(ctx context.Context, tx *gorm.DB, t *model.Transaction, actor Actor, note string) error {
	if !approval.AutoApproves(actor.Roles, t.TransactionType) {
		return nil
	}
	role, ok := approval.RuleFor(t.TransactionType).ApproverRole(actor.Roles)
	if !ok {
		return nil
	}
	err := s.recordApproval(ctx, tx, t, actor.ID, role, &note)
	if errors.Is(err, ErrConflict) {
		// resubmission after an administrative reset keeps the earlier approval
		return nil
	}
	return err
}

// submitLocked moves a locked SAVED transaction to PENDING.
func (s *TransactionService) submitLocked(ctx context.Context, tx *gorm.DB, t *model.Transaction, actor Actor) error {
	if !approval.CanSubmit(actor.ID, t.RecordedByID, actor.Roles) {
		return forbiddenf("only the recorder or an admin can submit transaction %d", t.ID)
	}
	if !approval.CanTransition(t.Status, approval.StatusPending) {
		return conflictf("transaction %d is %s, only SAVED can be submitted", t.ID, t.Status)
	}
	if err := s.repo.UpdateTransaction(ctx, tx, t.ID, map[string]interface{}{
		"status":      approval.StatusPending,
		"issubmitted": true,
		"updated_at":  s.now(),
		"updated_by":  actor.ID,
	}); err != nil {
		return err
	}
	t.Status = approval.StatusPending
	t.IsSubmitted = true
	return s.autoApprove(ctx, tx, t, actor, noteAutoOnSubmit)
}

func (s *TransactionService) submitOne(ctx context.Context, actor Actor, txID uint64) (*model.Transaction, error) {
	var t *model.Transaction
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if t, err = s.repo.GetTransactionForUpdate(ctx, tx, txID); err != nil {
			return err
		}
		return s.submitLocked(ctx, tx, t, actor)
	})
	if err != nil {
		return nil, storeErr(err, "transaction")
	}
	return t, nil
}

// Submit moves a SAVED transaction to PENDING and notifies the treasurers.
func (s *TransactionService) Submit(ctx context.Context, actorID, txID uint64) (*model.Transaction, error) {
	actor, err := s.Actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	t, err := s.submitOne(ctx, actor, txID)
	if err != nil {
		return nil, err
	}
	s.log.Infof("transaction %d submitted by %d status=%s", t.ID, actor.ID, t.Status)
	s.afterSubmit(ctx, actor.ID, []model.Transaction{*t})
	return s.reload(ctx, t.ID)
}

// BulkSubmit submits every eligible id and skips the rest. Treasurers get a
// single notification for the whole batch.
func (s *TransactionService) BulkSubmit(ctx context.Context, actorID uint64, ids []uint64) (BulkResult, error) {
	var res BulkResult
	if len(ids) == 0 {
		return res, validationf("transaction_ids must be a non-empty list")
	}
	actor, err := s.Actor(ctx, actorID)
	if err != nil {
		return res, err
	}
	var done []model.Transaction
	for _, id := range dedupe(ids) {
		t, err := s.submitOne(ctx, actor, id)
		if err != nil {
			s.logSkip("submit", id, err)
			continue
		}
		done = append(done, *t)
		res.Processed++
		if t.Status == approval.StatusValidated {
			res.Validated++
		}
	}
	s.afterSubmit(ctx, actor.ID, done)
	return res, nil
}

func (s *TransactionService) afterSubmit(ctx context.Context, senderID uint64, txs []model.Transaction) {
	if len(txs) == 0 {
		return
	}
	ids := make([]uint64, 0, len(txs))
	var validated []model.Transaction
	for _, t := range txs {
		ids = append(ids, t.ID)
		if t.Status == approval.StatusValidated {
			validated = append(validated, t)
		}
	}
	s.notifyTreasurers(ctx, senderID, ids)
	s.notifyValidated(ctx, validated)
}

func (s *TransactionService) approveOne(ctx context.Context, actor Actor, txID uint64, note *string) (*model.Transaction, approval.Role, error) {
	var (
		t    *model.Transaction
		role approval.Role
	)
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if t, err = s.repo.GetTransactionForUpdate(ctx, tx, txID); err != nil {
			return err
		}
		if !t.Status.Approvable() {
			return conflictf("transaction %d is %s and cannot be approved", t.ID, t.Status)
		}
		var ok bool
		if role, ok = approval.RuleFor(t.TransactionType).ApproverRole(actor.Roles); !ok {
			return forbiddenf("not eligible to approve %s transactions", t.TransactionType)
		}
		return s.recordApproval(ctx, tx, t, actor.ID, role, note)
	})
	if err != nil {
		return nil, "", storeErr(err, "transaction")
	}
	return t, role, nil
}

// Approve records the actor's approval and recomputes quorum.
func (s *TransactionService) Approve(ctx context.Context, actorID, txID uint64, note *string) (*ApproveResult, error) {
	actor, err := s.Actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	t, role, err := s.approveOne(ctx, actor, txID, note)
	if err != nil {
		return nil, err
	}
	if t.Status == approval.StatusValidated {
		s.notifyValidated(ctx, []model.Transaction{*t})
	}
	full, err := s.reload(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	return &ApproveResult{Transaction: full, Role: role}, nil
}

// BulkApprove approves every eligible id and skips the rest. note is stored
// on every approval recorded.
func (s *TransactionService) BulkApprove(ctx context.Context, actorID uint64, ids []uint64, note *string) (BulkResult, error) {
	var res BulkResult
	if len(ids) == 0 {
		return res, validationf("transaction_ids must be a non-empty list")
	}
	actor, err := s.Actor(ctx, actorID)
	if err != nil {
		return res, err
	}
	var validated []model.Transaction
	for _, id := range dedupe(ids) {
		t, _, err := s.approveOne(ctx, actor, id, note)
		if err != nil {
			s.logSkip("approve", id, err)
			continue
		}
		res.Processed++
		if t.Status == approval.StatusValidated {
			res.Validated++
			validated = append(validated, *t)
		}
	}
	s.notifyValidated(ctx, validated)
	return res, nil
}

// SetStatus force-sets a status without touching approvals.
func (s *TransactionService) SetStatus(ctx context.Context, actorID, txID uint64, status string) (*model.Transaction, error) {
	next, err := approval.ParseStatus(status)
	if err != nil {
		return nil, validationf("%v", err)
	}
	actor, err := s.Actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !approval.CanSetStatus(actor.Roles) {
		return nil, forbiddenf("only treasury can set status")
	}
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.repo.GetTransactionForUpdate(ctx, tx, txID)
		if err != nil {
			return err
		}
		now := s.now()
		fields := map[string]interface{}{
			"status":     next,
			"updated_at": now,
			"updated_by": actor.ID,
		}
		if next == approval.StatusValidated {
			fields["validated_at"] = now
		}
		if next != approval.StatusSaved {
			fields["issubmitted"] = true
		}
		return s.repo.UpdateTransaction(ctx, tx, t.ID, fields)
	})
	if err != nil {
		return nil, storeErr(err, "transaction")
	}
	s.log.Infof("transaction %d status set to %s by %d", txID, next, actor.ID)
	if next == approval.StatusPending {
		s.notifyTreasurers(ctx, actor.ID, []uint64{txID})
	}
	t, err := s.reload(ctx, txID)
	if err != nil {
		return nil, err
	}
	if next == approval.StatusValidated {
		s.notifyValidated(ctx, []model.Transaction{*t})
	}
	return t, nil
}

func (s *TransactionService) logSkip(op string, id uint64, err error) {
	if skippable(err) {
		s.log.Infof("bulk %s skipped tx=%d: %v", op, id, err)
		return
	}
	s.log.Warnf("bulk %s failed tx=%d: %v", op, id, err)
}

func dedupe(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
