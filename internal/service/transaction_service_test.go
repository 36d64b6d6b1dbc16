package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/richardliu001/treasury-service/internal/approval"
	"github.com/richardliu001/treasury-service/internal/logger"
	"github.com/richardliu001/treasury-service/internal/model"
	"github.com/richardliu001/treasury-service/internal/notify"
	"github.com/richardliu001/treasury-service/internal/repo"
	"github.com/richardliu001/treasury-service/internal/scope"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func (r *recordingNotifier) ofKind(kind string) []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Notification
	for _, n := range r.sent {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type fixture struct {
	svc *TransactionService
	db  *gorm.DB
	rec *recordingNotifier
	ctx context.Context
}

var roleIDs = map[approval.Role]uint64{
	approval.RoleAdmin: 1, approval.RoleTreasury: 2, approval.RoleBoard: 3,
	approval.RoleAdminGroup: 4, approval.RoleMember: 5,
}

func newFixture(t *testing.T) *fixture {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection: row locks become strict serialisation
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(model.All()...))

	for role, id := range roleIDs {
		require.NoError(t, db.Create(&model.Role{ID: id, Role: strings.ToUpper(string(role))}).Error)
	}
	require.NoError(t, db.Create(&model.PaymentMethod{ID: 1, Name: "Orange money", TypeOfProof: "BOTH", IsActive: true}).Error)
	require.NoError(t, db.Create(&model.PaymentMethod{ID: 2, Name: "Virement bancaire", TypeOfProof: "LINK", IsActive: true}).Error)
	require.NoError(t, db.Model(&model.PaymentMethod{}).Where("id = ?", 2).Update("isactive", false).Error)

	log, _ := logger.NewLogger()
	repository := repo.NewRepository(db, nil, nil, log)
	rec := &recordingNotifier{}
	svc := NewTransactionService(repository, repository, scope.NewDirectory(repository), rec, nil, log)
	return &fixture{svc: svc, db: db, rec: rec, ctx: context.Background()}
}

func (f *fixture) user(t *testing.T, id uint64, roles ...approval.Role) {
	require.NoError(t, f.db.Create(&model.User{
		ID: id, Username: fmt.Sprintf("user%d", id), Firstname: "User", Lastname: fmt.Sprint(id), IsActive: true,
	}).Error)
	for _, r := range roles {
		f.grant(t, id, r)
	}
}

func (f *fixture) grant(t *testing.T, id uint64, r approval.Role) {
	require.NoError(t, f.db.Create(&model.RoleAttribution{UsersID: id, RolesID: roleIDs[r]}).Error)
}

func (f *fixture) revoke(t *testing.T, id uint64, r approval.Role) {
	require.NoError(t, f.db.Where("users_id = ? AND roles_id = ?", id, roleIDs[r]).
		Delete(&model.RoleAttribution{}).Error)
}

func (f *fixture) create(t *testing.T, actor, owner uint64, typ string, submit bool) *model.Transaction {
	tx, err := f.svc.Create(f.ctx, actor, CreateInput{
		Amount:           decimal.NewFromInt(5000),
		ProofReference:   "OM-123456",
		UsersID:          owner,
		PaymentMethodsID: 1,
		TransactionType:  typ,
		Submit:           submit,
	})
	require.NoError(t, err)
	return tx
}

func (f *fixture) approvals(t *testing.T, txID uint64) int64 {
	var n int64
	require.NoError(t, f.db.Model(&model.Approval{}).Where("transactions_id = ?", txID).Count(&n).Error)
	return n
}

func TestDonationLifecycle(t *testing.T) {
	f := newFixture(t)
	f.user(t, 7, approval.RoleMember)
	f.user(t, 10, approval.RoleTreasury)
	f.user(t, 11, approval.RoleTreasury)

	tx := f.create(t, 7, 7, "donations", false)
	assert.Equal(t, approval.StatusSaved, tx.Status)
	assert.Equal(t, approval.TypeDonations, tx.TransactionType)
	assert.False(t, tx.IsSubmitted)
	assert.Empty(t, f.rec.ofKind(notify.KindSubmitted))

	tx, err := f.svc.Submit(f.ctx, 7, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, tx.Status)
	assert.True(t, tx.IsSubmitted)
	sub := f.rec.ofKind(notify.KindSubmitted)
	require.Len(t, sub, 1)
	assert.Equal(t, []uint64{10, 11}, sub[0].Recipients)
	assert.Equal(t, "User 7 submitted a transaction for approval", sub[0].Message)
	assert.Equal(t, "/approvals", sub[0].Link)

	res, err := f.svc.Approve(f.ctx, 10, tx.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, approval.RoleTreasury, res.Role)
	assert.Equal(t, approval.StatusPartiallyApproved, res.Transaction.Status)
	assert.Nil(t, res.Transaction.ValidatedAt)
	assert.Empty(t, f.rec.ofKind(notify.KindValidated))

	res, err = f.svc.Approve(f.ctx, 11, tx.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusValidated, res.Transaction.Status)
	assert.NotNil(t, res.Transaction.ValidatedAt)
	assert.Len(t, res.Transaction.Approvals, 2)

	val := f.rec.ofKind(notify.KindValidated)
	require.Len(t, val, 1)
	assert.Equal(t, []uint64{7}, val[0].Recipients)
	assert.Equal(t, "Your transaction has been validated.", val[0].Message)
	assert.Equal(t, "/transactions", val[0].Link)

	_, err = f.svc.Approve(f.ctx, 10, tx.ID, nil)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestExpenseQuorumFollowsLiveBoard(t *testing.T) {
	f := newFixture(t)
	for _, id := range []uint64{1, 2, 3} {
		f.user(t, id, approval.RoleBoard)
	}
	f.user(t, 4, approval.RoleMember)

	tx := f.create(t, 1, 1, "EXPENSE", true)
	assert.Equal(t, approval.StatusPending, tx.Status)
	assert.Zero(t, f.approvals(t, tx.ID))

	res, err := f.svc.Approve(f.ctx, 1, tx.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, approval.RoleBoard, res.Role)
	assert.Equal(t, approval.StatusPartiallyApproved, res.Transaction.Status)

	f.grant(t, 4, approval.RoleBoard)

	for _, id := range []uint64{2, 3} {
		res, err = f.svc.Approve(f.ctx, id, tx.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, approval.StatusPartiallyApproved, res.Transaction.Status, "approver %d", id)
	}
	res, err = f.svc.Approve(f.ctx, 4, tx.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusValidated, res.Transaction.Status)
	assert.EqualValues(t, 4, f.approvals(t, tx.ID))
}

func TestExpenseBoardShrinkLowersThreshold(t *testing.T) {
	f := newFixture(t)
	for _, id := range []uint64{1, 2, 3} {
		f.user(t, id, approval.RoleBoard)
	}
	f.user(t, 9, approval.RoleAdmin)

	tx := f.create(t, 1, 1, "EXPENSE", true)
	_, err := f.svc.Approve(f.ctx, 1, tx.ID, nil)
	require.NoError(t, err)

	// approver 1 leaves the board: its approval still counts
	f.revoke(t, 1, approval.RoleBoard)
	res, err := f.svc.Approve(f.ctx, 9, tx.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, approval.RoleAdmin, res.Role)
	assert.Equal(t, approval.StatusValidated, res.Transaction.Status)
}

func TestApproveRejections(t *testing.T) {
	f := newFixture(t)
	f.user(t, 7, approval.RoleMember)
	f.user(t, 10, approval.RoleTreasury)
	f.user(t, 12, approval.RoleBoard)

	saved := f.create(t, 7, 7, "CONTRIBUTION", false)
	_, err := f.svc.Approve(f.ctx, 10, saved.ID, nil)
	assert.ErrorIs(t, err, ErrConflict)

	pending := f.create(t, 7, 7, "CONTRIBUTION", true)
	_, err = f.svc.Approve(f.ctx, 7, pending.ID, nil)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Approve(f.ctx, 12, pending.ID, nil)
	assert.ErrorIs(t, err, ErrForbidden)

	expense := f.create(t, 12, 12, "EXPENSE", true)
	_, err = f.svc.Approve(f.ctx, 10, expense.ID, nil)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Approve(f.ctx, 10, 999, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	note := "checked receipt"
	_, err = f.svc.Approve(f.ctx, 10, pending.ID, &note)
	require.NoError(t, err)
	_, err = f.svc.Approve(f.ctx, 10, pending.ID, nil)
	assert.ErrorIs(t, err, ErrConflict)
	assert.EqualValues(t, 1, f.approvals(t, pending.ID))

	list, err := f.svc.ListApprovals(f.ctx, 10, pending.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Note)
	assert.Equal(t, note, *list[0].Note)
}

func TestConcurrentApprovalsValidateOnce(t *testing.T) {
	f := newFixture(t)
	f.user(t, 7, approval.RoleMember)
	f.user(t, 10, approval.RoleTreasury)
	f.user(t, 11, approval.RoleTreasury)
	tx := f.create(t, 7, 7, "CONTRIBUTION", true)

	var wg sync.WaitGroup
	results := make([]*ApproveResult, 2)
	errs := make([]error, 2)
	for i, approver := range []uint64{10, 11} {
		wg.Add(1)
		go func(i int, approver uint64) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Approve(f.ctx, approver, tx.ID, nil)
		}(i, approver)
	}
	wg.Wait()

	validated := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Transaction.Status == approval.StatusValidated {
			validated++
		}
	}
	assert.Equal(t, 1, validated)
	assert.EqualValues(t, 2, f.approvals(t, tx.ID))

	final, err := f.svc.Get(f.ctx, 10, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusValidated, final.Status)
	assert.Len(t, f.rec.ofKind(notify.KindValidated), 1)
}

func TestTreasurerSubmitAutoApproves(t *testing.T) {
	f := newFixture(t)
	f.user(t, 10, approval.RoleTreasury, approval.RoleMember)
	f.user(t, 11, approval.RoleTreasury)

	tx := f.create(t, 10, 10, "CONTRIBUTION", true)
	assert.Equal(t, approval.StatusPartiallyApproved, tx.Status)
	require.Len(t, tx.Approvals, 1)
	assert.Equal(t, uint64(10), tx.Approvals[0].UsersID)
	assert.Equal(t, approval.RoleTreasury, tx.Approvals[0].RoleAtApproval)
	require.NotNil(t, tx.Approvals[0].Note)
	assert.Equal(t, "Auto-approval on creation", *tx.Approvals[0].Note)

	saved := f.create(t, 10, 10, "DONATIONS", false)
	submitted, err := f.svc.Submit(f.ctx, 10, saved.ID)
	require.NoError(t, err)
	require.Len(t, submitted.Approvals, 1)
	require.NotNil(t, submitted.Approvals[0].Note)
	assert.Equal(t, "Auto-approval on submission", *submitted.Approvals[0].Note)

	_, err = f.svc.Approve(f.ctx, 10, tx.ID, nil)
	assert.ErrorIs(t, err, ErrConflict)

	res, err := f.svc.Approve(f.ctx, 11, tx.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusValidated, res.Transaction.Status)

	// treasurer submitting an expense records no approval
	f.grant(t, 10, approval.RoleBoard)
	expense := f.create(t, 10, 10, "EXPENSE", true)
	assert.Equal(t, approval.StatusPending, expense.Status)
	assert.Empty(t, expense.Approvals)
}

func TestDeleteGuard(t *testing.T) {
	f := newFixture(t)
	f.user(t, 7, approval.RoleMember)
	f.user(t, 10, approval.RoleTreasury)
	f.user(t, 11, approval.RoleTreasury)
	f.user(t, 20, approval.RoleAdminGroup)

	partial := f.create(t, 10, 7, "CONTRIBUTION", true)
	require.Equal(t, approval.StatusPartiallyApproved, partial.Status)
	assert.ErrorIs(t, f.svc.Delete(f.ctx, 10, partial.ID), ErrConflict)

	_, err := f.svc.Approve(f.ctx, 11, partial.ID, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.Delete(f.ctx, 10, partial.ID), ErrConflict)

	saved := f.create(t, 7, 7, "CONTRIBUTION", false)
	assert.ErrorIs(t, f.svc.Delete(f.ctx, 7, saved.ID), ErrForbidden)
	// group admin without an assignment for 7
	assert.ErrorIs(t, f.svc.Delete(f.ctx, 20, saved.ID), ErrForbidden)
	require.NoError(t, f.db.Create(&model.FamilyAssignment{AssignedID: 7, ResponsibleID: 20}).Error)
	require.NoError(t, f.svc.Delete(f.ctx, 20, saved.ID))

	// a PENDING row can still carry approvals after an administrative reset
	reset := f.create(t, 10, 7, "DONATIONS", true)
	_, err = f.svc.SetStatus(f.ctx, 10, reset.ID, "pending")
	require.NoError(t, err)
	require.EqualValues(t, 1, f.approvals(t, reset.ID))
	require.NoError(t, f.svc.Delete(f.ctx, 10, reset.ID))
	assert.Zero(t, f.approvals(t, reset.ID))
	_, err = f.svc.Get(f.ctx, 10, reset.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, f.svc.Delete(f.ctx, 10, 999), ErrNotFound)
}

func TestVisibilityTiers(t *testing.T) {
	f := newFixture(t)
	f.user(t, 7, approval.RoleMember)
	f.user(t, 8, approval.RoleMember)
	f.user(t, 10, approval.RoleTreasury)
	f.user(t, 20, approval.RoleAdminGroup, approval.RoleMember)
	require.NoError(t, f.db.Create(&model.FamilyAssignment{AssignedID: 7, ResponsibleID: 20}).Error)

	a := f.create(t, 7, 7, "CONTRIBUTION", false)
	b := f.create(t, 8, 8, "CONTRIBUTION", false)
	c := f.create(t, 20, 20, "DONATIONS", true)

	all, err := f.svc.List(f.ctx, 10, ListQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	group, err := f.svc.List(f.ctx, 20, ListQuery{})
	require.NoError(t, err)
	ids := []uint64{}
	for _, tx := range group {
		ids = append(ids, tx.ID)
	}
	assert.ElementsMatch(t, []uint64{a.ID, c.ID}, ids)

	own, err := f.svc.List(f.ctx, 8, ListQuery{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, b.ID, own[0].ID)

	pending, err := f.svc.List(f.ctx, 10, ListQuery{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, c.ID, pending[0].ID)

	_, err = f.svc.Get(f.ctx, 20, b.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Get(f.ctx, 8, a.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	got, err := f.svc.Get(f.ctx, 20, a.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.UsersID)
}

func TestBulkSubmitAndApprove(t *testing.T) {
	f := newFixture(t)
	f.user(t, 7, approval.RoleMember)
	f.user(t, 10, approval.RoleTreasury, approval.RoleMember)
	f.user(t, 11, approval.RoleTreasury)

	var ids []uint64
	for i := 0; i < 3; i++ {
		ids = append(ids, f.create(t, 10, 7, "CONTRIBUTION", false).ID)
	}
	foreign := f.create(t, 7, 7, "CONTRIBUTION", false)
	with := func(extra ...uint64) []uint64 { return append(append([]uint64{}, ids...), extra...) }

	_, err := f.svc.BulkSubmit(f.ctx, 10, nil)
	assert.ErrorIs(t, err, ErrValidation)

	res, err := f.svc.BulkSubmit(f.ctx, 10, with(foreign.ID, 999))
	require.NoError(t, err)
	assert.Equal(t, BulkResult{Processed: 3}, res)
	sub := f.rec.ofKind(notify.KindSubmitted)
	require.Len(t, sub, 1)
	assert.Equal(t, "User 10 submitted 3 transactions for approval", sub[0].Message)
	assert.Equal(t, ids, sub[0].TransactionIDs)

	note := "bank statement checked"
	res, err = f.svc.BulkApprove(f.ctx, 11, with(ids[0], foreign.ID), &note)
	require.NoError(t, err)
	assert.Equal(t, BulkResult{Processed: 3, Validated: 3}, res)
	var notes []string
	require.NoError(t, f.db.Model(&model.Approval{}).Where("users_id = ?", 11).Order("id").Pluck("note", &notes).Error)
	assert.Equal(t, []string{note, note, note}, notes)

	val := f.rec.ofKind(notify.KindValidated)
	require.Len(t, val, 2)
	assert.Equal(t, []uint64{7}, val[0].Recipients)
	assert.Equal(t, "Your transactions (3) have been validated.", val[0].Message)
	assert.Equal(t, []uint64{10}, val[1].Recipients)
	assert.Equal(t, "The transactions (3) you recorded have been validated.", val[1].Message)

	res, err = f.svc.BulkApprove(f.ctx, 11, ids, nil)
	require.NoError(t, err)
	assert.Equal(t, BulkResult{}, res)
}

func TestValidatedNoticeMergesOwnerAndRecorder(t *testing.T) {
	f := newFixture(t)
	f.user(t, 7, approval.RoleMember)
	f.user(t, 10, approval.RoleTreasury, approval.RoleMember)
	f.user(t, 11, approval.RoleTreasury)

	own := f.create(t, 10, 10, "CONTRIBUTION", true)
	forOther := f.create(t, 10, 7, "CONTRIBUTION", true)

	res, err := f.svc.BulkApprove(f.ctx, 11, []uint64{own.ID, forOther.ID}, nil)
	require.NoError(t, err)
	assert.Equal(t, BulkResult{Processed: 2, Validated: 2}, res)

	val := f.rec.ofKind(notify.KindValidated)
	require.Len(t, val, 2)
	assert.Equal(t, []uint64{7}, val[0].Recipients)
	assert.Equal(t, []uint64{10}, val[1].Recipients)
	assert.Equal(t, "Your transaction has been validated. The transaction you recorded has been validated.", val[1].Message)
	assert.ElementsMatch(t, []uint64{own.ID, forOther.ID}, val[1].TransactionIDs)
}

func TestSetStatusOverride(t *testing.T) {
	f := newFixture(t)
	f.user(t, 7, approval.RoleMember)
	f.user(t, 10, approval.RoleTreasury)
	tx := f.create(t, 7, 7, "CONTRIBUTION", false)

	_, err := f.svc.SetStatus(f.ctx, 7, tx.ID, "VALIDATED")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.SetStatus(f.ctx, 10, tx.ID, "DONE")
	assert.ErrorIs(t, err, ErrValidation)

	got, err := f.svc.SetStatus(f.ctx, 10, tx.ID, "validated")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusValidated, got.Status)
	assert.NotNil(t, got.ValidatedAt)
	assert.True(t, got.IsSubmitted)
	assert.Zero(t, f.approvals(t, tx.ID))
	val := f.rec.ofKind(notify.KindValidated)
	require.Len(t, val, 1)
	assert.Equal(t, []uint64{7}, val[0].Recipients)
	assert.Equal(t, []uint64{tx.ID}, val[0].TransactionIDs)

	got, err = f.svc.SetStatus(f.ctx, 10, tx.ID, "PENDING")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, got.Status)
	assert.Len(t, f.rec.ofKind(notify.KindSubmitted), 1)

	got, err = f.svc.SetStatus(f.ctx, 10, tx.ID, "REJECTED")
	require.NoError(t, err)
	assert.Equal(t, approval.StatusRejected, got.Status)
	_, err = f.svc.Approve(f.ctx, 10, tx.ID, nil)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUpdatePermissions(t *testing.T) {
	f := newFixture(t)
	f.user(t, 7, approval.RoleMember)
	f.user(t, 8, approval.RoleMember)
	f.user(t, 10, approval.RoleTreasury)

	tx := f.create(t, 7, 7, "CONTRIBUTION", false)
	amount := decimal.RequireFromString("7500.50")
	got, err := f.svc.Update(f.ctx, 7, tx.ID, UpdateInput{Amount: &amount})
	require.NoError(t, err)
	assert.True(t, amount.Equal(got.Amount))
	assert.Equal(t, uint64(7), got.UpdatedBy)

	same, err := f.svc.Update(f.ctx, 7, tx.ID, UpdateInput{})
	require.NoError(t, err)
	assert.True(t, amount.Equal(same.Amount))

	_, err = f.svc.Update(f.ctx, 8, tx.ID, UpdateInput{Amount: &amount})
	assert.ErrorIs(t, err, ErrForbidden)

	expense := "EXPENSE"
	_, err = f.svc.Update(f.ctx, 7, tx.ID, UpdateInput{TransactionType: &expense})
	assert.ErrorIs(t, err, ErrForbidden)

	zero := decimal.Zero
	_, err = f.svc.Update(f.ctx, 7, tx.ID, UpdateInput{Amount: &zero})
	assert.ErrorIs(t, err, ErrValidation)

	inactive := uint64(2)
	_, err = f.svc.Update(f.ctx, 7, tx.ID, UpdateInput{PaymentMethodsID: &inactive})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Submit(f.ctx, 7, tx.ID)
	require.NoError(t, err)
	_, err = f.svc.Update(f.ctx, 7, tx.ID, UpdateInput{Amount: &amount})
	assert.ErrorIs(t, err, ErrForbidden)

	// a treasurer who recorded the row may still edit while PENDING
	other := f.create(t, 10, 7, "EXPENSE", true)
	proof := "https://example.org/receipt.png"
	got, err = f.svc.Update(f.ctx, 10, other.ID, UpdateInput{ProofReference: &proof})
	require.NoError(t, err)
	assert.Equal(t, proof, got.ProofReference)
}

func TestCreateChecks(t *testing.T) {
	f := newFixture(t)
	f.user(t, 7, approval.RoleMember)
	f.user(t, 8, approval.RoleMember)
	f.user(t, 20, approval.RoleAdminGroup)
	f.user(t, 30)
	require.NoError(t, f.db.Create(&model.FamilyAssignment{AssignedID: 8, ResponsibleID: 20}).Error)

	base := CreateInput{Amount: decimal.NewFromInt(10), ProofReference: "TX-1", UsersID: 7, PaymentMethodsID: 1, TransactionType: "CONTRIBUTION"}
	cases := []struct {
		name  string
		actor uint64
		edit  func(in *CreateInput)
		want  error
	}{
		{"zero amount", 7, func(in *CreateInput) { in.Amount = decimal.Zero }, ErrValidation},
		{"blank proof", 7, func(in *CreateInput) { in.ProofReference = "  " }, ErrValidation},
		{"unknown type", 7, func(in *CreateInput) { in.TransactionType = "LOAN" }, ErrValidation},
		{"no role", 30, func(in *CreateInput) { in.UsersID = 30 }, ErrForbidden},
		{"member expense", 7, func(in *CreateInput) { in.TransactionType = "EXPENSE" }, ErrForbidden},
		{"member for other", 7, func(in *CreateInput) { in.UsersID = 8 }, ErrForbidden},
		{"group admin out of scope", 20, func(in *CreateInput) {}, ErrForbidden},
		{"unknown owner", 7, func(in *CreateInput) { in.UsersID = 404 }, ErrNotFound},
		{"unknown payment method", 7, func(in *CreateInput) { in.PaymentMethodsID = 9 }, ErrNotFound},
		{"inactive payment method", 7, func(in *CreateInput) { in.PaymentMethodsID = 2 }, ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.edit(&in)
			_, err := f.svc.Create(f.ctx, tc.actor, in)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	in := base
	in.UsersID = 8
	tx, err := f.svc.Create(f.ctx, 20, in)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), tx.UsersID)
	assert.Equal(t, uint64(20), tx.RecordedByID)
}

func TestNotificationFailureKeepsTransition(t *testing.T) {
	f := newFixture(t)
	f.user(t, 7, approval.RoleMember)
	f.user(t, 10, approval.RoleTreasury)
	f.rec.err = errors.New("broker down")

	tx := f.create(t, 7, 7, "CONTRIBUTION", false)
	got, err := f.svc.Submit(f.ctx, 7, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, got.Status)
	assert.Len(t, f.rec.ofKind(notify.KindSubmitted), 1)

	_, err = f.svc.Submit(f.ctx, 7, tx.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestProofOperations(t *testing.T) {
	f := newFixture(t)
	f.user(t, 7, approval.RoleMember)
	f.user(t, 12, approval.RoleBoard)
	store := &memoryProofs{}
	f.svc.proofs = store

	tx := f.create(t, 7, 7, "CONTRIBUTION", false)
	_, err := f.svc.SetProof(f.ctx, 7, tx.ID, "https://cdn/x.png")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.SetProof(f.ctx, 12, tx.ID, " ")
	assert.ErrorIs(t, err, ErrValidation)

	url, key, err := f.svc.UploadProof(f.ctx, 12, "receipt.png", "image/png", strings.NewReader("png"))
	require.NoError(t, err)
	assert.Equal(t, "transactions/receipt.png", key)
	got, err := f.svc.SetProof(f.ctx, 12, tx.ID, url)
	require.NoError(t, err)
	assert.Equal(t, url, got.ProofReference)

	require.NoError(t, f.svc.Delete(f.ctx, 12, tx.ID))
	assert.Equal(t, []string{url}, store.deleted)

	_, _, err = f.svc.UploadProof(f.ctx, 7, "receipt.png", "image/png", strings.NewReader("png"))
	assert.ErrorIs(t, err, ErrForbidden)
}

type memoryProofs struct {
	deleted []string
}

func (m *memoryProofs) Upload(_ context.Context, filename, _ string, _ io.Reader) (string, string, error) {
	key := "transactions/" + filename
	return "https://proofs.example/" + key, key, nil
}

func (m *memoryProofs) Delete(_ context.Context, url string) error {
	m.deleted = append(m.deleted, url)
	return errors.New("already gone")
}
