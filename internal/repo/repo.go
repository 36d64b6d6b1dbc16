package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/treasury-service/internal/approval"
	"github.com/richardliu001/treasury-service/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ListFilter narrows ListTransactions. Nil fields are not applied.
type ListFilter struct {
	Status           *approval.Status
	Type             *approval.TransactionType
	UsersID          *uint64
	RecordedByID     *uint64
	PaymentMethodsID *uint64
	From             *time.Time
	To               *time.Time
	// OwnerIDs restricts users_id; nil means unrestricted.
	OwnerIDs []uint64
}

// RepositoryInterface restricts Repo methods so services can be tested against fakes.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	GetTransaction(ctx context.Context, tx *gorm.DB, id uint64) (*model.Transaction, error)
	GetTransactionForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.Transaction, error)
	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	UpdateTransaction(ctx context.Context, tx *gorm.DB, id uint64, fields map[string]interface{}) error
	DeleteTransaction(ctx context.Context, tx *gorm.DB, id uint64) error
	ListTransactions(ctx context.Context, f ListFilter) ([]model.Transaction, error)

	ApprovalExists(ctx context.Context, tx *gorm.DB, txID, userID uint64) (bool, error)
	CreateApproval(ctx context.Context, tx *gorm.DB, a *model.Approval) error
	CountApprovers(ctx context.Context, tx *gorm.DB, txID uint64) (int, error)
	ListApprovals(ctx context.Context, txID uint64) ([]model.Approval, error)

	GetUsers(ctx context.Context, ids []uint64) ([]model.User, error)
	UserExists(ctx context.Context, id uint64) (bool, error)
	GetPaymentMethod(ctx context.Context, id uint64) (*model.PaymentMethod, error)
	RoleNames(ctx context.Context, userID uint64) ([]string, error)
	RoleHolders(ctx context.Context, tx *gorm.DB, role approval.Role) ([]uint64, error)
	CountRoleHolders(ctx context.Context, tx *gorm.DB, role approval.Role) (int, error)
	Assignments(ctx context.Context, responsibleID uint64) ([]model.FamilyAssignment, error)

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo. rdb and w may be nil in processes that do
// not need them.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// GetTransaction reads a row without locking.
func (r *Repository) GetTransaction(ctx context.Context, tx *gorm.DB, id uint64) (*model.Transaction, error) {
	var t model.Transaction
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTransactionForUpdate locks the transaction row until tx ends. Every
// approval on the same transaction serialises behind this lock.
func (r *Repository) GetTransactionForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.Transaction, error) {
	var t model.Transaction
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTransaction inserts record.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	return tx.WithContext(ctx).Omit("Approvals").Create(t).Error
}

// UpdateTransaction writes the given columns.
func (r *Repository) UpdateTransaction(ctx context.Context, tx *gorm.DB, id uint64, fields map[string]interface{}) error {
	res := tx.WithContext(ctx).Model(&model.Transaction{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteTransaction removes dependent approvals, then the transaction.
func (r *Repository) DeleteTransaction(ctx context.Context, tx *gorm.DB, id uint64) error {
	db := tx.WithContext(ctx)
	if err := db.Where("transactions_id = ?", id).Delete(&model.Approval{}).Error; err != nil {
		return err
	}
	res := db.Where("id = ?", id).Delete(&model.Transaction{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListTransactions returns matching rows newest first with approvals attached.
func (r *Repository) ListTransactions(ctx context.Context, f ListFilter) ([]model.Transaction, error) {
	q := r.db.WithContext(ctx).Model(&model.Transaction{})
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}
	if f.Type != nil {
		q = q.Where("transaction_type = ?", *f.Type)
	}
	if f.UsersID != nil {
		q = q.Where("users_id = ?", *f.UsersID)
	}
	if f.RecordedByID != nil {
		q = q.Where("recorded_by_id = ?", *f.RecordedByID)
	}
	if f.PaymentMethodsID != nil {
		q = q.Where("payment_methods_id = ?", *f.PaymentMethodsID)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}
	if f.OwnerIDs != nil {
		q = q.Where("users_id IN ?", f.OwnerIDs)
	}
	var txs []model.Transaction
	err := q.Preload("Approvals", func(db *gorm.DB) *gorm.DB {
		return db.Order("approved_at asc")
	}).Order("created_at desc").Order("id desc").Find(&txs).Error
	return txs, err
}

// ApprovalExists checks the (transaction, approver) pair.
func (r *Repository) ApprovalExists(ctx context.Context, tx *gorm.DB, txID, userID uint64) (bool, error) {
	var n int64
	err := tx.WithContext(ctx).Model(&model.Approval{}).
		Where("transactions_id = ? AND users_id = ?", txID, userID).Count(&n).Error
	return n > 0, err
}

// CreateApproval inserts an approval; the unique index rejects duplicates.
func (r *Repository) CreateApproval(ctx context.Context, tx *gorm.DB, a *model.Approval) error {
	return tx.WithContext(ctx).Create(a).Error
}

// CountApprovers counts distinct approvers of a transaction.
func (r *Repository) CountApprovers(ctx context.Context, tx *gorm.DB, txID uint64) (int, error) {
	var n int64
	err := tx.WithContext(ctx).Model(&model.Approval{}).
		Where("transactions_id = ?", txID).
		Distinct("users_id").Count(&n).Error
	return int(n), err
}

// ListApprovals returns approvals newest first.
func (r *Repository) ListApprovals(ctx context.Context, txID uint64) ([]model.Approval, error) {
	var out []model.Approval
	err := r.db.WithContext(ctx).Where("transactions_id = ?", txID).
		Order("approved_at desc").Order("id desc").Find(&out).Error
	return out, err
}

// GetUsers loads users by id; unknown ids are skipped.
func (r *Repository) GetUsers(ctx context.Context, ids []uint64) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []model.User
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	return users, err
}

// UserExists reports whether a user row exists.
func (r *Repository) UserExists(ctx context.Context, id uint64) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

// GetPaymentMethod reads one payment method.
func (r *Repository) GetPaymentMethod(ctx context.Context, id uint64) (*model.PaymentMethod, error) {
	var pm model.PaymentMethod
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&pm).Error; err != nil {
		return nil, err
	}
	return &pm, nil
}

// RoleNames returns the lower-cased role names held by userID.
func (r *Repository) RoleNames(ctx context.Context, userID uint64) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).Table("role_attribution AS ra").
		Joins("JOIN roles r ON r.id = ra.roles_id").
		Where("ra.users_id = ?", userID).
		Pluck("r.role", &names).Error
	if err != nil {
		return nil, err
	}
	for i := range names {
		names[i] = strings.ToLower(names[i])
	}
	return names, nil
}

func (r *Repository) holders(ctx context.Context, tx *gorm.DB, role approval.Role) *gorm.DB {
	return tx.WithContext(ctx).Table("role_attribution AS ra").
		Joins("JOIN roles r ON r.id = ra.roles_id").
		Where("LOWER(r.role) = ?", string(role))
}

// RoleHolders lists the distinct users holding role.
func (r *Repository) RoleHolders(ctx context.Context, tx *gorm.DB, role approval.Role) ([]uint64, error) {
	var ids []uint64
	err := r.holders(ctx, tx, role).Distinct().Pluck("ra.users_id", &ids).Error
	return ids, err
}

// CountRoleHolders is the live size of a role's membership.
func (r *Repository) CountRoleHolders(ctx context.Context, tx *gorm.DB, role approval.Role) (int, error) {
	var n int64
	err := r.holders(ctx, tx, role).Distinct("ra.users_id").Count(&n).Error
	return int(n), err
}

// Assignments returns the edges owned by a group admin.
func (r *Repository) Assignments(ctx context.Context, responsibleID uint64) ([]model.FamilyAssignment, error) {
	var out []model.FamilyAssignment
	err := r.db.WithContext(ctx).Where("users_responsable_id = ?", responsibleID).Find(&out).Error
	return out, err
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = ?", false).Order("created_at").Order("id").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka keyed by event type so one kind stays ordered.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	if r.writer == nil {
		return errors.New("kafka writer not configured")
	}
	msg := kafka.Message{
		Key:   []byte(evt.EventType),
		Value: []byte(evt.Payload),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(fmt.Sprintf("%d", evt.ID))},
			{Key: "aggregate", Value: []byte(evt.Aggregate)},
		},
		Time: time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

func revokedKey(jti string) string { return "revoked:" + jti }

// RevokeToken persists the jti and mirrors it in Redis for ttl.
func (r *Repository) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.RevokedToken{JTI: jti}).Error
	if err != nil {
		return err
	}
	if r.rdb != nil {
		if err := r.rdb.Set(ctx, revokedKey(jti), "1", ttl).Err(); err != nil {
			r.log.Warnf("cache revoked jti=%s: %v", jti, err)
		}
	}
	return nil
}

// IsTokenRevoked checks Redis first and falls back to the database.
func (r *Repository) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	if r.rdb != nil {
		n, err := r.rdb.Exists(ctx, revokedKey(jti)).Result()
		if err == nil && n > 0 {
			return true, nil
		}
		if err != nil {
			r.log.Warnf("redis revocation lookup jti=%s: %v", jti, err)
		}
	}
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.RevokedToken{}).Where("jti = ?", jti).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
