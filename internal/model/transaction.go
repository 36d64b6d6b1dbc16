package model

import (
	"time"

	"github.com/richardliu001/treasury-service/internal/approval"
	"github.com/shopspring/decimal"
)

type Transaction struct {
	ID               uint64                   `gorm:"primaryKey" json:"id"`
	Amount           decimal.Decimal          `gorm:"type:numeric(20,2);not null" json:"amount"`
	Status           approval.Status          `gorm:"size:32;not null;default:SAVED;index" json:"status"`
	TransactionType  approval.TransactionType `gorm:"size:32;not null" json:"transaction_type"`
	ProofReference   string                   `gorm:"size:512;not null" json:"proof_reference"`
	UsersID          uint64                   `gorm:"not null;index" json:"users_id"`
	RecordedByID     uint64                   `gorm:"not null;index" json:"recorded_by_id"`
	PaymentMethodsID uint64                   `gorm:"not null" json:"payment_methods_id"`
	IsSubmitted      bool                     `gorm:"column:issubmitted;not null;default:false" json:"issubmitted"`
	CreatedAt        time.Time                `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
	ValidatedAt      *time.Time               `json:"validated_at"`
	UpdatedBy        uint64                   `json:"updated_by"`
	Approvals        []Approval               `gorm:"foreignKey:TransactionsID" json:"approvals"`
}

func (Transaction) TableName() string { return "transactions" }

// Approval is one approver's vote. (TransactionsID, UsersID) is unique.
type Approval struct {
	ID             uint64        `gorm:"primaryKey" json:"id"`
	TransactionsID uint64        `gorm:"not null;uniqueIndex:uq_approval_tx_user" json:"transactions_id"`
	UsersID        uint64        `gorm:"not null;uniqueIndex:uq_approval_tx_user" json:"users_id"`
	RoleAtApproval approval.Role `gorm:"size:32;not null" json:"role_at_approval"`
	ApprovedAt     time.Time     `gorm:"not null" json:"approved_at"`
	Note           *string       `gorm:"size:512" json:"note"`
}

func (Approval) TableName() string { return "transaction_approvals" }
