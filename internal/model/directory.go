package model

import "time"

// The tables below belong to the user-administration side of the
// application; this service only reads them.

type User struct {
	ID        uint64 `gorm:"primaryKey"`
	Username  string `gorm:"size:64;uniqueIndex"`
	Firstname string `gorm:"size:128"`
	Lastname  string `gorm:"size:128"`
	IsActive  bool   `gorm:"column:isactive;not null;default:true"`
}

func (User) TableName() string { return "users" }

type Role struct {
	ID   uint64 `gorm:"primaryKey"`
	Role string `gorm:"size:32;uniqueIndex;not null"`
}

func (Role) TableName() string { return "roles" }

type RoleAttribution struct {
	ID      uint64 `gorm:"primaryKey"`
	UsersID uint64 `gorm:"not null;uniqueIndex:uq_role_attr"`
	RolesID uint64 `gorm:"not null;uniqueIndex:uq_role_attr"`
}

func (RoleAttribution) TableName() string { return "role_attribution" }

// FamilyAssignment delegates a member to a group admin.
type FamilyAssignment struct {
	ID            uint64 `gorm:"primaryKey"`
	AssignedID    uint64 `gorm:"column:users_assigned_id;not null;index"`
	ResponsibleID uint64 `gorm:"column:users_responsable_id;not null;index"`
}

func (FamilyAssignment) TableName() string { return "family_assignation" }

// Allowed payment method names and proof kinds.
var (
	PaymentMethodNames = []string{"Orange money", "Argent compte", "Virement bancaire"}
	ProofKinds         = []string{"TRANSACTIONNUMBER", "LINK", "BOTH"}
)

type PaymentMethod struct {
	ID          uint64    `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:64;uniqueIndex;not null" json:"name"`
	TypeOfProof string    `gorm:"size:32;not null;default:BOTH" json:"type_of_proof"`
	IsActive    bool      `gorm:"column:isactive;not null;default:true" json:"isactive"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentMethod) TableName() string { return "payment_methods" }

// Usable reports whether the method can back a new or edited transaction.
func (p PaymentMethod) Usable() bool {
	if !p.IsActive {
		return false
	}
	for _, n := range PaymentMethodNames {
		if n == p.Name {
			return true
		}
	}
	return false
}

type RevokedToken struct {
	ID        uint64    `gorm:"primaryKey"`
	JTI       string    `gorm:"column:jti;size:64;uniqueIndex;not null"`
	RevokedAt time.Time `gorm:"autoCreateTime"`
}

func (RevokedToken) TableName() string { return "revoked_tokens" }

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{}, &Role{}, &RoleAttribution{}, &FamilyAssignment{}, &PaymentMethod{},
		&Transaction{}, &Approval{}, &OutboxEvent{}, &RevokedToken{},
	}
}
