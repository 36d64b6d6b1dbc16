package approval

import (
	"fmt"
	"strings"
)

// TransactionType selects the approver pool and the quorum rule.
type TransactionType string

const (
	TypeContribution TransactionType = "CONTRIBUTION"
	TypeDonations    TransactionType = "DONATIONS"
	TypeExpense      TransactionType = "EXPENSE"
)

// ParseType normalises s and rejects unknown transaction types.
func ParseType(s string) (TransactionType, error) {
	v := TransactionType(strings.ToUpper(strings.TrimSpace(s)))
	switch v {
	case TypeContribution, TypeDonations, TypeExpense:
		return v, nil
	}
	return "", fmt.Errorf("transaction_type must be CONTRIBUTION, DONATIONS or EXPENSE, got %q", s)
}

// Income is true for the member-facing money-in types.
func (t TransactionType) Income() bool {
	return t == TypeContribution || t == TypeDonations
}
