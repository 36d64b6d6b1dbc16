package approval

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusSaved             Status = "SAVED"
	StatusPending           Status = "PENDING"
	StatusPartiallyApproved Status = "PARTIALLY_APPROVED"
	StatusValidated         Status = "VALIDATED"
	StatusRejected          Status = "REJECTED"
)

var allStatuses = []Status{
	StatusSaved, StatusPending, StatusPartiallyApproved, StatusValidated, StatusRejected,
}

// workflow holds the edges reachable through the normal API surface.
// Administrative overrides do not consult it.
var workflow = map[Status][]Status{
	StatusSaved:             {StatusPending},
	StatusPending:           {StatusPartiallyApproved, StatusValidated},
	StatusPartiallyApproved: {StatusPartiallyApproved, StatusValidated},
}

// ParseStatus normalises s and rejects values outside the closed set.
func ParseStatus(s string) (Status, error) {
	v := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range allStatuses {
		if st == v {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// CanTransition reports whether from -> to is a workflow edge.
func CanTransition(from, to Status) bool {
	for _, next := range workflow[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Approvable reports whether approvals are still accepted.
func (s Status) Approvable() bool {
	return s == StatusPending || s == StatusPartiallyApproved
}

// Deletable reports whether a transaction in s may be removed.
func (s Status) Deletable() bool {
	return s == StatusSaved || s == StatusPending
}
