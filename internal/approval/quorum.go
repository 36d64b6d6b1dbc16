package approval

// QuorumKind describes how the validation threshold is derived.
type QuorumKind int

const (
	// QuorumNone has no numeric threshold; approvals never validate on their own.
	QuorumNone QuorumKind = iota
	// QuorumFixed requires Count distinct approvals.
	QuorumFixed
	// QuorumAllHolders requires one approval per current holder of Pool.
	QuorumAllHolders
)

// Rule is the eligibility and quorum entry for one transaction type.
type Rule struct {
	// Approvers is in priority order: the first held role is recorded on the approval.
	Approvers []Role
	Kind      QuorumKind
	Count     int
	Pool      Role
}

// ContributionQuorum is the number of distinct approvals validating money-in.
const ContributionQuorum = 2

var rules = map[TransactionType]Rule{
	TypeExpense: {
		Approvers: []Role{RoleBoard, RoleAdmin},
		Kind:      QuorumAllHolders,
		Pool:      RoleBoard,
	},
	TypeContribution: {
		Approvers: []Role{RoleTreasury, RoleAdmin},
		Kind:      QuorumFixed,
		Count:     ContributionQuorum,
	},
	TypeDonations: {
		Approvers: []Role{RoleTreasury, RoleAdmin},
		Kind:      QuorumFixed,
		Count:     ContributionQuorum,
	},
}

var fallbackRule = Rule{Approvers: []Role{RoleAdmin}, Kind: QuorumNone}

// RuleFor returns the rule for t. Types without an entry may only be
// approved by admin and have no quorum.
func RuleFor(t TransactionType) Rule {
	if r, ok := rules[t]; ok {
		return r
	}
	return fallbackRule
}

// ApproverRole picks the role recorded for an approval by an actor holding roles.
func (r Rule) ApproverRole(roles RoleSet) (Role, bool) {
	for _, candidate := range r.Approvers {
		if roles.Has(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// NeedsPool reports whether Threshold requires a live holder count.
func (r Rule) NeedsPool() bool { return r.Kind == QuorumAllHolders }

// Threshold returns the number of approvals required given the current pool size.
// ok is false when no threshold can be reached.
func (r Rule) Threshold(poolSize int) (n int, ok bool) {
	switch r.Kind {
	case QuorumFixed:
		return r.Count, r.Count > 0
	case QuorumAllHolders:
		return poolSize, poolSize > 0
	}
	return 0, false
}

// Outcome is the status a transaction takes after an approval brings its
// distinct approver count to count.
func (r Rule) Outcome(count, poolSize int) Status {
	if n, ok := r.Threshold(poolSize); ok && count >= n {
		return StatusValidated
	}
	return StatusPartiallyApproved
}
