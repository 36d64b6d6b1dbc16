package approval

import "strings"

// Role is one of the role names known to the approval workflow.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleTreasury   Role = "treasury"
	RoleBoard      Role = "board"
	RoleAdminGroup Role = "admingroup"
	RoleMember     Role = "member"
)

// RoleSet is a closed bit set of the roles an actor holds.
type RoleSet uint8

var roleBits = map[Role]RoleSet{
	RoleAdmin:      1 << 0,
	RoleTreasury:   1 << 1,
	RoleBoard:      1 << 2,
	RoleAdminGroup: 1 << 3,
	RoleMember:     1 << 4,
}

var roleOrder = []Role{RoleAdmin, RoleTreasury, RoleBoard, RoleAdminGroup, RoleMember}

// NewRoleSet builds a set from raw role names. Matching is case-insensitive
// and names outside the workflow's vocabulary are ignored.
func NewRoleSet(names ...string) RoleSet {
	var s RoleSet
	for _, n := range names {
		s |= roleBits[Role(strings.ToLower(strings.TrimSpace(n)))]
	}
	return s
}

// RolesOf is NewRoleSet for typed roles.
func RolesOf(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s |= roleBits[r]
	}
	return s
}

// Has reports whether r is held.
func (s RoleSet) Has(r Role) bool {
	bit, ok := roleBits[r]
	return ok && s&bit != 0
}

// HasAny reports whether at least one of rs is held.
func (s RoleSet) HasAny(rs ...Role) bool {
	for _, r := range rs {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Roles lists the held roles in a stable order.
func (s RoleSet) Roles() []Role {
	out := make([]Role, 0, len(roleOrder))
	for _, r := range roleOrder {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}
