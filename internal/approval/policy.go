package approval

var creatorRoles = []Role{RoleMember, RoleAdmin, RoleAdminGroup, RoleTreasury, RoleBoard}

var elevatedRoles = []Role{RoleAdmin, RoleAdminGroup, RoleTreasury, RoleBoard}

// CanCreate reports whether roles allow recording transactions at all.
func CanCreate(roles RoleSet) bool { return roles.HasAny(creatorRoles...) }

// CanUseType reports whether roles may create or retype a transaction as t.
func CanUseType(roles RoleSet, t TransactionType) bool {
	if t == TypeExpense {
		return roles.HasAny(RoleBoard, RoleTreasury)
	}
	return true
}

// CanRecordFor reports whether actor may record a transaction for target.
// inScope is the assignment-scope answer for (actor, target).
func CanRecordFor(actor, target uint64, roles RoleSet, inScope bool) bool {
	if actor == target || roles.Has(RoleTreasury) {
		return true
	}
	return roles.Has(RoleAdminGroup) && inScope
}

// CanSubmit: the recorder or an admin.
func CanSubmit(actor, recorder uint64, roles RoleSet) bool {
	return actor == recorder || roles.Has(RoleAdmin)
}

// CanEdit reports whether actor may change the mutable fields of a
// transaction recorded by recorder and currently in status.
func CanEdit(actor, recorder uint64, status Status, roles RoleSet) bool {
	if actor != recorder {
		return false
	}
	if status == StatusSaved {
		return true
	}
	return status == StatusPending && roles.Has(RoleTreasury)
}

// CanSetStatus gates the administrative override.
func CanSetStatus(roles RoleSet) bool { return roles.Has(RoleTreasury) }

// Elevated is true for roles allowed to delete and manage proofs.
func Elevated(roles RoleSet) bool { return roles.HasAny(elevatedRoles...) }

// DeleteNeedsScope is true when an elevated actor is only a group admin and
// must be restricted to its assignment scope.
func DeleteNeedsScope(roles RoleSet) bool {
	return roles.Has(RoleAdminGroup) && !roles.HasAny(RoleAdmin, RoleTreasury, RoleBoard)
}

// AutoApproves reports whether submitting a t transaction records an
// approval for the submitter.
func AutoApproves(roles RoleSet, t TransactionType) bool {
	return roles.Has(RoleTreasury) && t.Income()
}
