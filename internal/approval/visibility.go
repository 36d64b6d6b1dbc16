package approval

// VisibilityKind is the read-access tier of an actor.
type VisibilityKind int

const (
	VisibleAll VisibilityKind = iota
	VisibleScoped
	VisibleSelf
)

// Visibility is the read predicate evaluated once per request.
type Visibility struct {
	Kind    VisibilityKind
	ActorID uint64
	members map[uint64]struct{}
}

// TierFor returns the read tier for roles.
func TierFor(roles RoleSet) VisibilityKind {
	switch {
	case roles.HasAny(RoleAdmin, RoleTreasury):
		return VisibleAll
	case roles.Has(RoleAdminGroup):
		return VisibleScoped
	default:
		return VisibleSelf
	}
}

// NewVisibility builds the predicate. scoped is only consulted for VisibleScoped.
func NewVisibility(actor uint64, roles RoleSet, scoped []uint64) Visibility {
	v := Visibility{Kind: TierFor(roles), ActorID: actor}
	if v.Kind == VisibleScoped {
		v.members = make(map[uint64]struct{}, len(scoped))
		for _, id := range scoped {
			v.members[id] = struct{}{}
		}
	}
	return v
}

// Allows reports whether a transaction recorded for owner is visible.
func (v Visibility) Allows(owner uint64) bool {
	switch v.Kind {
	case VisibleAll:
		return true
	case VisibleScoped:
		if owner == v.ActorID {
			return true
		}
		_, ok := v.members[owner]
		return ok
	}
	return owner == v.ActorID
}

// OwnerIDs lists the owners a restricted actor may read; nil means unrestricted.
func (v Visibility) OwnerIDs() []uint64 {
	if v.Kind == VisibleAll {
		return nil
	}
	ids := []uint64{v.ActorID}
	for id := range v.members {
		if id != v.ActorID {
			ids = append(ids, id)
		}
	}
	return ids
}
