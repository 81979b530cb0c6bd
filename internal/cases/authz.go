package cases

type edge struct {
	from Status
	to   Status
}

// anyStatus matches every source status in adminOnly.
const anyStatus Status = "*"

// adminOnly lists the transitions reserved for admins. Every other legal
// transition is open to moderators.
var adminOnly = map[Kind][]edge{
	KindFraudAlert: {
		{from: anyStatus, to: StatusResolved},
	},
	KindDispute: {
		{from: StatusInvestigating, to: StatusEscalated},
		{from: StatusEscalated, to: StatusResolved},
	},
	KindListing: {
		{from: anyStatus, to: StatusRemoved},
	},
}

// RequiredRole returns the minimum role needed to move a case of kind k
// from one status to another.
func RequiredRole(k Kind, from, to Status) Role {
	for _, e := range adminOnly[k] {
		if (e.from == anyStatus || e.from == from) && e.to == to {
			return RoleAdmin
		}
	}
	return RoleModerator
}

// Allows reports whether role r satisfies required.
func (r Role) Allows(required Role) bool {
	switch r {
	case RoleAdmin:
		return required == RoleAdmin || required == RoleModerator
	case RoleModerator:
		return required == RoleModerator
	default:
		return false
	}
}

// Valid reports whether r is a known staff role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleModerator
}

func canPerform(actor Actor, k Kind, from, to Status) bool {
	return actor.Role.Allows(RequiredRole(k, from, to))
}
