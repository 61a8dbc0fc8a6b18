package auth

import "github.com/tbourn/go-users-backend/internal/domain"

// Actions checked by the HTTP layer.
const (
	ActionCreateUser = "create-user"
	ActionViewUsers  = "view-users"
)

// Wildcard grants every action.
const Wildcard = "*"

// Gate answers whether an actor may perform an action. Implementations must be
// pure: no I/O and no side effects.
type Gate interface {
	Check(actor *domain.Actor, action string) bool
}

// PermissionGate grants an action when the actor holds it as a permission,
// or holds Wildcard.
type PermissionGate struct{}

// NewPermissionGate returns the default Gate.
func NewPermissionGate() PermissionGate { return PermissionGate{} }

func (PermissionGate) Check(actor *domain.Actor, action string) bool {
	if actor == nil || action == "" {
		return false
	}
	return actor.Has(action) || actor.Has(Wildcard)
}

// GateFunc adapts a function to Gate.
type GateFunc func(actor *domain.Actor, action string) bool

func (f GateFunc) Check(actor *domain.Actor, action string) bool { return f(actor, action) }
