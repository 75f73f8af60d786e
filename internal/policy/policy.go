// Package policy decides which principal may perform which action.
package policy

import (
	"errors"

	"github.com/playbell/apiserver/types"
)

var (
	// ErrUnauthenticated means the action needs a signed-in principal.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden means the principal's role does not permit the action.
	ErrForbidden = errors.New("forbidden")
)

// Principal is the signed-in actor. A nil *Principal is anonymous.
type Principal struct {
	ID       int
	Username string
	Role     types.Role
}

type Action int

const (
	ActionLogin Action = iota
	ActionRegister
	ActionVerifyEmail
	ActionResetPassword

	ActionViewProfile
	ActionChangePassword
	ActionBrowseCatalog

	ActionSubmitRequest

	ActionManageCatalog
	ActionManageRequests

	ActionManageAccounts
)

var actionNames = map[Action]string{
	ActionLogin:          "login",
	ActionRegister:       "register",
	ActionVerifyEmail:    "verify-email",
	ActionResetPassword:  "reset-password",
	ActionViewProfile:    "view-profile",
	ActionChangePassword: "change-password",
	ActionBrowseCatalog:  "browse-catalog",
	ActionSubmitRequest:  "submit-request",
	ActionManageCatalog:  "manage-catalog",
	ActionManageRequests: "manage-requests",
	ActionManageAccounts: "manage-accounts",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

var (
	anyRole    = roleSet(types.RoleUser, types.RoleAdmin, types.RoleSuperadmin)
	staffRoles = roleSet(types.RoleAdmin, types.RoleSuperadmin)
)

// allowed maps each action to the roles that may perform it. A nil set
// means the action is open to anonymous callers.
var allowed = map[Action]map[types.Role]bool{
	ActionLogin:         nil,
	ActionRegister:      nil,
	ActionVerifyEmail:   nil,
	ActionResetPassword: nil,

	ActionViewProfile:    anyRole,
	ActionChangePassword: anyRole,
	ActionBrowseCatalog:  anyRole,

	ActionSubmitRequest: roleSet(types.RoleUser),

	ActionManageCatalog:  staffRoles,
	ActionManageRequests: staffRoles,

	ActionManageAccounts: roleSet(types.RoleSuperadmin),
}

func roleSet(roles ...types.Role) map[types.Role]bool {
	set := make(map[types.Role]bool, len(roles))
	for _, r := range roles {
		set[r] = true
	}
	return set
}

// Authorize returns nil when p may perform action, ErrUnauthenticated when
// a principal is required but p is nil, and ErrForbidden otherwise.
func Authorize(p *Principal, action Action) error {
	roles, known := allowed[action]
	if !known {
		return ErrForbidden
	}
	if roles == nil {
		return nil
	}
	if p == nil {
		return ErrUnauthenticated
	}
	if !roles[p.Role] {
		return ErrForbidden
	}
	return nil
}

// VisibleSongs filters songs down to what p may see. Users only see
// unmuted songs; staff see everything.
func VisibleSongs(p *Principal, songs []types.Song) []types.Song {
	if p != nil && staffRoles[p.Role] {
		return songs
	}
	visible := make([]types.Song, 0, len(songs))
	for _, s := range songs {
		if !s.Muted {
			visible = append(visible, s)
		}
	}
	return visible
}
