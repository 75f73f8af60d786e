package policy

import (
	"errors"
	"testing"

	"github.com/playbell/apiserver/types"
)

func TestAuthorize(t *testing.T) {
	user := &Principal{ID: 1, Username: "u", Role: types.RoleUser}
	admin := &Principal{ID: 2, Username: "a", Role: types.RoleAdmin}
	super := &Principal{ID: 3, Username: "s", Role: types.RoleSuperadmin}

	cases := []struct {
		p      *Principal
		action Action
		want   error
	}{
		{nil, ActionLogin, nil},
		{nil, ActionResetPassword, nil},
		{nil, ActionBrowseCatalog, ErrUnauthenticated},
		{nil, ActionManageAccounts, ErrUnauthenticated},
		{user, ActionBrowseCatalog, nil},
		{user, ActionSubmitRequest, nil},
		{user, ActionManageCatalog, ErrForbidden},
		{admin, ActionSubmitRequest, ErrForbidden},
		{admin, ActionManageCatalog, nil},
		{admin, ActionManageRequests, nil},
		{admin, ActionManageAccounts, ErrForbidden},
		{super, ActionManageAccounts, nil},
		{super, ActionChangePassword, nil},
		{super, Action(99), ErrForbidden},
	}
	for _, tc := range cases {
		got := Authorize(tc.p, tc.action)
		if !errors.Is(got, tc.want) || (tc.want == nil && got != nil) {
			t.Fatalf("Authorize(%+v, %s) = %v, want %v", tc.p, tc.action, got, tc.want)
		}
	}
}

func TestUnauthenticatedAndForbiddenAreDistinct(t *testing.T) {
	if errors.Is(ErrUnauthenticated, ErrForbidden) || errors.Is(ErrForbidden, ErrUnauthenticated) {
		t.Fatalf("unauthenticated and forbidden must not match each other")
	}
}

func TestVisibleSongs(t *testing.T) {
	songs := []types.Song{{ID: 1}, {ID: 2, Muted: true}, {ID: 3}}

	got := VisibleSongs(&Principal{Role: types.RoleUser}, songs)
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
		t.Fatalf("user should see unmuted songs only, got %+v", got)
	}
	for _, role := range []types.Role{types.RoleAdmin, types.RoleSuperadmin} {
		if got := VisibleSongs(&Principal{Role: role}, songs); len(got) != 3 {
			t.Fatalf("%s should see all songs, got %d", role, len(got))
		}
	}
}
