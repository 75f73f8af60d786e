package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/playbell/apiserver/internal/policy"
	"github.com/playbell/apiserver/internal/services"
	"github.com/playbell/apiserver/logger"
	"github.com/playbell/apiserver/types"
)

const loginPath = "/login"

// AccountLookup resolves the account behind a session.
type AccountLookup interface {
	Get(ctx context.Context, id int) (types.Account, error)
}

// Authenticate attaches the request's principal to the context. The role
// is read from the store on every request so changes apply immediately.
// Requests without a valid session continue anonymously.
func Authenticate(sessions *Sessions, accounts AccountLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := sessions.AccountID(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			account, err := accounts.Get(r.Context(), id)
			if err != nil {
				if !errors.Is(err, services.ErrNotFound) {
					logger.Warningf("http: load session account %d: %v", id, err)
				}
				next.ServeHTTP(w, r)
				return
			}
			p := &policy.Principal{ID: account.ID, Username: account.Username, Role: account.Role}
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
		})
	}
}

// Require gates a route on action. Anonymous callers are redirected to the
// login page; callers with the wrong role get a terse 403.
func Require(action policy.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := policy.Authorize(principalFromContext(r.Context()), action); err != nil {
				writeServiceError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
