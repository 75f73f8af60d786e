package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/playbell/apiserver/internal/policy"
	"github.com/playbell/apiserver/internal/services"
	"github.com/playbell/apiserver/types"
)

// AccountsHandler serves superadmin account management.
type AccountsHandler struct {
	accounts *services.AccountService
}

func NewAccountsHandler(accounts *services.AccountService) *AccountsHandler {
	return &AccountsHandler{accounts: accounts}
}

// AccountsRouter registers account management routes.
func AccountsRouter(r chi.Router, accounts *services.AccountService) {
	handler := NewAccountsHandler(accounts)

	r.Group(func(r chi.Router) {
		r.Use(Require(policy.ActionManageAccounts))
		r.Get("/accounts", handler.List)
		r.Post("/accounts/{username}/verify", handler.SetVerified)
		r.Post("/accounts/{username}/role", handler.SetRole)
		r.Post("/accounts/{username}/password", handler.ResetPassword)
		r.Delete("/accounts/{username}", handler.Delete)
	})
}

type SetVerifiedRequest struct {
	Verified bool `json:"verified"`
}

type SetRoleRequest struct {
	Role types.Role `json:"role"`
}

type AdminPasswordRequest struct {
	Password string `json:"password"`
}

// List returns accounts, optionally filtered with ?status=pending|verified.
func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		accounts []types.Account
		err      error
	)
	switch strings.ToLower(r.URL.Query().Get("status")) {
	case "":
		accounts, err = h.accounts.List(r.Context())
	case "pending":
		accounts, err = h.accounts.ListPending(r.Context())
	case "verified":
		accounts, err = h.accounts.ListVerified(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "status must be pending or verified")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountViews(accounts))
}

func (h *AccountsHandler) SetVerified(w http.ResponseWriter, r *http.Request) {
	var req SetVerifiedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := h.accounts.SetVerified(r.Context(), chi.URLParam(r, "username"), req.Verified)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account.View())
}

func (h *AccountsHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req SetRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := h.accounts.SetRole(r.Context(), chi.URLParam(r, "username"), req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account.View())
}

func (h *AccountsHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req AdminPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := h.accounts.ResetPasswordAdmin(r.Context(), chi.URLParam(r, "username"), req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account.View())
}

func (h *AccountsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.DeleteAccount(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account.View())
}

func accountViews(accounts []types.Account) []types.AccountView {
	views := make([]types.AccountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, a.View())
	}
	return views
}
