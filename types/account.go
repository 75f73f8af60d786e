package types

import "time"

// Role is the authorization level of an account.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperadmin:
		return true
	}
	return false
}

// Account represents a registered identity in PlayBell.
// It contains credentials, role, and the verification/reset token state.
type Account struct {
	// ID is the unique identifier of the account. It is assigned as
	// max(existing)+1.
	ID int `json:"id"`

	// Username is the unique, case-sensitive login name.
	Username string `json:"username"`

	// Name is the optional display name.
	Name string `json:"name,omitempty"`

	// Email is the optional contact address, unique among accounts
	// that have one.
	Email string `json:"email,omitempty"`

	// Phone is the optional contact number.
	Phone string `json:"phone,omitempty"`

	// PasswordHash stores the bcrypt hash of the password.
	// It is persisted but never exposed in API responses.
	PasswordHash string `json:"passwordHash"`

	// Role indicates the authorization level of the account.
	Role Role `json:"role"`

	// Verified is the administrative approval gate. Login fails until it is set.
	Verified bool `json:"verified"`

	// EmailVerified is set once the emailed verification link is followed.
	EmailVerified bool `json:"emailVerified"`

	// EmailToken is the single-use email verification token.
	EmailToken *string `json:"emailToken"`

	// ResetToken and ResetTokenExpires are always set and cleared together.
	ResetToken        *string    `json:"resetToken"`
	ResetTokenExpires *time.Time `json:"resetTokenExpires"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ResetTokenValid reports whether token matches a non-expired reset token.
func (a Account) ResetTokenValid(token string, now time.Time) bool {
	if a.ResetToken == nil || a.ResetTokenExpires == nil || token == "" {
		return false
	}
	return *a.ResetToken == token && now.Before(*a.ResetTokenExpires)
}

// ClearResetToken drops the reset token and its expiry.
func (a *Account) ClearResetToken() {
	a.ResetToken = nil
	a.ResetTokenExpires = nil
}

// AccountView is the public projection of an Account.
type AccountView struct {
	ID            int       `json:"id"`
	Username      string    `json:"username"`
	Name          string    `json:"name,omitempty"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Role          Role      `json:"role"`
	Verified      bool      `json:"verified"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

// View strips credentials and tokens from the account.
func (a Account) View() AccountView {
	return AccountView{
		ID:            a.ID,
		Username:      a.Username,
		Name:          a.Name,
		Email:         a.Email,
		Phone:         a.Phone,
		Role:          a.Role,
		Verified:      a.Verified,
		EmailVerified: a.EmailVerified,
		CreatedAt:     a.CreatedAt,
	}
}
