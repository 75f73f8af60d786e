package services

import (
	"errors"
	"fmt"

	"github.com/playbell/apiserver/internal/policy"
	"github.com/playbell/apiserver/internal/store"
)

// Store and policy sentinels are shared so callers can match on one value.
var (
	ErrNotFound  = store.ErrNotFound
	ErrDuplicate = store.ErrDuplicate
	ErrForbidden = policy.ErrForbidden
)

// ErrValidation matches every *ValidationError.
var ErrValidation = errors.New("validation failed")

var (
	ErrRequired         = errors.New("is required")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrPasswordTooShort = errors.New("password is too short")
	ErrPasswordTooLong  = errors.New("password is longer than 72 bytes")
	ErrMissingAsset     = errors.New("an audio file is required")
	ErrInvalidRole      = errors.New("role must be admin or superadmin")
)

// ValidationError reports bad input on one field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
func (e *ValidationError) Unwrap() error        { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// ErrAuth matches every *AuthError.
var ErrAuth = errors.New("authentication failed")

// Reasons carried by AuthError.
var (
	ErrUnknownUser      = errors.New("user not found")
	ErrBadCredential    = errors.New("invalid password")
	ErrNotVerified      = errors.New("account is not verified yet")
	ErrInvalidToken     = errors.New("invalid or used token")
	ErrInvalidOrExpired = errors.New("reset link is invalid or expired")
	ErrBadOldPassword   = errors.New("old password is incorrect")
)

// AuthError is a credential or token failure. Reason is one of the
// sentinels above.
type AuthError struct {
	Reason error
}

func (e *AuthError) Error() string        { return e.Reason.Error() }
func (e *AuthError) Is(target error) bool { return target == ErrAuth }
func (e *AuthError) Unwrap() error        { return e.Reason }
func authFailure(reason error) error      { return &AuthError{Reason: reason} }

// AssetReleaseError is returned alongside a successful record deletion when
// the stored binary could not be removed.
type AssetReleaseError struct {
	Ref string
	Err error
}

func (e *AssetReleaseError) Error() string {
	return fmt.Sprintf("release asset %s: %v", e.Ref, e.Err)
}

func (e *AssetReleaseError) Unwrap() error { return e.Err }
