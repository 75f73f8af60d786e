package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playbell/apiserver/internal/notify"
	"github.com/playbell/apiserver/internal/store"
	"github.com/playbell/apiserver/logger"
	"github.com/playbell/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultResetTTL          = time.Hour
	defaultPasswordMinLength = 6
	tokenBytes               = 32
)

// AccountRepository defines persistence operations for accounts. Every
// method is one serialized read-modify-write on the accounts collection.
type AccountRepository interface {
	List(ctx context.Context) ([]types.Account, error)
	Find(ctx context.Context, match store.AccountMatcher) (types.Account, error)
	Create(ctx context.Context, account types.Account) (types.Account, error)
	Mutate(ctx context.Context, match store.AccountMatcher, fn func(*types.Account) error) (types.Account, error)
	Update(ctx context.Context, fn func([]types.Account) ([]types.Account, error)) error
	Delete(ctx context.Context, match store.AccountMatcher, guard func(types.Account) error) (types.Account, error)
}

// AccountOptions tunes hashing and password rules.
type AccountOptions struct {
	BcryptCost        int
	PasswordMinLength int
	ResetTTL          time.Duration
}

// AccountService owns the account lifecycle: registration, login, email
// verification, password resets and the administrative operations.
type AccountService struct {
	repo     AccountRepository
	notifier notify.Notifier

	bcryptCost  int
	minPassword int
	resetTTL    time.Duration

	now      func() time.Time
	newToken func() (string, error)
}

func NewAccountService(repo AccountRepository, notifier notify.Notifier, opts AccountOptions) *AccountService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.PasswordMinLength <= 0 {
		opts.PasswordMinLength = defaultPasswordMinLength
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = defaultResetTTL
	}
	return &AccountService{
		repo:        repo,
		notifier:    notifier,
		bcryptCost:  opts.BcryptCost,
		minPassword: opts.PasswordMinLength,
		resetTTL:    opts.ResetTTL,
		now:         time.Now,
		newToken:    randomToken,
	}
}

// Session is what a successful login yields. It never carries credentials.
type Session struct {
	ID       int        `json:"id"`
	Username string     `json:"username"`
	Role     types.Role `json:"role"`
}

type RegisterInput struct {
	Name     string
	Username string
	Email    string
	Phone    string
	Password string
}

// Register creates an unverified user account and queues the verification
// email and the admin notice.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (types.Account, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	if in.Username == "" {
		return types.Account{}, invalid("username", ErrRequired)
	}
	if in.Password == "" {
		return types.Account{}, invalid("password", ErrRequired)
	}
	if err := s.checkLength(in.Password); err != nil {
		return types.Account{}, err
	}

	hash, err := s.hash(in.Password)
	if err != nil {
		return types.Account{}, err
	}
	token, err := s.newToken()
	if err != nil {
		return types.Account{}, err
	}

	account, err := s.repo.Create(ctx, types.Account{
		Username:     in.Username,
		Name:         in.Name,
		Email:        in.Email,
		Phone:        in.Phone,
		PasswordHash: hash,
		Role:         types.RoleUser,
		EmailToken:   &token,
	})
	if err != nil {
		return types.Account{}, err
	}
	logger.Infof("account: registered %s (id %d)", account.Username, account.ID)

	if account.Email != "" {
		s.notifier.SendVerificationEmail(account, token)
	}
	s.notifier.NotifyNewAccount(account)
	return account, nil
}

// Login checks credentials first and admin verification second.
func (s *AccountService) Login(ctx context.Context, username, password string) (Session, error) {
	account, err := s.repo.Find(ctx, store.ByUsername(strings.TrimSpace(username)))
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, authFailure(ErrUnknownUser)
	}
	if err != nil {
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return Session{}, authFailure(ErrBadCredential)
	}
	if !account.Verified {
		return Session{}, authFailure(ErrNotVerified)
	}
	return Session{ID: account.ID, Username: account.Username, Role: account.Role}, nil
}

// VerifyEmail consumes an email token. A token works once.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) (types.Account, error) {
	account, err := s.repo.Mutate(ctx, store.ByEmailToken(token), func(a *types.Account) error {
		a.EmailVerified = true
		a.EmailToken = nil
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return types.Account{}, authFailure(ErrInvalidToken)
	}
	return account, err
}

// RequestPasswordReset issues a reset token when email belongs to an
// account. Unknown emails are not reported.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	token, err := s.newToken()
	if err != nil {
		return err
	}
	expires := s.now().Add(s.resetTTL)

	account, err := s.repo.Mutate(ctx, store.ByEmail(email), func(a *types.Account) error {
		a.ResetToken = &token
		a.ResetTokenExpires = &expires
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		logger.Debugf("account: reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	s.notifier.SendPasswordResetEmail(account, token)
	return nil
}

// ResetTokenValid reports whether token can still complete a reset.
func (s *AccountService) ResetTokenValid(ctx context.Context, token string) error {
	_, err := s.repo.Find(ctx, store.ByResetToken(token, s.now()))
	if errors.Is(err, store.ErrNotFound) {
		return authFailure(ErrInvalidOrExpired)
	}
	return err
}

// CompletePasswordReset sets a new password using a live reset token and
// clears the token.
func (s *AccountService) CompletePasswordReset(ctx context.Context, token, password, confirm string) error {
	if password != confirm {
		return invalid("confirmPassword", ErrPasswordMismatch)
	}
	if err := s.checkLength(password); err != nil {
		return err
	}
	hash, err := s.hash(password)
	if err != nil {
		return err
	}

	_, err = s.repo.Mutate(ctx, store.ByResetToken(token, s.now()), func(a *types.Account) error {
		a.PasswordHash = hash
		a.ClearResetToken()
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return authFailure(ErrInvalidOrExpired)
	}
	return err
}

// ChangePassword replaces the password of accountID after checking the old
// one. The check runs under the collection lock against the stored hash.
func (s *AccountService) ChangePassword(ctx context.Context, accountID int, oldPassword, newPassword string) error {
	if err := s.checkLength(newPassword); err != nil {
		return err
	}
	hash, err := s.hash(newPassword)
	if err != nil {
		return err
	}
	_, err = s.repo.Mutate(ctx, store.ByAccountID(accountID), func(a *types.Account) error {
		if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(oldPassword)) != nil {
			return authFailure(ErrBadOldPassword)
		}
		a.PasswordHash = hash
		return nil
	})
	return err
}

func (s *AccountService) SetVerified(ctx context.Context, username string, verified bool) (types.Account, error) {
	return s.repo.Mutate(ctx, store.ByUsername(username), func(a *types.Account) error {
		a.Verified = verified
		return nil
	})
}

// SetRole promotes or demotes an account between admin and superadmin. The
// last remaining superadmin cannot be demoted.
func (s *AccountService) SetRole(ctx context.Context, username string, role types.Role) (types.Account, error) {
	if role != types.RoleAdmin && role != types.RoleSuperadmin {
		return types.Account{}, invalid("role", ErrInvalidRole)
	}

	var updated types.Account
	err := s.repo.Update(ctx, func(accounts []types.Account) ([]types.Account, error) {
		target := -1
		superadmins := 0
		for i, a := range accounts {
			if a.Username == username {
				target = i
			}
			if a.Role == types.RoleSuperadmin {
				superadmins++
			}
		}
		if target < 0 {
			return nil, ErrNotFound
		}
		acct := &accounts[target]
		if acct.Role == types.RoleSuperadmin && role != types.RoleSuperadmin && superadmins <= 1 {
			return nil, ErrForbidden
		}
		acct.Role = role
		acct.UpdatedAt = s.now()
		updated = *acct
		return accounts, nil
	})
	if err != nil {
		return types.Account{}, err
	}
	logger.Infof("account: %s is now %s", updated.Username, updated.Role)
	return updated, nil
}

// ResetPasswordAdmin sets a password directly, bypassing the old-password
// check.
func (s *AccountService) ResetPasswordAdmin(ctx context.Context, username, password string) (types.Account, error) {
	if err := s.checkLength(password); err != nil {
		return types.Account{}, err
	}
	hash, err := s.hash(password)
	if err != nil {
		return types.Account{}, err
	}
	return s.repo.Mutate(ctx, store.ByUsername(username), func(a *types.Account) error {
		a.PasswordHash = hash
		a.ClearResetToken()
		return nil
	})
}

// DeleteAccount removes a non-superadmin account.
func (s *AccountService) DeleteAccount(ctx context.Context, username string) (types.Account, error) {
	removed, err := s.repo.Delete(ctx, store.ByUsername(username), func(a types.Account) error {
		if a.Role == types.RoleSuperadmin {
			return ErrForbidden
		}
		return nil
	})
	if err != nil {
		return types.Account{}, err
	}
	logger.Infof("account: deleted %s (id %d)", removed.Username, removed.ID)
	return removed, nil
}

func (s *AccountService) List(ctx context.Context) ([]types.Account, error) {
	return s.repo.List(ctx)
}

// ListPending returns accounts awaiting admin verification.
func (s *AccountService) ListPending(ctx context.Context) ([]types.Account, error) {
	return s.filter(ctx, func(a types.Account) bool { return !a.Verified })
}

func (s *AccountService) ListVerified(ctx context.Context) ([]types.Account, error) {
	return s.filter(ctx, func(a types.Account) bool { return a.Verified })
}

func (s *AccountService) Get(ctx context.Context, id int) (types.Account, error) {
	return s.repo.Find(ctx, store.ByAccountID(id))
}

func (s *AccountService) GetByUsername(ctx context.Context, username string) (types.Account, error) {
	return s.repo.Find(ctx, store.ByUsername(username))
}

// EnsureSuperadmin creates a verified superadmin when none exists. It
// reports whether an account was created.
func (s *AccountService) EnsureSuperadmin(ctx context.Context, username, password string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, invalid("username", ErrRequired)
	}
	if err := s.checkLength(password); err != nil {
		return false, err
	}
	hash, err := s.hash(password)
	if err != nil {
		return false, err
	}

	created := false
	err = s.repo.Update(ctx, func(accounts []types.Account) ([]types.Account, error) {
		for _, a := range accounts {
			if a.Role == types.RoleSuperadmin {
				return accounts, nil
			}
		}
		id := 0
		for _, a := range accounts {
			if a.Username == username {
				return nil, fmt.Errorf("seed superadmin %s: %w", username, ErrDuplicate)
			}
			id = max(id, a.ID)
		}
		now := s.now()
		created = true
		return append(accounts, types.Account{
			ID:            id + 1,
			Username:      username,
			Name:          "Super Admin",
			PasswordHash:  hash,
			Role:          types.RoleSuperadmin,
			Verified:      true,
			EmailVerified: true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}), nil
	})
	if err != nil {
		return false, err
	}
	if created {
		logger.Infof("account: seeded superadmin %s", username)
	}
	return created, nil
}

// ResetSuperadminPassword resets the password of the first superadmin.
func (s *AccountService) ResetSuperadminPassword(ctx context.Context, password string) (types.Account, error) {
	if err := s.checkLength(password); err != nil {
		return types.Account{}, err
	}
	hash, err := s.hash(password)
	if err != nil {
		return types.Account{}, err
	}
	isSuperadmin := func(a types.Account) bool { return a.Role == types.RoleSuperadmin }
	return s.repo.Mutate(ctx, isSuperadmin, func(a *types.Account) error {
		a.PasswordHash = hash
		a.ClearResetToken()
		return nil
	})
}

func (s *AccountService) filter(ctx context.Context, keep func(types.Account) bool) ([]types.Account, error) {
	accounts, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Account, 0, len(accounts))
	for _, a := range accounts {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// maxPasswordBytes is the most bcrypt will hash.
const maxPasswordBytes = 72

func (s *AccountService) checkLength(password string) error {
	if len([]rune(password)) < s.minPassword {
		return invalid("password", ErrPasswordTooShort)
	}
	if len(password) > maxPasswordBytes {
		return invalid("password", ErrPasswordTooLong)
	}
	return nil
}

// hash must be called before a collection lock is taken.
func (s *AccountService) hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

func randomToken() (string, error) {
	var buf [tokenBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
