package store

import (
	"context"
	"time"

	"github.com/playbell/apiserver/types"
)

// AccountMatcher selects an account within the collection.
type AccountMatcher func(types.Account) bool

func ByAccountID(id int) AccountMatcher {
	return func(a types.Account) bool { return a.ID == id }
}

func ByUsername(username string) AccountMatcher {
	return func(a types.Account) bool { return a.Username == username }
}

func ByEmail(email string) AccountMatcher {
	return func(a types.Account) bool { return email != "" && a.Email == email }
}

func ByEmailToken(token string) AccountMatcher {
	return func(a types.Account) bool {
		return token != "" && a.EmailToken != nil && *a.EmailToken == token
	}
}

// ByResetToken matches only a reset token that has not expired at now.
func ByResetToken(token string, now time.Time) AccountMatcher {
	return func(a types.Account) bool { return a.ResetTokenValid(token, now) }
}

// AccountRepository handles persistence for accounts.
type AccountRepository struct {
	accounts *Collection[types.Account]
	now      func() time.Time
}

func NewAccountRepository(s *Store) *AccountRepository {
	return &AccountRepository{
		accounts: NewCollection[types.Account](s, AccountsCollection),
		now:      time.Now,
	}
}

func (r *AccountRepository) List(ctx context.Context) ([]types.Account, error) {
	return r.accounts.Load(ctx)
}

func (r *AccountRepository) Find(ctx context.Context, match AccountMatcher) (types.Account, error) {
	accounts, err := r.accounts.Load(ctx)
	if err != nil {
		return types.Account{}, err
	}
	if i := indexOf(accounts, match); i >= 0 {
		return accounts[i], nil
	}
	return types.Account{}, ErrNotFound
}

func (r *AccountRepository) GetByID(ctx context.Context, id int) (types.Account, error) {
	return r.Find(ctx, ByAccountID(id))
}

func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (types.Account, error) {
	return r.Find(ctx, ByUsername(username))
}

// Create assigns the next id and appends the account. It fails with
// ErrDuplicate when the username or non-empty email is taken.
func (r *AccountRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	err := r.accounts.Update(ctx, func(accounts []types.Account) ([]types.Account, error) {
		if indexOf(accounts, ByUsername(account.Username)) >= 0 {
			return nil, ErrDuplicate
		}
		if account.Email != "" && indexOf(accounts, ByEmail(account.Email)) >= 0 {
			return nil, ErrDuplicate
		}
		now := r.now()
		account.ID = nextID(accounts, func(a types.Account) int { return a.ID })
		account.CreatedAt = now
		account.UpdatedAt = now
		return append(accounts, account), nil
	})
	if err != nil {
		return types.Account{}, err
	}
	return account, nil
}

// Mutate applies fn to the first matching account and saves the collection.
// Nothing is written if no account matches or fn fails.
func (r *AccountRepository) Mutate(ctx context.Context, match AccountMatcher, fn func(*types.Account) error) (types.Account, error) {
	var updated types.Account
	err := r.accounts.Update(ctx, func(accounts []types.Account) ([]types.Account, error) {
		i := indexOf(accounts, match)
		if i < 0 {
			return nil, ErrNotFound
		}
		if err := fn(&accounts[i]); err != nil {
			return nil, err
		}
		accounts[i].UpdatedAt = r.now()
		updated = accounts[i]
		return accounts, nil
	})
	if err != nil {
		return types.Account{}, err
	}
	return updated, nil
}

// Update exposes the whole-collection read-modify-write for operations that
// need to inspect other accounts while mutating one.
func (r *AccountRepository) Update(ctx context.Context, fn func([]types.Account) ([]types.Account, error)) error {
	return r.accounts.Update(ctx, fn)
}

// Delete removes the first matching account after guard approves it.
func (r *AccountRepository) Delete(ctx context.Context, match AccountMatcher, guard func(types.Account) error) (types.Account, error) {
	var removed types.Account
	err := r.accounts.Update(ctx, func(accounts []types.Account) ([]types.Account, error) {
		i := indexOf(accounts, match)
		if i < 0 {
			return nil, ErrNotFound
		}
		if guard != nil {
			if err := guard(accounts[i]); err != nil {
				return nil, err
			}
		}
		removed = accounts[i]
		return append(accounts[:i], accounts[i+1:]...), nil
	})
	if err != nil {
		return types.Account{}, err
	}
	return removed, nil
}

func indexOf[T any](records []T, match func(T) bool) int {
	for i, record := range records {
		if match(record) {
			return i
		}
	}
	return -1
}

// nextID returns max(existing)+1 so ids are never reused while a higher id
// exists.
func nextID[T any](records []T, id func(T) int) int {
	max := 0
	for _, record := range records {
		if v := id(record); v > max {
			max = v
		}
	}
	return max + 1
}
