package services

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/playbell/apiserver/internal/store"
	"github.com/playbell/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

type recordingNotifier struct {
	mu       sync.Mutex
	verify   map[string]string
	reset    map[string]string
	accounts []string
	requests []string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{verify: map[string]string{}, reset: map[string]string{}}
}

func (n *recordingNotifier) SendVerificationEmail(a types.Account, token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verify[a.Username] = token
}

func (n *recordingNotifier) SendPasswordResetEmail(a types.Account, token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reset[a.Username] = token
}

func (n *recordingNotifier) NotifyNewAccount(a types.Account) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accounts = append(n.accounts, a.Username)
}

func (n *recordingNotifier) NotifySongRequest(r types.SongRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, r.Title)
}

type fixture struct {
	store    *store.Store
	accounts *AccountService
	notifier *recordingNotifier
	clock    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend, err := store.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("new file backend: %v", err)
	}
	s := store.New(backend)
	notifier := newRecordingNotifier()
	svc := NewAccountService(store.NewAccountRepository(s), notifier, AccountOptions{
		BcryptCost:        bcrypt.MinCost,
		PasswordMinLength: 6,
	})
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{store: s, accounts: svc, notifier: notifier, clock: &clock}
	svc.now = func() time.Time { return *f.clock }
	return f
}

// register creates an account and optionally marks it verified.
func (f *fixture) register(t *testing.T, username, email string, verified bool) types.Account {
	t.Helper()
	ctx := context.Background()
	acct, err := f.accounts.Register(ctx, RegisterInput{Username: username, Email: email, Password: "secret1"})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	if verified {
		acct, err = f.accounts.SetVerified(ctx, username, true)
		if err != nil {
			t.Fatalf("verify %s: %v", username, err)
		}
	}
	return acct
}

// id3 is the start of an MP3 file, enough for content sniffing.
func id3() *bytes.Reader {
	return bytes.NewReader(append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), make([]byte, 64)...))
}
