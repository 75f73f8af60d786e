// Package notify delivers the side effects of account and catalog
// operations: verification and reset emails, and admin chat messages.
// Delivery is asynchronous and failures never reach the caller.
package notify

import (
	"fmt"

	"github.com/playbell/apiserver/types"
)

// Notifier is the fire-and-forget sink used by the services. Implementations
// must return immediately.
type Notifier interface {
	SendVerificationEmail(acct types.Account, token string)
	SendPasswordResetEmail(acct types.Account, token string)
	NotifyNewAccount(acct types.Account)
	NotifySongRequest(req types.SongRequest)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) SendVerificationEmail(types.Account, string)  {}
func (Nop) SendPasswordResetEmail(types.Account, string) {}
func (Nop) NotifyNewAccount(types.Account)               {}
func (Nop) NotifySongRequest(types.SongRequest)          {}

// Kind identifies a notification event on the queue.
type Kind string

const (
	KindVerificationEmail  Kind = "verification_email"
	KindPasswordResetEmail Kind = "password_reset_email"
	KindNewAccount         Kind = "new_account"
	KindSongRequest        Kind = "song_request"
)

// Event is the queued form of a notification. Account never carries
// credentials; Token is only set for email events.
type Event struct {
	Kind    Kind               `json:"kind"`
	Account *types.AccountView `json:"account,omitempty"`
	Token   string             `json:"token,omitempty"`
	Request *types.SongRequest `json:"request,omitempty"`
}

// SideEffectError is a failed publish or delivery. It is logged and never
// reaches the operation that triggered the notification.
type SideEffectError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *SideEffectError) Unwrap() error { return e.Err }
