// Package store holds per-chat credential state: linked X accounts keyed by chat id
// and pending authorizations keyed by OAuth request token. Two implementations exist:
// an in-memory store with an optional single-file snapshot, and a Postgres-backed
// store selected when DB_DSN is configured.
package store

import (
	"context"
	"time"
)

// LinkedAccount is the long-lived credential pair plus external identity for one chat.
// Values are replaced whole; re-authorization overwrites, logout removes.
type LinkedAccount struct {
	UserID       string
	Username     string
	AccessToken  string
	AccessSecret string
}

// PendingAuthorization is an in-flight handshake: the temporary request token pair
// issued by the request-token leg, waiting for the user's verifier to come back on
// the callback. It is consumed exactly once.
type PendingAuthorization struct {
	RequestToken  string
	RequestSecret string
	CreatedAt     time.Time
}

// Store is safe for concurrent callers. No operation may observe a partially written
// LinkedAccount; implementations replace values atomically.
type Store interface {
	// GetLinked returns the linked account for a chat, reporting whether one exists.
	GetLinked(ctx context.Context, chatID string) (LinkedAccount, bool, error)
	// PutLinked stores or overwrites the linked account for a chat.
	PutLinked(ctx context.Context, chatID string, acct LinkedAccount) error
	// RemoveLinked deletes the linked account for a chat. Removing an absent chat is not an error.
	RemoveLinked(ctx context.Context, chatID string) error
	// CountLinked returns the number of chats with a linked account.
	CountLinked(ctx context.Context) (int, error)
	// PutPending records an in-flight handshake under its request token.
	PutPending(ctx context.Context, p PendingAuthorization) error
	// TakePending removes and returns the pending authorization for a request token.
	// A second call for the same token reports absent; entries past their TTL are
	// treated as absent so stale callbacks cannot complete.
	TakePending(ctx context.Context, requestToken string) (PendingAuthorization, bool, error)
}
