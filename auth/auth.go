// Package auth implements the three-legged OAuth1 handshake against the X API:
// begin hands the user an authorize URL and parks the request token as pending,
// complete exchanges the callback's verifier for the permanent token pair and
// resolves the account identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/onnwee/tweet-tender/store"
	"github.com/onnwee/tweet-tender/xapi"
)

// ErrUnknownToken means a callback arrived for a request token with no pending
// authorization: replayed, expired, or forged. Callers reply with a generic failure.
var ErrUnknownToken = errors.New("unknown or already used request token")

// Engine drives the handshake. It records pending state in the store but never
// writes linked accounts; the caller owns that insert so it can notify the chat.
type Engine struct {
	store           store.Store
	x               *xapi.Client
	callbackBaseURL string
}

// NewEngine wires the handshake engine. callbackBaseURL is the externally
// reachable base (no trailing slash) under which /callback is served.
func NewEngine(s store.Store, x *xapi.Client, callbackBaseURL string) *Engine {
	return &Engine{store: s, x: x, callbackBaseURL: callbackBaseURL}
}

// CallbackURL builds the per-chat callback the remote service redirects to.
func (e *Engine) CallbackURL(chatID string) string {
	v := url.Values{}
	v.Set("chat_id", chatID)
	return e.callbackBaseURL + "/callback?" + v.Encode()
}

// BeginAuthorization starts a handshake for a chat and returns the URL the user
// must visit. The request token is stored as pending until the verifier arrives.
// Starting again before completing simply parks another pending token; the one the
// user actually approves wins.
func (e *Engine) BeginAuthorization(ctx context.Context, chatID string) (string, error) {
	res, err := e.x.RequestToken(ctx, e.CallbackURL(chatID))
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	pending := store.PendingAuthorization{
		RequestToken:  res.Token,
		RequestSecret: res.Secret,
		CreatedAt:     time.Now(),
	}
	if err := e.store.PutPending(ctx, pending); err != nil {
		return "", fmt.Errorf("store pending authorization: %w", err)
	}
	slog.Info("authorization started", slog.String("chat_id", chatID))
	return e.x.AuthorizeURL(res.Token), nil
}

// CompleteAuthorization consumes the pending entry for requestToken and exchanges
// the verifier for the permanent token pair, then resolves the account's id and
// username with that pair. Returns ErrUnknownToken when no pending entry matches,
// which covers replayed and expired callbacks. The caller inserts the result into
// the store under its chat id.
func (e *Engine) CompleteAuthorization(ctx context.Context, requestToken, verifier string) (store.LinkedAccount, error) {
	pending, ok, err := e.store.TakePending(ctx, requestToken)
	if err != nil {
		return store.LinkedAccount{}, fmt.Errorf("take pending authorization: %w", err)
	}
	if !ok {
		return store.LinkedAccount{}, ErrUnknownToken
	}

	tok, err := e.x.AccessToken(ctx, pending.RequestToken, pending.RequestSecret, verifier)
	if err != nil {
		return store.LinkedAccount{}, fmt.Errorf("access token exchange: %w", err)
	}

	// The access-token body carries user_id/screen_name on some services, but the
	// v2 users/me lookup is authoritative for the identity we store.
	me, err := e.x.WithToken(tok.Token, tok.Secret).Me(ctx)
	if err != nil {
		return store.LinkedAccount{}, fmt.Errorf("resolve account identity: %w", err)
	}
	acct := store.LinkedAccount{
		UserID:       me.ID,
		Username:     me.Username,
		AccessToken:  tok.Token,
		AccessSecret: tok.Secret,
	}
	slog.Info("authorization completed", slog.String("username", acct.Username))
	return acct, nil
}
