// Package dispatch routes parsed chat commands: it resolves the chat's stored
// credentials, invokes the X API with them, and renders the reply the user sees.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/tweet-tender/auth"
	"github.com/onnwee/tweet-tender/store"
	"github.com/onnwee/tweet-tender/telemetry"
	"github.com/onnwee/tweet-tender/xapi"
)

var (
	// ErrNotAuthenticated means the chat has no linked account; the user is prompted
	// to authenticate. No outbound call is made.
	ErrNotAuthenticated = errors.New("chat has no linked account")
	// ErrMalformedCommand means the command's arguments are missing or unusable.
	ErrMalformedCommand = errors.New("malformed command")
)

// Dispatcher executes commands for chats. Store access is brief; all network calls
// happen outside any lock and honor the caller's context.
type Dispatcher struct {
	store  store.Store
	x      *xapi.Client
	engine *auth.Engine
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(s store.Store, x *xapi.Client, engine *auth.Engine) *Dispatcher {
	return &Dispatcher{store: s, x: x, engine: engine}
}

// Dispatch executes one command for a chat and returns the reply text. Errors are
// classified with the package sentinels; callers render them with UserMessage.
func (d *Dispatcher) Dispatch(ctx context.Context, chatID string, cmd Command) (reply string, err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "dispatch", "dispatch."+string(cmd.Kind))
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		telemetry.ObserveCommand(string(cmd.Kind), err)
		telemetry.ObserveDispatchDuration(time.Since(start))
	}()

	switch cmd.Kind {
	case KindHelp:
		return HelpText, nil
	case KindAuthenticate:
		return d.authenticate(ctx, chatID)
	case KindLogout:
		return d.logout(ctx, chatID)
	case KindAccount:
		return d.account(ctx, chatID)
	case KindTweet, KindReply, KindQuote:
		return d.publish(ctx, chatID, cmd)
	case KindLike, KindRetweet:
		return d.engage(ctx, chatID, cmd)
	default:
		return "", fmt.Errorf("%w: unknown command %q", ErrMalformedCommand, cmd.Kind)
	}
}

func (d *Dispatcher) authenticate(ctx context.Context, chatID string) (string, error) {
	acct, ok, err := d.store.GetLinked(ctx, chatID)
	if err != nil {
		return "", fmt.Errorf("lookup linked account: %w", err)
	}
	if ok {
		return fmt.Sprintf("You are already authenticated as: https://x.com/%s", acct.Username), nil
	}
	telemetry.HandshakesStarted.Inc()
	authURL, err := d.engine.BeginAuthorization(ctx, chatID)
	if err != nil {
		telemetry.HandshakesFailed.Inc()
		return "", err
	}
	return fmt.Sprintf("Please visit: %s", authURL), nil
}

func (d *Dispatcher) logout(ctx context.Context, chatID string) (string, error) {
	if err := d.store.RemoveLinked(ctx, chatID); err != nil {
		return "", fmt.Errorf("remove linked account: %w", err)
	}
	if n, cerr := d.store.CountLinked(ctx); cerr == nil {
		telemetry.SetLinkedAccounts(n)
	}
	return "Successfully logged out", nil
}

func (d *Dispatcher) account(ctx context.Context, chatID string) (string, error) {
	acct, ok, err := d.store.GetLinked(ctx, chatID)
	if err != nil {
		return "", fmt.Errorf("lookup linked account: %w", err)
	}
	if !ok {
		return "No X account is currently linked to this chat.", nil
	}
	return fmt.Sprintf("You are authenticated as: https://x.com/%s", acct.Username), nil
}

// publish handles the tweet-producing commands: tweet, reply, quote.
func (d *Dispatcher) publish(ctx context.Context, chatID string, cmd Command) (string, error) {
	if strings.TrimSpace(cmd.Text) == "" {
		return "", fmt.Errorf("%w: %s", ErrMalformedCommand, usage(cmd.Kind))
	}
	if cmd.Kind != KindTweet && cmd.TweetURL == "" {
		return "", fmt.Errorf("%w: %s", ErrMalformedCommand, usage(cmd.Kind))
	}

	acct, err := d.linked(ctx, chatID)
	if err != nil {
		return "", err
	}
	client := d.x.WithToken(acct.AccessToken, acct.AccessSecret)

	tweet := xapi.Tweet{Text: cmd.Text}
	switch cmd.Kind {
	case KindReply:
		tweet.Reply = &xapi.TweetReply{InReplyToTweetID: TweetRef(cmd.TweetURL)}
	case KindQuote:
		tweet.QuoteTweetID = TweetRef(cmd.TweetURL)
	}
	if len(cmd.Media) > 0 {
		telemetry.MediaUploads.Inc()
		mediaID, err := client.UploadMedia(ctx, cmd.Media)
		if err != nil {
			telemetry.MediaUploadsFailed.Inc()
			return "", err
		}
		tweet.Media = &xapi.TweetMedia{MediaIDs: []string{mediaID}}
	}

	id, err := client.CreateTweet(ctx, tweet)
	if err != nil {
		if errors.Is(err, xapi.ErrUpstreamRejected) {
			telemetry.UpstreamErrors.Inc()
		}
		return "", err
	}
	statusURL := fmt.Sprintf("https://x.com/%s/status/%s", acct.Username, id)
	switch cmd.Kind {
	case KindReply:
		return fmt.Sprintf("Reply sent: %s", statusURL), nil
	case KindQuote:
		return fmt.Sprintf("Quote tweet sent: %s", statusURL), nil
	default:
		return fmt.Sprintf("Tweet sent: %s", statusURL), nil
	}
}

// engage handles like and retweet, which act on an existing tweet and produce no
// new identifier.
func (d *Dispatcher) engage(ctx context.Context, chatID string, cmd Command) (string, error) {
	if cmd.TweetURL == "" {
		return "", fmt.Errorf("%w: %s", ErrMalformedCommand, usage(cmd.Kind))
	}
	acct, err := d.linked(ctx, chatID)
	if err != nil {
		return "", err
	}
	client := d.x.WithToken(acct.AccessToken, acct.AccessSecret)
	tweetID := TweetRef(cmd.TweetURL)

	if cmd.Kind == KindLike {
		err = client.Like(ctx, acct.UserID, tweetID)
	} else {
		err = client.Retweet(ctx, acct.UserID, tweetID)
	}
	if err != nil {
		if errors.Is(err, xapi.ErrUpstreamRejected) {
			telemetry.UpstreamErrors.Inc()
		}
		return "", err
	}
	if cmd.Kind == KindLike {
		return "Tweet liked", nil
	}
	return "Tweet retweeted", nil
}

// linked resolves the chat's credentials, translating absence into ErrNotAuthenticated
// before any network call is attempted.
func (d *Dispatcher) linked(ctx context.Context, chatID string) (store.LinkedAccount, error) {
	acct, ok, err := d.store.GetLinked(ctx, chatID)
	if err != nil {
		return store.LinkedAccount{}, fmt.Errorf("lookup linked account: %w", err)
	}
	if !ok {
		return store.LinkedAccount{}, ErrNotAuthenticated
	}
	return acct, nil
}

// UserMessage renders a Dispatch error as the reply the user sees. Internal detail
// stays in the logs; the chat gets a short actionable line.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return "Please /authenticate first"
	case errors.Is(err, ErrMalformedCommand):
		if idx := strings.Index(err.Error(), "Usage:"); idx >= 0 {
			return err.Error()[idx:]
		}
		return "That command is malformed. Send /help for usage."
	case errors.Is(err, xapi.ErrMediaUploadFailed):
		return "Failed to upload the attached media"
	default:
		return "Something went wrong, please try again"
	}
}
