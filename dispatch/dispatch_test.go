package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/onnwee/tweet-tender/auth"
	"github.com/onnwee/tweet-tender/store"
	"github.com/onnwee/tweet-tender/telemetry"
	"github.com/onnwee/tweet-tender/testutil"
	"github.com/onnwee/tweet-tender/xapi"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *testutil.MockXServer, store.Store) {
	t.Helper()
	telemetry.Init()
	srv := testutil.NewMockXServer(t)
	x := &xapi.Client{
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		AuthBaseURL:    srv.URL,
		APIBaseURL:     srv.URL,
		UploadBaseURL:  srv.URL,
	}
	s := store.NewMemoryStore()
	engine := auth.NewEngine(s, x, "https://bot.example.com")
	return NewDispatcher(s, x, engine), srv, s
}

func linkAccount(t *testing.T, s store.Store, chatID string) store.LinkedAccount {
	t.Helper()
	acct := store.LinkedAccount{
		UserID:       "12345",
		Username:     "exampleuser",
		AccessToken:  "at",
		AccessSecret: "as",
	}
	if err := s.PutLinked(context.Background(), chatID, acct); err != nil {
		t.Fatalf("PutLinked: %v", err)
	}
	return acct
}

func TestHelp(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	reply, err := d.Dispatch(context.Background(), "100", Command{Kind: KindHelp})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	for _, cmd := range []string{"/tweet", "/like", "/retweet", "/reply", "/quote", "/authenticate", "/logout", "/account"} {
		if !strings.Contains(reply, cmd) {
			t.Errorf("help text missing %s", cmd)
		}
	}
}

func TestAuthenticateStartsHandshake(t *testing.T) {
	d, srv, s := newTestDispatcher(t)
	srv.MockRequestToken("req-token", "req-secret", true)

	reply, err := d.Dispatch(context.Background(), "100", Command{Kind: KindAuthenticate})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.HasPrefix(reply, "Please visit: ") || !strings.Contains(reply, "oauth_token=req-token") {
		t.Errorf("reply = %q", reply)
	}
	if _, ok, _ := s.TakePending(context.Background(), "req-token"); !ok {
		t.Error("pending authorization not stored")
	}
}

func TestAuthenticateAlreadyLinked(t *testing.T) {
	d, srv, s := newTestDispatcher(t)
	linkAccount(t, s, "100")
	srv.MockRequestToken("req-token", "req-secret", true)

	reply, err := d.Dispatch(context.Background(), "100", Command{Kind: KindAuthenticate})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	want := "You are already authenticated as: https://x.com/exampleuser"
	if reply != want {
		t.Errorf("reply = %q, want %q", reply, want)
	}
}

func TestAuthenticateUpstreamFailure(t *testing.T) {
	d, srv, _ := newTestDispatcher(t)
	srv.MockError("/oauth/request_token", http.StatusServiceUnavailable, "down")

	_, err := d.Dispatch(context.Background(), "100", Command{Kind: KindAuthenticate})
	if !errors.Is(err, xapi.ErrUpstreamRejected) {
		t.Errorf("got %v, want ErrUpstreamRejected", err)
	}
}

func TestLogout(t *testing.T) {
	d, _, s := newTestDispatcher(t)
	linkAccount(t, s, "100")

	reply, err := d.Dispatch(context.Background(), "100", Command{Kind: KindLogout})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reply != "Successfully logged out" {
		t.Errorf("reply = %q", reply)
	}
	if _, ok, _ := s.GetLinked(context.Background(), "100"); ok {
		t.Error("account still linked after logout")
	}
}

func TestAccount(t *testing.T) {
	d, _, s := newTestDispatcher(t)

	reply, err := d.Dispatch(context.Background(), "100", Command{Kind: KindAccount})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(reply, "No X account") {
		t.Errorf("unlinked reply = %q", reply)
	}

	linkAccount(t, s, "100")
	reply, err = d.Dispatch(context.Background(), "100", Command{Kind: KindAccount})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reply != "You are authenticated as: https://x.com/exampleuser" {
		t.Errorf("linked reply = %q", reply)
	}
}

func TestTweet(t *testing.T) {
	d, srv, s := newTestDispatcher(t)
	linkAccount(t, s, "100")
	srv.MockCreateTweet("111")

	reply, err := d.Dispatch(context.Background(), "100", Command{Kind: KindTweet, Text: "hello"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reply != "Tweet sent: https://x.com/exampleuser/status/111" {
		t.Errorf("reply = %q", reply)
	}
}

func TestActionsRequireAuthentication(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"tweet", Command{Kind: KindTweet, Text: "hello"}},
		{"like", Command{Kind: KindLike, TweetURL: "https://x.com/u/status/42"}},
		{"retweet", Command{Kind: KindRetweet, TweetURL: "https://x.com/u/status/42"}},
		{"reply", Command{Kind: KindReply, TweetURL: "https://x.com/u/status/42", Text: "hi"}},
		{"quote", Command{Kind: KindQuote, TweetURL: "https://x.com/u/status/42", Text: "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, srv, _ := newTestDispatcher(t)
			calls := 0
			srv.Handlers["/2/tweets"] = func(w http.ResponseWriter, r *http.Request) { calls++ }
			srv.Handlers["/2/users/12345/likes"] = func(w http.ResponseWriter, r *http.Request) { calls++ }
			srv.Handlers["/2/users/12345/retweets"] = func(w http.ResponseWriter, r *http.Request) { calls++ }

			_, err := d.Dispatch(context.Background(), "200", tt.cmd)
			if !errors.Is(err, ErrNotAuthenticated) {
				t.Errorf("got %v, want ErrNotAuthenticated", err)
			}
			if calls != 0 {
				t.Errorf("made %d outbound calls for an unauthenticated chat", calls)
			}
		})
	}
}

func TestLikeAndRetweet(t *testing.T) {
	d, srv, s := newTestDispatcher(t)
	linkAccount(t, s, "100")
	srv.MockUserAction("12345", "likes")
	srv.MockUserAction("12345", "retweets")

	reply, err := d.Dispatch(context.Background(), "100",
		Command{Kind: KindLike, TweetURL: "https://x.com/someone/status/42"})
	if err != nil {
		t.Fatalf("like: %v", err)
	}
	if reply != "Tweet liked" {
		t.Errorf("like reply = %q", reply)
	}

	reply, err = d.Dispatch(context.Background(), "100",
		Command{Kind: KindRetweet, TweetURL: "https://x.com/someone/status/42"})
	if err != nil {
		t.Fatalf("retweet: %v", err)
	}
	if reply != "Tweet retweeted" {
		t.Errorf("retweet reply = %q", reply)
	}
}

func TestReplyAndQuote(t *testing.T) {
	d, srv, s := newTestDispatcher(t)
	linkAccount(t, s, "100")
	srv.MockCreateTweet("222")

	reply, err := d.Dispatch(context.Background(), "100",
		Command{Kind: KindReply, TweetURL: "https://x.com/someone/status/42", Text: "nice"})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply != "Reply sent: https://x.com/exampleuser/status/222" {
		t.Errorf("reply reply = %q", reply)
	}

	reply, err = d.Dispatch(context.Background(), "100",
		Command{Kind: KindQuote, TweetURL: "https://x.com/someone/status/42", Text: "look"})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if reply != "Quote tweet sent: https://x.com/exampleuser/status/222" {
		t.Errorf("quote reply = %q", reply)
	}
}

func TestMalformedCommands(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"empty tweet", Command{Kind: KindTweet}},
		{"reply without url", Command{Kind: KindReply, Text: "hi"}},
		{"quote without url", Command{Kind: KindQuote, Text: "hi"}},
		{"reply without text", Command{Kind: KindReply, TweetURL: "https://x.com/u/status/42"}},
		{"like without url", Command{Kind: KindLike}},
		{"retweet without url", Command{Kind: KindRetweet}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, s := newTestDispatcher(t)
			linkAccount(t, s, "100")
			_, err := d.Dispatch(context.Background(), "100", tt.cmd)
			if !errors.Is(err, ErrMalformedCommand) {
				t.Errorf("got %v, want ErrMalformedCommand", err)
			}
			if msg := UserMessage(err); !strings.Contains(msg, "Usage:") {
				t.Errorf("user message = %q, want usage line", msg)
			}
		})
	}
}

func TestTweetWithMedia(t *testing.T) {
	d, srv, s := newTestDispatcher(t)
	linkAccount(t, s, "100")
	srv.MockMediaUpload("777")

	var gotBody []byte
	srv.Handlers["/2/tweets"] = func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"data":{"id":"333"}}`))
	}

	reply, err := d.Dispatch(context.Background(), "100",
		Command{Kind: KindTweet, Text: "pic", Media: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if reply != "Tweet sent: https://x.com/exampleuser/status/333" {
		t.Errorf("reply = %q", reply)
	}
	if !strings.Contains(string(gotBody), `"media_ids":["777"]`) {
		t.Errorf("tweet payload = %s, want media_ids 777", gotBody)
	}
}

func TestMediaUploadFailureAbortsTweet(t *testing.T) {
	d, srv, s := newTestDispatcher(t)
	linkAccount(t, s, "100")
	srv.MockError("/1.1/media/upload.json", http.StatusBadRequest, "unsupported")
	tweets := 0
	srv.Handlers["/2/tweets"] = func(w http.ResponseWriter, r *http.Request) { tweets++ }

	_, err := d.Dispatch(context.Background(), "100",
		Command{Kind: KindTweet, Text: "pic", Media: []byte{1}})
	if !errors.Is(err, xapi.ErrMediaUploadFailed) {
		t.Errorf("got %v, want ErrMediaUploadFailed", err)
	}
	if tweets != 0 {
		t.Errorf("tweet was created despite media failure")
	}
}

func TestTweetRef(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://x.com/someone/status/42", "42"},
		{"https://twitter.com/someone/status/42?s=20", "42?s=20"},
		{"42", "42"},
		{"https://x.com/someone/status/", ""},
	}
	for _, tt := range tests {
		if got := TweetRef(tt.in); got != tt.want {
			t.Errorf("TweetRef(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrNotAuthenticated, "Please /authenticate first"},
		{xapi.ErrMediaUploadFailed, "Failed to upload the attached media"},
		{xapi.ErrUpstreamRejected, "Something went wrong, please try again"},
		{xapi.ErrProtocolViolation, "Something went wrong, please try again"},
		{errors.New("boom"), "Something went wrong, please try again"},
	}
	for _, tt := range tests {
		if got := UserMessage(tt.err); got != tt.want {
			t.Errorf("UserMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

// Full handshake-then-tweet flow for a single chat.
func TestAuthorizeThenTweetFlow(t *testing.T) {
	d, srv, s := newTestDispatcher(t)
	srv.MockRequestToken("req-token", "req-secret", true)
	srv.MockAccessToken("access-token", "access-secret", "12345", "exampleuser")
	srv.MockMe("12345", "exampleuser")
	srv.MockCreateTweet("999")

	reply, err := d.Dispatch(context.Background(), "100", Command{Kind: KindAuthenticate})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !strings.Contains(reply, "oauth_token=req-token") {
		t.Fatalf("authorize reply = %q", reply)
	}

	// The webhook receiver later delivers the verifier for that token.
	engine := auth.NewEngine(s, &xapi.Client{
		ConsumerKey: "ck", ConsumerSecret: "cs",
		AuthBaseURL: srv.URL, APIBaseURL: srv.URL,
	}, "https://bot.example.com")
	acct, err := engine.CompleteAuthorization(context.Background(), "req-token", "verifier")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := s.PutLinked(context.Background(), "100", acct); err != nil {
		t.Fatalf("PutLinked: %v", err)
	}

	reply, err = d.Dispatch(context.Background(), "100", Command{Kind: KindTweet, Text: "hello"})
	if err != nil {
		t.Fatalf("tweet: %v", err)
	}
	if !strings.Contains(reply, "999") {
		t.Errorf("tweet reply = %q, want it to contain the new tweet id", reply)
	}
}

func dispatchDurationCount(t *testing.T) uint64 {
	t.Helper()
	m, ok := telemetry.DispatchDuration.(prometheus.Metric)
	if !ok {
		t.Fatal("dispatch duration histogram not initialized")
	}
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		t.Fatalf("read histogram: %v", err)
	}
	return pb.GetHistogram().GetSampleCount()
}

func linkedAccountsGauge(t *testing.T) float64 {
	t.Helper()
	var pb dto.Metric
	if err := telemetry.LinkedAccountsGauge.Write(&pb); err != nil {
		t.Fatalf("read gauge: %v", err)
	}
	return pb.GetGauge().GetValue()
}

func TestDispatchRecordsDuration(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	before := dispatchDurationCount(t)

	if _, err := d.Dispatch(context.Background(), "100", Command{Kind: KindHelp}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if after := dispatchDurationCount(t); after != before+1 {
		t.Errorf("duration sample count = %d after dispatch, want %d", after, before+1)
	}
}

func TestLogoutUpdatesLinkedAccountsGauge(t *testing.T) {
	d, _, s := newTestDispatcher(t)
	linkAccount(t, s, "100")
	linkAccount(t, s, "200")

	if _, err := d.Dispatch(context.Background(), "100", Command{Kind: KindLogout}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := linkedAccountsGauge(t); got != 1 {
		t.Errorf("linked accounts gauge = %v after logout, want 1", got)
	}
}
