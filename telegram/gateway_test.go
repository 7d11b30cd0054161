package telegram

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/onnwee/tweet-tender/auth"
	"github.com/onnwee/tweet-tender/dispatch"
	"github.com/onnwee/tweet-tender/store"
	"github.com/onnwee/tweet-tender/telemetry"
	"github.com/onnwee/tweet-tender/testutil"
	"github.com/onnwee/tweet-tender/xapi"
)

func newTestGateway(t *testing.T, botHandlers map[string]http.HandlerFunc) (*Gateway, *testutil.MockXServer, store.Store) {
	t.Helper()
	telemetry.Init()
	xsrv := testutil.NewMockXServer(t)
	x := &xapi.Client{
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		AuthBaseURL:    xsrv.URL,
		APIBaseURL:     xsrv.URL,
		UploadBaseURL:  xsrv.URL,
	}
	s := store.NewMemoryStore()
	d := dispatch.NewDispatcher(s, x, auth.NewEngine(s, x, "https://bot.example.com"))
	bot := newBotServer(t, botHandlers)
	return NewGateway(NewAPI(nil, bot.URL, "token"), d, 0), xsrv, s
}

func TestHandleMessageDispatchesAndReplies(t *testing.T) {
	var sent []string
	handlers := map[string]http.HandlerFunc{
		"sendMessage": func(w http.ResponseWriter, r *http.Request) {
			sent = append(sent, r.URL.Query().Get("text"))
			_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
		},
	}
	g, xsrv, s := newTestGateway(t, handlers)
	if err := s.PutLinked(context.Background(), "100", store.LinkedAccount{
		UserID: "12345", Username: "exampleuser", AccessToken: "at", AccessSecret: "as",
	}); err != nil {
		t.Fatal(err)
	}
	xsrv.MockCreateTweet("111")

	g.handleMessage(context.Background(), &Message{
		MessageID: 1,
		Chat:      &Chat{ID: 100},
		Text:      "/tweet hello",
	})

	if len(sent) != 1 || sent[0] != "Tweet sent: https://x.com/exampleuser/status/111" {
		t.Errorf("sent = %v", sent)
	}
}

func TestHandleMessageUnauthenticated(t *testing.T) {
	var sent []string
	handlers := map[string]http.HandlerFunc{
		"sendMessage": func(w http.ResponseWriter, r *http.Request) {
			sent = append(sent, r.URL.Query().Get("text"))
			_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
		},
	}
	g, _, _ := newTestGateway(t, handlers)

	g.handleMessage(context.Background(), &Message{
		MessageID: 1,
		Chat:      &Chat{ID: 200},
		Text:      "/like https://x.com/u/status/42",
	})

	if len(sent) != 1 || sent[0] != "Please /authenticate first" {
		t.Errorf("sent = %v", sent)
	}
}

func TestHandleMessageIgnoresPlainText(t *testing.T) {
	handlers := map[string]http.HandlerFunc{
		"sendMessage": func(w http.ResponseWriter, r *http.Request) {
			t.Error("no reply expected for plain text")
		},
	}
	g, _, _ := newTestGateway(t, handlers)
	g.handleMessage(context.Background(), &Message{
		MessageID: 1,
		Chat:      &Chat{ID: 100},
		Text:      "just chatting",
	})
}

func TestHandleMessagePhotoCaption(t *testing.T) {
	var sent []string
	handlers := map[string]http.HandlerFunc{
		"sendMessage": func(w http.ResponseWriter, r *http.Request) {
			sent = append(sent, r.URL.Query().Get("text"))
			_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
		},
		"getFile": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"ok":true,"result":{"file_id":"big","file_path":"photos/p.jpg"}}`))
		},
		"/file/bottoken/photos/p.jpg": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte{1, 2, 3})
		},
	}
	g, xsrv, s := newTestGateway(t, handlers)
	if err := s.PutLinked(context.Background(), "100", store.LinkedAccount{
		UserID: "12345", Username: "exampleuser", AccessToken: "at", AccessSecret: "as",
	}); err != nil {
		t.Fatal(err)
	}
	xsrv.MockMediaUpload("777")
	var tweetBody string
	xsrv.Handlers["/2/tweets"] = func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		tweetBody = string(b)
		_, _ = w.Write([]byte(`{"data":{"id":"333"}}`))
	}

	g.handleMessage(context.Background(), &Message{
		MessageID: 1,
		Chat:      &Chat{ID: 100},
		Caption:   "/tweet with pic",
		Photo: []PhotoSize{
			{FileID: "small", Width: 90},
			{FileID: "big", Width: 1280},
		},
	})

	if len(sent) != 1 || !strings.HasPrefix(sent[0], "Tweet sent: ") {
		t.Errorf("sent = %v", sent)
	}
	if !strings.Contains(tweetBody, `"media_ids":["777"]`) {
		t.Errorf("tweet payload = %s", tweetBody)
	}
}
