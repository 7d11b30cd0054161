// Package xapi contains the OAuth1 request signer and minimal helpers to interact
// with the X (Twitter) API: the three-legged token handshake, user lookup, tweet
// creation, likes, retweets, and media upload.
package xapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
)

const (
	defaultAuthBaseURL   = "https://api.twitter.com"
	defaultAPIBaseURL    = "https://api.twitter.com"
	defaultUploadBaseURL = "https://upload.twitter.com"
)

// Client holds the application's consumer pair and endpoint configuration. The base
// URLs default to the public endpoints and are overridable in tests.
type Client struct {
	ConsumerKey    string
	ConsumerSecret string
	HTTPClient     *http.Client

	AuthBaseURL   string
	APIBaseURL    string
	UploadBaseURL string
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) authBase() string {
	if c.AuthBaseURL != "" {
		return strings.TrimRight(c.AuthBaseURL, "/")
	}
	return defaultAuthBaseURL
}

func (c *Client) apiBase() string {
	if c.APIBaseURL != "" {
		return strings.TrimRight(c.APIBaseURL, "/")
	}
	return defaultAPIBaseURL
}

func (c *Client) uploadBase() string {
	if c.UploadBaseURL != "" {
		return strings.TrimRight(c.UploadBaseURL, "/")
	}
	return defaultUploadBaseURL
}

// WithToken binds a user token pair to the client, yielding a client whose requests
// are signed with the full four-part credential set.
func (c *Client) WithToken(token, secret string) *UserClient {
	return &UserClient{
		client: c,
		creds: Credentials{
			ConsumerKey:    c.ConsumerKey,
			ConsumerSecret: c.ConsumerSecret,
			Token:          token,
			TokenSecret:    secret,
		},
	}
}

// UserClient issues requests on behalf of one linked account.
type UserClient struct {
	client *Client
	creds  Credentials
}

// UserIdentity is the authenticated account's public identity.
type UserIdentity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// Tweet is the create-tweet payload. Exactly one of QuoteTweetID / Reply is set for
// quotes and replies; plain tweets set neither.
type Tweet struct {
	Text         string      `json:"text"`
	QuoteTweetID string      `json:"quote_tweet_id,omitempty"`
	Reply        *TweetReply `json:"reply,omitempty"`
	Media        *TweetMedia `json:"media,omitempty"`
}

// TweetReply marks a tweet as a reply to another tweet.
type TweetReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

// TweetMedia attaches previously uploaded media to a tweet.
type TweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

// Me fetches the authenticated account's id and username.
func (u *UserClient) Me(ctx context.Context) (*UserIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.client.apiBase()+"/2/users/me", nil)
	if err != nil {
		return nil, err
	}
	body, err := u.do(req, ErrUpstreamRejected)
	if err != nil {
		return nil, err
	}
	var out struct {
		Data UserIdentity `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode users/me: %v", ErrProtocolViolation, err)
	}
	if out.Data.ID == "" {
		return nil, fmt.Errorf("%w: users/me response missing id", ErrProtocolViolation)
	}
	return &out.Data, nil
}

// CreateTweet posts a tweet (plain, reply, or quote) and returns the new tweet id.
func (u *UserClient) CreateTweet(ctx context.Context, t Tweet) (string, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.client.apiBase()+"/2/tweets", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := u.do(req, ErrUpstreamRejected)
	if err != nil {
		return "", err
	}
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: decode create tweet: %v", ErrProtocolViolation, err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("%w: create tweet response missing id", ErrProtocolViolation)
	}
	return out.Data.ID, nil
}

// Like likes a tweet on behalf of the acting user. No identifier comes back.
func (u *UserClient) Like(ctx context.Context, userID, tweetID string) error {
	return u.userAction(ctx, userID, "likes", tweetID)
}

// Retweet retweets a tweet on behalf of the acting user. No identifier comes back.
func (u *UserClient) Retweet(ctx context.Context, userID, tweetID string) error {
	return u.userAction(ctx, userID, "retweets", tweetID)
}

func (u *UserClient) userAction(ctx context.Context, userID, action, tweetID string) error {
	if userID == "" || tweetID == "" {
		return fmt.Errorf("missing user id or tweet id")
	}
	payload, err := json.Marshal(map[string]string{"tweet_id": tweetID})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/2/users/%s/%s", u.client.apiBase(), userID, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = u.do(req, ErrUpstreamRejected)
	return err
}

// UploadMedia uploads raw media bytes via the multipart endpoint and returns the
// media id to attach to a tweet.
func (u *UserClient) UploadMedia(ctx context.Context, media []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("media", "media")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(media); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	endpoint := u.client.uploadBase() + "/1.1/media/upload.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	body, err := u.do(req, ErrMediaUploadFailed)
	if err != nil {
		return "", err
	}
	var out struct {
		MediaIDString string `json:"media_id_string"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: decode upload response: %v", ErrMediaUploadFailed, err)
	}
	if out.MediaIDString == "" {
		return "", fmt.Errorf("%w: upload response missing media_id_string", ErrMediaUploadFailed)
	}
	return out.MediaIDString, nil
}

// do signs and sends a request, returning the response body. Non-success statuses
// wrap failClass so callers can classify with errors.Is.
func (u *UserClient) do(req *http.Request, failClass error) ([]byte, error) {
	header, err := u.creds.AuthorizationHeader(req.Method, req.URL.String(), req.URL.Query(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", header)
	resp, err := u.client.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s: %s", failClass, resp.Status, strings.TrimSpace(string(b)))
	}
	return b, nil
}
