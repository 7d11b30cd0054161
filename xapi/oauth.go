package xapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// RequestTokenResult is the decoded response of the request-token leg.
type RequestTokenResult struct {
	Token  string
	Secret string
}

// AccessTokenResult is the decoded response of the access-token exchange.
type AccessTokenResult struct {
	Token      string
	Secret     string
	UserID     string
	ScreenName string
}

// RequestToken performs the first handshake leg: it asks the service for a temporary
// request token, passing the callback URL the user will be redirected to. The service
// must confirm the callback or the result is rejected as a protocol violation.
func (c *Client) RequestToken(ctx context.Context, callbackURL string) (*RequestTokenResult, error) {
	if callbackURL == "" {
		return nil, fmt.Errorf("missing callback URL")
	}
	creds := Credentials{ConsumerKey: c.ConsumerKey, ConsumerSecret: c.ConsumerSecret}
	body, err := c.signedTokenPost(ctx, c.authBase()+"/oauth/request_token", creds,
		map[string]string{"oauth_callback": callbackURL})
	if err != nil {
		return nil, err
	}
	values, err := url.ParseQuery(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode request token body: %v", ErrProtocolViolation, err)
	}
	token := values.Get("oauth_token")
	secret := values.Get("oauth_token_secret")
	if token == "" || secret == "" {
		return nil, fmt.Errorf("%w: response missing oauth_token or oauth_token_secret", ErrProtocolViolation)
	}
	if values.Get("oauth_callback_confirmed") != "true" {
		return nil, fmt.Errorf("%w: oauth_callback_confirmed was not true", ErrProtocolViolation)
	}
	return &RequestTokenResult{Token: token, Secret: secret}, nil
}

// AuthorizeURL constructs the URL the user must visit to approve the request token.
func (c *Client) AuthorizeURL(requestToken string) string {
	v := url.Values{}
	v.Set("oauth_token", requestToken)
	return c.authBase() + "/oauth/authenticate?" + v.Encode()
}

// AccessToken performs the final handshake leg: it exchanges the approved request
// token plus the user's verifier for the permanent token pair.
func (c *Client) AccessToken(ctx context.Context, requestToken, requestSecret, verifier string) (*AccessTokenResult, error) {
	if requestToken == "" || verifier == "" {
		return nil, fmt.Errorf("missing request token or verifier")
	}
	creds := Credentials{
		ConsumerKey:    c.ConsumerKey,
		ConsumerSecret: c.ConsumerSecret,
		Token:          requestToken,
		TokenSecret:    requestSecret,
	}
	body, err := c.signedTokenPost(ctx, c.authBase()+"/oauth/access_token", creds,
		map[string]string{"oauth_verifier": verifier})
	if err != nil {
		return nil, err
	}
	values, err := url.ParseQuery(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode access token body: %v", ErrProtocolViolation, err)
	}
	res := &AccessTokenResult{
		Token:      values.Get("oauth_token"),
		Secret:     values.Get("oauth_token_secret"),
		UserID:     values.Get("user_id"),
		ScreenName: values.Get("screen_name"),
	}
	if res.Token == "" || res.Secret == "" {
		return nil, fmt.Errorf("%w: response missing oauth_token or oauth_token_secret", ErrProtocolViolation)
	}
	return res, nil
}

// signedTokenPost issues an OAuth1-signed POST to a token endpoint and returns the
// raw URL-encoded body. Non-success statuses classify as ErrUpstreamRejected.
func (c *Client) signedTokenPost(ctx context.Context, endpoint string, creds Credentials, extra map[string]string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", err
	}
	header, err := creds.AuthorizationHeader(http.MethodPost, endpoint, nil, extra)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", header)
	resp, err := c.http().Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %s: %s", ErrUpstreamRejected, resp.Status, strings.TrimSpace(string(b)))
	}
	return string(b), nil
}
