package xapi

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // G505: HMAC-SHA1 is what the OAuth1 signature method requires
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Credentials is an OAuth1 signing pair set: the application's consumer pair plus an
// optional token pair. The token pair is empty on the request-token leg, holds the
// temporary request token on the access-token leg, and the permanent access token for
// everything after that.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string
}

// AuthorizationHeader computes the OAuth1 HMAC-SHA1 Authorization header value for a
// request. params carries the request's query/form parameters (they are part of the
// signature base); extra carries additional oauth_* protocol parameters such as
// oauth_callback or oauth_verifier.
func (c Credentials) AuthorizationHeader(method, rawURL string, params url.Values, extra map[string]string) (string, error) {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	return c.authorizationHeader(method, rawURL, params, extra, nonce, time.Now().Unix())
}

func (c Credentials) authorizationHeader(method, rawURL string, params url.Values, extra map[string]string, nonce string, ts int64) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	oauth := map[string]string{
		"oauth_consumer_key":     c.ConsumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(ts, 10),
		"oauth_version":          "1.0",
	}
	if c.Token != "" {
		oauth["oauth_token"] = c.Token
	}
	for k, v := range extra {
		oauth[k] = v
	}

	base := signatureBase(method, u, params, oauth)
	key := percentEncode(c.ConsumerSecret) + "&" + percentEncode(c.TokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	oauth["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	keys := make([]string, 0, len(oauth))
	for k := range oauth {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", percentEncode(k), percentEncode(oauth[k])))
	}
	return "OAuth " + strings.Join(parts, ", "), nil
}

// signatureBase builds METHOD&base-url&sorted-encoded-params per RFC 5849 §3.4.1.
func signatureBase(method string, u *url.URL, params url.Values, oauth map[string]string) string {
	baseURL := u.Scheme + "://" + u.Host + u.EscapedPath()

	type kv struct{ k, v string }
	pairs := make([]kv, 0, len(params)+len(oauth))
	for k, vs := range params {
		for _, v := range vs {
			pairs = append(pairs, kv{percentEncode(k), percentEncode(v)})
		}
	}
	for k, v := range oauth {
		pairs = append(pairs, kv{percentEncode(k), percentEncode(v)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})
	joined := make([]string, 0, len(pairs))
	for _, p := range pairs {
		joined = append(joined, p.k+"="+p.v)
	}

	return strings.ToUpper(method) + "&" + percentEncode(baseURL) + "&" + percentEncode(strings.Join(joined, "&"))
}

// percentEncode implements the strict RFC 3986 encoding OAuth1 requires; it differs
// from url.QueryEscape (space must become %20, not +).
func percentEncode(s string) string {
	var buf strings.Builder
	for _, b := range []byte(s) {
		if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') ||
			b == '-' || b == '.' || b == '_' || b == '~' {
			buf.WriteByte(b)
		} else {
			fmt.Fprintf(&buf, "%%%02X", b)
		}
	}
	return buf.String()
}

// Transport is an http.RoundTripper that signs each outbound request with OAuth1
// credentials. It is stateless apart from the credential pair, so a fresh one can be
// constructed per call.
type Transport struct {
	Base  http.RoundTripper
	Creds Credentials
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip signs the request's method, URL, and query parameters, then delegates to
// the base transport. The original request is not mutated.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	header, err := t.Creds.AuthorizationHeader(req.Method, req.URL.String(), req.URL.Query(), nil)
	if err != nil {
		return nil, err
	}
	signed := req.Clone(req.Context())
	signed.Header.Set("Authorization", header)
	return t.base().RoundTrip(signed)
}

// HTTPClient returns a client whose requests are signed with the credential pair.
func (c Credentials) HTTPClient() *http.Client {
	return &http.Client{Transport: &Transport{Creds: c}}
}
