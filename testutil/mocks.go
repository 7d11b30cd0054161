package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// MockXServer creates a test server that mocks the X API: the OAuth1 token
// endpoints plus the v2 tweet/user endpoints and the v1.1 media upload.
type MockXServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockXServer creates a new mock X API server
func NewMockXServer(t *testing.T) *MockXServer {
	t.Helper()
	m := &MockXServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockRequestToken adds a handler for the request-token leg
func (m *MockXServer) MockRequestToken(token, secret string, confirmed bool) {
	m.Handlers["/oauth/request_token"] = func(w http.ResponseWriter, r *http.Request) {
		v := url.Values{}
		v.Set("oauth_token", token)
		v.Set("oauth_token_secret", secret)
		v.Set("oauth_callback_confirmed", fmt.Sprintf("%t", confirmed))
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		_, _ = w.Write([]byte(v.Encode())) //nolint:errcheck // test mock response
	}
}

// MockAccessToken adds a handler for the access-token exchange
func (m *MockXServer) MockAccessToken(token, secret, userID, screenName string) {
	m.Handlers["/oauth/access_token"] = func(w http.ResponseWriter, r *http.Request) {
		v := url.Values{}
		v.Set("oauth_token", token)
		v.Set("oauth_token_secret", secret)
		v.Set("user_id", userID)
		v.Set("screen_name", screenName)
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		_, _ = w.Write([]byte(v.Encode())) //nolint:errcheck // test mock response
	}
}

// MockMe adds a handler for the /2/users/me endpoint
func (m *MockXServer) MockMe(id, username string) {
	m.Handlers["/2/users/me"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"data": map[string]string{"id": id, "name": username, "username": username},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockCreateTweet adds a handler for the /2/tweets endpoint returning the given id
func (m *MockXServer) MockCreateTweet(id string) {
	m.Handlers["/2/tweets"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"data": map[string]string{"id": id},
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockUserAction adds a handler for /2/users/{userID}/{action} (likes or retweets)
func (m *MockXServer) MockUserAction(userID, action string) {
	field := "liked"
	if action == "retweets" {
		field = "retweeted"
	}
	m.Handlers["/2/users/"+userID+"/"+action] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"data": map[string]bool{field: true},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockMediaUpload adds a handler for the v1.1 media upload endpoint
func (m *MockXServer) MockMediaUpload(mediaID string) {
	m.Handlers["/1.1/media/upload.json"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"media_id_string": mediaID,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockError replaces the handler for a path with one that returns the given status
func (m *MockXServer) MockError(path string, status int, body string) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body)) //nolint:errcheck // test mock response
	}
}
