package xapi

import "errors"

// Sentinel errors for classifying upstream failures. Callers match with errors.Is
// and translate into user-facing replies at the dispatch boundary.
var (
	// ErrUpstreamRejected means the remote API returned a non-success status.
	ErrUpstreamRejected = errors.New("upstream rejected request")
	// ErrProtocolViolation means the response could not be decoded or violated the
	// OAuth1 protocol (e.g. the callback was not confirmed).
	ErrProtocolViolation = errors.New("unexpected upstream response")
	// ErrMediaUploadFailed means the media upload returned a non-success status or an
	// undecodable body.
	ErrMediaUploadFailed = errors.New("media upload failed")
)
