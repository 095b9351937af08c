// Package errors provides the proxy's error taxonomy. Every error that
// crosses a package boundary in the forwarding path is one of these types,
// so callers can branch on Code rather than string-matching messages.
package errors

import (
	"encoding/json"
	"strings"
)

// ProxyError is the base error type. All typed errors below embed it.
type ProxyError struct {
	Message   string                 `json:"message"`
	Code      string                 `json:"code"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func (e *ProxyError) Error() string {
	return e.Message
}

// ToJSON renders the error in the shape surfaced on API responses.
func (e *ProxyError) ToJSON() map[string]interface{} {
	out := map[string]interface{}{
		"code":      e.Code,
		"message":   e.Message,
		"retryable": e.Retryable,
	}
	for k, v := range e.Metadata {
		out[k] = v
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (e *ProxyError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

func newBase(message, code string, retryable bool, metadata map[string]interface{}) *ProxyError {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &ProxyError{Message: message, Code: code, Retryable: retryable, Metadata: metadata}
}

// NetworkError is a transport-level failure: dial timeout, connection reset,
// DNS failure. Always retryable.
type NetworkError struct {
	*ProxyError
}

func NewNetworkError(message string) *NetworkError {
	if message == "" {
		message = "network error"
	}
	return &NetworkError{newBase(message, "NETWORK_ERROR", true, nil).withType()}
}

func (e *ProxyError) withType() *ProxyError { return e }

// RetriableServerError is a 5xx (or equivalent) response from upstream that
// is safe to retry with backoff.
type RetriableServerError struct {
	*ProxyError
	StatusCode int `json:"statusCode"`
}

func NewRetriableServerError(message string, statusCode int) *RetriableServerError {
	if message == "" {
		message = "upstream server error"
	}
	return &RetriableServerError{
		ProxyError: newBase(message, "RETRIABLE_SERVER_ERROR", true, map[string]interface{}{"statusCode": statusCode}),
		StatusCode: statusCode,
	}
}

// RateLimited is a 429 / RESOURCE_EXHAUSTED response. Carries the account
// that hit the limit so the caller can mark it cooling down and retry with
// a different account.
type RateLimited struct {
	*ProxyError
	AccountEmail string `json:"accountEmail,omitempty"`
	ResetAtMs    *int64 `json:"resetAtMs,omitempty"`
}

func NewRateLimited(message, accountEmail string, resetAtMs *int64) *RateLimited {
	if message == "" {
		message = "rate limited"
	}
	metadata := map[string]interface{}{}
	if accountEmail != "" {
		metadata["accountEmail"] = accountEmail
	}
	if resetAtMs != nil {
		metadata["resetAtMs"] = *resetAtMs
	}
	return &RateLimited{
		ProxyError:   newBase(message, "RATE_LIMITED", true, metadata),
		AccountEmail: accountEmail,
		ResetAtMs:    resetAtMs,
	}
}

// Unauthorized is a 401/403 or OAuth refresh failure. Not retryable with the
// same account; the account should be marked unauthorized.
type Unauthorized struct {
	*ProxyError
	AccountEmail string `json:"accountEmail,omitempty"`
}

func NewUnauthorized(message, accountEmail string) *Unauthorized {
	if message == "" {
		message = "unauthorized"
	}
	metadata := map[string]interface{}{}
	if accountEmail != "" {
		metadata["accountEmail"] = accountEmail
	}
	return &Unauthorized{
		ProxyError:   newBase(message, "UNAUTHORIZED", false, metadata),
		AccountEmail: accountEmail,
	}
}

// InvalidArgument is a 400-class client error: malformed request body,
// unsupported model, bad dialect. Never retryable.
type InvalidArgument struct {
	*ProxyError
}

func NewInvalidArgument(message string) *InvalidArgument {
	if message == "" {
		message = "invalid argument"
	}
	return &InvalidArgument{newBase(message, "INVALID_ARGUMENT", false, nil)}
}

// NoAccountAvailable is returned by account selection when every account is
// filtered out (cooling down, unauthorized, or quota-exhausted).
type NoAccountAvailable struct {
	*ProxyError
	AllRateLimited bool `json:"allRateLimited"`
}

func NewNoAccountAvailable(message string, allRateLimited bool) *NoAccountAvailable {
	if message == "" {
		message = "no account available"
	}
	return &NoAccountAvailable{
		ProxyError:     newBase(message, "NO_ACCOUNT_AVAILABLE", allRateLimited, map[string]interface{}{"allRateLimited": allRateLimited}),
		AllRateLimited: allRateLimited,
	}
}

// UpstreamError wraps any other non-2xx response from CodeAssist that isn't
// one of the specific categories above.
type UpstreamError struct {
	*ProxyError
	StatusCode int `json:"statusCode"`
}

func NewUpstreamError(message string, statusCode int) *UpstreamError {
	if message == "" {
		message = "upstream error"
	}
	return &UpstreamError{
		ProxyError: newBase(message, "UPSTREAM_ERROR", false, map[string]interface{}{"statusCode": statusCode}),
		StatusCode: statusCode,
	}
}

// InternalError is any failure originating inside the proxy itself (bad
// config, marshal failure, programmer error).
type InternalError struct {
	*ProxyError
}

func NewInternalError(message string) *InternalError {
	if message == "" {
		message = "internal error"
	}
	return &InternalError{newBase(message, "INTERNAL_ERROR", false, nil)}
}

// Classification helpers.

func IsRateLimited(err error) bool {
	_, ok := err.(*RateLimited)
	return ok
}

func IsUnauthorized(err error) bool {
	_, ok := err.(*Unauthorized)
	return ok
}

func IsNoAccountAvailable(err error) bool {
	_, ok := err.(*NoAccountAvailable)
	return ok
}

func IsInvalidArgument(err error) bool {
	_, ok := err.(*InvalidArgument)
	return ok
}

// IsRetryable reports whether err carries a Retryable flag set to true.
func IsRetryable(err error) bool {
	switch e := err.(type) {
	case *NetworkError:
		return e.Retryable
	case *RetriableServerError:
		return e.Retryable
	case *RateLimited:
		return e.Retryable
	case *NoAccountAvailable:
		return e.Retryable
	}
	return false
}

// HTTPStatus maps a typed error to the HTTP status code the proxy's own API
// surface should return to the caller.
func HTTPStatus(err error) int {
	switch e := err.(type) {
	case *NetworkError:
		return 502
	case *RetriableServerError:
		return e.StatusCode
	case *RateLimited:
		return 429
	case *Unauthorized:
		return 401
	case *InvalidArgument:
		return 400
	case *NoAccountAvailable:
		return 503
	case *UpstreamError:
		return e.StatusCode
	case *InternalError:
		return 500
	default:
		return 500
	}
}

// FormatAPIError renders any recognized error in the proxy's JSON error
// envelope; unrecognized errors fall back to a generic internal_error.
func FormatAPIError(err error) map[string]interface{} {
	if pe, ok := err.(interface{ ToJSON() map[string]interface{} }); ok {
		return map[string]interface{}{"type": "error", "error": pe.ToJSON()}
	}
	return map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": err.Error(),
		},
	}
}

// LooksLikeRateLimit does a best-effort string classification for errors
// surfaced from libraries that don't return typed errors (e.g. raw upstream
// body text before it has been parsed into a typed error).
func LooksLikeRateLimit(message string) bool {
	msg := strings.ToLower(message)
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota_exhausted") ||
		strings.Contains(msg, "rate limit")
}
