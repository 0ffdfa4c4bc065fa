package skyapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedResponse is returned when a response body is not valid JSON.
var ErrMalformedResponse = errors.New("malformed JSON response")

// APIError is a failure reported by the API, either through the HTTP status
// or through an error-shaped payload on a 2xx response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sky api: status %d", e.StatusCode)
	if e.Code != "" {
		fmt.Fprintf(&b, " code %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}

// Temporary reports whether the request may succeed if retried.
func (e *APIError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// errorDetail is one entry of the API's error list payload.
type errorDetail struct {
	Message    string          `json:"message"`
	RawMessage string          `json:"raw_message"`
	ErrorName  string          `json:"error_name"`
	ErrorCode  json.RawMessage `json:"error_code"`
	StatusCode json.RawMessage `json:"statusCode"`
}

func (d errorDetail) code() string {
	for _, raw := range []json.RawMessage{d.ErrorCode, d.StatusCode} {
		if s := strings.Trim(string(bytes.TrimSpace(raw)), `"`); s != "" && s != "null" {
			return s
		}
	}
	return d.ErrorName
}

func (d errorDetail) message() string {
	if d.Message != "" {
		return d.Message
	}
	return d.RawMessage
}

// classify turns a response into an *APIError when the status is not 2xx
// or the body is a list of error objects. It returns nil for a success.
func classify(status int, header http.Header, body []byte) *APIError {
	details := errorDetails(body)
	if status >= 200 && status < 300 {
		if len(details) == 0 || !isErrorList(body) {
			return nil
		}
	}

	apiErr := &APIError{StatusCode: status}
	if len(details) > 0 {
		apiErr.Code = details[0].code()
		apiErr.Message = details[0].message()
	}
	if apiErr.Message == "" && status >= 300 {
		apiErr.Message = http.StatusText(status)
	}
	apiErr.RetryAfter = parseRetryAfter(header.Get("Retry-After"), time.Now())
	return apiErr
}

// errorDetails decodes either a single error object or a list of them.
func errorDetails(body []byte) []errorDetail {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '[' {
		var list []errorDetail
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil
		}
		return list
	}
	var one errorDetail
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil
	}
	if one.message() == "" && one.code() == "" {
		return nil
	}
	return []errorDetail{one}
}

// isErrorList reports whether body is a non-empty JSON array whose first
// element carries an "error_code" or "error_name" key.
func isErrorList(body []byte) bool {
	var list []map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(body), &list); err != nil || len(list) == 0 {
		return false
	}
	_, hasCode := list[0]["error_code"]
	_, hasName := list[0]["error_name"]
	return hasCode || hasName
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
