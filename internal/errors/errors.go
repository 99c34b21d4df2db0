// Package errors defines the closed error taxonomy returned by the storefront
// API client. Transport failures and non-2xx responses are converted into
// *Error at the client boundary; nothing downstream inspects raw responses.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a failure.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindAuth       Kind = "auth"
	KindRateLimit  Kind = "rate_limit"
	KindValidation Kind = "validation"
	KindUnknown    Kind = "unknown"
)

// Sentinel errors, one per kind. *Error matches its kind's sentinel via errors.Is.
var (
	ErrNetwork    = errors.New("network error")
	ErrAuth       = errors.New("authentication required")
	ErrRateLimit  = errors.New("rate limit exceeded")
	ErrValidation = errors.New("validation failed")
	ErrUnknown    = errors.New("unknown error")
)

// Error is the only error shape produced by the API client.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	// Fields holds per-field validation messages keyed by field name.
	Fields     map[string][]string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return target == sentinel(e.Kind)
}

func sentinel(k Kind) error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindAuth:
		return ErrAuth
	case KindRateLimit:
		return ErrRateLimit
	case KindValidation:
		return ErrValidation
	default:
		return ErrUnknown
	}
}

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Validation creates a validation error carrying field messages.
func Validation(op string, fields map[string][]string) *Error {
	return &Error{
		Kind:       KindValidation,
		Op:         op,
		StatusCode: http.StatusBadRequest,
		Message:    summarize(fields),
		Fields:     fields,
	}
}

// FromTransport converts an error returned before any response arrived
// (dial failure, timeout, cancelled context) into a network error.
func FromTransport(op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindNetwork, Op: op, Message: "no response from server", Err: err}
}

// FromResponse converts a non-2xx status and its body into an *Error.
func FromResponse(op string, status int, header http.Header, body []byte) *Error {
	e := &Error{Op: op, StatusCode: status}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind = KindAuth
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimit
		e.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
	case status == http.StatusBadRequest:
		e.Kind = KindValidation
	default:
		e.Kind = KindUnknown
	}
	e.Message, e.Fields = decodeBody(body)
	if e.Kind == KindValidation && e.Message == "" {
		e.Message = summarize(e.Fields)
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// KindOf returns the kind of err, KindUnknown for foreign errors, and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// FieldErrors returns the validation messages carried by err, if any.
func FieldErrors(err error) map[string][]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// IsRetryable reports whether the request can be re-issued after a backoff.
// Only rate limiting qualifies: 429 means the server did not process the request.
func IsRetryable(err error) bool {
	return KindOf(err) == KindRateLimit
}

// RetryAfterOf returns the server-requested backoff carried by err, or zero.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// decodeBody understands the backend's two error shapes:
// {"detail": "..."} and {"field": ["msg", ...], "other": "msg"}.
func decodeBody(body []byte) (string, map[string][]string) {
	if len(body) == 0 {
		return "", nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return strings.TrimSpace(string(body)), nil
	}

	var message string
	fields := make(map[string][]string)
	for key, val := range raw {
		var s string
		if err := json.Unmarshal(val, &s); err == nil {
			if key == "detail" || key == "message" || key == "error" {
				message = s
				continue
			}
			fields[key] = []string{s}
			continue
		}
		var list []string
		if err := json.Unmarshal(val, &list); err == nil {
			if key == "non_field_errors" && len(list) > 0 {
				message = strings.Join(list, "; ")
				continue
			}
			fields[key] = list
		}
	}
	if len(fields) == 0 {
		fields = nil
	}
	return message, fields
}

func summarize(fields map[string][]string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(fields[k], ", "))
	}
	return strings.Join(parts, "; ")
}
