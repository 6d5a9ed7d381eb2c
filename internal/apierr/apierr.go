// Package apierr defines the structured error returned by every REST call
// and the status taxonomy the console reacts to.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind classifies a failed API call.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindAuth
	KindPermission
	KindValidation
	KindConflict
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindPermission:
		return "permission"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error carries everything known about a failed request.
type Error struct {
	Status      int
	Kind        Kind
	Message     string
	Body        json.RawMessage
	FieldErrors map[string][]string
	Err         error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HasFieldErrors reports whether the server returned a per-field error map.
func (e *Error) HasFieldErrors() bool {
	for field := range e.FieldErrors {
		if field != nonFieldKey {
			return true
		}
	}
	return false
}

// KindFromStatus maps an HTTP status code to a Kind.
func KindFromStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return KindAuth
	case http.StatusForbidden:
		return KindPermission
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusConflict:
		return KindConflict
	case http.StatusNotFound:
		return KindNotFound
	default:
		return KindUnknown
	}
}

// Network wraps a transport failure (no response received).
func Network(err error) *Error {
	return &Error{
		Kind:    KindNetwork,
		Message: "network error",
		Err:     err,
	}
}

// Invalid reports input rejected before any request was sent.
func Invalid(fields map[string][]string) *Error {
	return &Error{
		Kind:        KindValidation,
		Message:     "validation failed",
		FieldErrors: fields,
	}
}

const nonFieldKey = "non_field_errors"

// reserved keys never treated as form fields.
var reserved = map[string]bool{
	"detail":  true,
	"message": true,
	"error":   true,
	"errors":  true,
	"success": true,
	"status":  true,
	"code":    true,
}

// FromResponse builds an Error from a non-2xx status and its raw body.
// The human-readable message is taken from detail, message, then error.
func FromResponse(status int, body []byte) *Error {
	e := &Error{
		Status: status,
		Kind:   KindFromStatus(status),
	}
	if len(body) > 0 && json.Valid(body) {
		e.Body = json.RawMessage(body)
	}

	var payload map[string]any
	if len(body) > 0 {
		_ = json.Unmarshal(body, &payload)
	}

	e.Message = extractMessage(payload)
	if e.Message == "" {
		e.Message = fmt.Sprintf("HTTP %d", status)
	}
	e.FieldErrors = extractFieldErrors(payload, e.Kind)
	return e
}

func extractMessage(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	for _, key := range []string{"detail", "message", "error"} {
		switch v := payload[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if d, ok := v["detail"].(string); ok && d != "" {
				return d
			}
		}
	}
	return ""
}

func extractFieldErrors(payload map[string]any, kind Kind) map[string][]string {
	if payload == nil {
		return nil
	}

	var source map[string]any
	if m, ok := payload["errors"].(map[string]any); ok {
		source = m
	} else if m, ok := payload["error"].(map[string]any); ok {
		source = m
	} else if kind == KindValidation {
		source = payload
	}

	fields := make(map[string][]string)
	for key, val := range source {
		if reserved[key] {
			continue
		}
		flatten(fields, key, val)
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// flatten expands nested serializer errors into dotted field names, for
// example profile_info.full_name.
func flatten(fields map[string][]string, key string, val any) {
	if nested, ok := val.(map[string]any); ok {
		for k, v := range nested {
			flatten(fields, key+"."+k, v)
		}
		return
	}
	if msgs := toStrings(val); len(msgs) > 0 {
		fields[key] = msgs
	}
}

func toStrings(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, toStrings(item)...)
		}
		return out
	case nil:
		return nil
	default:
		return []string{fmt.Sprint(val)}
	}
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// KindOf returns the Kind of err, KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	if apiErr, ok := As(err); ok {
		return apiErr.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsAuth(err error) bool       { return KindOf(err) == KindAuth }

// UserMessage renders err as the single line shown to staff.
func UserMessage(err error) string {
	apiErr, ok := As(err)
	if !ok {
		return "Something went wrong. Please try again."
	}

	switch apiErr.Kind {
	case KindNetwork:
		return "Network error. Please check your connection."
	case KindValidation:
		return formatValidation(apiErr)
	case KindAuth:
		return "Session expired. Please log in again."
	case KindPermission:
		return "You do not have permission to perform this action."
	case KindNotFound:
		return "The requested resource was not found."
	case KindConflict:
		return "A record with this title already exists."
	default:
		return fmt.Sprintf("Unexpected error (%d).", apiErr.Status)
	}
}

func formatValidation(e *Error) string {
	if msgs := e.FieldErrors[nonFieldKey]; len(msgs) > 0 {
		return strings.Join(msgs, "\n")
	}
	if e.Message != "" && !strings.HasPrefix(e.Message, "HTTP ") && !e.HasFieldErrors() {
		return e.Message
	}
	if len(e.FieldErrors) == 0 {
		return "Validation failed."
	}

	names := make([]string, 0, len(e.FieldErrors))
	for name := range e.FieldErrors {
		names = append(names, name)
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		label := FieldLabel(name)
		for _, msg := range e.FieldErrors[name] {
			lines = append(lines, label+": "+msg)
		}
	}
	return strings.Join(lines, "\n")
}

// FieldLabel turns a snake_case field name into a title-cased label.
func FieldLabel(field string) string {
	words := strings.Fields(strings.NewReplacer("_", " ", ".", " ").Replace(field))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
