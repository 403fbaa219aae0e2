// Package apperr classifies failures into the categories clients can act on.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrConflict         = errors.New("conflict")
	ErrInvalidJSON      = errors.New("invalid json")
)

const (
	CodeInvalidJSON      = "invalid_json"
	CodeInvalidPayload   = "invalid_payload"
	CodeValidation       = "validation_error"
	CodeNotFound         = "not_found"
	CodeForbidden        = "forbidden"
	CodeUnsupportedMedia = "unsupported_media_type"
	CodeConflict         = "conflict"
	CodeProcessing       = "processing_error"
)

// ValidationError carries field level messages for client input that was
// well-formed but not acceptable.
type ValidationError struct {
	Code   string
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], "; ")))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) Empty() bool { return e == nil || len(e.Fields) == 0 }

// OrNil returns nil when no field has been flagged.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

// Invalid builds a single-field validation error.
func Invalid(field, msg string) *ValidationError {
	v := &ValidationError{Code: CodeValidation}
	v.Add(field, msg)
	return v
}

// Malformed builds a validation error for payloads of the wrong shape.
func Malformed(field, msg string) *ValidationError {
	v := Invalid(field, msg)
	v.Code = CodeInvalidPayload
	return v
}

// Within prefixes every field of a validation error with path, leaving other
// errors untouched.
func Within(path string, err error) error {
	var v *ValidationError
	if !errors.As(err, &v) {
		return err
	}
	out := &ValidationError{Code: v.Code, Fields: make(map[string][]string, len(v.Fields))}
	for k, msgs := range v.Fields {
		out.Fields[path+"."+k] = append([]string(nil), msgs...)
	}
	return out
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Problem is the client facing rendering of an error.
type Problem struct {
	Status  int
	Code    string
	Message string
	Fields  map[string][]string
}

// Describe maps err onto a Problem. Unclassified errors become a generic 500
// so internal details never reach the client.
func Describe(err error) Problem {
	var v *ValidationError
	switch {
	case errors.As(err, &v):
		code := v.Code
		if code == "" {
			code = CodeValidation
		}
		msg := "validation failed"
		if code == CodeInvalidPayload {
			msg = "payload has an invalid structure"
		}
		return Problem{Status: http.StatusBadRequest, Code: code, Message: msg, Fields: v.Fields}
	case errors.Is(err, ErrInvalidJSON):
		return Problem{Status: http.StatusBadRequest, Code: CodeInvalidJSON, Message: "request body is not valid JSON"}
	case errors.Is(err, ErrNotFound):
		return Problem{Status: http.StatusNotFound, Code: CodeNotFound, Message: "object not found"}
	case errors.Is(err, ErrForbidden):
		return Problem{Status: http.StatusForbidden, Code: CodeForbidden, Message: "operation not permitted"}
	case errors.Is(err, ErrConflict):
		return Problem{Status: http.StatusConflict, Code: CodeConflict, Message: "the request conflicts with a concurrent change, retry it"}
	case errors.Is(err, ErrUnsupportedMedia):
		return Problem{Status: http.StatusUnsupportedMediaType, Code: CodeUnsupportedMedia, Message: "unsupported content type"}
	default:
		return Problem{Status: http.StatusInternalServerError, Code: CodeProcessing, Message: "internal error while processing the request"}
	}
}

// Body renders the problem in the wire error shape.
func (p Problem) Body() map[string]interface{} {
	body := map[string]interface{}{
		"status":  "error",
		"code":    p.Code,
		"message": p.Message,
	}
	if len(p.Fields) > 0 {
		body["errors"] = p.Fields
	}
	return body
}
