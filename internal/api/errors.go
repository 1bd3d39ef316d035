package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"kidstream-ingress/internal/session"
	"kidstream-ingress/internal/stagepool"
	"kidstream-ingress/internal/store"
	"kidstream-ingress/internal/upstream"
)

const maxJSONBodyBytes = 1 << 20 // 1 MiB

// apiErrorResponse is the `{error, code, details?}` envelope from §6.
type apiErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// RequestError captures a structured API error with a status code and
// machine-readable code, ported from the teacher's json_helpers.go.
type RequestError struct {
	Status  int
	CodeVal string
	Message string
	Err     error
}

func (e RequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return http.StatusText(e.StatusCode())
}

func (e RequestError) Unwrap() error { return e.Err }

func (e RequestError) StatusCode() int {
	if e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// ValidationError builds a RequestError for invalid/missing request fields.
func ValidationError(message string) RequestError {
	return RequestError{Status: http.StatusBadRequest, CodeVal: "INVALID_PARAMS", Message: message}
}

// UnauthenticatedError builds a RequestError for a missing/invalid caller
// identity.
func UnauthenticatedError(message string) RequestError {
	return RequestError{Status: http.StatusUnauthorized, CodeVal: "UNAUTHENTICATED", Message: message}
}

// WriteJSON writes a JSON payload with the given status code.
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError translates err into the spec's error kinds (§7) and writes the
// `{error, code, details?}` envelope at the corresponding status code.
func WriteError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	WriteJSON(w, status, apiErrorResponse{Error: http.StatusText(status), Code: code, Details: err.Error()})
}

// classify maps a domain error to an HTTP status and machine-readable error
// kind per §7. Order matters: check the most specific wrapped types first.
func classify(err error) (int, string) {
	var reqErr RequestError
	if errors.As(err, &reqErr) {
		code := reqErr.CodeVal
		if code == "" {
			code = "INTERNAL"
		}
		return reqErr.StatusCode(), code
	}

	switch {
	case errors.Is(err, session.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, session.ErrSessionAlreadyActive):
		return http.StatusConflict, "SESSION_ALREADY_ACTIVE"
	case errors.Is(err, session.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	}

	var exhausted *stagepool.ResourceExhaustedError
	if errors.As(err, &exhausted) {
		return http.StatusServiceUnavailable, "RESOURCE_EXHAUSTED"
	}

	var rateLimited *upstream.RateLimitedError
	if errors.As(err, &rateLimited) {
		return http.StatusServiceUnavailable, "UPSTREAM_TRANSIENT"
	}
	var transient *upstream.TransientError
	if errors.As(err, &transient) {
		return http.StatusServiceUnavailable, "UPSTREAM_TRANSIENT"
	}
	var permanent *upstream.PermanentError
	if errors.As(err, &permanent) {
		return http.StatusBadGateway, "UPSTREAM_ERROR"
	}

	return http.StatusInternalServerError, "INTERNAL"
}

// DecodeJSON parses a JSON payload into dest, rejecting unknown fields and
// enforcing a body size limit.
func DecodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return ValidationError("request body is required")
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBodyBytes+1))
	if err != nil {
		return RequestError{Status: http.StatusBadRequest, CodeVal: "INVALID_PARAMS", Message: "unable to read request body", Err: err}
	}
	if len(body) == 0 {
		return ValidationError("request body is required")
	}
	if len(body) > maxJSONBodyBytes {
		return RequestError{Status: http.StatusRequestEntityTooLarge, CodeVal: "REQUEST_TOO_LARGE", Message: fmt.Sprintf("request body must not exceed %d bytes", maxJSONBodyBytes)}
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return RequestError{Status: http.StatusBadRequest, CodeVal: "INVALID_PARAMS", Message: "malformed request body", Err: err}
	}
	return nil
}

// DecodeAndValidate parses a JSON payload into dest and writes an error
// response on failure. Returns true when decoding succeeded.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := DecodeJSON(r, dest); err != nil {
		WriteError(w, err)
		return false
	}
	return true
}

// WriteMethodNotAllowed writes a consistent 405 response and populates the
// Allow header.
func WriteMethodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", joinComma(allowed))
	}
	WriteError(w, RequestError{
		Status:  http.StatusMethodNotAllowed,
		CodeVal: "METHOD_NOT_ALLOWED",
		Message: fmt.Sprintf("method %s not allowed", r.Method),
	})
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ", "
		}
		out += item
	}
	return out
}
