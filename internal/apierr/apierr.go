// Package apierr maps the error taxonomy to HTTP status codes and a uniform
// JSON error body, grounded on the httpapi error-writing
// conventions (structured {"error": {"code","message"}} responses).
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Code is one entry in the error taxonomy.
type Code string

const (
	InvalidInput        Code = "invalid_input"
	AuthFailure         Code = "auth_failure"
	AuthzFailure        Code = "authz_failure"
	Conflict            Code = "conflict"
	LimitExceeded       Code = "limit_exceeded"
	NotFound            Code = "not_found"
	TransientBackend    Code = "transient_backend"
	WorkloadScheduling  Code = "workload_scheduling"
	InvalidTransition   Code = "invalid_transition"
	ProtocolMalformed   Code = "protocol_malformed"
	UpstreamUnavailable Code = "upstream_unavailable"
	RecognizerCrash     Code = "recognizer_crash"
)

// statusByCode is the taxonomy's fixed mapping onto HTTP status codes.
var statusByCode = map[Code]int{
	InvalidInput:        http.StatusBadRequest,
	AuthFailure:         http.StatusUnauthorized,
	AuthzFailure:        http.StatusForbidden,
	Conflict:            http.StatusConflict,
	LimitExceeded:       http.StatusTooManyRequests,
	NotFound:            http.StatusNotFound,
	TransientBackend:    http.StatusServiceUnavailable,
	WorkloadScheduling:  http.StatusServiceUnavailable,
	InvalidTransition:   http.StatusConflict,
	ProtocolMalformed:   http.StatusBadRequest,
	UpstreamUnavailable: http.StatusBadGateway,
	RecognizerCrash:     http.StatusBadGateway,
}

// Error is an error carrying a taxonomy Code, returned by handlers so a
// single writer (Write) can render the uniform HTTP response.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an *Error carrying an underlying cause, for logging without
// leaking internals into the response body.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

type body struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Write renders err as the taxonomy's JSON error body with the matching
// status code. Unrecognized errors are treated as transient_backend and
// logged at Error level; recognized *Error values log at Warn since they
// represent expected caller-facing conditions.
func Write(w http.ResponseWriter, logger *zap.Logger, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		logger.Error("unhandled error", zap.Error(err))
		apiErr = &Error{Code: TransientBackend, Message: "internal error"}
	} else {
		logger.Warn("request failed", zap.String("code", string(apiErr.Code)), zap.Error(apiErr))
	}

	status, ok := statusByCode[apiErr.Code]
	if !ok {
		status = http.StatusInternalServerError
	}

	var resp body
	resp.Error.Code = string(apiErr.Code)
	resp.Error.Message = apiErr.Message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
