// ABOUTME: Uniform request/response envelopes exchanged with callers and workers
// ABOUTME: Defines the gateway error taxonomy and its HTTP status mapping

package envelope

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Code identifies a gateway error class in machine-readable form.
type Code string

const (
	CodeRouteNotFound    Code = "route_not_found"
	CodeValidationError  Code = "validation_error"
	CodeUnauthenticated  Code = "unauthenticated"
	CodeSignatureInvalid Code = "signature_invalid"
	CodeRateLimited      Code = "rate_limited"
	CodeUpstreamTimeout  Code = "upstream_timeout"
	CodeUpstreamError    Code = "upstream_error"
	CodeBadUpstreamBody  Code = "bad_upstream_response"
	CodeInternalError    Code = "internal_error"
)

// HTTPStatus maps an error code to the HTTP status returned to callers.
func HTTPStatus(c Code) int {
	switch c {
	case CodeRouteNotFound:
		return http.StatusNotFound
	case CodeValidationError:
		return http.StatusBadRequest
	case CodeUnauthenticated, CodeSignatureInvalid:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUpstreamTimeout, CodeUpstreamError, CodeBadUpstreamBody:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Caller describes the authenticated origin of a request.
type Caller struct {
	Subject string `json:"subject"`
	Host    string `json:"host,omitempty"`
	Session string `json:"session,omitempty"`
}

// Request is the enriched envelope sent to a worker. It carries the
// correlation id the worker must echo back in any later webhook.
type Request struct {
	CorrelationID string         `json:"correlation_id"`
	Worker        string         `json:"worker"`
	Action        string         `json:"action"`
	Payload       map[string]any `json:"payload"`
	Caller        Caller         `json:"caller"`
	CreatedAt     time.Time      `json:"created_at"`
}

// NewRequest builds a request envelope with a fresh correlation id.
func NewRequest(worker, action string, payload map[string]any, caller Caller) *Request {
	return &Request{
		CorrelationID: uuid.New().String(),
		Worker:        worker,
		Action:        action,
		Payload:       payload,
		Caller:        caller,
		CreatedAt:     time.Now().UTC(),
	}
}

// Success is the envelope returned to callers on a successful dispatch.
type Success struct {
	Status     string         `json:"status"`
	Worker     string         `json:"worker"`
	Action     string         `json:"action"`
	Data       map[string]any `json:"data"`
	Timestamp  time.Time      `json:"timestamp"`
	ResponseID string         `json:"response_id"`
}

// ErrorDetail carries the machine-readable code and human-readable message.
type ErrorDetail struct {
	Message   string    `json:"message"`
	Code      Code      `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// Error is the envelope returned to callers on any failure.
type Error struct {
	Status string      `json:"status"`
	Err    ErrorDetail `json:"error"`
}

// NewSuccess wraps worker response data in a success envelope.
func NewSuccess(worker, action string, data map[string]any) *Success {
	return &Success{
		Status:     "success",
		Worker:     worker,
		Action:     action,
		Data:       data,
		Timestamp:  time.Now().UTC(),
		ResponseID: uuid.New().String(),
	}
}

// NewError builds an error envelope for the given code and message.
func NewError(code Code, message string) *Error {
	return &Error{
		Status: "error",
		Err: ErrorDetail{
			Message:   message,
			Code:      code,
			Timestamp: time.Now().UTC(),
		},
	}
}
