package orchestrator

import (
	"fmt"
	"net/http"

	"github.com/agentoven/taskrouter/pkg/models"
)

// RequestError is the single outward error shape. Status is an HTTP status.
type RequestError struct {
	Status    int
	Message   string
	Attempted []string
	Hint      string
	Err       error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Response renders the error body. attemptedCapabilities is always an array.
func (e *RequestError) Response() models.ErrorResponse {
	attempted := e.Attempted
	if attempted == nil {
		attempted = []string{}
	}
	return models.ErrorResponse{Error: e.Message, AttemptedCapabilities: attempted, Hint: e.Hint}
}

func badRequest(msg, hint string, err error) *RequestError {
	return &RequestError{Status: http.StatusBadRequest, Message: msg, Hint: hint, Err: err}
}

func noCapabilities() *RequestError {
	return &RequestError{
		Status:  http.StatusServiceUnavailable,
		Message: "no providers configured",
		Hint:    "configure at least one capability and set its API key (e.g. OPENAI_API_KEY)",
	}
}

func allFailed(attempted []string, err error) *RequestError {
	return &RequestError{
		Status:    http.StatusBadGateway,
		Message:   "all capabilities failed",
		Attempted: attempted,
		Hint:      "check provider credentials and status; GET /api/v1/capabilities lists what is registered",
		Err:       err,
	}
}
