package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mehmetcc/sessiongate/internal/httpx"
)

var (
	// ErrNetwork wraps transport failures. The caller may retry.
	ErrNetwork = errors.New("network error")
	// ErrSessionExpired is terminal: refresh failed or the retried call was
	// still unauthorized. Local state has already been cleared.
	ErrSessionExpired = errors.New("session expired")
	// ErrMalformedResponse means the backend answered with something that
	// could not be decoded.
	ErrMalformedResponse = errors.New("malformed response")
	ErrInvalidInput      = errors.New("invalid input")
)

// APIError is a failed action, already shaped for a toast: a short title and a
// human message. Status is zero when the action was rejected locally before
// any request was made; Fields then lists the offending input fields.
type APIError struct {
	Status  int
	Code    string
	Title   string
	Message string
	Fields  []httpx.FieldError

	err error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s (%s): %s", e.Title, e.Code, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s): %s", e.Title, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Title, e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.err }

// invalidInput turns a validator error into an APIError that still matches
// ErrInvalidInput.
func invalidInput(err error) *APIError {
	return &APIError{
		Code:    string(httpx.ErrValidationFailed),
		Title:   titleFor(http.StatusUnprocessableEntity),
		Message: "some fields are missing or invalid",
		Fields:  httpx.ValidationDetails(err),
		err:     fmt.Errorf("%w: %w", ErrInvalidInput, err),
	}
}

// apiErrorFrom reads whichever error shape the backend used: the httpx
// envelope, a flat {"message","error","code"} object, or nothing at all.
func apiErrorFrom(resp *Response) *APIError {
	e := &APIError{
		Status:  resp.StatusCode,
		Title:   titleFor(resp.StatusCode),
		Message: http.StatusText(resp.StatusCode),
	}

	var env httpx.Envelope
	if err := json.Unmarshal(resp.Body, &env); err == nil && env.Error != nil {
		e.Code = string(env.Error.Code)
		if env.Error.Message != "" {
			e.Message = env.Error.Message
		}
		if len(env.Error.Details) > 0 {
			var fields []httpx.FieldError
			if json.Unmarshal(env.Error.Details, &fields) == nil {
				e.Fields = fields
			}
		}
		return e
	}

	var flat struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &flat); err == nil {
		e.Code = flat.Code
		switch {
		case flat.Message != "":
			e.Message = flat.Message
		case flat.Error != nil:
			if s, ok := flat.Error.(string); ok && s != "" {
				e.Message = s
			}
		}
		return e
	}

	if text := strings.TrimSpace(string(resp.Body)); text != "" && len(text) < 200 && !strings.HasPrefix(text, "<") {
		e.Message = text
	}
	return e
}

func titleFor(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return "Invalid request"
	case status == http.StatusUnauthorized:
		return "Not signed in"
	case status == http.StatusForbidden:
		return "Not allowed"
	case status == http.StatusNotFound:
		return "Not found"
	case status == http.StatusConflict:
		return "Already exists"
	case status == http.StatusUnprocessableEntity:
		return "Check your input"
	case status == http.StatusTooManyRequests:
		return "Slow down"
	case status >= 500:
		return "Something went wrong"
	default:
		return "Request failed"
	}
}
