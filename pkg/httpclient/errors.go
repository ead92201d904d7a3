package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/TP-Master1-GL/TERRABIA/pkg/errors"
)

// maxErrorBody caps how much of an error body is read.
const maxErrorBody = 1 << 20

// ResponseError is a non-2xx answer from an upstream service. ErrorText and
// Message keep the server's "error" and "message" fields apart so callers can
// apply their own precedence.
type ResponseError struct {
	Service   string
	Status    int
	Code      string
	ErrorText string
	Message   string
	Body      string
}

func (e *ResponseError) Error() string {
	if d := e.Detail(); d != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Status, d)
	}
	return fmt.Sprintf("%s returned status %d", e.Service, e.Status)
}

// Detail returns the most specific human-readable text the server sent:
// the error field, then the message field.
func (e *ResponseError) Detail() string {
	if e.ErrorText != "" {
		return e.ErrorText
	}
	return e.Message
}

// Unwrap maps the status onto the shared sentinel errors.
func (e *ResponseError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return apperrors.ErrNotFound
	case e.Status == http.StatusBadRequest, e.Status == http.StatusUnprocessableEntity:
		return apperrors.ErrInvalidInput
	case e.Status == http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	case e.Status == http.StatusForbidden:
		return apperrors.ErrForbidden
	case e.Status == http.StatusConflict:
		return apperrors.ErrConflict
	case e.Status == http.StatusGone:
		return apperrors.ErrGone
	case e.Status == http.StatusServiceUnavailable:
		return apperrors.ErrServiceUnavail
	case e.Status >= 500:
		return apperrors.ErrInternal
	default:
		return nil
	}
}

// errorEnvelope accepts both the nested {"error":{"code","message"}} shape
// and the flat {"error":"...","message":"...","detail":"..."} shape.
type errorEnvelope struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Detail  string          `json:"detail"`
}

type nestedError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseResponseError reads the body of a non-2xx response and returns a
// *ResponseError. The body is fully consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	out := &ResponseError{
		Service: serviceName,
		Status:  resp.StatusCode,
		Body:    strings.TrimSpace(string(bodyBytes)),
	}

	var env errorEnvelope
	if json.Unmarshal(bodyBytes, &env) != nil {
		return out
	}

	out.Message = env.Message
	if out.Message == "" {
		out.Message = env.Detail
	}

	if len(env.Error) > 0 {
		var text string
		var nested nestedError
		switch {
		case json.Unmarshal(env.Error, &text) == nil:
			out.ErrorText = text
		case json.Unmarshal(env.Error, &nested) == nil:
			out.Code = nested.Code
			out.ErrorText = nested.Message
		}
	}

	return out
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
