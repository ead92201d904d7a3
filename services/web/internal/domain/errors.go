package domain

import (
	"context"
	"errors"
	"net"

	apperrors "github.com/TP-Master1-GL/TERRABIA/pkg/errors"
	"github.com/TP-Master1-GL/TERRABIA/pkg/validator"
)

// ErrorKind classifies failures reaching the session and view layers.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindAuth       ErrorKind = "auth_failure"
	KindTransport  ErrorKind = "transport_failure"
	KindValidation ErrorKind = "validation_failure"
	KindServer     ErrorKind = "server_failure"
)

var (
	// ErrTransport marks failures to reach the marketplace API at all.
	ErrTransport = errors.New("transport failure")

	// ErrMalformedPayload marks an answer whose body could not be decoded.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Classify maps an error to its kind. Unknown errors are server failures.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var netErr net.Error
	var valErr *validator.ValidationError

	switch {
	case errors.Is(err, ErrTransport),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return KindTransport
	case errors.Is(err, apperrors.ErrUnauthorized),
		errors.Is(err, apperrors.ErrForbidden):
		return KindAuth
	case errors.Is(err, apperrors.ErrInvalidInput),
		errors.As(err, &valErr):
		return KindValidation
	default:
		return KindServer
	}
}
