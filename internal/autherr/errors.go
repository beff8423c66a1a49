// Package autherr defines the typed error kinds raised by providers and
// credential logic. Handlers never format HTTP responses themselves; they
// raise one of these kinds and the router boundary maps it to a status and
// the JSON error envelope.
package autherr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindNotFound               Kind = "NotFound"
	KindInvalidData            Kind = "InvalidData"
	KindMissingConfiguration   Kind = "MissingConfiguration"
	KindNoIdentityFound        Kind = "NoIdentityFound"
	KindUserAlreadyRegistered  Kind = "UserAlreadyRegistered"
	KindVerificationRequired   Kind = "VerificationRequired"
	KindPKCEVerificationFailed Kind = "PKCEVerificationFailed"
	KindOAuthProviderFailure   Kind = "OAuthProviderFailure"
	KindInternal               Kind = "InternalServerError"
)

// HTTPStatus maps a kind to the status the router responds with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidData:
		return http.StatusBadRequest
	case KindNoIdentityFound, KindPKCEVerificationFailed:
		return http.StatusForbidden
	case KindUserAlreadyRegistered:
		return http.StatusConflict
	case KindVerificationRequired:
		return http.StatusUnauthorized
	case KindMissingConfiguration, KindOAuthProviderFailure, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Code is the stable integer carried in the error envelope.
func (k Kind) Code() int {
	switch k {
	case KindNotFound:
		return 1000
	case KindInvalidData:
		return 1001
	case KindMissingConfiguration:
		return 1002
	case KindNoIdentityFound:
		return 1003
	case KindUserAlreadyRegistered:
		return 1004
	case KindVerificationRequired:
		return 1005
	case KindPKCEVerificationFailed:
		return 1006
	case KindOAuthProviderFailure:
		return 1007
	default:
		return 1099
	}
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain; anything without a kind is an
// unexpected internal fault.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is lets errors.Is match against a bare kind sentinel created with New(kind, "").
func (e *Error) Is(target error) bool {
	var ae *Error
	if errors.As(target, &ae) {
		return e.Kind == ae.Kind
	}
	return false
}
