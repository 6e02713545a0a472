package apperr

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindTransient     Kind = "transient"
)

const (
	CodeInvalidLocation      = "InvalidLocation"
	CodeInvalidPayload       = "InvalidPayload"
	CodeSessionAlreadyActive = "SessionAlreadyActive"
	CodeNoActiveSession      = "NoActiveSession"
	CodeAlertAlreadyResolved = "AlertAlreadyResolved"
	CodeNotAParticipant      = "NotAParticipant"
	CodeForbidden            = "Forbidden"
	CodeNotAuthenticated     = "NotAuthenticated"
	CodeUserMismatch         = "UserMismatch"
	CodeNotJoined            = "NotJoined"
	CodeVersionConflict      = "VersionConflict"
	CodeNotFound             = "NotFound"
	CodeStorage              = "StorageUnavailable"
)

type Error struct {
	kind    Kind
	code    string
	message string
	cause   error
}

func (e *Error) Error() string {
	if e.message != "" {
		return e.message
	}
	if e.cause != nil {
		return e.cause.Error()
	}
	return e.code
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Code() string { return e.code }

// New creates a classified error with no underlying cause.
func New(kind Kind, code, message string) error {
	return &Error{kind: kind, code: code, message: message}
}

// Wrap classifies cause. A nil cause yields nil.
func Wrap(cause error, kind Kind, code string) error {
	if cause == nil {
		return nil
	}
	return &Error{kind: kind, code: code, cause: cause}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return ""
}

func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return CodeOf(err) == code
}

// Retryable reports whether the caller may retry the failed operation.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// Status maps an error to the HTTP status used by the REST façades.
func Status(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return fiber.StatusBadRequest
	case KindAuthorization:
		if Is(err, CodeNotAuthenticated) {
			return fiber.StatusUnauthorized
		}
		return fiber.StatusForbidden
	case KindConflict:
		return fiber.StatusConflict
	case KindNotFound:
		return fiber.StatusNotFound
	case KindTransient:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// HTTP converts err into a fiber error carrying the mapped status.
func HTTP(err error) error {
	return fiber.NewError(Status(err), err.Error())
}
