// Package apperr defines the error kinds surfaced by the library services.
//
// Every error carries a stable code. Sentinel values exist for each code so
// callers can test with errors.Is regardless of message or details.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes. They are stable and safe to expose to clients.
const (
	CodeValidation         = "VALIDATION_FAILED"
	CodeInvalidReference   = "INVALID_REFERENCE"
	CodeNotFound           = "NOT_FOUND"
	CodeNotAdmin           = "NOT_ADMIN"
	CodeNotOwner           = "NOT_OWNER"
	CodeForbidden          = "FORBIDDEN"
	CodeAlreadyResolved    = "ALREADY_RESOLVED"
	CodeBorrowRecordClosed = "BORROW_RECORD_CLOSED"
	CodeUserSuspended      = "USER_SUSPENDED"
	CodeInvalidState       = "INVALID_STATE"
	CodeConflict           = "CONFLICT"
	CodeUnavailable        = "UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// Kind groups codes into the categories callers act on.
type Kind string

// Kinds.
const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindStateConflict Kind = "state_conflict"
	KindTransient     Kind = "transient"
	KindInternal      Kind = "internal"
)

var kinds = map[string]Kind{
	CodeValidation:         KindValidation,
	CodeInvalidReference:   KindValidation,
	CodeNotFound:           KindNotFound,
	CodeNotAdmin:           KindAuthorization,
	CodeNotOwner:           KindAuthorization,
	CodeForbidden:          KindAuthorization,
	CodeAlreadyResolved:    KindStateConflict,
	CodeBorrowRecordClosed: KindStateConflict,
	CodeUserSuspended:      KindStateConflict,
	CodeInvalidState:       KindStateConflict,
	CodeConflict:           KindStateConflict,
	CodeUnavailable:        KindTransient,
	CodeInternal:           KindInternal,
}

// Sentinels for errors.Is.
var (
	ErrValidation         = &AppError{Code: CodeValidation}
	ErrInvalidReference   = &AppError{Code: CodeInvalidReference}
	ErrNotFound           = &AppError{Code: CodeNotFound}
	ErrNotAdmin           = &AppError{Code: CodeNotAdmin}
	ErrNotOwner           = &AppError{Code: CodeNotOwner}
	ErrForbidden          = &AppError{Code: CodeForbidden}
	ErrAlreadyResolved    = &AppError{Code: CodeAlreadyResolved}
	ErrBorrowRecordClosed = &AppError{Code: CodeBorrowRecordClosed}
	ErrUserSuspended      = &AppError{Code: CodeUserSuspended}
	ErrInvalidState       = &AppError{Code: CodeInvalidState}
	ErrConflict           = &AppError{Code: CodeConflict}
	ErrUnavailable        = &AppError{Code: CodeUnavailable}
	ErrInternal           = &AppError{Code: CodeInternal}
)

// AppError is a coded error with the HTTP status it maps to.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

// Error formats the code, message and cause.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// WithDetails attaches structured details and returns e.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// New creates an error with the given code and status.
func New(code, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap is New with an underlying cause.
func Wrap(err error, code, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// Validation reports malformed or out-of-range input.
func Validation(message string, details map[string]any) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    details,
	}
}

// InvalidReference reports input pointing at an entity the caller may not use.
func InvalidReference(message string) *AppError {
	return New(CodeInvalidReference, message, http.StatusUnprocessableEntity)
}

// NotFound reports a missing resource.
func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// NotFoundWithID is NotFound with the resource and id in the details.
func NotFoundWithID(resource string, id int64) *AppError {
	return NotFound(resource).WithDetails(map[string]any{"resource": resource, "id": id})
}

// NotAdmin reports a caller without the administrator role.
func NotAdmin() *AppError {
	return New(CodeNotAdmin, "administrator role required", http.StatusForbidden)
}

// NotOwner reports access to another user's resource.
func NotOwner(resource string) *AppError {
	return New(CodeNotOwner, fmt.Sprintf("%s belongs to another user", resource), http.StatusForbidden)
}

// Forbidden reports any other authorization failure.
func Forbidden(message string) *AppError {
	return New(CodeForbidden, message, http.StatusForbidden)
}

// AlreadyResolved reports a request that is no longer pending.
func AlreadyResolved(requestID int64, status string) *AppError {
	return New(CodeAlreadyResolved, "request is no longer pending", http.StatusConflict).
		WithDetails(map[string]any{"request_id": requestID, "status": status})
}

// BorrowRecordClosed reports a request whose borrow record was already closed.
func BorrowRecordClosed(borrowID int64, status string) *AppError {
	return New(CodeBorrowRecordClosed, "borrow record is already closed", http.StatusConflict).
		WithDetails(map[string]any{"borrow_record_id": borrowID, "status": status})
}

// UserSuspended reports an action refused because the account is suspended.
func UserSuspended(userID int64) *AppError {
	return New(CodeUserSuspended, "account is suspended", http.StatusConflict).
		WithDetails(map[string]any{"user_id": userID})
}

// InvalidState reports an entity not in the state an operation needs.
func InvalidState(message string) *AppError {
	return New(CodeInvalidState, message, http.StatusConflict)
}

// Conflict reports a clash with existing data, such as a taken username.
func Conflict(message string) *AppError {
	return New(CodeConflict, message, http.StatusConflict)
}

// Unavailable wraps a storage failure that persisted through retries.
func Unavailable(err error) *AppError {
	return Wrap(err, CodeUnavailable, "storage is temporarily unavailable", http.StatusServiceUnavailable)
}

// Internal wraps an unexpected failure. Its message is not shown to clients.
func Internal(message string, err error) *AppError {
	return Wrap(err, CodeInternal, message, http.StatusInternalServerError)
}

// As returns the AppError in err's chain, or an internal error wrapping err.
func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("an unexpected error occurred", err)
}

// KindOf classifies err. Errors that are not AppErrors are internal.
func KindOf(err error) Kind {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return KindInternal
	}
	if k, ok := kinds[appErr.Code]; ok {
		return k
	}
	return KindInternal
}
