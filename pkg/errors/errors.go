package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes. One per failure kind the chat core can surface.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeAccessDenied    = "ACCESS_DENIED"
	CodeRoomBlocked     = "ROOM_BLOCKED"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeStateConflict   = "STATE_CONFLICT"
	CodeForbidden       = "FORBIDDEN"
	CodeStorage         = "STORAGE_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeConflict        = "CONFLICT"
	CodeTooManyRequests = "TOO_MANY_REQUESTS"
)

// Reasons refine StateConflict and InvalidInput failures.
const (
	ReasonOfferNotPending    = "OFFER_NOT_PENDING"
	ReasonOfferChainActive   = "OFFER_CHAIN_ACTIVE"
	ReasonNegotiationClosed  = "NEGOTIATION_CLOSED"
	ReasonEditNotAllowed     = "EDIT_NOT_ALLOWED"
	ReasonInvalidReply       = "INVALID_REPLY"
	ReasonSelfChatNotAllowed = "SELF_CHAT_NOT_ALLOWED"
	ReasonRoomInactive       = "ROOM_INACTIVE"
	ReasonListingNotFound    = "LISTING_NOT_FOUND"

	ReasonEmptyMessage    = "EMPTY_MESSAGE"
	ReasonInvalidLocation = "INVALID_LOCATION"
	ReasonInvalidAmount   = "INVALID_AMOUNT"
	ReasonInvalidExpiry   = "INVALID_EXPIRY"
	ReasonInvalidContact  = "INVALID_CONTACT"
	ReasonInvalidReport   = "INVALID_REPORT"
)

type AppError struct {
	Code    string
	Reason  string
	Message string
	Status  int
	Err     error
	Details map[string]string
}

func (e *AppError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s(%s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// With attaches a context value (an id or the failed precondition) and returns e.
func (e *AppError) With(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

func New(code string, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

func AccessDenied(message string) *AppError {
	return &AppError{
		Code:    CodeAccessDenied,
		Message: message,
		Status:  http.StatusForbidden,
	}
}

func RoomBlocked(roomID string) *AppError {
	return (&AppError{
		Code:    CodeRoomBlocked,
		Message: "Chat room is blocked",
		Status:  http.StatusForbidden,
	}).With("room_id", roomID)
}

func InvalidInput(reason, message string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Reason:  reason,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func StateConflict(reason, message string) *AppError {
	return &AppError{
		Code:    CodeStateConflict,
		Reason:  reason,
		Message: message,
		Status:  http.StatusConflict,
	}
}

func Unauthorized(message string, err error) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

func Forbidden(message string, err error) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
		Status:  http.StatusForbidden,
		Err:     err,
	}
}

func StorageError(message string, err error) *AppError {
	return &AppError{
		Code:    CodeStorage,
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Internal reports an unexpected server-side failure.
func Internal(message string, err error) *AppError {
	return StorageError(message, err)
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Status:  http.StatusConflict,
	}
}

func TooManyRequests(message string, waitTime interface{}) *AppError {
	e := &AppError{
		Code:    CodeTooManyRequests,
		Message: message,
		Status:  http.StatusTooManyRequests,
	}
	if waitTime != nil {
		e.With("retry_after", fmt.Sprint(waitTime))
	}
	return e
}

// WrapStorage passes AppErrors through and reports anything else as a
// StorageError with message.
func WrapStorage(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	return StorageError(message, err)
}

func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// HasReason reports whether err is an AppError carrying the given reason.
func HasReason(err error, reason string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Reason == reason
	}
	return false
}
