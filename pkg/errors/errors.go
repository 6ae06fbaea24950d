package errors

import (
	"errors"
	"fmt"
	"net/http"

	"syncroom/internal/core/domain"
)

// ErrorCode identifies a rejected action to the client. Codes are part of
// the wire contract: the UI distinguishes them, they are never collapsed
// into a generic failure string.
type ErrorCode string

const (
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeRoomFull         ErrorCode = "ROOM_FULL"
	CodeRoomNotFound     ErrorCode = "ROOM_NOT_FOUND"
	CodeUserNotInRoom    ErrorCode = "USER_NOT_IN_ROOM"
	CodeNotAuthorized    ErrorCode = "NOT_AUTHORIZED"
	CodeChecksumMismatch ErrorCode = "CHECKSUM_MISMATCH"
	CodeTransferAborted  ErrorCode = "TRANSFER_ABORTED"
	CodeConnectionLost   ErrorCode = "CONNECTION_LOST"
	CodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// AppError carries a code, a human-readable message and the HTTP status the
// REST boundary maps it to.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Cause: err}
}

func NewInvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message, http.StatusBadRequest)
}

func NewInternal(message string) *AppError {
	return New(CodeInternal, message, http.StatusInternalServerError)
}

// FromDomain maps domain sentinel errors to their client-facing form. Errors
// with no mapping become INTERNAL_ERROR without leaking internals.
func FromDomain(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrRoomFull):
		return Wrap(err, CodeRoomFull, "room is full", http.StatusConflict)
	case errors.Is(err, domain.ErrRoomNotFound):
		return Wrap(err, CodeRoomNotFound, "room not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrUserNotInRoom), errors.Is(err, domain.ErrMemberNotFound):
		return Wrap(err, CodeUserNotInRoom, "you are not a member of this room", http.StatusForbidden)
	case errors.Is(err, domain.ErrNotAuthorized):
		return Wrap(err, CodeNotAuthorized, "only the host may perform this action", http.StatusForbidden)
	case errors.Is(err, domain.ErrChecksumMismatch):
		return Wrap(err, CodeChecksumMismatch, "chunk failed integrity verification", http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrTransferAborted):
		return Wrap(err, CodeTransferAborted, "chunk transfer aborted after repeated failures", http.StatusBadGateway)
	case errors.Is(err, domain.ErrConnectionLost):
		return Wrap(err, CodeConnectionLost, "peer connection lost", http.StatusBadGateway)
	default:
		return Wrap(err, CodeInternal, "internal error", http.StatusInternalServerError)
	}
}
