package services

import "errors"

type ErrorCode string

const (
	ErrorInvalid         ErrorCode = "invalid"
	ErrorNotFound        ErrorCode = "not_found"
	ErrorConflict        ErrorCode = "conflict"
	ErrorSessionExpired  ErrorCode = "session_expired"
	ErrorSessionInvalid  ErrorCode = "session_invalid"
	ErrorSessionLocked   ErrorCode = "session_locked"
	ErrorTooManyRequests ErrorCode = "too_many_requests"
)

type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error  { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewNotFoundError(msg string) error { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error { return &ServiceError{Code: ErrorConflict, Message: msg} }

func NewSessionExpiredError(msg string) error {
	return &ServiceError{Code: ErrorSessionExpired, Message: msg}
}

func NewSessionInvalidError(msg string) error {
	return &ServiceError{Code: ErrorSessionInvalid, Message: msg}
}

func NewSessionLockedError(msg string) error {
	return &ServiceError{Code: ErrorSessionLocked, Message: msg}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
