package service

import (
	"errors"
	"fmt"
)

// Ошибки уровня хранилища, которые репозитории оборачивают через %w
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ErrorKind - класс ошибки бизнес-логики
type ErrorKind string

const (
	KindUnauthenticated ErrorKind = "UNAUTHENTICATED"
	KindForbidden       ErrorKind = "FORBIDDEN"
	KindValidation      ErrorKind = "VALIDATION"
	KindNotFound        ErrorKind = "NOT_FOUND"
	KindConflict        ErrorKind = "CONFLICT"
	KindUpstream        ErrorKind = "UPSTREAM"
)

// Error - ошибка сервиса с классом, понятным транспортному слою
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewUnauthenticatedError(message string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: message}
}

func NewForbiddenError(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func NewNotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// NewConflictError - нарушено предусловие перехода; сообщение называет текущий статус
func NewConflictError(message string, err error) *Error {
	return &Error{Kind: KindConflict, Message: message, Err: err}
}

// NewUpstreamError - сбой хранилища или гео-запроса; клиент может повторить запрос
func NewUpstreamError(message string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: message, Err: err}
}

// KindOf возвращает класс ошибки; неизвестные ошибки считаются сбоем хранилища
func KindOf(err error) ErrorKind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindUpstream
}

// MessageOf возвращает сообщение, безопасное для клиента
func MessageOf(err error) string {
	var svcErr *Error
	if errors.As(err, &svcErr) && svcErr.Kind != KindUpstream {
		return svcErr.Message
	}
	return "internal server error"
}
