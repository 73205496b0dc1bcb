package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrorKind - категория ошибки сервиса, по ней контроллеры выбирают HTTP статус
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindBadRequest ErrorKind = "bad_request"
)

// ServiceError - типизированная ошибка складского ядра
type ServiceError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is сравнивает по категории, чтобы работал errors.Is(err, ErrNotFound)
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

var (
	ErrNotFound   = &ServiceError{Kind: KindNotFound}
	ErrConflict   = &ServiceError{Kind: KindConflict}
	ErrBadRequest = &ServiceError{Kind: KindBadRequest}
)

func notFound(format string, args ...interface{}) error {
	return &ServiceError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...interface{}) error {
	return &ServiceError{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func badRequest(format string, args ...interface{}) error {
	return &ServiceError{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// KindOf возвращает категорию ошибки или пустую строку для внутренних ошибок
func KindOf(err error) ErrorKind {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return ""
}

// lookupErr переводит gorm.ErrRecordNotFound в NotFound, остальное оборачивает
func lookupErr(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ServiceError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
