package apperrors

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Kind classifies failures by how callers should react to them.
type Kind string

const (
	// KindValidation marks missing or malformed input. Not retried.
	KindValidation Kind = "validation"
	// KindNotFound marks a referenced habit, completion or user that does not exist.
	KindNotFound Kind = "not_found"
	// KindConflict marks a duplicate unique key.
	KindConflict Kind = "conflict"
	// KindTransient marks an unavailable store; eligible for retry with backoff.
	KindTransient Kind = "transient"
	// KindPermanent marks a non-retryable store failure.
	KindPermanent Kind = "permanent"
)

// Error carries a failure kind, a dotted code and the underlying cause.
type Error struct {
	kind Kind
	code string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the "<operation>.<reason>" identifier.
func (e *Error) Code() string {
	return e.code
}

// Kind returns the failure classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Reason returns the last segment of the code.
func (e *Error) Reason() string {
	index := strings.LastIndex(e.code, ".")
	if index < 0 {
		return e.code
	}
	return e.code[index+1:]
}

// New builds an Error with code "<operation>.<reason>".
func New(kind Kind, operation, reason string, cause error) error {
	return &Error{kind: kind, code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Validation is shorthand for New(KindValidation, ...).
func Validation(operation, reason string, cause error) error {
	return New(KindValidation, operation, reason, cause)
}

// NotFound is shorthand for New(KindNotFound, ...).
func NotFound(operation, reason string, cause error) error {
	return New(KindNotFound, operation, reason, cause)
}

// KindOf returns the kind of the first *Error in the chain, or KindPermanent.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.kind
	}
	return KindPermanent
}

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindTransient
}

// ClassifyStore wraps a storage error with the kind its cause implies.
func ClassifyStore(operation, reason string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	return New(storeKind(err), operation, reason, err)
}

func storeKind(err error) Kind {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return KindNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return KindConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, driver.ErrBadConn):
		return KindTransient
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return postgresKind(pgErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}

	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "unique constraint"):
		return KindConflict
	case strings.Contains(message, "database is locked"),
		strings.Contains(message, "sqlite_busy"),
		strings.Contains(message, "database table is locked"),
		strings.Contains(message, "connection refused"):
		return KindTransient
	}
	return KindPermanent
}

func postgresKind(code string) Kind {
	switch {
	case code == "23505":
		return KindConflict
	case strings.HasPrefix(code, "08"), code == "40001", code == "40P01", code == "57P01", code == "53300":
		return KindTransient
	}
	return KindPermanent
}
