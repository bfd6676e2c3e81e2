package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures
type ErrorKind string

const (
	KindInvalidInput         ErrorKind = "invalid_input"
	KindRetrievalUnavailable ErrorKind = "retrieval_unavailable"
	KindGenerationFailed     ErrorKind = "generation_failed"
	KindDeliveryFailed       ErrorKind = "delivery_failed"
	KindPersistenceFailed    ErrorKind = "persistence_failed"
	KindNotFound             ErrorKind = "not_found"
)

// Sentinel errors, one per kind, for errors.Is
var (
	ErrInvalidInput         = errors.New(string(KindInvalidInput))
	ErrRetrievalUnavailable = errors.New(string(KindRetrievalUnavailable))
	ErrGenerationFailed     = errors.New(string(KindGenerationFailed))
	ErrDeliveryFailed       = errors.New(string(KindDeliveryFailed))
	ErrPersistenceFailed    = errors.New(string(KindPersistenceFailed))
	ErrNotFound             = errors.New(string(KindNotFound))
)

var sentinels = map[ErrorKind]error{
	KindInvalidInput:         ErrInvalidInput,
	KindRetrievalUnavailable: ErrRetrievalUnavailable,
	KindGenerationFailed:     ErrGenerationFailed,
	KindDeliveryFailed:       ErrDeliveryFailed,
	KindPersistenceFailed:    ErrPersistenceFailed,
	KindNotFound:             ErrNotFound,
}

// Error is a classified pipeline error
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the failing operation
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel so errors.Is(err, ErrDeliveryFailed) works
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// KindOf returns the kind of err, or "" if it is not classified
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
