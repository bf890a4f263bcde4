package utils

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorKind classifies business-rule violations so HTTP handlers can map them
// without string matching.
type ErrorKind string

const (
	ErrorKindNotFound          ErrorKind = "NotFound"
	ErrorKindInvalidState      ErrorKind = "InvalidState"
	ErrorKindInsufficientStock ErrorKind = "InsufficientStock"
	ErrorKindInvalidAmount     ErrorKind = "InvalidAmount"
	ErrorKindConflict          ErrorKind = "Conflict"
)

type AppError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

// HTTPStatus maps an error kind to a response code.
func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindConflict:
		return http.StatusConflict
	case ErrorKindInvalidState, ErrorKindInsufficientStock, ErrorKindInvalidAmount:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{Kind: ErrorKindNotFound, Message: resource + " not found"}
}

func NewInvalidStateError(message string) *AppError {
	return &AppError{Kind: ErrorKindInvalidState, Message: message}
}

func NewInvalidAmountError(message string) *AppError {
	return &AppError{Kind: ErrorKindInvalidAmount, Message: message}
}

// NewInsufficientStockError carries enough detail for the caller to act
// ("X available, Y requested").
func NewInsufficientStockError(productName string, available decimal.Decimal, requested decimal.Decimal) *AppError {
	return &AppError{
		Kind:    ErrorKindInsufficientStock,
		Message: fmt.Sprintf("insufficient stock on hand for %s (available=%s, requested=%s)", productName, available.String(), requested.String()),
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{Kind: ErrorKindConflict, Message: message}
}

// AsAppError converts any error to an AppError; unclassified errors map to
// internal server errors at the boundary.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	if errors.Is(err, ErrorRecordNotFound) {
		return &AppError{Kind: ErrorKindNotFound, Message: err.Error()}, true
	}
	return nil, false
}
