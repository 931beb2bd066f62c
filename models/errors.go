package models

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ErrorCode string

const (
	ErrorCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrorCodeInsufficientStock ErrorCode = "INSUFFICIENT_STOCK"
	ErrorCodeOverpayment       ErrorCode = "OVERPAYMENT"
	ErrorCodeAlreadyPaid       ErrorCode = "ALREADY_PAID"
	ErrorCodeConflict          ErrorCode = "CONFLICT"
	ErrorCodeTimeout           ErrorCode = "TIMEOUT"
)

type codedError interface {
	error
	Code() ErrorCode
}

// ErrorCodeOf returns the machine code of the first engine error in err's chain,
// or "" for anything else.
func ErrorCodeOf(err error) ErrorCode {
	var ce codedError
	if errors.As(err, &ce) {
		return ce.Code()
	}
	return ""
}

// ValidationError reports the first malformed or missing input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + " " + e.Message
}

func (e *ValidationError) Code() ErrorCode { return ErrorCodeValidation }

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Resource string
	ID       int
	Name     string
}

func (e *NotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %q (id=%d) not found", e.Resource, e.Name, e.ID)
	}
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

func (e *NotFoundError) Code() ErrorCode { return ErrorCodeNotFound }

// InsufficientStockError is raised when an adjustment would drive a stock row negative.
type InsufficientStockError struct {
	Resource  string
	ID        int
	Name      string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = fmt.Sprintf("%s %d", e.Resource, e.ID)
	}
	return fmt.Sprintf("insufficient stock on hand for %s (available=%s, requested=%s)",
		name, e.Available.String(), e.Requested.String())
}

func (e *InsufficientStockError) Code() ErrorCode { return ErrorCodeInsufficientStock }

type OverpaymentError struct {
	InvoiceId  int
	NetAmount  decimal.Decimal
	AmountPaid decimal.Decimal
	Amount     decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %s exceeds balance due %s on invoice %d",
		e.Amount.String(), e.NetAmount.Sub(e.AmountPaid).String(), e.InvoiceId)
}

func (e *OverpaymentError) Code() ErrorCode { return ErrorCodeOverpayment }

type AlreadyPaidError struct {
	InvoiceId int
}

func (e *AlreadyPaidError) Error() string {
	return fmt.Sprintf("invoice %d is already paid", e.InvoiceId)
}

func (e *AlreadyPaidError) Code() ErrorCode { return ErrorCodeAlreadyPaid }

// ConflictError wraps a duplicate key or a concurrent modification reported by the store.
type ConflictError struct {
	Reason string
	Err    error
}

func (e *ConflictError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *ConflictError) Unwrap() error { return e.Err }

func (e *ConflictError) Code() ErrorCode { return ErrorCodeConflict }

// TimeoutError means the transaction exceeded its budget and was rolled back.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	return "transaction timed out and was rolled back"
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Code() ErrorCode { return ErrorCodeTimeout }

// TranslateStoreError maps driver level failures to engine errors. Engine
// errors and unknown errors pass through unchanged.
func TranslateStoreError(err error) error {
	if err == nil {
		return nil
	}
	if ErrorCodeOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Err: err}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &ConflictError{Reason: "duplicate record", Err: err}
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062:
			return &ConflictError{Reason: "duplicate record", Err: err}
		case 1205, 1213:
			return &ConflictError{Reason: "concurrent modification, retry", Err: err}
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return &ConflictError{Reason: "duplicate record", Err: err}
		case "40001", "40P01", "55P03":
			return &ConflictError{Reason: "concurrent modification, retry", Err: err}
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return &ConflictError{Reason: "duplicate record", Err: err}
	case strings.Contains(msg, "database is locked"):
		return &ConflictError{Reason: "concurrent modification, retry", Err: err}
	}
	return err
}
