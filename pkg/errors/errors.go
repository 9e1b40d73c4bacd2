package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrAlreadyExists      = errors.New("resource already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternal           = errors.New("internal error")
	ErrConflict           = errors.New("conflict")
	ErrNotEligible        = errors.New("promotion not eligible")
	ErrInvalidCode        = errors.New("invalid voucher code")
	ErrCapacityExceeded   = errors.New("promotion capacity exceeded")
	ErrReservationExpired = errors.New("reservation expired")
	ErrReservationFailed  = errors.New("reservation failed")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// AlreadyExists creates a 409 error.
func AlreadyExists(resource, field, value string) *AppError {
	return &AppError{
		Code:    "ALREADY_EXISTS",
		Message: fmt.Sprintf("%s with %s %q already exists", resource, field, value),
		Status:  http.StatusConflict,
		Err:     ErrAlreadyExists,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// NotEligible creates a 422 error carrying the specific business-rule reason.
// The caller may re-quote without the promotion; retrying unchanged is pointless.
func NotEligible(reason string) *AppError {
	return &AppError{
		Code:    "NOT_ELIGIBLE",
		Message: reason,
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrNotEligible,
	}
}

// InvalidCode creates a 422 error for a voucher code that matches no promotion.
func InvalidCode(code string) *AppError {
	return &AppError{
		Code:    "INVALID_CODE",
		Message: fmt.Sprintf("voucher code %q is not recognized", code),
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrInvalidCode,
	}
}

// CapacityExceeded creates a 409 error for a lost race on limited usage/stock.
// Safe to retry against a re-fetched eligible set.
func CapacityExceeded(promotionID string) *AppError {
	return &AppError{
		Code:    "CAPACITY_EXCEEDED",
		Message: fmt.Sprintf("promotion %s has no remaining capacity", promotionID),
		Status:  http.StatusConflict,
		Err:     ErrCapacityExceeded,
	}
}

// ReservationExpired creates a 410 error for a lease that lapsed before commit.
// The caller must re-run eligibility and reservation from scratch.
func ReservationExpired(token string) *AppError {
	return &AppError{
		Code:    "RESERVATION_EXPIRED",
		Message: fmt.Sprintf("reservation %s expired before commit", token),
		Status:  http.StatusGone,
		Err:     ErrReservationExpired,
	}
}

// ReservationFailed creates a 500 error for storage failures underlying the
// atomic counter operations. Unlike the rest of the taxonomy it is not
// recoverable by the caller.
func ReservationFailed(err error) *AppError {
	return &AppError{
		Code:    "RESERVATION_FAILED",
		Message: "reservation could not be processed",
		Status:  http.StatusInternalServerError,
		Err:     fmt.Errorf("%w: %w", ErrReservationFailed, err),
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotEligible), errors.Is(err, ErrInvalidCode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrCapacityExceeded):
		return http.StatusConflict
	case errors.Is(err, ErrReservationExpired):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
