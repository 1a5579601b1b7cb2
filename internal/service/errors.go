package service

import "errors"

var (
	// ErrOrderNotEligible is returned when an order has nothing physical to hand over
	// or has already been delivered.
	ErrOrderNotEligible = errors.New("order not eligible for delivery confirmation")
	ErrNotFound         = errors.New("delivery not found")
	ErrForbidden        = errors.New("forbidden")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidInput     = errors.New("invalid input")
	// ErrInvalidCode means no delivery matches the presented scan token.
	ErrInvalidCode      = errors.New("invalid delivery code")
	ErrExpired          = errors.New("delivery code expired")
	ErrAlreadyDelivered = errors.New("delivery already confirmed")
	ErrSecretMismatch   = errors.New("delivery secret does not match")
	ErrTooManyAttempts  = errors.New("too many failed confirmation attempts")
)

// outcomeOf maps an error to a metrics label.
func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyDelivered):
		return "already_delivered"
	case errors.Is(err, ErrSecretMismatch):
		return "secret_mismatch"
	case errors.Is(err, ErrTooManyAttempts):
		return "too_many_attempts"
	default:
		return "error"
	}
}
