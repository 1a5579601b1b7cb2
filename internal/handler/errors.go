package handler

import (
	"errors"
	"net/http"

	"github.com/bharathbbg/delivery-confirmation-service/internal/service"
)

// mapError turns a service error into status, code and a message safe to show the caller.
func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "not allowed to access this delivery"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "delivery not found"
	case errors.Is(err, service.ErrInvalidCode):
		return http.StatusNotFound, "INVALID_CODE", "invalid QR code"
	case errors.Is(err, service.ErrAlreadyDelivered):
		return http.StatusConflict, "ALREADY_DELIVERED", "order has already been delivered"
	case errors.Is(err, service.ErrExpired):
		return http.StatusGone, "CODE_EXPIRED", "QR code has expired"
	case errors.Is(err, service.ErrSecretMismatch):
		return http.StatusUnprocessableEntity, "SECRET_MISMATCH", "invalid QR secret"
	case errors.Is(err, service.ErrOrderNotEligible):
		return http.StatusUnprocessableEntity, "ORDER_NOT_ELIGIBLE", "order has no physical items awaiting delivery"
	case errors.Is(err, service.ErrTooManyAttempts):
		return http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "too many failed attempts, try again later"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}
