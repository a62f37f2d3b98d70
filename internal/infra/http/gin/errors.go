package ginserver

import (
	"errors"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"hotelsaga/internal/app/handlers/bookings"
	"hotelsaga/internal/app/middleware"
	"hotelsaga/internal/app/saga"
	domainbooking "hotelsaga/internal/domain/booking"
	"hotelsaga/internal/infra/obs"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, middleware.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, bookings.ErrSagaNotFound),
		errors.Is(err, bookings.ErrOutboxNotFound),
		errors.Is(err, domainbooking.ErrBookingNotFound):
		return http.StatusNotFound
	case saga.IsBusiness(err), errors.Is(err, middleware.ErrCommandInFlight):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg, "request_id": obs.RequestIDFromContext(c.Request.Context())})
}
