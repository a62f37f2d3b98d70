package ginserver

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"hotelsaga/internal/app/middleware"
	"hotelsaga/internal/app/saga"
	domainbooking "hotelsaga/internal/domain/booking"
)

func TestStatusFor(t *testing.T) {
	for err, want := range map[error]int{
		fmt.Errorf("%w: room_id", middleware.ErrInvalidInput):          http.StatusBadRequest,
		fmt.Errorf("%w: b-1", domainbooking.ErrBookingNotFound):        http.StatusNotFound,
		&saga.BusinessError{Err: saga.ErrPrecondition}:                 http.StatusConflict,
		fmt.Errorf("start booking: %w", middleware.ErrCommandInFlight): http.StatusConflict,
		errors.New("connection refused"):                               http.StatusInternalServerError,
	} {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}
