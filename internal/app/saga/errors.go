package saga

import (
	"errors"
	"fmt"

	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
)

var (
	// ErrSkip aborts a step transaction without side effects. WriteOutbox
	// reports it as success.
	ErrSkip = errors.New("saga: step skipped")

	ErrPrecondition    = errors.New("saga: booking precondition failed")
	ErrBookingMismatch = errors.New("saga: outbox row belongs to another booking")
	ErrBookingExists   = errors.New("saga: booking already exists")
	ErrUnsupported     = errors.New("saga: unsupported reply for step")
)

// BusinessError reports a step rejected by a domain rule. Redelivering the
// same message cannot succeed.
type BusinessError struct {
	Step domainsaga.StepType
	Op   Op
	Err  error
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("saga: %s %s rejected: %v", e.Step, e.Op, e.Err)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// IsBusiness reports whether err is, or wraps, a business rejection.
func IsBusiness(err error) bool {
	var be *BusinessError
	return errors.As(err, &be)
}

func isBusiness(err error) bool {
	switch {
	case errors.Is(err, domainbooking.ErrInvalidTransition),
		errors.Is(err, ErrPrecondition),
		errors.Is(err, ErrBookingMismatch),
		errors.Is(err, ErrUnsupported):
		return true
	}
	return false
}

func precondition(b *domainbooking.Booking, want ...domainbooking.Status) error {
	return fmt.Errorf("%w: booking %s is %s, want %v", ErrPrecondition, b.ID, b.Status, want)
}
