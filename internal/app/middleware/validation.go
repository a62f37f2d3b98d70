package middleware

import (
	"context"
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"hotelsaga/internal/app/commands"
	"hotelsaga/internal/app/queries"
)

var ErrInvalidInput = errors.New("middleware: invalid input")

type Validator interface {
	Validate(ctx context.Context, message any) error
}

// OzzoValidator validates messages implementing ozzo's Validatable or
// ValidatableWithContext. Other messages pass through.
type OzzoValidator struct{}

func (OzzoValidator) Validate(ctx context.Context, message any) error {
	var err error
	switch v := message.(type) {
	case validation.ValidatableWithContext:
		err = v.ValidateWithContext(ctx)
	case validation.Validatable:
		err = v.Validate()
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

func Validation(v Validator) CommandMiddleware {
	if v == nil {
		panic("middleware: validator required")
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if err := v.Validate(ctx, cmd); err != nil {
				return nil, err
			}
			return next.Dispatch(ctx, cmd)
		})
	}
}

func QueryValidation(v Validator) QueryMiddleware {
	if v == nil {
		panic("middleware: validator required")
	}
	return func(next queries.Bus) queries.Bus {
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			if err := v.Validate(ctx, q); err != nil {
				return nil, err
			}
			return next.Ask(ctx, q)
		})
	}
}
