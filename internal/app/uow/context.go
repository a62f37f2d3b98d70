package uow

import (
	"context"
	"errors"
	"fmt"
)

var ErrUnitOfWorkMissing = errors.New("uow: unit of work missing from context")

type ctxKey struct{}

// ContextWithUnitOfWork stores the provided unit of work in context.
func ContextWithUnitOfWork(ctx context.Context, unit UnitOfWork) context.Context {
	return context.WithValue(ctx, ctxKey{}, unit)
}

// FromContext retrieves a unit of work from context if present.
func FromContext(ctx context.Context) (UnitOfWork, bool) {
	unit, ok := ctx.Value(ctxKey{}).(UnitOfWork)
	return unit, ok && unit != nil
}

// ContextInjector is implemented by units whose driver needs the transaction
// carried on the context (for example a Mongo session).
type ContextInjector interface {
	InjectContext(ctx context.Context) context.Context
}

// Run executes fn inside the unit of work found on ctx or inside a fresh one
// from factory. A fresh unit is committed when fn succeeds and rolled back
// otherwise; a joined unit is left to its owner.
func Run(ctx context.Context, factory UoWFactory, opts TxOptions, fn func(ctx context.Context, unit UnitOfWork) error) error {
	if unit, ok := FromContext(ctx); ok {
		return fn(ctx, unit)
	}
	if factory == nil {
		return ErrUnitOfWorkMissing
	}
	unit, err := factory.Begin(ctx, opts)
	if err != nil {
		return fmt.Errorf("uow: begin: %w", err)
	}
	txCtx := ContextWithUnitOfWork(ctx, unit)
	if injector, ok := unit.(ContextInjector); ok {
		txCtx = injector.InjectContext(txCtx)
	}
	if err := fn(txCtx, unit); err != nil {
		if rbErr := unit.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("uow: rollback: %w", rbErr))
		}
		return err
	}
	if err := unit.Commit(txCtx); err != nil {
		_ = unit.Rollback(ctx)
		return fmt.Errorf("uow: commit: %w", err)
	}
	return nil
}
