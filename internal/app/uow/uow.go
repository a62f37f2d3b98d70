package uow

import (
	"context"

	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
)

// UnitOfWork coordinates the booking and outbox repositories inside one
// transaction boundary.
type UnitOfWork interface {
	Bookings() domainbooking.Repository
	Outbox() domainsaga.OutboxRepository

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UoWFactory starts unit of work instances.
type UoWFactory interface {
	Begin(ctx context.Context, opts TxOptions) (UnitOfWork, error)
}

// TxOptions configure transaction boundaries.
type TxOptions struct {
	ReadOnly bool
}
