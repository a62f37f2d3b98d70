package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	domainbooking "hotelsaga/internal/domain/booking"
	"hotelsaga/internal/domain/shared/money"
)

const bookingColumns = `id, customer_id, room_id, status, deposit_amount, deposit_currency,
	total_amount, total_currency, deposit_paid, cancelled_from, created_at, updated_at, version`

// BookingRepository reads and writes bookings inside a transaction. With lock
// set, ByID takes the row lock that serializes steps of one booking.
type BookingRepository struct {
	q    querier
	lock bool
}

func (r *BookingRepository) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	sql := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	if r.lock {
		sql += ` FOR UPDATE`
	}
	var (
		b                           domainbooking.Booking
		bookingID, status, canceled string
		depositCur, totalCur        string
	)
	err := r.q.QueryRow(ctx, sql, string(id)).Scan(
		&bookingID, &b.CustomerID, &b.RoomID, &status,
		&b.Deposit.Amount, &depositCur, &b.Total.Amount, &totalCur,
		&b.DepositPaid, &canceled, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domainbooking.ErrBookingNotFound, id)
	}
	if err != nil {
		return nil, classify(err, domainbooking.ErrConcurrentUpdate, domainbooking.ErrConcurrentUpdate)
	}
	b.ID = domainbooking.BookingID(bookingID)
	b.Status = domainbooking.Status(status)
	b.CancelledFrom = domainbooking.Status(canceled)
	b.Deposit = money.Money{Amount: b.Deposit.Amount, Currency: depositCur}
	b.Total = money.Money{Amount: b.Total.Amount, Currency: totalCur}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

// Save inserts a booking at version 0 and otherwise updates it when the
// stored version still matches.
func (r *BookingRepository) Save(ctx context.Context, b *domainbooking.Booking) error {
	args := []any{
		string(b.ID), b.CustomerID, b.RoomID, string(b.Status),
		b.Deposit.Amount, b.Deposit.Currency, b.Total.Amount, b.Total.Currency,
		b.DepositPaid, string(b.CancelledFrom), b.CreatedAt, b.UpdatedAt, b.Version,
	}
	var sql string
	if b.Version == 0 {
		sql = `INSERT INTO bookings (` + bookingColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO NOTHING`
		args[12] = b.Version + 1
	} else {
		sql = `UPDATE bookings SET customer_id = $2, room_id = $3, status = $4,
			deposit_amount = $5, deposit_currency = $6, total_amount = $7, total_currency = $8,
			deposit_paid = $9, cancelled_from = $10, created_at = $11, updated_at = $12,
			version = version + 1
			WHERE id = $1 AND version = $13`
	}
	tag, err := r.q.Exec(ctx, sql, args...)
	if err != nil {
		return classify(err, domainbooking.ErrConcurrentUpdate, domainbooking.ErrConcurrentUpdate)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: booking %s at version %d", domainbooking.ErrConcurrentUpdate, b.ID, b.Version)
	}
	b.Version++
	return nil
}

var _ domainbooking.Repository = (*BookingRepository)(nil)
