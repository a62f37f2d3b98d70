package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainbooking "hotelsaga/internal/domain/booking"
	"hotelsaga/internal/domain/shared/money"
)

type BookingRepository struct {
	col *mongo.Collection
}

func NewBookingRepository(db *mongo.Database) *BookingRepository {
	return &BookingRepository{col: db.Collection("agg_booking")}
}

func (r *BookingRepository) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	var doc bookingDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", domainbooking.ErrBookingNotFound, id)
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

// Save writes b when the stored version still equals b.Version. A new booking
// has version 0 and is inserted.
func (r *BookingRepository) Save(ctx context.Context, b *domainbooking.Booking) error {
	doc := newBookingDocument(b)
	filter := bson.M{"_id": doc.ID, "version": b.Version}
	doc.Version = b.Version + 1
	update := bson.M{"$set": doc}
	opts := options.Update().SetUpsert(true)
	res, err := r.col.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: booking %s", domainbooking.ErrConcurrentUpdate, b.ID)
		}
		return conflict(err, domainbooking.ErrConcurrentUpdate)
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return fmt.Errorf("%w: booking %s", domainbooking.ErrConcurrentUpdate, b.ID)
	}
	b.Version = doc.Version
	return nil
}

type bookingDocument struct {
	ID            string      `bson:"_id"`
	CustomerID    string      `bson:"customer_id"`
	RoomID        string      `bson:"room_id"`
	Status        string      `bson:"status"`
	Deposit       money.Money `bson:"deposit"`
	Total         money.Money `bson:"total"`
	DepositPaid   bool        `bson:"deposit_paid"`
	CancelledFrom string      `bson:"cancelled_from,omitempty"`
	CreatedAt     int64       `bson:"created_at"`
	UpdatedAt     int64       `bson:"updated_at"`
	Version       int64       `bson:"version"`
}

func newBookingDocument(b *domainbooking.Booking) bookingDocument {
	return bookingDocument{
		ID:            string(b.ID),
		CustomerID:    b.CustomerID,
		RoomID:        b.RoomID,
		Status:        string(b.Status),
		Deposit:       b.Deposit,
		Total:         b.Total,
		DepositPaid:   b.DepositPaid,
		CancelledFrom: string(b.CancelledFrom),
		CreatedAt:     timeToTimestamp(b.CreatedAt),
		UpdatedAt:     timeToTimestamp(b.UpdatedAt),
		Version:       b.Version,
	}
}

func (d bookingDocument) toAggregate() *domainbooking.Booking {
	return &domainbooking.Booking{
		ID:            domainbooking.BookingID(d.ID),
		CustomerID:    d.CustomerID,
		RoomID:        d.RoomID,
		Status:        domainbooking.Status(d.Status),
		Deposit:       d.Deposit,
		Total:         d.Total,
		DepositPaid:   d.DepositPaid,
		CancelledFrom: domainbooking.Status(d.CancelledFrom),
		CreatedAt:     timestampToTime(d.CreatedAt),
		UpdatedAt:     timestampToTime(d.UpdatedAt),
		Version:       d.Version,
	}
}

func timestampToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func timeToTimestamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

var _ domainbooking.Repository = (*BookingRepository)(nil)
