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
	domainsaga "hotelsaga/internal/domain/saga"
)

// OutboxRepository stores saga outbox rows. Step writes go through the
// session on ctx; the DispatchStore methods run outside of any transaction.
type OutboxRepository struct {
	col *mongo.Collection
}

const outboxCollection = "saga_outbox"

func NewOutboxRepository(db *mongo.Database) *OutboxRepository {
	return &OutboxRepository{col: db.Collection(outboxCollection)}
}

// outboxIndexes serve step lookups and the relay poll. live_step allows one
// row per (saga, step) in a live saga status.
func outboxIndexes() []mongo.IndexModel {
	live := make(bson.A, 0, len(domainsaga.LiveSagaStatuses()))
	for _, s := range domainsaga.LiveSagaStatuses() {
		live = append(live, string(s))
	}
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "saga_id", Value: 1}, {Key: "step", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "outbox_status", Value: 1}, {Key: "next_attempt_at", Value: 1}}},
		{
			Keys: bson.D{{Key: "saga_id", Value: 1}, {Key: "step", Value: 1}},
			Options: options.Index().
				SetName("live_step").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"saga_status": bson.M{"$in": live}}),
		},
	}
}

func (r *OutboxRepository) FindBySagaAndStatus(ctx context.Context, sagaID domainsaga.SagaID, step domainsaga.StepType, statuses ...domainsaga.SagaStatus) (*domainsaga.OutboxMessage, error) {
	filter := bson.M{
		"saga_id":     string(sagaID),
		"step":        string(step),
		"saga_status": bson.M{"$in": statusValues(statuses)},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "seq", Value: -1}})
	var doc outboxDocument
	if err := r.col.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainsaga.ErrOutboxNotFound
		}
		return nil, err
	}
	return doc.toMessage(), nil
}

func (r *OutboxRepository) BySaga(ctx context.Context, sagaID domainsaga.SagaID) ([]*domainsaga.OutboxMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}})
	return r.find(ctx, bson.M{"saga_id": string(sagaID)}, opts)
}

func (r *OutboxRepository) Save(ctx context.Context, msg *domainsaga.OutboxMessage) error {
	if msg.Version == 0 {
		doc := newOutboxDocument(msg)
		doc.Version = 1
		doc.Seq = time.Now().UnixNano()
		if _, err := r.col.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("%w: %s/%s: %w", domainsaga.ErrDuplicateLiveStep, msg.SagaID, msg.Step, err)
			}
			return conflict(err, domainsaga.ErrConcurrentUpdate)
		}
		msg.Version = 1
		return nil
	}
	filter := bson.M{"_id": msg.ID, "version": msg.Version}
	update := bson.M{"$set": bson.M{
		"saga_status":    string(msg.SagaStatus),
		"booking_status": string(msg.BookingStatus),
		"processed_at":   msg.ProcessedAt,
		"version":        msg.Version + 1,
	}}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s/%s: %w", domainsaga.ErrDuplicateLiveStep, msg.SagaID, msg.Step, err)
		}
		return conflict(err, domainsaga.ErrConcurrentUpdate)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: row %s", domainsaga.ErrConcurrentUpdate, msg.ID)
	}
	msg.Version++
	return nil
}

func (r *OutboxRepository) Rearm(ctx context.Context, msg *domainsaga.OutboxMessage) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": msg.ID}, bson.M{
		"$set": dispatchFields(msg),
		"$inc": bson.M{"generation": 1},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", domainsaga.ErrOutboxNotFound, msg.ID)
	}
	return nil
}

func (r *OutboxRepository) Dispatchable(ctx context.Context, q domainsaga.DispatchQuery) ([]*domainsaga.OutboxMessage, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"outbox_status": string(domainsaga.OutboxStarted), "next_attempt_at": bson.M{"$lte": q.Now}},
		bson.M{"outbox_status": string(domainsaga.OutboxProcessing), "claimed_at": bson.M{"$lt": q.StaleBefore}},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return r.find(ctx, filter, opts)
}

func (r *OutboxRepository) MarkStatus(ctx context.Context, upd domainsaga.StatusUpdate) (bool, error) {
	filter := bson.M{
		"_id":           upd.ID,
		"outbox_status": string(upd.From),
		"claimed_by":    upd.Owner,
		"generation":    upd.Generation,
	}
	var next domainsaga.OutboxMessage
	upd.Apply(&next)
	res, err := r.col.UpdateOne(ctx, filter, bson.M{"$set": statusFields(&next)})
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *OutboxRepository) Failed(ctx context.Context, limit int) ([]*domainsaga.OutboxMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return r.find(ctx, bson.M{"outbox_status": string(domainsaga.OutboxFailed)}, opts)
}

func (r *OutboxRepository) Requeue(ctx context.Context, id string, now time.Time) (*domainsaga.OutboxMessage, error) {
	var next domainsaga.OutboxMessage
	domainsaga.StatusUpdate{To: domainsaga.OutboxStarted, NextAttemptAt: now}.Apply(&next)
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc outboxDocument
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "outbox_status": string(domainsaga.OutboxFailed)},
		bson.M{"$set": statusFields(&next), "$inc": bson.M{"generation": 1}},
		opts,
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domainsaga.ErrOutboxNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toMessage(), nil
}

func (r *OutboxRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domainsaga.OutboxMessage, error) {
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []outboxDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*domainsaga.OutboxMessage, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toMessage())
	}
	return out, nil
}

type outboxDocument struct {
	ID            string     `bson:"_id"`
	SagaID        string     `bson:"saga_id"`
	BookingID     string     `bson:"booking_id"`
	Step          string     `bson:"step"`
	Service       string     `bson:"service"`
	Command       string     `bson:"command"`
	Payload       []byte     `bson:"payload"`
	BookingStatus string     `bson:"booking_status"`
	SagaStatus    string     `bson:"saga_status"`
	OutboxStatus  string     `bson:"outbox_status"`
	Attempts      int        `bson:"attempts"`
	NextAttemptAt time.Time  `bson:"next_attempt_at"`
	LastError     string     `bson:"last_error"`
	ClaimedBy     string     `bson:"claimed_by"`
	ClaimedAt     time.Time  `bson:"claimed_at"`
	CreatedAt     time.Time  `bson:"created_at"`
	ProcessedAt   *time.Time `bson:"processed_at"`
	Seq           int64      `bson:"seq"`
	Version       int64      `bson:"version"`
	Generation    int64      `bson:"generation"`
}

func newOutboxDocument(m *domainsaga.OutboxMessage) outboxDocument {
	return outboxDocument{
		ID:            m.ID,
		SagaID:        string(m.SagaID),
		BookingID:     string(m.BookingID),
		Step:          string(m.Step),
		Service:       string(m.Service),
		Command:       string(m.Command),
		Payload:       m.Payload,
		BookingStatus: string(m.BookingStatus),
		SagaStatus:    string(m.SagaStatus),
		OutboxStatus:  string(m.OutboxStatus),
		Attempts:      m.Attempts,
		NextAttemptAt: m.NextAttemptAt,
		LastError:     m.LastError,
		ClaimedBy:     m.ClaimedBy,
		ClaimedAt:     m.ClaimedAt,
		CreatedAt:     m.CreatedAt,
		ProcessedAt:   m.ProcessedAt,
		Version:       m.Version,
		Generation:    m.Generation,
	}
}

func (d outboxDocument) toMessage() *domainsaga.OutboxMessage {
	m := &domainsaga.OutboxMessage{
		ID:            d.ID,
		SagaID:        domainsaga.SagaID(d.SagaID),
		BookingID:     domainbooking.BookingID(d.BookingID),
		Step:          domainsaga.StepType(d.Step),
		Service:       domainsaga.Service(d.Service),
		Command:       domainsaga.Command(d.Command),
		Payload:       d.Payload,
		BookingStatus: domainbooking.Status(d.BookingStatus),
		SagaStatus:    domainsaga.SagaStatus(d.SagaStatus),
		OutboxStatus:  domainsaga.OutboxStatus(d.OutboxStatus),
		Attempts:      d.Attempts,
		NextAttemptAt: d.NextAttemptAt.UTC(),
		LastError:     d.LastError,
		ClaimedBy:     d.ClaimedBy,
		ClaimedAt:     d.ClaimedAt.UTC(),
		CreatedAt:     d.CreatedAt.UTC(),
		Version:       d.Version,
		Generation:    d.Generation,
	}
	if d.ProcessedAt != nil {
		at := d.ProcessedAt.UTC()
		m.ProcessedAt = &at
	}
	return m
}

// dispatchFields is the relay-owned part of a row as written by a re-arming
// step.
func dispatchFields(m *domainsaga.OutboxMessage) bson.M {
	fields := statusFields(m)
	fields["service"] = string(m.Service)
	fields["command"] = string(m.Command)
	fields["payload"] = m.Payload
	return fields
}

// statusFields is what a StatusUpdate changes.
func statusFields(m *domainsaga.OutboxMessage) bson.M {
	return bson.M{
		"outbox_status":   string(m.OutboxStatus),
		"attempts":        m.Attempts,
		"next_attempt_at": m.NextAttemptAt,
		"last_error":      m.LastError,
		"claimed_by":      m.ClaimedBy,
		"claimed_at":      m.ClaimedAt,
	}
}

func statusValues(statuses []domainsaga.SagaStatus) bson.A {
	out := make(bson.A, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

var (
	_ domainsaga.OutboxRepository = (*OutboxRepository)(nil)
	_ domainsaga.DispatchStore    = (*OutboxRepository)(nil)
)
