package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
)

const outboxColumns = `id, saga_id, booking_id, step, service, command, payload, booking_status,
	saga_status, outbox_status, attempts, next_attempt_at, last_error, claimed_by, claimed_at,
	created_at, processed_at, version, generation`

// OutboxRepository serves steps when bound to a transaction and the relay
// when bound to the pool.
type OutboxRepository struct {
	q querier
}

// NewDispatchStore returns the relay-facing store over pool.
func NewDispatchStore(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{q: pool}
}

func (r *OutboxRepository) FindBySagaAndStatus(ctx context.Context, sagaID domainsaga.SagaID, step domainsaga.StepType, statuses ...domainsaga.SagaStatus) (*domainsaga.OutboxMessage, error) {
	rows, err := r.q.Query(ctx, `SELECT `+outboxColumns+` FROM saga_outbox
		WHERE saga_id = $1 AND step = $2 AND saga_status = ANY($3)
		ORDER BY created_at DESC, seq DESC LIMIT 1`,
		string(sagaID), string(step), statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	msgs, err := collect(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, domainsaga.ErrOutboxNotFound
	}
	return msgs[0], nil
}

func (r *OutboxRepository) BySaga(ctx context.Context, sagaID domainsaga.SagaID) ([]*domainsaga.OutboxMessage, error) {
	rows, err := r.q.Query(ctx, `SELECT `+outboxColumns+` FROM saga_outbox
		WHERE saga_id = $1 ORDER BY created_at, seq`, string(sagaID))
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *OutboxRepository) Save(ctx context.Context, msg *domainsaga.OutboxMessage) error {
	if msg.Version == 0 {
		_, err := r.q.Exec(ctx, `INSERT INTO saga_outbox (`+outboxColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, 1, 0)`,
			msg.ID, string(msg.SagaID), string(msg.BookingID), string(msg.Step),
			string(msg.Service), string(msg.Command), msg.Payload, string(msg.BookingStatus),
			string(msg.SagaStatus), string(msg.OutboxStatus), msg.Attempts, msg.NextAttemptAt,
			msg.LastError, msg.ClaimedBy, nullTime(msg.ClaimedAt), msg.CreatedAt, msg.ProcessedAt)
		if err != nil {
			return classify(err, domainsaga.ErrDuplicateLiveStep, domainsaga.ErrConcurrentUpdate)
		}
		msg.Version = 1
		return nil
	}
	tag, err := r.q.Exec(ctx, `UPDATE saga_outbox
		SET saga_status = $3, booking_status = $4, processed_at = $5, version = version + 1
		WHERE id = $1 AND version = $2`,
		msg.ID, msg.Version, string(msg.SagaStatus), string(msg.BookingStatus), msg.ProcessedAt)
	if err != nil {
		return classify(err, domainsaga.ErrDuplicateLiveStep, domainsaga.ErrConcurrentUpdate)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: row %s", domainsaga.ErrConcurrentUpdate, msg.ID)
	}
	msg.Version++
	return nil
}

func (r *OutboxRepository) Rearm(ctx context.Context, msg *domainsaga.OutboxMessage) error {
	tag, err := r.q.Exec(ctx, `UPDATE saga_outbox
		SET service = $2, command = $3, payload = $4, outbox_status = $5, attempts = $6,
			next_attempt_at = $7, last_error = $8, claimed_by = $9, claimed_at = $10,
			generation = generation + 1
		WHERE id = $1`,
		msg.ID, string(msg.Service), string(msg.Command), msg.Payload, string(msg.OutboxStatus),
		msg.Attempts, msg.NextAttemptAt, msg.LastError, msg.ClaimedBy, nullTime(msg.ClaimedAt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domainsaga.ErrOutboxNotFound, msg.ID)
	}
	return nil
}

func (r *OutboxRepository) Dispatchable(ctx context.Context, q domainsaga.DispatchQuery) ([]*domainsaga.OutboxMessage, error) {
	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := r.q.Query(ctx, `SELECT `+outboxColumns+` FROM saga_outbox
		WHERE (outbox_status = $1 AND next_attempt_at <= $2)
		   OR (outbox_status = $3 AND claimed_at < $4)
		ORDER BY created_at, seq LIMIT $5`,
		string(domainsaga.OutboxStarted), q.Now, string(domainsaga.OutboxProcessing), q.StaleBefore, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *OutboxRepository) MarkStatus(ctx context.Context, upd domainsaga.StatusUpdate) (bool, error) {
	var next domainsaga.OutboxMessage
	upd.Apply(&next)
	tag, err := r.q.Exec(ctx, `UPDATE saga_outbox
		SET outbox_status = $4, attempts = $5, next_attempt_at = $6, last_error = $7,
			claimed_by = $8, claimed_at = $9
		WHERE id = $1 AND outbox_status = $2 AND claimed_by = $3 AND generation = $10`,
		upd.ID, string(upd.From), upd.Owner,
		string(next.OutboxStatus), next.Attempts, next.NextAttemptAt, next.LastError,
		next.ClaimedBy, nullTime(next.ClaimedAt), upd.Generation)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OutboxRepository) Failed(ctx context.Context, limit int) ([]*domainsaga.OutboxMessage, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.q.Query(ctx, `SELECT `+outboxColumns+` FROM saga_outbox
		WHERE outbox_status = $1 ORDER BY created_at, seq LIMIT $2`,
		string(domainsaga.OutboxFailed), lim)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *OutboxRepository) Requeue(ctx context.Context, id string, now time.Time) (*domainsaga.OutboxMessage, error) {
	rows, err := r.q.Query(ctx, `UPDATE saga_outbox
		SET outbox_status = $3, attempts = 0, next_attempt_at = $4, last_error = '',
			claimed_by = '', claimed_at = NULL, generation = generation + 1
		WHERE id = $1 AND outbox_status = $2
		RETURNING `+outboxColumns,
		id, string(domainsaga.OutboxFailed), string(domainsaga.OutboxStarted), now)
	if err != nil {
		return nil, err
	}
	msgs, err := collect(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, domainsaga.ErrOutboxNotFound
	}
	return msgs[0], nil
}

func collect(rows pgx.Rows) ([]*domainsaga.OutboxMessage, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domainsaga.OutboxMessage, error) {
		return scanOutbox(row)
	})
}

func scanOutbox(row pgx.Row) (*domainsaga.OutboxMessage, error) {
	var (
		m                                         domainsaga.OutboxMessage
		sagaID, bookingID, step, service, command string
		bookingStatus, sagaStatus, outboxStatus   string
		claimedAt                                 *time.Time
	)
	err := row.Scan(
		&m.ID, &sagaID, &bookingID, &step, &service, &command, &m.Payload, &bookingStatus,
		&sagaStatus, &outboxStatus, &m.Attempts, &m.NextAttemptAt, &m.LastError, &m.ClaimedBy, &claimedAt,
		&m.CreatedAt, &m.ProcessedAt, &m.Version, &m.Generation,
	)
	if err != nil {
		return nil, err
	}
	m.SagaID = domainsaga.SagaID(sagaID)
	m.BookingID = domainbooking.BookingID(bookingID)
	m.Step = domainsaga.StepType(step)
	m.Service = domainsaga.Service(service)
	m.Command = domainsaga.Command(command)
	m.BookingStatus = domainbooking.Status(bookingStatus)
	m.SagaStatus = domainsaga.SagaStatus(sagaStatus)
	m.OutboxStatus = domainsaga.OutboxStatus(outboxStatus)
	m.NextAttemptAt = m.NextAttemptAt.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	if claimedAt != nil {
		m.ClaimedAt = claimedAt.UTC()
	}
	if m.ProcessedAt != nil {
		at := m.ProcessedAt.UTC()
		m.ProcessedAt = &at
	}
	return &m, nil
}

func statusStrings(statuses []domainsaga.SagaStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var (
	_ domainsaga.OutboxRepository = (*OutboxRepository)(nil)
	_ domainsaga.DispatchStore    = (*OutboxRepository)(nil)
)
