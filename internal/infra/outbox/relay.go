package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	appoutbox "hotelsaga/internal/app/outbox"
	domainsaga "hotelsaga/internal/domain/saga"
	"hotelsaga/internal/infra/broker"
)

var ErrRelayNotConfigured = errors.New("outbox: relay missing dependencies")

type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// Relay publishes armed outbox rows to their service's command topic. Rows
// are claimed with a conditional status update on status, owner and
// generation so several relays can share a store and a row re-armed after it
// was read is left for the next batch. A claim left PROCESSING past
// ClaimTimeout is taken over.
type Relay struct {
	Store        domainsaga.DispatchStore
	Producer     Producer
	Interval     time.Duration
	BatchSize    int
	ClaimTimeout time.Duration
	MaxAttempts  int
	TopicPrefix  string
	Source       string
	ID           string
	Backoff      []time.Duration
	Logger       *slog.Logger
	Now          func() time.Time

	idOnce sync.Once
}

func (r *Relay) Run(ctx context.Context) error {
	if r.Store == nil || r.Producer == nil {
		return ErrRelayNotConfigured
	}
	ticker := time.NewTicker(r.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger().Error("outbox relay batch failed", slog.Any("error", err))
			}
		}
	}
}

// ProcessOnce dispatches one batch and returns how many rows were published.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	now := r.now()
	rows, err := r.Store.Dispatchable(ctx, domainsaga.DispatchQuery{
		Now:         now,
		StaleBefore: now.Add(-r.claimTimeout()),
		Limit:       r.batchSize(),
	})
	if err != nil {
		return 0, fmt.Errorf("outbox: load dispatchable: %w", err)
	}
	var (
		result *multierror.Error
		sent   int
	)
	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		ok, err := r.dispatch(ctx, row)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("row %s: %w", row.ID, err))
		}
		if ok {
			sent++
		}
	}
	return sent, result.ErrorOrNil()
}

func (r *Relay) dispatch(ctx context.Context, row *domainsaga.OutboxMessage) (bool, error) {
	claim := r.workerID() + ":" + uuid.NewString()
	claimed, err := r.Store.MarkStatus(ctx, domainsaga.StatusUpdate{
		ID:            row.ID,
		From:          row.OutboxStatus,
		Owner:         row.ClaimedBy,
		Generation:    row.Generation,
		To:            domainsaga.OutboxProcessing,
		Claim:         claim,
		Attempts:      row.Attempts,
		NextAttemptAt: row.NextAttemptAt,
		LastError:     row.LastError,
		At:            r.now(),
	})
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		return false, nil
	}
	logger := r.logger().With(
		slog.String("outbox_id", row.ID),
		slog.String("saga_id", string(row.SagaID)),
		slog.String("booking_id", string(row.BookingID)),
		slog.String("command", string(row.Command)),
	)
	payload, headers, err := r.formatPayload(row)
	if err != nil {
		logger.Error("outbox row cannot be encoded", slog.Any("error", err))
		return false, r.settle(ctx, row, claim, domainsaga.OutboxFailed, row.Attempts+1, time.Time{}, err.Error())
	}
	topic := broker.CommandTopic(r.TopicPrefix, row.Service)
	if err := r.Producer.Publish(ctx, topic, string(row.BookingID), payload, headers); err != nil {
		return false, r.retry(ctx, logger, row, claim, err)
	}
	if err := r.settle(ctx, row, claim, domainsaga.OutboxCompleted, row.Attempts+1, time.Time{}, ""); err != nil {
		return true, err
	}
	logger.Debug("outbox row published", slog.String("topic", topic))
	return true, nil
}

func (r *Relay) retry(ctx context.Context, logger *slog.Logger, row *domainsaga.OutboxMessage, claim string, cause error) error {
	attempts := row.Attempts + 1
	if r.MaxAttempts > 0 && attempts >= r.MaxAttempts {
		logger.Error("outbox row failed permanently", slog.Int("attempts", attempts), slog.Any("error", cause))
		return r.settle(ctx, row, claim, domainsaga.OutboxFailed, attempts, time.Time{}, cause.Error())
	}
	logger.Warn("outbox publish failed", slog.Int("attempts", attempts), slog.Any("error", cause))
	return r.settle(ctx, row, claim, domainsaga.OutboxStarted, attempts, r.nextRetry(attempts-1), cause.Error())
}

// settle releases the claim. A lost claim means a step re-armed the row or
// another relay took it over, so the update is dropped.
func (r *Relay) settle(ctx context.Context, row *domainsaga.OutboxMessage, claim string, to domainsaga.OutboxStatus, attempts int, next time.Time, lastErr string) error {
	if next.IsZero() {
		next = row.NextAttemptAt
	}
	ok, err := r.Store.MarkStatus(ctx, domainsaga.StatusUpdate{
		ID:            row.ID,
		From:          domainsaga.OutboxProcessing,
		Owner:         claim,
		Generation:    row.Generation,
		To:            to,
		Attempts:      attempts,
		NextAttemptAt: next,
		LastError:     lastErr,
		At:            r.now(),
	})
	if err != nil {
		return fmt.Errorf("mark %s: %w", to, err)
	}
	if !ok {
		r.logger().Info("outbox claim lost", slog.String("outbox_id", row.ID), slog.String("status", string(to)))
	}
	return nil
}

func (r *Relay) formatPayload(row *domainsaga.OutboxMessage) ([]byte, map[string]string, error) {
	data, err := json.Marshal(appoutbox.NewCommandEnvelope(row))
	if err != nil {
		return nil, nil, err
	}
	evt := map[string]any{
		"specversion":     "1.0",
		"id":              uuid.NewString(),
		"type":            string(row.Command) + ".v1",
		"source":          r.source(),
		"subject":         string(row.BookingID),
		"time":            r.now(),
		"datacontenttype": "application/json",
		"data":            json.RawMessage(data),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, nil, err
	}
	headers := map[string]string{
		"content-type": "application/cloudevents+json",
		"saga-id":      string(row.SagaID),
		"outbox-id":    row.ID,
	}
	return payload, headers, nil
}

func (r *Relay) workerID() string {
	r.idOnce.Do(func() {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
	})
	return r.ID
}

func (r *Relay) interval() time.Duration {
	if r.Interval <= 0 {
		return 500 * time.Millisecond
	}
	return r.Interval
}

func (r *Relay) batchSize() int {
	if r.BatchSize <= 0 {
		return 50
	}
	return r.BatchSize
}

func (r *Relay) claimTimeout() time.Duration {
	if r.ClaimTimeout <= 0 {
		return 30 * time.Second
	}
	return r.ClaimTimeout
}

func (r *Relay) nextRetry(attempt int) time.Time {
	now := r.now()
	if attempt < len(r.Backoff) {
		return now.Add(r.Backoff[attempt])
	}
	if len(r.Backoff) > 0 {
		return now.Add(r.Backoff[len(r.Backoff)-1])
	}
	return now.Add(5 * time.Second)
}

func (r *Relay) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *Relay) source() string {
	if r.Source != "" {
		return r.Source
	}
	return "app://hotelsaga"
}

func (r *Relay) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
