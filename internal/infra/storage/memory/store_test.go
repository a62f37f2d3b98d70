package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelsaga/internal/app/uow"
	domainsaga "hotelsaga/internal/domain/saga"
)

func TestRearmAndRequeueBumpGeneration(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.PutOutbox(&domainsaga.OutboxMessage{
		ID:           "row-1",
		SagaID:       "s-1",
		BookingID:    "b-1",
		Step:         domainsaga.StepCheckIn,
		Command:      domainsaga.CommandNotifyCheckedIn,
		SagaStatus:   domainsaga.SagaProcessing,
		OutboxStatus: domainsaga.OutboxCompleted,
		CreatedAt:    now,
	})

	err := uow.Run(ctx, s, uow.TxOptions{}, func(ctx context.Context, unit uow.UnitOfWork) error {
		row, err := unit.Outbox().FindBySagaAndStatus(ctx, "s-1", domainsaga.StepCheckIn, domainsaga.SagaProcessing)
		if err != nil {
			return err
		}
		row.SagaStatus = domainsaga.SagaCompensated
		if err := unit.Outbox().Save(ctx, row); err != nil {
			return err
		}
		row.Command = domainsaga.CommandNotifyCheckInRevert
		row.OutboxStatus = domainsaga.OutboxStarted
		return unit.Outbox().Rearm(ctx, row)
	})
	require.NoError(t, err)
	row := s.Rows("s-1")[0]
	assert.Equal(t, int64(1), row.Generation)
	assert.Equal(t, int64(2), row.Version)
	assert.Equal(t, domainsaga.CommandNotifyCheckInRevert, row.Command)

	stale := domainsaga.StatusUpdate{ID: "row-1", From: domainsaga.OutboxStarted, To: domainsaga.OutboxFailed}
	ok, err := s.MarkStatus(ctx, stale)
	require.NoError(t, err)
	assert.False(t, ok)

	stale.Generation = 1
	ok, err = s.MarkStatus(ctx, stale)
	require.NoError(t, err)
	require.True(t, ok)

	requeued, err := s.Requeue(ctx, "row-1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), requeued.Generation)
	assert.Equal(t, int64(2), requeued.Version, "requeue leaves the step version alone")
}
