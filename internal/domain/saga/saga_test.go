package saga

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRejectsUnknownValues(t *testing.T) {
	for _, s := range StepTypes() {
		got, err := ParseStepType(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	for _, s := range ReplyStatuses() {
		got, err := ParseReplyStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	for _, s := range Sources() {
		got, err := ParseSource(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseStepType("PARKING")
	require.ErrorIs(t, err, ErrUnknownValue)
	_, err = ParseReplyStatus("reserved")
	require.ErrorIs(t, err, ErrUnknownValue)
	_, err = ParseSource("billing")
	require.ErrorIs(t, err, ErrUnknownValue)
	_, err = Command("TELEPORT").Target()
	require.ErrorIs(t, err, ErrUnknownValue)
}

func TestEveryCommandHasOneTarget(t *testing.T) {
	want := map[Command]Service{
		CommandReserveRoom:         ServiceRoom,
		CommandReleaseRoom:         ServiceRoom,
		CommandChargeDeposit:       ServicePayment,
		CommandRefundDeposit:       ServicePayment,
		CommandChargeFinalPayment:  ServicePayment,
		CommandCancelFinalPayment:  ServicePayment,
		CommandNotifyCheckedIn:     ServiceNotification,
		CommandNotifyCheckInRevert: ServiceNotification,
	}
	for cmd, svc := range want {
		got, err := cmd.Target()
		require.NoError(t, err)
		assert.Equal(t, svc, got, cmd)
	}
}

func row(step StepType, status SagaStatus, at int) *OutboxMessage {
	return &OutboxMessage{
		ID:           string(step),
		SagaID:       "s-1",
		BookingID:    "b-1",
		Step:         step,
		SagaStatus:   status,
		OutboxStatus: OutboxCompleted,
		CreatedAt:    time.Unix(int64(at), 0),
	}
}

func TestRunPhase(t *testing.T) {
	cases := []struct {
		name string
		rows []*OutboxMessage
		want SagaStatus
	}{
		{"empty", nil, ""},
		{"started", []*OutboxMessage{row(StepReserveRoom, SagaStarted, 1)}, SagaStarted},
		{"processing", []*OutboxMessage{
			row(StepReserveRoom, SagaProcessing, 1), row(StepDeposit, SagaStarted, 2),
		}, SagaProcessing},
		{"succeeded", []*OutboxMessage{
			row(StepReserveRoom, SagaSucceeded, 1), row(StepDeposit, SagaSucceeded, 2),
			row(StepCheckIn, SagaSucceeded, 3), row(StepCheckOut, SagaSucceeded, 4),
		}, SagaSucceeded},
		{"compensating", []*OutboxMessage{
			row(StepReserveRoom, SagaSucceeded, 1), row(StepCancellation, SagaCompensating, 2),
		}, SagaCompensating},
		{"cancelled", []*OutboxMessage{
			row(StepReserveRoom, SagaSucceeded, 1), row(StepCancellation, SagaCompensated, 2),
		}, SagaCompensated},
		{"rejected", []*OutboxMessage{row(StepReserveRoom, SagaCompensated, 1)}, SagaCompensated},
		{"failed", []*OutboxMessage{
			row(StepReserveRoom, SagaProcessing, 1), row(StepCancellation, SagaFailed, 2),
		}, SagaFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NewRun("s-1", tc.rows).Phase())
		})
	}
}

func TestRunStalled(t *testing.T) {
	stuck := row(StepDeposit, SagaStarted, 2)
	stuck.OutboxStatus = OutboxFailed
	run := NewRun("s-1", []*OutboxMessage{stuck, row(StepReserveRoom, SagaProcessing, 1)})

	assert.Equal(t, StepReserveRoom, run.Messages[0].Step)
	assert.Equal(t, []*OutboxMessage{stuck}, run.Stalled())
	assert.Equal(t, SagaFailed, run.Phase())
	assert.EqualValues(t, "b-1", run.BookingID())
}

func TestStatusUpdateCompareAndSet(t *testing.T) {
	m := row(StepDeposit, SagaStarted, 1)
	m.OutboxStatus = OutboxStarted
	at := time.Unix(100, 0)
	claim := StatusUpdate{ID: m.ID, From: OutboxStarted, To: OutboxProcessing, Claim: "relay-a", At: at}

	require.True(t, claim.Matches(m))
	claim.Apply(m)
	assert.Equal(t, OutboxProcessing, m.OutboxStatus)
	assert.Equal(t, "relay-a", m.ClaimedBy)
	assert.Equal(t, at, m.ClaimedAt)
	assert.False(t, claim.Matches(m))

	done := StatusUpdate{ID: m.ID, From: OutboxProcessing, Owner: "relay-b", To: OutboxCompleted}
	assert.False(t, done.Matches(m))
}

func TestStatusUpdateRejectsOlderGeneration(t *testing.T) {
	m := row(StepCheckIn, SagaCompensating, 2)
	m.OutboxStatus = OutboxStarted
	claim := StatusUpdate{ID: m.ID, From: OutboxStarted, To: OutboxProcessing, Claim: "relay-a", Generation: m.Generation}
	require.True(t, claim.Matches(m))

	m.Generation++
	assert.False(t, claim.Matches(m), "row was re-armed after it was read")
	m.ClaimedBy = ""
	claim.Generation = m.Generation
	assert.True(t, claim.Matches(m))
}
