package broker_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"hotelsaga/internal/app/inbound"
	"hotelsaga/internal/app/saga"
	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
	"hotelsaga/internal/infra/broker"
)

type handlerMock struct {
	mock.Mock
}

func (m *handlerMock) Handle(ctx context.Context, source domainsaga.Source, body []byte) error {
	return m.Called(ctx, source, body).Error(0)
}

type producerMock struct {
	mock.Mock
}

func (m *producerMock) Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error {
	return m.Called(ctx, topic, key, payload, headers).Error(0)
}

func newProcessor(h broker.Handler, dlq broker.Producer) *broker.Processor {
	return &broker.Processor{
		Handler:     h,
		DeadLetter:  dlq,
		TopicPrefix: "t.",
		Attempts:    3,
		Delay:       time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestProcessRoutesBySourceTopic(t *testing.T) {
	h := &handlerMock{}
	h.On("Handle", mock.Anything, domainsaga.SourcePayment, []byte("body")).Return(nil).Once()

	err := newProcessor(h, &producerMock{}).Process(context.Background(), "t.payment.replies.v1", "k", []byte("body"))
	require.NoError(t, err)
	h.AssertExpectations(t)
}

func TestProcessDropsMalformed(t *testing.T) {
	h := &handlerMock{}
	h.On("Handle", mock.Anything, mock.Anything, mock.Anything).Return(fmt.Errorf("%w: bad json", inbound.ErrMalformed)).Once()
	dlq := &producerMock{}

	err := newProcessor(h, dlq).Process(context.Background(), "t.room.replies.v1", "k", []byte("{"))
	require.NoError(t, err)
	h.AssertNumberOfCalls(t, "Handle", 1)
	dlq.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessDeadLettersBusinessErrors(t *testing.T) {
	h := &handlerMock{}
	rejection := &saga.BusinessError{Step: domainsaga.StepDeposit, Op: saga.OpProcess, Err: domainbooking.ErrInvalidTransition}
	h.On("Handle", mock.Anything, mock.Anything, mock.Anything).Return(rejection).Once()
	dlq := &producerMock{}
	dlq.On("Publish", mock.Anything, "t.saga.deadletter.v1", "booking-1", []byte("body"), mock.MatchedBy(func(headers map[string]string) bool {
		return headers["source-topic"] == "t.payment.replies.v1" && headers["error"] != ""
	})).Return(nil).Once()

	err := newProcessor(h, dlq).Process(context.Background(), "t.payment.replies.v1", "booking-1", []byte("body"))
	require.NoError(t, err)
	dlq.AssertExpectations(t)
}

func TestProcessRetriesTransientErrors(t *testing.T) {
	h := &handlerMock{}
	h.On("Handle", mock.Anything, mock.Anything, mock.Anything).Return(domainbooking.ErrConcurrentUpdate).Twice()
	h.On("Handle", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	err := newProcessor(h, nil).Process(context.Background(), "t.guest.replies.v1", "k", []byte("body"))
	require.NoError(t, err)
	h.AssertNumberOfCalls(t, "Handle", 3)
}

func TestProcessReturnsPersistentTransientError(t *testing.T) {
	h := &handlerMock{}
	down := errors.New("store unavailable")
	h.On("Handle", mock.Anything, mock.Anything, mock.Anything).Return(down)

	err := newProcessor(h, nil).Process(context.Background(), "t.room.replies.v1", "k", []byte("body"))
	require.ErrorIs(t, err, down)
	h.AssertNumberOfCalls(t, "Handle", 3)
}

func TestProcessDeadLetterFailureMeansRedelivery(t *testing.T) {
	h := &handlerMock{}
	h.On("Handle", mock.Anything, mock.Anything, mock.Anything).
		Return(&saga.BusinessError{Step: domainsaga.StepCheckIn, Op: saga.OpProcess, Err: saga.ErrPrecondition})
	dlq := &producerMock{}
	dlq.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	err := newProcessor(h, dlq).Process(context.Background(), "t.notification.replies.v1", "k", []byte("body"))
	require.Error(t, err)
	h.AssertNumberOfCalls(t, "Handle", 1)
}

func TestProcessIgnoresUnknownTopic(t *testing.T) {
	h := &handlerMock{}
	err := newProcessor(h, nil).Process(context.Background(), "t.room.commands.v1", "k", []byte("body"))
	require.NoError(t, err)
	h.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything, mock.Anything)
}

func TestRetriable(t *testing.T) {
	assert.True(t, broker.Retriable(domainsaga.ErrConcurrentUpdate))
	assert.False(t, broker.Retriable(inbound.ErrMalformed))
	assert.False(t, broker.Retriable(&saga.BusinessError{Err: saga.ErrPrecondition}))
	assert.False(t, broker.Retriable(context.Canceled))
}
