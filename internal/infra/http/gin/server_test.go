package ginserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faker/faker/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelsaga/internal/app/commands"
	"hotelsaga/internal/app/dto"
	"hotelsaga/internal/app/handlers/bookings"
	"hotelsaga/internal/app/inbound"
	"hotelsaga/internal/app/middleware"
	"hotelsaga/internal/app/queries"
	"hotelsaga/internal/app/saga"
	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
	ginserver "hotelsaga/internal/infra/http/gin"
	"hotelsaga/internal/infra/obs"
	"hotelsaga/internal/infra/storage/memory"
)

type testServer struct {
	store   *memory.Store
	adapter *inbound.Adapter
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	helper, err := saga.NewHelper(store, saga.WithLogger(logger))
	require.NoError(t, err)
	adapter, err := inbound.NewAdapter(saga.Steps(helper), inbound.WithLogger(logger))
	require.NoError(t, err)

	cmdBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	bookings.Register(cmdBus, queryBus, bookings.Deps{
		UoWFactory: store,
		Saga:       helper,
		Dispatcher: adapter,
		Dispatch:   store,
	})
	validator := middleware.OzzoValidator{}
	cmds := middleware.ChainCommands(cmdBus,
		middleware.Validation(validator),
		middleware.Idempotency(memory.NewIdempotencyStore(time.Hour), nil),
		middleware.Transaction(store, nil),
	)
	qs := middleware.ChainQueries(queryBus, middleware.QueryValidation(validator))

	router := ginserver.NewRouter("test", obs.Middleware{Logger: logger}, obs.HealthHandlers{}, ginserver.Handlers{
		Saga:   ginserver.SagaHandler{Commands: cmds, Queries: qs},
		Outbox: ginserver.OutboxHandler{Commands: cmds, Queries: qs},
	})
	return &testServer{store: store, adapter: adapter, handler: router}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) start(t *testing.T, key string) bookings.StartBookingResult {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/bookings", map[string]any{
		"customer_id": faker.UUIDHyphenated(),
		"room_id":     "room-7",
		"deposit":     3000,
		"total":       12000,
		"currency":    "USD",
	}, map[string]string{"Idempotency-Key": key})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	return decode[bookings.StartBookingResult](t, rec)
}

func (s *testServer) reply(t *testing.T, res bookings.StartBookingResult, source domainsaga.Source, step domainsaga.StepType, status domainsaga.ReplyStatus) {
	t.Helper()
	require.NoError(t, s.adapter.Dispatch(context.Background(), domainsaga.Message{
		SagaID:    domainsaga.SagaID(res.SagaID),
		BookingID: domainbooking.BookingID(res.BookingID),
		Step:      step,
		Status:    status,
		Source:    source,
	}))
}

func TestStartBookingAndReadSaga(t *testing.T) {
	s := newTestServer(t)
	key := faker.UUIDHyphenated()

	first := s.start(t, key)
	again := s.start(t, key)
	assert.Equal(t, first, again)

	rec := s.do(t, http.MethodGet, "/api/v1/sagas/"+first.SagaID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[dto.SagaView](t, rec)
	assert.Equal(t, string(domainsaga.SagaStarted), view.Phase)
	require.Len(t, view.Steps, 1)
	assert.Equal(t, string(domainsaga.CommandReserveRoom), view.Steps[0].Command)
}

func TestStartBookingRejectsInvalidInput(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/bookings", map[string]any{
		"customer_id": "c",
		"room_id":     "r",
		"deposit":     500,
		"total":       100,
		"currency":    "USD",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	raw := httptest.NewRecorder()
	s.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestSagaNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/sagas/"+faker.UUIDHyphenated(), nil, map[string]string{"X-Request-ID": "req-9"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "req-9", decode[map[string]string](t, rec)["request_id"])

	rec = s.do(t, http.MethodPost, "/api/v1/sagas/"+faker.UUIDHyphenated()+"/cancel", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/sagas/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGuestCancelThroughAPI(t *testing.T) {
	s := newTestServer(t)
	res := s.start(t, "")
	s.reply(t, res, domainsaga.SourceRoom, domainsaga.StepReserveRoom, domainsaga.ReplyReserved)

	rec := s.do(t, http.MethodPost, "/api/v1/sagas/"+res.SagaID+"/cancel", map[string]string{"reason": "flight cancelled"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[dto.SagaView](t, rec)
	assert.Equal(t, "CANCELLED", view.Booking.Status)
}

func TestCancelCompletedBookingConflicts(t *testing.T) {
	s := newTestServer(t)
	res := s.start(t, "")
	s.reply(t, res, domainsaga.SourceRoom, domainsaga.StepReserveRoom, domainsaga.ReplyReserved)
	s.reply(t, res, domainsaga.SourcePayment, domainsaga.StepDeposit, domainsaga.ReplyDepositPaid)
	s.reply(t, res, domainsaga.SourceNotification, domainsaga.StepCheckIn, domainsaga.ReplyQRScanned)

	rec := s.do(t, http.MethodPost, "/api/v1/sagas/"+res.SagaID+"/checkout", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s.reply(t, res, domainsaga.SourcePayment, domainsaga.StepCheckOut, domainsaga.ReplyFinalPaid)

	rec = s.do(t, http.MethodPost, "/api/v1/sagas/"+res.SagaID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFailedOutboxAndRequeue(t *testing.T) {
	s := newTestServer(t)
	res := s.start(t, "")
	rows := s.store.Rows(domainsaga.SagaID(res.SagaID))
	require.Len(t, rows, 1)
	ok, err := s.store.MarkStatus(context.Background(), domainsaga.StatusUpdate{
		ID:        rows[0].ID,
		From:      domainsaga.OutboxStarted,
		To:        domainsaga.OutboxFailed,
		Attempts:  5,
		LastError: "broker unavailable",
		At:        time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, ok)

	rec := s.do(t, http.MethodGet, "/api/v1/outbox/failed?limit=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	failed := decode[dto.OutboxCollection](t, rec)
	require.Len(t, failed.Items, 1)
	assert.Equal(t, rows[0].ID, failed.Items[0].ID)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/outbox/failed?limit=x", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/outbox/failed?limit=5000", nil, nil).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/outbox/"+rows[0].ID+"/requeue", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(domainsaga.OutboxStarted), decode[dto.OutboxRow](t, rec).OutboxStatus)

	rec = s.do(t, http.MethodPost, "/api/v1/outbox/"+rows[0].ID+"/requeue", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodOptions, "/api/v1/bookings", nil, map[string]string{
		"Origin":                        "https://frontdesk.example",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
