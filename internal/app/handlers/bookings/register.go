package bookings

import (
	"time"

	"hotelsaga/internal/app/commands"
	"hotelsaga/internal/app/dto"
	"hotelsaga/internal/app/queries"
	"hotelsaga/internal/app/saga"
	"hotelsaga/internal/app/uow"
	domainsaga "hotelsaga/internal/domain/saga"
)

type Deps struct {
	UoWFactory uow.UoWFactory
	Saga       *saga.Helper
	Dispatcher Dispatcher
	Dispatch   domainsaga.DispatchStore
	Now        func() time.Time
}

// Register attaches every booking handler to the buses.
func Register(cmdBus *commands.InMemoryBus, queryBus *queries.InMemoryBus, deps Deps) {
	guest := &GuestActionHandler{UoWFactory: deps.UoWFactory, Dispatcher: deps.Dispatcher}

	commands.Register[StartBookingCommand, StartBookingResult](cmdBus, &StartBookingHandler{Saga: deps.Saga})
	commands.Register[RequestCheckOutCommand, dto.SagaView](cmdBus, commands.HandlerFunc[RequestCheckOutCommand, dto.SagaView](guest.CheckOut))
	commands.Register[CancelBookingCommand, dto.SagaView](cmdBus, commands.HandlerFunc[CancelBookingCommand, dto.SagaView](guest.Cancel))
	commands.Register[RequeueOutboxCommand, dto.OutboxRow](cmdBus, &RequeueOutboxHandler{Store: deps.Dispatch, Now: deps.Now})

	queries.Register[GetSagaQuery, dto.SagaView](queryBus, &GetSagaHandler{UoWFactory: deps.UoWFactory})
	queries.Register[ListFailedQuery, dto.OutboxCollection](queryBus, &ListFailedHandler{Store: deps.Dispatch})
}
