package dto

import (
	"time"

	domainbooking "hotelsaga/internal/domain/booking"
	domainsaga "hotelsaga/internal/domain/saga"
	"hotelsaga/internal/domain/shared/money"
)

type MoneyDTO struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type BookingView struct {
	ID          string    `json:"id"`
	CustomerID  string    `json:"customer_id"`
	RoomID      string    `json:"room_id"`
	Status      string    `json:"status"`
	Deposit     MoneyDTO  `json:"deposit"`
	Total       MoneyDTO  `json:"total"`
	DepositPaid bool      `json:"deposit_paid"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type OutboxRow struct {
	ID            string     `json:"id"`
	Step          string     `json:"step"`
	Command       string     `json:"command,omitempty"`
	Service       string     `json:"service,omitempty"`
	SagaStatus    string     `json:"saga_status"`
	OutboxStatus  string     `json:"outbox_status"`
	BookingStatus string     `json:"booking_status,omitempty"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

type SagaView struct {
	SagaID  string       `json:"saga_id"`
	Phase   string       `json:"phase"`
	Booking *BookingView `json:"booking,omitempty"`
	Steps   []OutboxRow  `json:"steps"`
	Stalled []string     `json:"stalled,omitempty"`
}

type OutboxCollection struct {
	Items []OutboxRow `json:"items"`
}

func MapMoney(m money.Money) MoneyDTO {
	return MoneyDTO{Amount: m.Amount, Currency: m.Currency}
}

func MapBooking(b *domainbooking.Booking) *BookingView {
	if b == nil {
		return nil
	}
	return &BookingView{
		ID:          string(b.ID),
		CustomerID:  b.CustomerID,
		RoomID:      b.RoomID,
		Status:      string(b.Status),
		Deposit:     MapMoney(b.Deposit),
		Total:       MapMoney(b.Total),
		DepositPaid: b.DepositPaid,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func MapOutboxRow(m *domainsaga.OutboxMessage) OutboxRow {
	return OutboxRow{
		ID:            m.ID,
		Step:          string(m.Step),
		Command:       string(m.Command),
		Service:       string(m.Service),
		SagaStatus:    string(m.SagaStatus),
		OutboxStatus:  string(m.OutboxStatus),
		BookingStatus: string(m.BookingStatus),
		Attempts:      m.Attempts,
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt,
		ProcessedAt:   m.ProcessedAt,
	}
}

func MapOutboxRows(rows []*domainsaga.OutboxMessage) []OutboxRow {
	out := make([]OutboxRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, MapOutboxRow(row))
	}
	return out
}

func MapSaga(run domainsaga.Run, b *domainbooking.Booking) SagaView {
	view := SagaView{
		SagaID:  string(run.SagaID),
		Phase:   string(run.Phase()),
		Booking: MapBooking(b),
		Steps:   MapOutboxRows(run.Messages),
	}
	for _, row := range run.Stalled() {
		view.Stalled = append(view.Stalled, row.ID)
	}
	return view
}
