package ginserver

import (
	"net/http"
	"strconv"

	gin "github.com/gin-gonic/gin"

	"hotelsaga/internal/app/commands"
	"hotelsaga/internal/app/dto"
	"hotelsaga/internal/app/handlers/bookings"
	"hotelsaga/internal/app/queries"
)

type SagaHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
}

type startBookingRequest struct {
	BookingID  string `json:"booking_id"`
	CustomerID string `json:"customer_id"`
	RoomID     string `json:"room_id"`
	Deposit    int64  `json:"deposit"`
	Total      int64  `json:"total"`
	Currency   string `json:"currency"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h SagaHandler) Start(c *gin.Context) {
	var req startBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd := bookings.StartBookingCommand{
		BookingID:       req.BookingID,
		CustomerID:      req.CustomerID,
		RoomID:          req.RoomID,
		Deposit:         req.Deposit,
		Total:           req.Total,
		Currency:        req.Currency,
		IdempotencyKeyV: c.GetHeader("Idempotency-Key"),
	}
	result, err := commands.Dispatch[bookings.StartBookingCommand, bookings.StartBookingResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Location", "/api/v1/sagas/"+result.SagaID)
	c.JSON(http.StatusAccepted, result)
}

func (h SagaHandler) Get(c *gin.Context) {
	query := bookings.GetSagaQuery{SagaID: c.Param("sagaId")}
	view, err := queries.Ask[bookings.GetSagaQuery, dto.SagaView](c.Request.Context(), h.Queries, query)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h SagaHandler) CheckOut(c *gin.Context) {
	cmd := bookings.RequestCheckOutCommand{SagaID: c.Param("sagaId")}
	view, err := commands.Dispatch[bookings.RequestCheckOutCommand, dto.SagaView](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h SagaHandler) Cancel(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	cmd := bookings.CancelBookingCommand{SagaID: c.Param("sagaId"), Reason: req.Reason}
	view, err := commands.Dispatch[bookings.CancelBookingCommand, dto.SagaView](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type OutboxHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
}

func (h OutboxHandler) Failed(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = n
	}
	result, err := queries.Ask[bookings.ListFailedQuery, dto.OutboxCollection](c.Request.Context(), h.Queries, bookings.ListFailedQuery{Limit: limit})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h OutboxHandler) Requeue(c *gin.Context) {
	cmd := bookings.RequeueOutboxCommand{OutboxID: c.Param("id")}
	row, err := commands.Dispatch[bookings.RequeueOutboxCommand, dto.OutboxRow](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

var (
	_ SagaHTTP   = SagaHandler{}
	_ OutboxHTTP = OutboxHandler{}
)
