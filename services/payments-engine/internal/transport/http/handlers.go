package httpx

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/you/therapy-booking/pkg/events"
	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
	"github.com/you/therapy-booking/services/payments-engine/internal/refund"
)

type Handlers struct {
	d Deps
}

// POST /webhooks/payments
func (h *Handlers) Webhook(c *gin.Context) {
	var n events.Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := n.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res := h.d.Processor.Handle(c.Request.Context(), n)
	switch {
	case res.Accepted:
		c.JSON(http.StatusOK, res)
	case res.Retryable:
		// gateway retries on 5xx
		c.JSON(http.StatusServiceUnavailable, res)
	default:
		c.JSON(http.StatusUnprocessableEntity, res)
	}
}

// GET /v1/refunds/preview?booking_id=...&payment_id=...&initiator=client
func (h *Handlers) PreviewRefund(c *gin.Context) {
	calc, err := h.d.Refunds.CalculatePreview(c.Request.Context(),
		c.Query("booking_id"), c.Query("payment_id"), c.DefaultQuery("initiator", domain.InitiatorClient))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, calc)
}

// POST /v1/refunds
func (h *Handlers) ProcessRefund(c *gin.Context) {
	var in struct {
		BookingID string `json:"booking_id" binding:"required"`
		PaymentID string `json:"payment_id"`
		Initiator string `json:"initiator"  binding:"required"`
		Reason    string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, err := h.d.Refunds.Process(c.Request.Context(), refund.Request{
		BookingID: in.BookingID,
		PaymentID: in.PaymentID,
		Initiator: in.Initiator,
		Reason:    in.Reason,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toRefundView(r))
}

// POST /v1/payouts (ADMIN)
func (h *Handlers) ProcessPayout(c *gin.Context) {
	var in struct {
		BookingID  string `json:"booking_id" binding:"required"`
		PaymentID  string `json:"payment_id" binding:"required"`
		AccountRef string `json:"account_ref"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	po, err := h.d.Payouts.ProcessPayout(c.Request.Context(), in.BookingID, in.PaymentID, in.AccountRef)
	payoutResponse(c, po, err)
}

// POST /v1/payouts/:id/retry (ADMIN)
func (h *Handlers) RetryPayout(c *gin.Context) {
	po, err := h.d.Payouts.Retry(c.Request.Context(), c.Param("id"))
	payoutResponse(c, po, err)
}

// GET /v1/payouts/:id (ADMIN)
func (h *Handlers) GetPayout(c *gin.Context) {
	po, err := h.d.Payouts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toPayoutView(po))
}

func payoutResponse(c *gin.Context, po *domain.Payout, err error) {
	if err == nil {
		c.JSON(http.StatusOK, toPayoutView(po))
		return
	}
	body := gin.H{"error": err.Error()}
	if po != nil {
		body["payout"] = toPayoutView(po)
	}
	c.JSON(statusFor(err), body)
}

// GET /v1/bookings/:id
func (h *Handlers) GetBooking(c *gin.Context) {
	b, err := h.d.Bookings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingView(b))
}

// POST /v1/bookings/:id/complete (ADMIN)
func (h *Handlers) CompleteBooking(c *gin.Context) {
	b, err := h.d.Bookings.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingView(b))
}

// GET /v1/outbox/failed?limit=50 (ADMIN)
func (h *Handlers) FailedOutbox(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	items, err := h.d.Store.FailedOutbox(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]outboxView, 0, len(items))
	for i := range items {
		out = append(out, toOutboxView(&items[i]))
	}
	c.JSON(http.StatusOK, gin.H{"items": out})
}

// POST /v1/outbox/:id/requeue (ADMIN)
func (h *Handlers) RequeueOutbox(c *gin.Context) {
	ok, err := h.d.Store.RequeueOutbox(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if !ok {
		fail(c, fmt.Errorf("%w: no failed outbox item %s", domain.ErrNotFound, c.Param("id")))
		return
	}
	c.Status(http.StatusNoContent)
}
