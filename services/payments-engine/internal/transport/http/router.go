// Package httpx exposes the engine over HTTP: the payment webhook, the
// refund and payout APIs and the operator endpoints.
package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/you/therapy-booking/pkg/auth"
	"github.com/you/therapy-booking/services/payments-engine/internal/payout"
	"github.com/you/therapy-booking/services/payments-engine/internal/processor"
	"github.com/you/therapy-booking/services/payments-engine/internal/refund"
	"github.com/you/therapy-booking/services/payments-engine/internal/repository"
	"github.com/you/therapy-booking/services/payments-engine/internal/service"
)

type Deps struct {
	Store     *repository.Store
	Processor *processor.Processor
	Refunds   *refund.Orchestrator
	Payouts   *payout.Orchestrator
	Bookings  *service.BookingSvc
	Verifier  *auth.Verifier
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	h := &Handlers{d: d}

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/webhooks/payments", h.Webhook)

	api := r.Group("/v1", JWTAuth(d.Verifier))
	{
		api.GET("/refunds/preview", h.PreviewRefund)
		api.POST("/refunds", h.ProcessRefund)
		api.GET("/bookings/:id", h.GetBooking)
	}

	ops := r.Group("/v1", JWTAuth(d.Verifier), RequireRole(auth.RoleAdmin))
	{
		ops.POST("/payouts", h.ProcessPayout)
		ops.GET("/payouts/:id", h.GetPayout)
		ops.POST("/payouts/:id/retry", h.RetryPayout)
		ops.POST("/bookings/:id/complete", h.CompleteBooking)
		ops.GET("/outbox/failed", h.FailedOutbox)
		ops.POST("/outbox/:id/requeue", h.RequeueOutbox)
	}
	return r
}

func (h *Handlers) Health(c *gin.Context) {
	if err := h.d.Store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
