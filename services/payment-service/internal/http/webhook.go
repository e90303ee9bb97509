// Package httpx serves the Omise webhook and the charge endpoint.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/you/therapy-booking/pkg/gateway"
	omisecli "github.com/you/therapy-booking/services/payment-service/internal/omise"
	"github.com/you/therapy-booking/services/payment-service/internal/service"
)

type EventSource interface {
	Retrieve(ctx context.Context, id string) (omisecli.Event, error)
}

type Server struct {
	events EventSource
	svc    *service.PaymentSvc
	log    *slog.Logger
}

func NewRouter(events EventSource, svc *service.PaymentSvc, log *slog.Logger) *gin.Engine {
	s := &Server{events: events, svc: svc, log: log.With("module", "webhook")}
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.POST("/webhooks/omise", s.Webhook)
	r.POST("/v1/charges", s.CreateCharge)
	return r
}

type incomingEvent struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// POST /webhooks/omise
func (s *Server) Webhook(c *gin.Context) {
	var inc incomingEvent
	if err := c.ShouldBindJSON(&inc); err != nil || inc.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}
	ctx := c.Request.Context()

	// confirm the event with Omise before trusting any of it
	ev, err := s.events.Retrieve(ctx, inc.ID)
	if err != nil {
		s.log.WarnContext(ctx, "retrieve event failed", "operation", "webhook", "event_id", inc.ID, "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	switch ev.Key {
	case "charge.complete", "charge.update":
		var ch service.Charge
		if err := json.Unmarshal(ev.Data, &ch); err != nil {
			s.log.ErrorContext(ctx, "unmarshal charge", "operation", "webhook", "event_id", ev.ID, "error", err)
			c.Status(http.StatusOK)
			return
		}
		if err := s.svc.Relay(ctx, ev.ID, ch); err != nil {
			// Omise redelivers on non-2xx
			s.log.ErrorContext(ctx, "relay failed", "operation", "webhook", "event_id", ev.ID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay failed"})
			return
		}
	default:
		s.log.DebugContext(ctx, "event ignored", "operation", "webhook", "event_id", ev.ID, "key", ev.Key)
	}
	c.Status(http.StatusOK)
}

// POST /v1/charges
func (s *Server) CreateCharge(c *gin.Context) {
	var in struct {
		Amount    int64                  `json:"amount"     binding:"required,gt=0"`
		Currency  string                 `json:"currency"   binding:"required"`
		CardToken string                 `json:"card_token" binding:"required"`
		Booking   service.BookingDetails `json:"booking"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ch, err := s.svc.CreateCardCharge(c.Request.Context(), service.CreateCardChargeInput{
		Amount:    in.Amount,
		Currency:  in.Currency,
		CardToken: in.CardToken,
		Booking:   in.Booking,
	})
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, gateway.ErrPermanent) {
			code = http.StatusUnprocessableEntity
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"charge_id": ch.ID, "status": ch.Status})
}
