package httpx

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNothingToPay):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrFinancialSafety),
		errors.Is(err, domain.ErrAccountNotEligible),
		errors.Is(err, domain.ErrLeaseHeld):
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
