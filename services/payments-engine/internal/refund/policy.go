// Package refund prices cancellations and records the resulting refunds.
package refund

import (
	"fmt"
	"time"

	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
)

// Reason codes.
const (
	ReasonNonClientCancellation = "non_client_cancellation"
	ReasonFullRefund            = "cancelled_48h_or_more"
	ReasonSplit                 = "cancelled_24_to_48h"
	ReasonLate                  = "cancelled_under_24h"
)

type Input struct {
	OriginalAmount   int64
	ProviderEarnings int64
	GatewayFee       int64
	CancelledAt      time.Time
	SessionAt        time.Time
	Initiator        string
}

type Calculation struct {
	Percentage           int     `json:"refund_percentage"`
	RefundAmount         int64   `json:"refund_amount"`
	ProviderCompensation int64   `json:"provider_compensation"`
	FeeRetained          int64   `json:"fee_retained"`
	ReasonCode           string  `json:"reason_code"`
	Description          string  `json:"policy_description"`
	HoursBeforeSession   float64 `json:"hours_before_session"`
}

func (in Input) Validate() error {
	switch {
	case in.OriginalAmount <= 0:
		return fmt.Errorf("%w: original amount must be positive", domain.ErrValidation)
	case in.ProviderEarnings < 0 || in.GatewayFee < 0:
		return fmt.Errorf("%w: earnings and fee must not be negative", domain.ErrValidation)
	case !in.CancelledAt.Before(in.SessionAt):
		return fmt.Errorf("%w: cancellation must come before the session", domain.ErrValidation)
	case !domain.KnownInitiator(in.Initiator):
		return fmt.Errorf("%w: unknown initiator %q", domain.ErrValidation, in.Initiator)
	}
	return nil
}

// Calculate applies the cancellation policy. It does no validation; call
// Validate first. Amounts are minor units.
func Calculate(in Input) Calculation {
	hours := in.SessionAt.Sub(in.CancelledAt).Hours()
	c := Calculation{HoursBeforeSession: hours}

	if in.Initiator != domain.InitiatorClient {
		c.Percentage = 100
		c.RefundAmount = in.OriginalAmount
		c.ReasonCode = ReasonNonClientCancellation
		c.Description = "Cancelled by the practice: full refund, no compensation."
		return c
	}

	switch {
	case hours >= 48:
		c.Percentage = 100
		c.RefundAmount = nonNegative(in.OriginalAmount - in.GatewayFee)
		c.FeeRetained = in.OriginalAmount - c.RefundAmount
		c.ReasonCode = ReasonFullRefund
		c.Description = "Cancelled at least 48 hours ahead: full refund less the processing fee."
	case hours >= 24:
		// each side gets half of the net amount, then carries half the fee
		net := nonNegative(in.OriginalAmount - in.GatewayFee)
		payerHalf := net / 2
		providerHalf := net - payerHalf
		payerFee := in.GatewayFee / 2
		providerFee := in.GatewayFee - payerFee
		c.Percentage = 50
		c.RefundAmount = nonNegative(payerHalf - payerFee)
		c.ProviderCompensation = min(nonNegative(providerHalf-providerFee), in.ProviderEarnings)
		c.FeeRetained = in.GatewayFee
		c.ReasonCode = ReasonSplit
		c.Description = "Cancelled 24 to 48 hours ahead: half refunded, half paid to the therapist, processing fee shared."
	default:
		c.ProviderCompensation = in.ProviderEarnings
		c.ReasonCode = ReasonLate
		c.Description = "Cancelled less than 24 hours ahead: no refund, the therapist keeps their share."
	}
	return c
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
