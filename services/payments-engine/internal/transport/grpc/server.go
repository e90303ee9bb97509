package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
	"github.com/you/therapy-booking/services/payments-engine/internal/payout"
	"github.com/you/therapy-booking/services/payments-engine/internal/refund"
)

type RefundServer struct {
	refunds *refund.Orchestrator
}

func NewRefundServer(o *refund.Orchestrator) *RefundServer {
	return &RefundServer{refunds: o}
}

type PayoutServer struct {
	payouts *payout.Orchestrator
}

func NewPayoutServer(o *payout.Orchestrator) *PayoutServer {
	return &PayoutServer{payouts: o}
}

func toStatus(err error) error {
	code := codes.Unavailable
	switch {
	case errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNothingToPay):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrFinancialSafety), errors.Is(err, domain.ErrAccountNotEligible):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrLeaseHeld):
		code = codes.Aborted
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

func toRefundPB(r *domain.Refund) *Refund {
	return &Refund{
		ID:                   r.ID,
		BookingID:            r.BookingID,
		PaymentID:            r.PaymentID,
		RefundAmount:         r.RefundAmount,
		ProviderCompensation: r.ProviderCompensation,
		FeeRetained:          r.FeeRetained,
		RefundPercentage:     r.RefundPercentage,
		ReasonCode:           r.ReasonCode,
		Status:               r.Status,
	}
}

func toPayoutPB(p *domain.Payout) *Payout {
	return &Payout{
		ID:         p.ID,
		Amount:     p.Amount,
		Currency:   p.Currency,
		Status:     p.Status,
		TransferID: p.TransferID,
		RetryCount: p.RetryCount,
		LastError:  p.LastError,
	}
}

func (s *RefundServer) Preview(ctx context.Context, in *PreviewRefundRequest) (*PreviewRefundResponse, error) {
	c, err := s.refunds.CalculatePreview(ctx, in.BookingID, in.PaymentID, in.Initiator)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PreviewRefundResponse{
		RefundPercentage:     c.Percentage,
		RefundAmount:         c.RefundAmount,
		ProviderCompensation: c.ProviderCompensation,
		FeeRetained:          c.FeeRetained,
		ReasonCode:           c.ReasonCode,
		PolicyDescription:    c.Description,
		HoursBeforeSession:   c.HoursBeforeSession,
	}, nil
}

func (s *RefundServer) Process(ctx context.Context, in *ProcessRefundRequest) (*ProcessRefundResponse, error) {
	r, err := s.refunds.Process(ctx, refund.Request{
		BookingID: in.BookingID,
		PaymentID: in.PaymentID,
		Initiator: in.Initiator,
		Reason:    in.Reason,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &ProcessRefundResponse{Refund: toRefundPB(r)}, nil
}

func (s *PayoutServer) Process(ctx context.Context, in *ProcessPayoutRequest) (*ProcessPayoutResponse, error) {
	po, err := s.payouts.ProcessPayout(ctx, in.BookingID, in.PaymentID, in.AccountRef)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ProcessPayoutResponse{Payout: toPayoutPB(po)}, nil
}
