// Package gateway is the narrow contract the engine uses to move money.
// Every call that creates money movement takes an idempotency key.
package gateway

import (
	"context"
	"errors"
)

type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (Transfer, error)
	RetrieveAccountStatus(ctx context.Context, accountRef string) (AccountStatus, error)
	RetrieveCharge(ctx context.Context, chargeID string) (Charge, error)
	CreateRefund(ctx context.Context, req RefundRequest) (Refund, error)
}

type ChargeRequest struct {
	Amount    int64
	Currency  string
	CardToken string
	Metadata  map[string]string
}

type Charge struct {
	ID       string
	Amount   int64
	Currency string
	Status   string
	// TransferAttached reports funds already split off this charge, e.g. by
	// a destination charge created outside the payout flow.
	TransferAttached bool
	TransferID       string
}

type TransferRequest struct {
	Amount         int64
	Currency       string
	Destination    string
	IdempotencyKey string
	Metadata       map[string]string
}

type Transfer struct {
	ID     string
	Amount int64
}

type AccountStatus struct {
	ChargesEnabled bool
	PayoutsEnabled bool
}

type RefundRequest struct {
	ChargeID       string
	Amount         int64
	IdempotencyKey string
}

type Refund struct {
	ID     string
	Amount int64
}

// ErrPermanent marks a gateway rejection that retrying will not fix.
var ErrPermanent = errors.New("gateway: permanent failure")

func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }
