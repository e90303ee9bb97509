// Package gatewaytest provides an in-memory gateway.Gateway for tests.
package gatewaytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/you/therapy-booking/pkg/gateway"
)

var ErrUnavailable = errors.New("gatewaytest: unavailable")

// Fake dedupes transfers and refunds by idempotency key the way the real
// gateway does. Unknown accounts are fully enabled; unknown charges have no
// transfer attached.
type Fake struct {
	mu        sync.Mutex
	charges   map[string]gateway.Charge
	accounts  map[string]gateway.AccountStatus
	transfers map[string]gateway.Transfer
	refunds   map[string]gateway.Refund

	transferCalls atomic.Int64
	refundCalls   atomic.Int64

	// next N transfer calls fail transiently
	failTransfers int
	permanent     bool
	failRefunds   int
}

func New() *Fake {
	return &Fake{
		charges:   map[string]gateway.Charge{},
		accounts:  map[string]gateway.AccountStatus{},
		transfers: map[string]gateway.Transfer{},
		refunds:   map[string]gateway.Refund{},
	}
}

func (f *Fake) SetCharge(ch gateway.Charge) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.charges[ch.ID] = ch
}

func (f *Fake) SetAccount(ref string, st gateway.AccountStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[ref] = st
}

func (f *Fake) FailNextTransfers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failTransfers = n
}

func (f *Fake) RejectTransfers() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permanent = true
}

func (f *Fake) FailNextRefunds(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRefunds = n
}

// TransferCalls counts every CreateTransfer call, including failed and
// deduplicated ones.
func (f *Fake) TransferCalls() int { return int(f.transferCalls.Load()) }

func (f *Fake) RefundCalls() int { return int(f.refundCalls.Load()) }

// Transfers returns the distinct transfers created.
func (f *Fake) Transfers() []gateway.Transfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.Transfer, 0, len(f.transfers))
	for _, t := range f.transfers {
		out = append(out, t)
	}
	return out
}

func (f *Fake) CreateCharge(_ context.Context, req gateway.ChargeRequest) (gateway.Charge, error) {
	if req.Amount <= 0 {
		return gateway.Charge{}, fmt.Errorf("%w: amount must be positive", gateway.ErrPermanent)
	}
	ch := gateway.Charge{ID: "chrg_" + uuid.NewString(), Amount: req.Amount, Currency: req.Currency, Status: "pending"}
	f.SetCharge(ch)
	return ch, nil
}

func (f *Fake) RetrieveCharge(_ context.Context, chargeID string) (gateway.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.charges[chargeID]; ok {
		return ch, nil
	}
	return gateway.Charge{ID: chargeID, Status: "successful"}, nil
}

func (f *Fake) RetrieveAccountStatus(_ context.Context, ref string) (gateway.AccountStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.accounts[ref]; ok {
		return st, nil
	}
	return gateway.AccountStatus{ChargesEnabled: true, PayoutsEnabled: true}, nil
}

func (f *Fake) CreateTransfer(_ context.Context, req gateway.TransferRequest) (gateway.Transfer, error) {
	f.transferCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.permanent {
		return gateway.Transfer{}, fmt.Errorf("%w: destination rejected", gateway.ErrPermanent)
	}
	if f.failTransfers > 0 {
		f.failTransfers--
		return gateway.Transfer{}, ErrUnavailable
	}
	if t, ok := f.transfers[req.IdempotencyKey]; ok {
		return t, nil
	}
	t := gateway.Transfer{ID: "trsf_" + uuid.NewString(), Amount: req.Amount}
	f.transfers[req.IdempotencyKey] = t
	return t, nil
}

func (f *Fake) CreateRefund(_ context.Context, req gateway.RefundRequest) (gateway.Refund, error) {
	f.refundCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRefunds > 0 {
		f.failRefunds--
		return gateway.Refund{}, ErrUnavailable
	}
	if r, ok := f.refunds[req.IdempotencyKey]; ok {
		return r, nil
	}
	r := gateway.Refund{ID: "rfnd_" + uuid.NewString(), Amount: req.Amount}
	f.refunds[req.IdempotencyKey] = r
	return r, nil
}
