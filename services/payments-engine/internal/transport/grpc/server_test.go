package grpc_test

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/you/therapy-booking/pkg/events"
	"github.com/you/therapy-booking/pkg/gateway/gatewaytest"
	"github.com/you/therapy-booking/services/payments-engine/internal/payout"
	"github.com/you/therapy-booking/services/payments-engine/internal/processor"
	"github.com/you/therapy-booking/services/payments-engine/internal/refund"
	"github.com/you/therapy-booking/services/payments-engine/internal/repository"
	"github.com/you/therapy-booking/services/payments-engine/internal/testutil"
	tgrpc "github.com/you/therapy-booking/services/payments-engine/internal/transport/grpc"
)

type fixture struct {
	store   *repository.Store
	proc    *processor.Processor
	refunds *tgrpc.RefundServiceClient
	payouts *tgrpc.PayoutServiceClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewStore(t)
	gw := gatewaytest.New()
	now, _ := testutil.Clock()
	policy := testutil.Policy()
	log := testutil.Logger()

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	tgrpc.RegisterRefundServiceServer(gs, tgrpc.NewRefundServer(refund.NewOrchestrator(store, gw, policy, log).WithClock(now)))
	tgrpc.RegisterPayoutServiceServer(gs, tgrpc.NewPayoutServer(payout.NewOrchestrator(store, gw, policy, log).WithClock(now)))
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &fixture{
		store:   store,
		proc:    processor.New(store, policy, log, processor.WithClock(now)),
		refunds: tgrpc.NewRefundServiceClient(conn),
		payouts: tgrpc.NewPayoutServiceClient(conn),
	}
}

func (f *fixture) book(t *testing.T, scheduledAt string) (string, string) {
	t.Helper()
	ctx := context.Background()
	payload := `{"version":2,
		"charge":{"id":"chrg_1","amount":8000,"currency":"gbp","fee":200},
		"booking":{"client_id":"c1","therapist_id":"t1","scheduled_at":"` + scheduledAt + `","duration_minutes":50},
		"therapist_account":"recp_t1"}`
	res := f.proc.Handle(ctx, events.Notification{EventID: "evt_1", Type: events.TypePaymentSucceeded, Payload: json.RawMessage(payload)})
	require.True(t, res.Accepted, res.Errors)
	b, err := f.store.BookingByID(ctx, res.ResultRef)
	require.NoError(t, err)
	return b.ID, b.PaymentID
}

func TestRefundService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	// 30 hours out
	bookingID, paymentID := f.book(t, "2026-03-03T15:00:00Z")

	prev, err := f.refunds.Preview(ctx, &tgrpc.PreviewRefundRequest{BookingID: bookingID, PaymentID: paymentID, Initiator: "client"})
	require.NoError(t, err)
	assert.Equal(t, 50, prev.RefundPercentage)
	assert.Equal(t, int64(3800), prev.RefundAmount)
	assert.Equal(t, int64(3800), prev.ProviderCompensation)

	out, err := f.refunds.Process(ctx, &tgrpc.ProcessRefundRequest{BookingID: bookingID, PaymentID: paymentID, Initiator: "client"})
	require.NoError(t, err)
	assert.Equal(t, int64(3800), out.Refund.RefundAmount)

	_, err = f.refunds.Preview(ctx, &tgrpc.PreviewRefundRequest{BookingID: "missing", Initiator: "client"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestPayoutService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bookingID, paymentID := f.book(t, "2026-03-05T14:30:00Z")

	out, err := f.payouts.Process(ctx, &tgrpc.ProcessPayoutRequest{BookingID: bookingID, PaymentID: paymentID})
	require.NoError(t, err)
	assert.Equal(t, "completed", out.Payout.Status)
	assert.Equal(t, int64(6800), out.Payout.Amount)

	_, err = f.payouts.Process(ctx, &tgrpc.ProcessPayoutRequest{BookingID: "other", PaymentID: paymentID})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
