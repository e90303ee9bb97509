package httpx_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/therapy-booking/pkg/auth"
	"github.com/you/therapy-booking/pkg/gateway"
	"github.com/you/therapy-booking/pkg/gateway/gatewaytest"
	"github.com/you/therapy-booking/services/payments-engine/internal/payout"
	"github.com/you/therapy-booking/services/payments-engine/internal/processor"
	"github.com/you/therapy-booking/services/payments-engine/internal/refund"
	"github.com/you/therapy-booking/services/payments-engine/internal/service"
	"github.com/you/therapy-booking/services/payments-engine/internal/testutil"
	httpx "github.com/you/therapy-booking/services/payments-engine/internal/transport/http"
)

type fixture struct {
	router *gin.Engine
	gw     *gatewaytest.Fake
	admin  string
	client string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := testutil.NewStore(t)
	gw := gatewaytest.New()
	now, _ := testutil.Clock()
	policy := testutil.Policy()
	log := testutil.Logger()
	v := auth.NewVerifier("test-secret")

	r := httpx.NewRouter(httpx.Deps{
		Store:     store,
		Processor: processor.New(store, policy, log, processor.WithClock(now)),
		Refunds:   refund.NewOrchestrator(store, gw, policy, log).WithClock(now),
		Payouts:   payout.NewOrchestrator(store, gw, policy, log).WithClock(now),
		Bookings:  service.NewBookingSvc(store, policy, log),
		Verifier:  v,
	})
	admin, err := v.CreateAccessToken("ops-1", auth.RoleAdmin, "ops@example.com", time.Hour)
	require.NoError(t, err)
	client, err := v.CreateAccessToken("c1", "CLIENT", "c1@example.com", time.Hour)
	require.NoError(t, err)
	return &fixture{router: r, gw: gw, admin: admin, client: client}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func webhookBody(eventID, chargeID string) string {
	return fmt.Sprintf(`{"event_id":%q,"type":"payment.succeeded","payload":{"version":2,
		"charge":{"id":%q,"amount":8000,"currency":"gbp","fee":200},
		"booking":{"client_id":"c1","therapist_id":"t1","scheduled_at":"2026-03-05T14:30:00Z","duration_minutes":50},
		"therapist_account":"recp_t1"}}`, eventID, chargeID)
}

// book returns the booking and payment ids created by a webhook delivery.
func (f *fixture) book(t *testing.T) (string, string) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/webhooks/payments", "", webhookBody("evt_1", "chrg_1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	bookingID := decode(t, w)["result_ref"].(string)

	w = f.do(t, http.MethodGet, "/v1/bookings/"+bookingID, f.client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	return bookingID, decode(t, w)["payment_id"].(string)
}

func TestWebhook(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/webhooks/payments", "", webhookBody("evt_1", "chrg_1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode(t, w)
	assert.Equal(t, true, first["accepted"])

	w = f.do(t, http.MethodPost, "/webhooks/payments", "", webhookBody("evt_1", "chrg_1"))
	require.Equal(t, http.StatusOK, w.Code)
	again := decode(t, w)
	assert.Equal(t, true, again["duplicate"])
	assert.Equal(t, first["result_ref"], again["result_ref"])

	w = f.do(t, http.MethodPost, "/webhooks/payments", "", "{")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/webhooks/payments", "", `{"event_id":"evt_2","type":"charge.disputed","payload":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/webhooks/payments", "", `{"event_id":"evt_3","type":"payment.succeeded","payload":{"charge":{"id":"chrg_9"}}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.NotEmpty(t, decode(t, w)["errors"])
}

func TestAuth(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/payouts/x", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/payouts/x", "garbage", nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/v1/payouts/x", f.client, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/payouts/x", f.admin, nil).Code)
}

func TestRefundFlow(t *testing.T) {
	f := newFixture(t)
	bookingID, paymentID := f.book(t)

	w := f.do(t, http.MethodGet, "/v1/refunds/preview?booking_id="+bookingID+"&payment_id="+paymentID, f.client, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	preview := decode(t, w)
	assert.EqualValues(t, 100, preview["refund_percentage"])
	assert.EqualValues(t, 7800, preview["refund_amount"])

	w = f.do(t, http.MethodPost, "/v1/refunds", f.client, map[string]string{"booking_id": bookingID, "initiator": "nobody"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := map[string]string{"booking_id": bookingID, "payment_id": paymentID, "initiator": "client", "reason": "moved"}
	w = f.do(t, http.MethodPost, "/v1/refunds", f.client, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	r := decode(t, w)
	assert.EqualValues(t, 7800, r["refund_amount"])
	assert.EqualValues(t, 0, r["provider_compensation"])

	// asking again returns the same refund
	w = f.do(t, http.MethodPost, "/v1/refunds", f.client, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, r["id"], decode(t, w)["id"])

	w = f.do(t, http.MethodGet, "/v1/bookings/"+bookingID, f.client, nil)
	assert.Equal(t, "cancelled", decode(t, w)["status"])

}

func TestPayoutFlow(t *testing.T) {
	f := newFixture(t)
	bookingID, paymentID := f.book(t)

	w := f.do(t, http.MethodPost, "/v1/bookings/"+bookingID+"/complete", f.admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "completed", decode(t, w)["status"])

	w = f.do(t, http.MethodPost, "/v1/payouts", f.admin, map[string]string{"booking_id": bookingID, "payment_id": paymentID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	po := decode(t, w)
	assert.Equal(t, "completed", po["status"])
	assert.EqualValues(t, 6800, po["amount"])

	id := po["id"].(string)
	w = f.do(t, http.MethodGet, "/v1/payouts/"+id, f.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["audit_trail"])

	w = f.do(t, http.MethodPost, "/v1/payouts/"+id+"/retry", f.admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, f.gw.TransferCalls())
}

func TestPayoutBlockedWhenTransferAlreadyAttached(t *testing.T) {
	f := newFixture(t)
	bookingID, paymentID := f.book(t)
	f.gw.SetCharge(gateway.Charge{ID: "chrg_1", TransferAttached: true, TransferID: "trf_earlier"})

	w := f.do(t, http.MethodPost, "/v1/payouts", f.admin, map[string]string{"booking_id": bookingID, "payment_id": paymentID})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Zero(t, f.gw.TransferCalls())
}

func TestOutboxAndHealth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/outbox/failed", f.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["items"])

	w = f.do(t, http.MethodPost, "/v1/outbox/nope/requeue", f.admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/metrics", "", nil).Code)
}
