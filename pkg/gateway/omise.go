package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

const defaultAPIBase = "https://api.omise.co"

// Omise implements Gateway on top of omise-go. Calls that need an
// Idempotency-Key header go through REST directly since the SDK has no
// per-request headers.
type Omise struct {
	omc       *omise.Client
	secretKey string
	apiBase   string
	http      *http.Client
}

func NewOmiseClient(pub, sec string) (*omise.Client, error) {
	c, err := omise.NewClient(pub, sec)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	return c, nil
}

func NewOmise(omc *omise.Client, secretKey string) *Omise {
	return &Omise{
		omc:       omc,
		secretKey: secretKey,
		apiBase:   defaultAPIBase,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

// WithAPIBase points the REST calls somewhere else (sandbox proxies, tests).
func (o *Omise) WithAPIBase(base string) *Omise {
	o.apiBase = strings.TrimRight(base, "/")
	return o
}

func (o *Omise) CreateCharge(_ context.Context, req ChargeRequest) (Charge, error) {
	if req.Amount <= 0 || req.Currency == "" || req.CardToken == "" {
		return Charge{}, fmt.Errorf("%w: invalid charge params", ErrPermanent)
	}
	meta := make(map[string]interface{}, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}
	ch := &omise.Charge{}
	op := &operations.CreateCharge{
		Amount:   req.Amount,
		Currency: req.Currency,
		Card:     req.CardToken,
		Metadata: meta,
	}
	if err := o.omc.Do(ch, op); err != nil {
		return Charge{}, classify(err)
	}
	return toCharge(ch), nil
}

func (o *Omise) RetrieveCharge(_ context.Context, chargeID string) (Charge, error) {
	ch := &omise.Charge{}
	if err := o.omc.Do(ch, &operations.RetrieveCharge{ChargeID: chargeID}); err != nil {
		return Charge{}, classify(err)
	}
	return toCharge(ch), nil
}

func (o *Omise) RetrieveAccountStatus(_ context.Context, accountRef string) (AccountStatus, error) {
	rec := &omise.Recipient{}
	if err := o.omc.Do(rec, &operations.RetrieveRecipient{RecipientID: accountRef}); err != nil {
		return AccountStatus{}, classify(err)
	}
	// an inactive recipient cannot receive transfers; an unverified one
	// cannot be paid out to
	return AccountStatus{ChargesEnabled: rec.Active, PayoutsEnabled: rec.Active && rec.Verified}, nil
}

func (o *Omise) CreateTransfer(ctx context.Context, req TransferRequest) (Transfer, error) {
	if req.IdempotencyKey == "" {
		return Transfer{}, fmt.Errorf("%w: transfer without idempotency key", ErrPermanent)
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("recipient", req.Destination)
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}
	var out struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
	}
	if err := o.post(ctx, "/transfers", req.IdempotencyKey, form, &out); err != nil {
		return Transfer{}, err
	}
	return Transfer{ID: out.ID, Amount: out.Amount}, nil
}

func (o *Omise) CreateRefund(ctx context.Context, req RefundRequest) (Refund, error) {
	if req.IdempotencyKey == "" {
		return Refund{}, fmt.Errorf("%w: refund without idempotency key", ErrPermanent)
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	var out struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
	}
	if err := o.post(ctx, "/charges/"+url.PathEscape(req.ChargeID)+"/refunds", req.IdempotencyKey, form, &out); err != nil {
		return Refund{}, err
	}
	return Refund{ID: out.ID, Amount: out.Amount}, nil
}

func (o *Omise) post(ctx context.Context, path, idemKey string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", idemKey)
	// Basic Auth: username = skey_xxx, empty password
	req.SetBasicAuth(o.secretKey, "")

	res, err := o.http.Do(req)
	if err != nil {
		return fmt.Errorf("omise %s: %w", path, err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		err := fmt.Errorf("omise %s failed: %s (%d)", path, string(body), res.StatusCode)
		if permanentStatus(res.StatusCode) {
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse omise response: %w", err)
	}
	return nil
}

// 4xx means the request itself is wrong, except conflicts and rate limits
// which clear up on their own.
func permanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusConflict && code != http.StatusTooManyRequests
}

func classify(err error) error {
	if oe, ok := err.(*omise.Error); ok && permanentStatus(oe.StatusCode) {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	return err
}

func toCharge(ch *omise.Charge) Charge {
	out := Charge{ID: ch.ID, Amount: ch.Amount, Currency: ch.Currency, Status: string(ch.Status)}
	if id, _ := ch.Metadata["transfer_id"].(string); id != "" {
		out.TransferAttached = true
		out.TransferID = id
	}
	return out
}
