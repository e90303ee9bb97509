package grpc

type PreviewRefundRequest struct {
	BookingID string `json:"booking_id"`
	PaymentID string `json:"payment_id"`
	Initiator string `json:"initiator"`
}

type PreviewRefundResponse struct {
	RefundPercentage     int     `json:"refund_percentage"`
	RefundAmount         int64   `json:"refund_amount"`
	ProviderCompensation int64   `json:"provider_compensation"`
	FeeRetained          int64   `json:"fee_retained"`
	ReasonCode           string  `json:"reason_code"`
	PolicyDescription    string  `json:"policy_description"`
	HoursBeforeSession   float64 `json:"hours_before_session"`
}

type ProcessRefundRequest struct {
	BookingID string `json:"booking_id"`
	PaymentID string `json:"payment_id"`
	Initiator string `json:"initiator"`
	Reason    string `json:"reason"`
}

type Refund struct {
	ID                   string `json:"id"`
	BookingID            string `json:"booking_id"`
	PaymentID            string `json:"payment_id"`
	RefundAmount         int64  `json:"refund_amount"`
	ProviderCompensation int64  `json:"provider_compensation"`
	FeeRetained          int64  `json:"fee_retained"`
	RefundPercentage     int    `json:"refund_percentage"`
	ReasonCode           string `json:"reason_code"`
	Status               string `json:"status"`
}

type ProcessRefundResponse struct {
	Refund *Refund `json:"refund"`
}

type ProcessPayoutRequest struct {
	BookingID  string `json:"booking_id"`
	PaymentID  string `json:"payment_id"`
	AccountRef string `json:"account_ref"`
}

type Payout struct {
	ID         string `json:"id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	TransferID string `json:"transfer_id,omitempty"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`
}

type ProcessPayoutResponse struct {
	Payout *Payout `json:"payout"`
}
