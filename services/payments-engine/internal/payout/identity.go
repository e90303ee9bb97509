package payout

import "github.com/google/uuid"

var namespace = uuid.MustParse("6f1c2a4e-9b7d-4c61-8e2f-3a5d7b9c0e14")

// ID is a UUIDv5 over the booking and payment, so every attempt for the same
// pair lands on the same row.
func ID(bookingID, paymentID string) string {
	return uuid.NewSHA1(namespace, []byte(bookingID+"/"+paymentID)).String()
}

// IdempotencyKey is sent with every transfer for the pair.
func IdempotencyKey(bookingID, paymentID string) string {
	return "payout_" + bookingID + "_" + paymentID
}
