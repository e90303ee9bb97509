package domain

import "errors"

var (
	ErrOverlap  = errors.New("slot_overlapped")
	ErrNotFound = errors.New("not_found")

	// ErrValidation marks input that will never succeed; not retried.
	ErrValidation = errors.New("validation_failed")
	// ErrConflict is a booking slot taken by a different payment.
	ErrConflict = errors.New("booking_conflict")
	// ErrFinancialSafety blocks an operation that could move money twice.
	ErrFinancialSafety = errors.New("financial_safety_violation")
	// ErrAccountNotEligible is a destination account the gateway will not pay.
	ErrAccountNotEligible = errors.New("account_not_eligible")
	ErrNothingToPay       = errors.New("nothing_to_pay")
	// ErrLeaseHeld means another worker owns the payout right now.
	ErrLeaseHeld = errors.New("payout_in_progress")
)

// Permanent reports errors a retry cannot fix.
func Permanent(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrFinancialSafety) ||
		errors.Is(err, ErrAccountNotEligible) ||
		errors.Is(err, ErrNothingToPay) ||
		errors.Is(err, ErrNotFound)
}
