package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
	"github.com/you/therapy-booking/services/payments-engine/internal/repository"
	"github.com/you/therapy-booking/services/payments-engine/internal/testutil"
)

func TestUniqueKeysSurfaceAsErrDuplicate(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	s := repository.New(db)

	require.NoError(t, s.CreatePayment(ctx, &domain.Payment{BookingID: "b1", TransactionID: "chrg_1", Status: domain.PaymentSucceeded}))
	err := s.CreatePayment(ctx, &domain.Payment{BookingID: "b2", TransactionID: "chrg_1", Status: domain.PaymentSucceeded})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	require.NoError(t, s.CreateRefund(ctx, &domain.Refund{PaymentID: "p1", BookingID: "b1"}))
	err = s.CreateRefund(ctx, &domain.Refund{PaymentID: "p1", BookingID: "b1"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	// the driver error reaches the store already translated
	err = db.Create(&domain.Payment{ID: "dup", TransactionID: "chrg_2"}).Error
	require.NoError(t, err)
	err = db.Create(&domain.Payment{ID: "dup", TransactionID: "chrg_3"}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}
