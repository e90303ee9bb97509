package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
)

// CreateBookingWithNoOverlap must run inside Transaction. It row-locks any
// live booking of the same therapist that overlaps b.
func (s *Store) CreateBookingWithNoOverlap(ctx context.Context, b *domain.Booking) error {
	var existing domain.Booking
	err := s.db.WithContext(ctx).Model(&domain.Booking{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("therapist_id = ? AND status <> ?", b.TherapistID, domain.BookingCancelled).
		Where("scheduled_at < ? AND ends_at > ?", b.EndsAt, b.ScheduledAt). // overlap condition
		Take(&existing).Error

	if err == nil {
		return domain.ErrOverlap
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOverlap
		}
		return err
	}
	return nil
}

// FindExactBooking matches a live booking on every identifying field.
func (s *Store) FindExactBooking(ctx context.Context, clientID, therapistID string, at time.Time, durationMinutes int) (*domain.Booking, error) {
	var b domain.Booking
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND therapist_id = ? AND scheduled_at = ? AND duration_minutes = ? AND status <> ?",
			clientID, therapistID, at, durationMinutes, domain.BookingCancelled).
		Take(&b).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (s *Store) BookingByID(ctx context.Context, id string) (*domain.Booking, error) {
	var b domain.Booking
	if err := s.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (s *Store) SetBookingPayment(ctx context.Context, id, paymentID, paymentStatus string) error {
	res := s.db.WithContext(ctx).Model(&domain.Booking{}).
		Where("id = ?", id).
		Updates(map[string]any{"payment_id": paymentID, "payment_status": paymentStatus})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// TransitionBooking moves the booking to `to` only if it is currently `from`.
// It reports whether the row changed.
func (s *Store) TransitionBooking(ctx context.Context, id, from, to string, extra map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := s.db.WithContext(ctx).Model(&domain.Booking{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (s *Store) SetMeetingURL(ctx context.Context, id, url string) error {
	return s.db.WithContext(ctx).Model(&domain.Booking{}).
		Where("id = ?", id).
		Update("meeting_url", url).Error
}

// ListBookings pages through bookings, newest session first.
func (s *Store) ListBookings(ctx context.Context, page, size int, clientID, therapistID string) ([]domain.Booking, int64, error) {
	if size <= 0 {
		size = 20
	}
	if page < 0 {
		page = 0
	}
	qb := s.db.WithContext(ctx).Model(&domain.Booking{})
	if clientID != "" {
		qb = qb.Where("client_id = ?", clientID)
	}
	if therapistID != "" {
		qb = qb.Where("therapist_id = ?", therapistID)
	}
	var total int64
	if err := qb.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Booking
	if err := qb.Order("scheduled_at DESC").Limit(size).Offset(page * size).Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
