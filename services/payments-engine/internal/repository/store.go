package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
)

// Store wraps every table the engine owns. A Store handed to a Transaction
// callback is bound to that transaction; use only it inside the callback.
type Store struct{ db *gorm.DB }

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.IncomingEvent{},
		&domain.Booking{},
		&domain.Payment{},
		&domain.Payout{},
		&domain.Refund{},
		&domain.OutboxItem{},
	)
}

func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// Ping is used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) postgres() bool {
	return s.db.Dialector.Name() == "postgres"
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}
