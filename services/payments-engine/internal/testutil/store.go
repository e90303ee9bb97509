// Package testutil opens throwaway stores for tests.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/you/therapy-booking/pkg/config"
	"github.com/you/therapy-booking/services/payments-engine/internal/repository"
)

// Now is the fixed clock most tests run on.
var Now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// NewDB opens a migrated sqlite database in a temp dir. A single connection
// serialises writers the way row locks would on Postgres.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "engine.db") + "?_busy_timeout=5000&_foreign_keys=on"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repository.New(gdb).Migrate())
	return gdb
}

func NewStore(t *testing.T) *repository.Store {
	t.Helper()
	return repository.New(NewDB(t))
}

// Clock returns a clock starting at Now and a function that moves it.
func Clock() (now func() time.Time, advance func(time.Duration)) {
	var mu sync.Mutex
	cur := Now
	now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return cur
	}
	advance = func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(d)
	}
	return now, advance
}

// Policy mirrors the production defaults with short delays.
func Policy() config.Policy {
	return config.Policy{
		TherapistSharePercent: 85,
		OutboxWorkers:         2,
		OutboxBatchSize:       10,
		OutboxLockDuration:    time.Minute,
		OutboxPollInterval:    10 * time.Millisecond,
		OutboxMaxRetries:      5,
		BackoffBase:           time.Second,
		BackoffMultiplier:     2,
		BackoffMax:            time.Minute,
		PayoutMaxAttempts:     3,
		PayoutRetryWindow:     6 * time.Hour,
		PayoutLease:           time.Minute,
		PayoutPollInterval:    10 * time.Millisecond,
		LedgerStaleAfter:      5 * time.Minute,
		CompletedCacheTTL:     time.Hour,
	}
}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
