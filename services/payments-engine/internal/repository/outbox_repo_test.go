package repository_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/therapy-booking/services/payments-engine/internal/domain"
	"github.com/you/therapy-booking/services/payments-engine/internal/repository"
	"github.com/you/therapy-booking/services/payments-engine/internal/testutil"
)

func enqueue(t *testing.T, s *repository.Store, n, maxRetries int) []domain.OutboxItem {
	t.Helper()
	items := make([]domain.OutboxItem, 0, n)
	for i := 0; i < n; i++ {
		it, err := domain.NewOutboxItem(domain.OpSendNotification, fmt.Sprintf("b-%d", i), domain.NotificationPayload{To: "c", Template: domain.TplBookingConfirmed}, maxRetries)
		require.NoError(t, err)
		items = append(items, it)
	}
	require.NoError(t, s.EnqueueOutbox(context.Background(), items...))
	return items
}

func TestClaimOutboxBatch_ConcurrentWorkersNeverOverlap(t *testing.T) {
	s := testutil.NewStore(t)
	enqueue(t, s, 30, 5)

	var (
		mu   sync.Mutex
		seen = map[string]string{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				got, err := s.ClaimOutboxBatch(context.Background(), worker, 4, time.Minute, testutil.Now)
				if !assert.NoError(t, err) || len(got) == 0 {
					return
				}
				mu.Lock()
				for _, it := range got {
					if prev, dup := seen[it.ID]; dup {
						t.Errorf("item %s claimed by %s and %s", it.ID, prev, worker)
					}
					seen[it.ID] = worker
				}
				mu.Unlock()
			}
		}(fmt.Sprintf("w-%d", w))
	}
	wg.Wait()
	assert.Len(t, seen, 30)
}

func TestClaimOutboxBatch_SkipsNotYetDue(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	enqueue(t, s, 1, 5)

	got, err := s.ClaimOutboxBatch(ctx, "w1", 10, time.Minute, testutil.Now)
	require.NoError(t, err)
	require.Len(t, got, 1)

	next := testutil.Now.Add(time.Minute)
	ok, err := s.ReleaseOutbox(ctx, got[0].ID, "w1", 1, &next, "boom")
	require.NoError(t, err)
	require.True(t, ok)

	got, err = s.ClaimOutboxBatch(ctx, "w1", 10, time.Minute, testutil.Now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.ClaimOutboxBatch(ctx, "w1", 10, time.Minute, next)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestClaimOutboxBatch_ExpiredLockIsReclaimedAsFailedAttempt(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	enqueue(t, s, 1, 5)

	first, err := s.ClaimOutboxBatch(ctx, "crashed", 10, time.Minute, testutil.Now)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// lock still held
	got, err := s.ClaimOutboxBatch(ctx, "w2", 10, time.Minute, testutil.Now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.ClaimOutboxBatch(ctx, "w2", 10, time.Minute, testutil.Now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "w2", got[0].LockOwner)
	assert.Equal(t, 1, got[0].RetryCount)

	// the crashed worker can no longer complete it
	ok, err := s.CompleteOutbox(ctx, first[0].ID, "crashed", testutil.Now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompleteOutbox(ctx, got[0].ID, "w2", testutil.Now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimOutboxBatch_ExpiredLockAtRetryLimitFails(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	items := enqueue(t, s, 1, 1)

	_, err := s.ClaimOutboxBatch(ctx, "crashed", 10, time.Minute, testutil.Now)
	require.NoError(t, err)

	got, err := s.ClaimOutboxBatch(ctx, "w2", 10, time.Minute, testutil.Now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, got)

	it, err := s.OutboxByID(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxFailed, it.Status)
	assert.Equal(t, 1, it.RetryCount)
}

func TestReleaseOutbox_FailsWithoutRetryTime(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	enqueue(t, s, 1, 5)

	got, err := s.ClaimOutboxBatch(ctx, "w1", 10, time.Minute, testutil.Now)
	require.NoError(t, err)
	ok, err := s.ReleaseOutbox(ctx, got[0].ID, "w1", 5, nil, "gave up")
	require.NoError(t, err)
	require.True(t, ok)

	failed, err := s.FailedOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "gave up", failed[0].LastError)

	ok, err = s.RequeueOutbox(ctx, got[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)
	it, err := s.OutboxByID(ctx, got[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxPending, it.Status)
	assert.Equal(t, 0, it.RetryCount)
}
