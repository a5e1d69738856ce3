package offlinesync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/lexflow/go-offline-sync/errors"
)

// fakeClock is a manually advanced clock shared by the queue and
// coordinator tests so backoff windows can be crossed without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestQueue(t *testing.T) (*QueueManager, *memoryStore, *fakeClock) {
	t.Helper()

	store := newMemoryStore()
	clock := newFakeClock()
	q := NewQueueManager(store, nil)
	q.now = clock.Now
	require.NoError(t, q.Load(context.Background()))
	return q, store, clock
}

func TestEnqueue(t *testing.T) {
	q, store, _ := newTestQueue(t)
	ctx := context.Background()

	op, err := q.Enqueue(ctx, OpCreate, DataTypeCase, json.RawMessage(`{"id":"case-1"}`))
	require.NoError(t, err)

	assert.NotEmpty(t, op.ID)
	assert.Equal(t, StatusPending, op.Status)
	assert.Equal(t, 0, op.RetryCount)
	assert.True(t, op.NextAttemptAt.IsZero())

	// Written through to the store, not just the mirror.
	rec, err := store.Get(ctx, PartitionOperationQueue, op.ID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusPending), rec.Status)
	assert.Equal(t, string(DataTypeCase), rec.DataType)
}

func TestEnqueueRejectsUnknownEnums(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, OperationType("upsert"), DataTypeCase, nil)
	assert.True(t, syncErrors.IsInvalidState(err))

	_, err = q.Enqueue(ctx, OpCreate, DataType("contact"), nil)
	assert.True(t, syncErrors.IsInvalidState(err))
}

func TestEnqueueStoreUnavailable(t *testing.T) {
	q, store, _ := newTestQueue(t)
	store.failPuts = true

	_, err := q.Enqueue(context.Background(), OpCreate, DataTypeCase, nil)
	assert.True(t, syncErrors.IsStoreUnavailable(err))
}

func TestListPendingOrdersOldestFirst(t *testing.T) {
	q, _, clock := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, OpCreate, DataTypeCase, nil)
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := q.Enqueue(ctx, OpUpdate, DataTypeClient, nil)
	require.NoError(t, err)
	clock.Advance(time.Second)
	third, err := q.Enqueue(ctx, OpDelete, DataTypeTask, nil)
	require.NoError(t, err)

	pending := q.ListPending()
	require.Len(t, pending, 3)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
	assert.Equal(t, third.ID, pending[2].ID)
}

func TestListPendingSkipsBackedOffOperations(t *testing.T) {
	q, _, clock := newTestQueue(t)
	ctx := context.Background()

	op, err := q.Enqueue(ctx, OpCreate, DataTypeInvoice, nil)
	require.NoError(t, err)

	_, err = q.Transition(ctx, op.ID, StatusSyncing, TransitionDetail{})
	require.NoError(t, err)
	_, err = q.Transition(ctx, op.ID, StatusPending, TransitionDetail{Error: "timeout"})
	require.NoError(t, err)

	// First backoff is one second; not eligible until it elapses.
	assert.Empty(t, q.ListPending())

	clock.Advance(time.Second)
	pending := q.ListPending()
	require.Len(t, pending, 1)
	assert.Equal(t, op.ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, "timeout", pending[0].Error)
}

func TestTransitionBackoffDoubles(t *testing.T) {
	q, _, clock := newTestQueue(t)
	ctx := context.Background()

	op, err := q.Enqueue(ctx, OpCreate, DataTypeDocument, nil)
	require.NoError(t, err)

	wantDelays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for attempt, want := range wantDelays {
		_, err = q.Transition(ctx, op.ID, StatusSyncing, TransitionDetail{})
		require.NoError(t, err)

		updated, err := q.Transition(ctx, op.ID, StatusPending, TransitionDetail{Error: "503"})
		require.NoError(t, err)

		assert.Equal(t, attempt+1, updated.RetryCount)
		assert.Equal(t, clock.Now().Add(want), updated.NextAttemptAt)

		clock.Advance(want)
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	op, err := q.Enqueue(ctx, OpCreate, DataTypeCase, nil)
	require.NoError(t, err)

	_, err = q.Transition(ctx, op.ID, StatusCompleted, TransitionDetail{})
	assert.True(t, syncErrors.IsInvalidState(err))

	// The operation is untouched by the rejected transition.
	got, err := q.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

// slowPutStore stretches the persist window so two claimants can race
// the same transition.
type slowPutStore struct {
	*memoryStore
	delay time.Duration
}

func (s *slowPutStore) Put(ctx context.Context, partition Partition, record StoredRecord) error {
	time.Sleep(s.delay)
	return s.memoryStore.Put(ctx, partition, record)
}

func TestTransitionClaimIsExclusive(t *testing.T) {
	store := newMemoryStore()
	q := NewQueueManager(&slowPutStore{memoryStore: store, delay: 20 * time.Millisecond}, nil)
	ctx := context.Background()
	require.NoError(t, q.Load(ctx))

	op, err := q.Enqueue(ctx, OpCreate, DataTypeCase, nil)
	require.NoError(t, err)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Transition(ctx, op.ID, StatusSyncing, TransitionDetail{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		if err == nil {
			won++
		} else {
			assert.True(t, syncErrors.IsInvalidState(err))
			lost++
		}
	}
	assert.Equal(t, 1, won, "exactly one claimant must win the transition")
	assert.Equal(t, 1, lost)

	got, err := q.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSyncing, got.Status)
}

func TestTransitionRollsBackOnPersistFailure(t *testing.T) {
	q, store, _ := newTestQueue(t)
	ctx := context.Background()

	op, err := q.Enqueue(ctx, OpCreate, DataTypeCase, nil)
	require.NoError(t, err)

	store.failPuts = true
	_, err = q.Transition(ctx, op.ID, StatusSyncing, TransitionDetail{})
	assert.True(t, syncErrors.IsStoreUnavailable(err))

	// The in-memory mirror reflects the store, so the failed claim
	// leaves the operation pending and claimable.
	got, err := q.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	store.failPuts = false
	_, err = q.Transition(ctx, op.ID, StatusSyncing, TransitionDetail{})
	assert.NoError(t, err)
}

func TestTransitionUnknownOperation(t *testing.T) {
	q, _, _ := newTestQueue(t)

	_, err := q.Transition(context.Background(), "no-such-op", StatusSyncing, TransitionDetail{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordFailureClassifiesOutcome(t *testing.T) {
	tests := []struct {
		name       string
		cause      error
		wantStatus Status
	}{
		{"conflict parks for adjudication", syncErrors.NewConflictError(syncErrors.OpUpdate, 409, errors.New("version mismatch")), StatusConflict},
		{"client error fails terminally", syncErrors.NewClientError(syncErrors.OpCreate, 422, errors.New("validation")), StatusFailed},
		{"network failure schedules retry", syncErrors.NewNetworkError(syncErrors.OpCreate, errors.New("connection refused")), StatusPending},
		{"server error schedules retry", syncErrors.NewServerError(syncErrors.OpCreate, 503, errors.New("unavailable")), StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _, _ := newTestQueue(t)
			ctx := context.Background()

			op, err := q.Enqueue(ctx, OpCreate, DataTypeCase, nil)
			require.NoError(t, err)
			_, err = q.Transition(ctx, op.ID, StatusSyncing, TransitionDetail{})
			require.NoError(t, err)

			updated, err := q.RecordFailure(ctx, op.ID, tt.cause)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, updated.Status)
		})
	}
}

func TestRecordFailureExhaustsRetryBudget(t *testing.T) {
	q, _, clock := newTestQueue(t)
	ctx := context.Background()

	op, err := q.Enqueue(ctx, OpCreate, DataTypeCase, nil)
	require.NoError(t, err)

	cause := syncErrors.NewNetworkError(syncErrors.OpCreate, errors.New("timeout"))
	for i := 0; i < DefaultMaxRetries; i++ {
		_, err = q.Transition(ctx, op.ID, StatusSyncing, TransitionDetail{})
		require.NoError(t, err)
		updated, err := q.RecordFailure(ctx, op.ID, cause)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, updated.Status)
		clock.Advance(10 * time.Second)
	}

	// Fourth attempt: budget spent, so the same retryable error is terminal.
	_, err = q.Transition(ctx, op.ID, StatusSyncing, TransitionDetail{})
	require.NoError(t, err)
	updated, err := q.RecordFailure(ctx, op.ID, cause)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, updated.Status)
	assert.Equal(t, DefaultMaxRetries, updated.RetryCount)
}

func TestRetryFailed(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	op, err := q.Enqueue(ctx, OpCreate, DataTypeCase, nil)
	require.NoError(t, err)
	_, err = q.Transition(ctx, op.ID, StatusSyncing, TransitionDetail{})
	require.NoError(t, err)
	_, err = q.Transition(ctx, op.ID, StatusFailed, TransitionDetail{Error: "validation"})
	require.NoError(t, err)

	completed, err := q.Enqueue(ctx, OpUpdate, DataTypeClient, nil)
	require.NoError(t, err)
	_, err = q.Transition(ctx, completed.ID, StatusSyncing, TransitionDetail{})
	require.NoError(t, err)
	_, err = q.Transition(ctx, completed.ID, StatusCompleted, TransitionDetail{})
	require.NoError(t, err)

	count, err := q.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := q.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Empty(t, got.Error)

	// Completed operations are untouched.
	got, err = q.Get(completed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestQueueSurvivesRestart(t *testing.T) {
	q, store, clock := newTestQueue(t)
	ctx := context.Background()

	op, err := q.Enqueue(ctx, OpCreate, DataTypeCase, json.RawMessage(`{"id":"case-9"}`))
	require.NoError(t, err)
	_, err = q.Transition(ctx, op.ID, StatusSyncing, TransitionDetail{})
	require.NoError(t, err)
	_, err = q.Transition(ctx, op.ID, StatusPending, TransitionDetail{Error: "timeout"})
	require.NoError(t, err)

	// Simulated restart: a fresh manager over the same store.
	reloaded := NewQueueManager(store, nil)
	reloaded.now = clock.Now
	require.NoError(t, reloaded.Load(ctx))

	got, err := reloaded.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "timeout", got.Error)
	assert.Equal(t, json.RawMessage(`{"id":"case-9"}`), got.Payload)
	assert.True(t, got.Timestamp.Equal(op.Timestamp))
}

func TestQueueStats(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, OpCreate, DataTypeCase, nil)
		require.NoError(t, err)
	}
	op, err := q.Enqueue(ctx, OpUpdate, DataTypeClient, nil)
	require.NoError(t, err)
	_, err = q.Transition(ctx, op.ID, StatusSyncing, TransitionDetail{})
	require.NoError(t, err)

	stats := q.Stats()
	assert.Equal(t, 3, stats[StatusPending])
	assert.Equal(t, 1, stats[StatusSyncing])
}

func TestClearEmptiesQueue(t *testing.T) {
	q, store, _ := newTestQueue(t)
	ctx := context.Background()

	op, err := q.Enqueue(ctx, OpCreate, DataTypeCase, nil)
	require.NoError(t, err)

	require.NoError(t, q.Clear(ctx))

	assert.Empty(t, q.ListPending())
	_, err = store.Get(ctx, PartitionOperationQueue, op.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

