package offlinesync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/lexflow/go-offline-sync/errors"
)

// conflictFixture enqueues an operation and drives it into conflict via a
// scripted 409 from the adapter.
func conflictFixture(t *testing.T) (*ConflictResolver, *Coordinator, *QueueManager, *mockAdapter, string) {
	t.Helper()

	c, q, adapter, _ := newTestCoordinator(t)
	r := NewConflictResolver(q, c, nil)
	ctx := context.Background()

	adapter.script(DataTypeCase,
		syncErrors.NewConflictError(syncErrors.OpUpdate, 409, errors.New("version mismatch")))

	op, err := q.Enqueue(ctx, OpUpdate, DataTypeCase, json.RawMessage(`{"id":"c1","title":"amended"}`))
	require.NoError(t, err)
	c.online.Store(true)

	result, err := c.SyncPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Conflicts)

	return r, c, q, adapter, op.ID
}

func TestResolveLocalReplaysImmediately(t *testing.T) {
	r, _, q, adapter, id := conflictFixture(t)

	require.NoError(t, r.Resolve(context.Background(), id, ResolutionLocal))

	// The local payload was pushed again right away, not left for the
	// next batch.
	op, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, op.Status)
	assert.Equal(t, ResolutionLocal, op.ConflictResolution)
	assert.Len(t, adapter.callLog(), 2)
}

func TestResolveRemoteDiscardsLocalChange(t *testing.T) {
	r, _, q, adapter, id := conflictFixture(t)

	require.NoError(t, r.Resolve(context.Background(), id, ResolutionRemote))

	op, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, op.Status)
	assert.Equal(t, ResolutionRemote, op.ConflictResolution)
	// Accepting the remote state never touches the network again.
	assert.Len(t, adapter.callLog(), 1)
}

func TestResolveManualKeepsConflict(t *testing.T) {
	r, c, q, adapter, id := conflictFixture(t)
	ctx := context.Background()

	require.NoError(t, r.Resolve(ctx, id, ResolutionManual))

	op, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusConflict, op.Status)
	assert.Equal(t, ResolutionManual, op.ConflictResolution)

	// Still parked: passes skip it, and a later decision is allowed.
	result, err := c.SyncPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Attempted)
	assert.Len(t, adapter.callLog(), 1)

	require.NoError(t, r.Resolve(ctx, id, ResolutionRemote))
	op, err = q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, op.Status)
}

func TestResolveLocalWhileOffline(t *testing.T) {
	r, c, q, adapter, id := conflictFixture(t)

	c.online.Store(false)
	require.NoError(t, r.Resolve(context.Background(), id, ResolutionLocal))

	// The replay waits for connectivity; meanwhile the operation is
	// pending and eligible.
	op, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, op.Status)
	assert.Len(t, adapter.callLog(), 1)

	pending := q.ListPending()
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
}

func TestResolveRejectsNonConflictedOperation(t *testing.T) {
	c, q, _, _ := newTestCoordinator(t)
	r := NewConflictResolver(q, c, nil)
	ctx := context.Background()

	op, err := q.Enqueue(ctx, OpCreate, DataTypeCase, nil)
	require.NoError(t, err)

	err = r.Resolve(ctx, op.ID, ResolutionLocal)
	assert.True(t, syncErrors.IsInvalidState(err))

	// Queue state is untouched by the rejected resolve.
	got, err := q.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestResolveRejectsUnknownInput(t *testing.T) {
	r, _, _, _, id := conflictFixture(t)
	ctx := context.Background()

	err := r.Resolve(ctx, id, Resolution("merge"))
	assert.True(t, syncErrors.IsInvalidState(err))

	err = r.Resolve(ctx, "no-such-op", ResolutionLocal)
	assert.True(t, syncErrors.IsInvalidState(err))
}
