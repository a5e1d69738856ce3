package offlinesync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/lexflow/go-offline-sync/errors"
	"github.com/lexflow/go-offline-sync/logging"
)

// DefaultMaxRetries bounds retry exhaustion so a permanently broken
// operation cannot grow resources without limit.
const DefaultMaxRetries = 3

// TransitionDetail carries the side-channel data of a status transition:
// the failure message for failures and retries, the adjudication for
// conflict resolutions.
type TransitionDetail struct {
	Error      string
	Resolution Resolution
}

// QueueManager owns the lifecycle of queued operations. The local store is
// the source of truth; the in-memory mirror exists for fast iteration and
// is rebuilt from the store at startup, mutated only through this type.
type QueueManager struct {
	store      LocalStore
	log        *logging.Logger
	maxRetries int
	now        func() time.Time

	mu     sync.RWMutex
	mirror map[string]*Operation
}

// NewQueueManager creates a queue manager over the given store.
func NewQueueManager(store LocalStore, log *logging.Logger) *QueueManager {
	if log == nil {
		log = logging.Default()
	}
	return &QueueManager{
		store:      store,
		log:        log.WithComponent(logging.Component("queue")),
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
		mirror:     make(map[string]*Operation),
	}
}

// Load rebuilds the in-memory mirror from the store. It must run before
// any other queue call and again whenever the store is reopened.
func (q *QueueManager) Load(ctx context.Context) error {
	records, err := q.store.GetAll(ctx, PartitionOperationQueue)
	if err != nil {
		return syncErrors.WrapStore(err, syncErrors.OpInitialize)
	}

	mirror := make(map[string]*Operation, len(records))
	for _, rec := range records {
		var op Operation
		if err := json.Unmarshal(rec.Payload, &op); err != nil {
			return syncErrors.NewStoreError(syncErrors.OpInitialize,
				fmt.Errorf("corrupt operation record %q: %w", rec.ID, err))
		}
		mirror[op.ID] = &op
	}

	q.mu.Lock()
	q.mirror = mirror
	q.mu.Unlock()

	q.log.Debug("operation queue loaded", slog.Int("operations", len(mirror)))
	return nil
}

// Enqueue persists a new pending operation and returns it. The id is
// allocated here and is immutable for the operation's lifetime.
func (q *QueueManager) Enqueue(ctx context.Context, opType OperationType, dataType DataType, payload json.RawMessage) (*Operation, error) {
	if !opType.Valid() {
		return nil, syncErrors.NewInvalidStateError(syncErrors.OpEnqueue,
			fmt.Errorf("unknown operation type %q", opType))
	}
	if !dataType.Valid() {
		return nil, syncErrors.NewInvalidStateError(syncErrors.OpEnqueue,
			fmt.Errorf("unknown data type %q", dataType))
	}

	op := &Operation{
		ID:        uuid.New().String(),
		Type:      opType,
		DataType:  dataType,
		Payload:   append(json.RawMessage(nil), payload...),
		Timestamp: q.now(),
		Status:    StatusPending,
	}

	if err := q.persist(ctx, op); err != nil {
		return nil, err
	}

	q.mu.Lock()
	q.mirror[op.ID] = op
	q.mu.Unlock()

	q.log.Info("operation enqueued",
		slog.String("id", op.ID),
		slog.String("type", string(op.Type)),
		slog.String("data_type", string(op.DataType)),
	)
	return op.Clone(), nil
}

// Get returns a copy of the operation with the given id.
func (q *QueueManager) Get(id string) (*Operation, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	op, ok := q.mirror[id]
	if !ok {
		return nil, fmt.Errorf("operation %q: %w", id, ErrNotFound)
	}
	return op.Clone(), nil
}

// ListPending returns the pending operations eligible for a sync attempt
// (NextAttemptAt has passed), ordered oldest first. FIFO ordering keeps
// dependent mutations on the same entity applied in submission order and
// prevents newer writes from starving older ones.
func (q *QueueManager) ListPending() []*Operation {
	now := q.now()

	q.mu.RLock()
	pending := make([]*Operation, 0)
	for _, op := range q.mirror {
		if op.Status != StatusPending {
			continue
		}
		if !op.NextAttemptAt.IsZero() && op.NextAttemptAt.After(now) {
			continue
		}
		pending = append(pending, op.Clone())
	}
	q.mu.RUnlock()

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Timestamp.Before(pending[j].Timestamp)
	})
	return pending
}

// ListByStatus returns copies of all operations with the given status.
func (q *QueueManager) ListByStatus(status Status) []*Operation {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var ops []*Operation
	for _, op := range q.mirror {
		if op.Status == status {
			ops = append(ops, op.Clone())
		}
	}
	return ops
}

// Stats counts queued operations by status.
func (q *QueueManager) Stats() map[Status]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := make(map[Status]int, 5)
	for _, op := range q.mirror {
		stats[op.Status]++
	}
	return stats
}

// Transition moves an operation to a new status, enforcing the state
// machine and applying the side effects the edge implies. The mirror is
// updated atomically with the check, making the transition usable as an
// exclusive claim; the store write is rolled back in the mirror if it
// fails. Returns the updated copy.
func (q *QueueManager) Transition(ctx context.Context, id string, to Status, detail TransitionDetail) (*Operation, error) {
	q.mu.Lock()
	op, ok := q.mirror[id]
	if !ok {
		q.mu.Unlock()
		return nil, fmt.Errorf("operation %q: %w", id, ErrNotFound)
	}

	from := op.Status
	if !canTransition(from, to) {
		q.mu.Unlock()
		return nil, syncErrors.NewInvalidStateError(syncErrors.OpTransition,
			fmt.Errorf("operation %s: illegal transition %s -> %s", id, from, to))
	}

	updated := op.Clone()
	updated.Status = to

	applySideEffects(updated, from, to, detail, q.now)

	// The mirror update happens inside the same critical section as the
	// state-machine check, so a concurrent transition on the same id sees
	// the new status and cannot claim the operation twice. The store write
	// follows outside the lock and is rolled back on failure.
	q.mirror[id] = updated
	q.mu.Unlock()

	if err := q.persist(ctx, updated); err != nil {
		q.mu.Lock()
		if q.mirror[id] == updated {
			q.mirror[id] = op
		}
		q.mu.Unlock()
		return nil, err
	}

	q.log.Debug("operation transitioned",
		slog.String("id", id),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.Int("retry_count", updated.RetryCount),
	)
	return updated.Clone(), nil
}

// applySideEffects applies the accounting a status edge implies: retry
// backoff, resolution stamping, budget resets.
func applySideEffects(updated *Operation, from, to Status, detail TransitionDetail, now func() time.Time) {
	switch {
	case from == StatusSyncing && to == StatusPending:
		// Retryable failure: back off 2^retryCount seconds before the
		// operation becomes eligible again, then consume one retry.
		backoff := time.Duration(1<<uint(updated.RetryCount)) * time.Second
		updated.NextAttemptAt = now().Add(backoff)
		updated.RetryCount++
		updated.Error = detail.Error

	case from == StatusSyncing && to == StatusFailed:
		updated.Error = detail.Error

	case from == StatusSyncing && to == StatusConflict:
		updated.Error = detail.Error

	case from == StatusConflict:
		// Adjudication is recorded exactly once per conflict occurrence.
		updated.ConflictResolution = detail.Resolution
		if to == StatusPending {
			updated.NextAttemptAt = time.Time{}
			updated.Error = ""
		}

	case from == StatusFailed && to == StatusPending:
		// Manual re-enqueue starts a fresh attempt budget.
		updated.RetryCount = 0
		updated.NextAttemptAt = time.Time{}
		updated.Error = ""
	}
}

// RecordFailure applies a classified adapter failure to a syncing
// operation: conflicts park it for adjudication, terminal client errors
// fail it outright, and retryable errors either schedule a backoff or,
// once the retry budget is spent, fail it.
func (q *QueueManager) RecordFailure(ctx context.Context, id string, cause error) (*Operation, error) {
	detail := TransitionDetail{Error: cause.Error()}

	switch {
	case syncErrors.IsConflict(cause):
		return q.Transition(ctx, id, StatusConflict, detail)

	case syncErrors.IsClientError(cause):
		return q.Transition(ctx, id, StatusFailed, detail)

	default:
		op, err := q.Get(id)
		if err != nil {
			return nil, err
		}
		if op.RetryCount >= q.maxRetries {
			return q.Transition(ctx, id, StatusFailed, detail)
		}
		return q.Transition(ctx, id, StatusPending, detail)
	}
}

// RetryFailed re-enqueues every failed operation with a fresh retry
// budget and returns how many were reset.
func (q *QueueManager) RetryFailed(ctx context.Context) (int, error) {
	failed := q.ListByStatus(StatusFailed)
	for _, op := range failed {
		if _, err := q.Transition(ctx, op.ID, StatusPending, TransitionDetail{}); err != nil {
			return 0, err
		}
	}
	if len(failed) > 0 {
		q.log.Info("failed operations re-enqueued", slog.Int("count", len(failed)))
	}
	return len(failed), nil
}

// Clear empties the operation queue, store and mirror both.
func (q *QueueManager) Clear(ctx context.Context) error {
	if err := q.store.Clear(ctx, PartitionOperationQueue); err != nil {
		return syncErrors.WrapStore(err, syncErrors.OpClear)
	}

	q.mu.Lock()
	q.mirror = make(map[string]*Operation)
	q.mu.Unlock()

	q.log.Info("operation queue cleared")
	return nil
}

// persist writes the operation through to the store. The envelope mirrors
// the indexed columns so listPending-style scans stay cheap.
func (q *QueueManager) persist(ctx context.Context, op *Operation) error {
	payload, err := json.Marshal(op)
	if err != nil {
		return syncErrors.NewStoreError(syncErrors.OpPut,
			fmt.Errorf("marshal operation %q: %w", op.ID, err))
	}

	record := StoredRecord{
		ID:        op.ID,
		DataType:  string(op.DataType),
		Status:    string(op.Status),
		Timestamp: op.Timestamp,
		Payload:   payload,
	}
	if err := q.store.Put(ctx, PartitionOperationQueue, record); err != nil {
		return syncErrors.WrapStore(err, syncErrors.OpPut)
	}
	return nil
}
