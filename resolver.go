package offlinesync

import (
	"context"
	"fmt"
	"log/slog"

	syncErrors "github.com/lexflow/go-offline-sync/errors"
	"github.com/lexflow/go-offline-sync/logging"
)

// ConflictResolver applies a single adjudication to one conflicted
// operation. Conflicts are never resolved silently: every occurrence
// requires exactly one explicit decision, recorded on the operation.
type ConflictResolver struct {
	queue       *QueueManager
	coordinator *Coordinator
	log         *logging.Logger
}

// NewConflictResolver creates a resolver over the given queue and
// coordinator.
func NewConflictResolver(queue *QueueManager, coordinator *Coordinator, log *logging.Logger) *ConflictResolver {
	if log == nil {
		log = logging.Default()
	}
	return &ConflictResolver{
		queue:       queue,
		coordinator: coordinator,
		log:         log.WithComponent(logging.Component("resolver")),
	}
}

// Resolve applies the given resolution to the conflicted operation:
//
//	local  -> re-enter the queue with the local payload and attempt an
//	          immediate resync rather than waiting for the next batch
//	remote -> accept the remote state, discard the local payload, done
//	manual -> leave the operation in conflict awaiting external action
//
// The operation must currently be in conflict, otherwise InvalidState is
// returned and queue state is untouched.
func (r *ConflictResolver) Resolve(ctx context.Context, id string, resolution Resolution) error {
	if !resolution.Valid() {
		return syncErrors.NewInvalidStateError(syncErrors.OpResolve,
			fmt.Errorf("unknown resolution %q", resolution))
	}

	op, err := r.queue.Get(id)
	if err != nil {
		return syncErrors.NewInvalidStateError(syncErrors.OpResolve, err)
	}
	if op.Status != StatusConflict {
		return syncErrors.NewInvalidStateError(syncErrors.OpResolve,
			fmt.Errorf("operation %s is %s, not conflict", id, op.Status))
	}

	var target Status
	switch resolution {
	case ResolutionLocal:
		target = StatusPending
	case ResolutionRemote:
		target = StatusCompleted
	case ResolutionManual:
		target = StatusConflict
	}

	if _, err := r.queue.Transition(ctx, id, target, TransitionDetail{Resolution: resolution}); err != nil {
		return err
	}

	r.log.Info("conflict resolved",
		slog.String("id", id),
		slog.String("resolution", string(resolution)),
	)

	// A user-driven local resolution should feel responsive, so the single
	// operation is retried right away instead of riding the next batch.
	if resolution == ResolutionLocal {
		if err := r.coordinator.ResyncOperation(ctx, id); err != nil {
			r.log.LogError(ctx, err, "resync after local resolution failed",
				slog.String("id", id))
		}
	}
	return nil
}
