package offlinesync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	syncErrors "github.com/lexflow/go-offline-sync/errors"
	"github.com/lexflow/go-offline-sync/logging"
)

// DefaultSyncInterval is the periodic pass interval used when the engine
// config leaves it unset.
const DefaultSyncInterval = 30 * time.Second

// SyncResult summarizes one sync pass over the pending queue.
type SyncResult struct {
	StartTime time.Time
	Duration  time.Duration

	Attempted int
	Completed int
	Retried   int
	Failed    int
	Conflicts int

	Errors []error
}

// Coordinator drives queued operations to completion when connectivity
// allows. Both triggers into a pass, the periodic ticker and the
// online-transition signal, route through the same single-flight guard,
// so at most one pass runs at a time.
type Coordinator struct {
	queue   *QueueManager
	adapter NetworkAdapter
	log     *logging.Logger
	now     func() time.Time

	interval time.Duration

	online     atomic.Bool
	inProgress atomic.Bool

	// Internal state
	mu           sync.Mutex
	autoSyncStop chan struct{}
	subscribers  []func(*SyncResult)
	lastSync     time.Time
	closed       bool

	passes sync.WaitGroup
}

// NewCoordinator creates a coordinator over the given queue and adapter.
func NewCoordinator(queue *QueueManager, adapter NetworkAdapter, interval time.Duration, log *logging.Logger) *Coordinator {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	if log == nil {
		log = logging.Default()
	}
	return &Coordinator{
		queue:    queue,
		adapter:  adapter,
		log:      log.WithComponent(logging.Component("coordinator")),
		now:      time.Now,
		interval: interval,
	}
}

// IsOnline reports the current connectivity flag.
func (c *Coordinator) IsOnline() bool {
	return c.online.Load()
}

// SetOnline updates the connectivity flag from an external signal. A
// transition to online immediately triggers a sync pass in the
// background; the coordinator never polls for connectivity itself.
func (c *Coordinator) SetOnline(online bool) {
	was := c.online.Swap(online)
	if was == online {
		return
	}

	c.log.Info("connectivity changed", slog.Bool("online", online))

	if online {
		c.passes.Add(1)
		go func() {
			defer c.passes.Done()
			if _, err := c.SyncPending(context.Background()); err != nil {
				c.log.LogError(context.Background(), err, "sync pass after reconnect failed")
			}
		}()
	}
}

// LastSync returns the completion time of the most recent pass, zero if
// none has run.
func (c *Coordinator) LastSync() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSync
}

// Subscribe registers a handler invoked after every sync pass.
func (c *Coordinator) Subscribe(handler func(*SyncResult)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("coordinator is closed")
	}
	c.subscribers = append(c.subscribers, handler)
	return nil
}

// StartAutoSync begins periodic sync passes at the configured interval.
func (c *Coordinator) StartAutoSync(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("coordinator is closed")
	}
	if c.autoSyncStop != nil {
		return fmt.Errorf("auto sync is already running")
	}

	c.autoSyncStop = make(chan struct{})
	stop := c.autoSyncStop

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if _, err := c.SyncPending(ctx); err != nil {
					c.log.LogError(ctx, err, "periodic sync pass failed")
				}
			}
		}
	}()

	return nil
}

// StopAutoSync stops the periodic passes. An in-flight pass is left to
// finish; no new one is started.
func (c *Coordinator) StopAutoSync() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.autoSyncStop == nil {
		return fmt.Errorf("auto sync is not running")
	}

	close(c.autoSyncStop)
	c.autoSyncStop = nil
	return nil
}

// Close stops the ticker and waits for any in-flight pass to finish.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.autoSyncStop != nil {
		close(c.autoSyncStop)
		c.autoSyncStop = nil
	}
	c.mu.Unlock()

	c.passes.Wait()
	return c.adapter.Close()
}

// SyncPending runs one serialized pass over the eligible pending
// operations. It is a no-op returning (nil, nil) while offline or while
// another pass is in progress; the guard makes concurrent triggers safe.
// Each operation is driven to a terminal-for-this-pass outcome before the
// next is started, and one operation's failure never aborts the batch.
func (c *Coordinator) SyncPending(ctx context.Context) (*SyncResult, error) {
	// The pass registers in the passes group under the same lock that
	// Close uses to flip closed, so Close joins every pass regardless of
	// which trigger started it.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, syncErrors.New(syncErrors.OpSyncPass, fmt.Errorf("coordinator is closed"))
	}
	if !c.online.Load() || !c.inProgress.CompareAndSwap(false, true) {
		c.mu.Unlock()
		return nil, nil
	}
	c.passes.Add(1)
	c.mu.Unlock()

	defer func() {
		c.inProgress.Store(false)
		c.passes.Done()
	}()

	result := &SyncResult{StartTime: c.now()}
	defer func() {
		result.Duration = time.Since(result.StartTime)

		c.mu.Lock()
		c.lastSync = c.now()
		subscribers := make([]func(*SyncResult), len(c.subscribers))
		copy(subscribers, c.subscribers)
		c.mu.Unlock()

		for _, handler := range subscribers {
			handler(result)
		}
	}()

	pending := c.queue.ListPending()
	if len(pending) == 0 {
		return result, nil
	}

	c.log.Info("sync pass started", slog.Int("pending", len(pending)))

	for _, op := range pending {
		select {
		case <-ctx.Done():
			result.Errors = append(result.Errors, ctx.Err())
			return result, nil
		default:
		}

		result.Attempted++
		c.syncOperation(ctx, op.ID, result)
	}

	c.log.Info("sync pass finished",
		slog.Int("attempted", result.Attempted),
		slog.Int("completed", result.Completed),
		slog.Int("retried", result.Retried),
		slog.Int("failed", result.Failed),
		slog.Int("conflicts", result.Conflicts),
	)
	return result, nil
}

// ResyncOperation attempts a single pending operation immediately,
// outside the batch cycle. Used after a local conflict resolution so the
// user-driven decision does not wait for the next pass. While offline it
// is a no-op; the operation stays pending for the next pass.
func (c *Coordinator) ResyncOperation(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return syncErrors.New(syncErrors.OpSyncPass, fmt.Errorf("coordinator is closed"))
	}
	c.passes.Add(1)
	c.mu.Unlock()
	defer c.passes.Done()

	if !c.online.Load() {
		return nil
	}

	result := &SyncResult{StartTime: c.now(), Attempted: 1}
	c.syncOperation(ctx, id, result)
	if len(result.Errors) > 0 {
		return result.Errors[0]
	}
	return nil
}

// syncOperation drives one operation through a single attempt. The
// pending -> syncing transition doubles as a claim: if another attempt
// holds the operation, the transition is rejected and this one skips.
func (c *Coordinator) syncOperation(ctx context.Context, id string, result *SyncResult) {
	op, err := c.queue.Transition(ctx, id, StatusSyncing, TransitionDetail{})
	if err != nil {
		result.Errors = append(result.Errors, err)
		return
	}

	if err := c.dispatch(ctx, op); err != nil {
		updated, recErr := c.queue.RecordFailure(ctx, id, err)
		if recErr != nil {
			result.Errors = append(result.Errors, recErr)
			return
		}
		result.Errors = append(result.Errors, err)

		switch updated.Status {
		case StatusConflict:
			result.Conflicts++
			c.log.Warn("operation conflicted",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
		case StatusFailed:
			result.Failed++
			c.log.LogError(ctx, err, "operation failed terminally",
				slog.String("id", id),
				slog.Int("retry_count", updated.RetryCount),
			)
		case StatusPending:
			result.Retried++
			c.log.Warn("operation scheduled for retry",
				slog.String("id", id),
				slog.Int("retry_count", updated.RetryCount),
				slog.Time("next_attempt_at", updated.NextAttemptAt),
			)
		}
		return
	}

	if _, err := c.queue.Transition(ctx, id, StatusCompleted, TransitionDetail{}); err != nil {
		result.Errors = append(result.Errors, err)
		return
	}
	result.Completed++
}

// dispatch invokes the adapter method matching the operation type.
func (c *Coordinator) dispatch(ctx context.Context, op *Operation) error {
	switch op.Type {
	case OpCreate:
		return c.adapter.Create(ctx, op.DataType, op.Payload)
	case OpUpdate:
		return c.adapter.Update(ctx, op.DataType, op.Payload)
	case OpDelete:
		return c.adapter.Delete(ctx, op.DataType, op.Payload)
	default:
		return syncErrors.NewInvalidStateError(syncErrors.OpSyncPass,
			fmt.Errorf("unknown operation type %q", op.Type))
	}
}
