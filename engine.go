package offlinesync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	syncErrors "github.com/lexflow/go-offline-sync/errors"
	"github.com/lexflow/go-offline-sync/logging"
)

// Config configures an Engine. Store and Adapter are required; the
// remaining fields fall back to defaults.
type Config struct {
	// Store is the durable local store backing the queue and caches.
	Store LocalStore

	// Adapter performs the backend calls for queued mutations.
	Adapter NetworkAdapter

	// SyncInterval is the periodic pass interval. Defaults to
	// DefaultSyncInterval.
	SyncInterval time.Duration

	// Logger is an optional structured logger. Defaults to the package
	// default logger.
	Logger *logging.Logger
}

// SyncStatus is the engine's externally visible sync state. Failures and
// conflicts stay counted here until resolved or cleared; nothing is
// silently dropped.
type SyncStatus struct {
	IsOnline          bool      `json:"isOnline"`
	PendingOperations int       `json:"pendingOperations"`
	FailedOperations  int       `json:"failedOperations"`
	Conflicts         int       `json:"conflicts"`
	LastSync          time.Time `json:"lastSync"`
}

// Engine is the offline sync engine surfaced to the rest of the
// application: a durable mutation queue, a connectivity-driven sync
// coordinator, conflict resolution, and offline caches.
type Engine struct {
	store       LocalStore
	queue       *QueueManager
	coordinator *Coordinator
	resolver    *ConflictResolver
	cache       *Cache
	log         *logging.Logger

	initialized atomic.Bool
}

// New assembles an engine from the given config. Initialize must be
// called before queue operations are accepted.
func New(config Config) (*Engine, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("offlinesync: Store is required")
	}
	if config.Adapter == nil {
		return nil, fmt.Errorf("offlinesync: Adapter is required")
	}

	log := config.Logger
	if log == nil {
		log = logging.Default()
	}

	queue := NewQueueManager(config.Store, log)
	coordinator := NewCoordinator(queue, config.Adapter, config.SyncInterval, log)

	return &Engine{
		store:       config.Store,
		queue:       queue,
		coordinator: coordinator,
		resolver:    NewConflictResolver(queue, coordinator, log),
		cache:       NewCache(config.Store),
		log:         log.WithComponent(logging.Component("engine")),
	}, nil
}

// Initialize rebuilds the queue from the local store and starts the
// periodic sync loop. A store failure here is fatal to the whole engine
// and is surfaced as StoreUnavailable.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.initialized.Load() {
		return nil
	}

	if err := e.queue.Load(ctx); err != nil {
		return err
	}
	if err := e.coordinator.StartAutoSync(ctx); err != nil {
		return syncErrors.New(syncErrors.OpInitialize, err)
	}

	e.initialized.Store(true)
	e.log.Info("offline sync engine initialized")
	return nil
}

// ensureInitialized guards queue-facing operations until Initialize ran.
func (e *Engine) ensureInitialized() error {
	if !e.initialized.Load() {
		return syncErrors.NewInvalidStateError(syncErrors.OpInitialize,
			fmt.Errorf("engine is not initialized"))
	}
	return nil
}

// AddToSyncQueue enqueues a mutation for eventual replay against the
// backend and returns the assigned operation id.
func (e *Engine) AddToSyncQueue(ctx context.Context, opType OperationType, dataType DataType, payload json.RawMessage) (string, error) {
	if err := e.ensureInitialized(); err != nil {
		return "", err
	}

	op, err := e.queue.Enqueue(ctx, opType, dataType, payload)
	if err != nil {
		return "", err
	}
	return op.ID, nil
}

// GetSyncStatus reports connectivity and queue counts.
func (e *Engine) GetSyncStatus() SyncStatus {
	stats := e.queue.Stats()
	return SyncStatus{
		IsOnline:          e.coordinator.IsOnline(),
		PendingOperations: stats[StatusPending] + stats[StatusSyncing],
		FailedOperations:  stats[StatusFailed],
		Conflicts:         stats[StatusConflict],
		LastSync:          e.coordinator.LastSync(),
	}
}

// GetOperation returns a copy of one queued operation for inspection.
func (e *Engine) GetOperation(id string) (*Operation, error) {
	return e.queue.Get(id)
}

// ResolveConflict applies an explicit resolution to a conflicted
// operation.
func (e *Engine) ResolveConflict(ctx context.Context, id string, resolution Resolution) error {
	if err := e.ensureInitialized(); err != nil {
		return err
	}
	return e.resolver.Resolve(ctx, id, resolution)
}

// SetOnline feeds the external connectivity signal into the coordinator.
// A transition to online triggers a sync pass.
func (e *Engine) SetOnline(online bool) {
	e.coordinator.SetOnline(online)
}

// SyncNow triggers a sync pass immediately, subject to the same
// single-flight and connectivity guards as the periodic pass.
func (e *Engine) SyncNow(ctx context.Context) (*SyncResult, error) {
	if err := e.ensureInitialized(); err != nil {
		return nil, err
	}
	return e.coordinator.SyncPending(ctx)
}

// Subscribe registers a handler invoked after every sync pass.
func (e *Engine) Subscribe(handler func(*SyncResult)) error {
	return e.coordinator.Subscribe(handler)
}

// RetryFailed re-enqueues all terminally failed operations with a fresh
// retry budget.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	if err := e.ensureInitialized(); err != nil {
		return 0, err
	}
	return e.queue.RetryFailed(ctx)
}

// ClearSyncQueue drops every queued operation, completed or not.
func (e *Engine) ClearSyncQueue(ctx context.Context) error {
	if err := e.ensureInitialized(); err != nil {
		return err
	}
	return e.queue.Clear(ctx)
}

// Offline document cache

func (e *Engine) StoreOfflineDocument(ctx context.Context, doc CachedDocument) error {
	return e.cache.StoreDocument(ctx, doc)
}

func (e *Engine) GetOfflineDocument(ctx context.Context, id string) (CachedDocument, error) {
	return e.cache.GetDocument(ctx, id)
}

func (e *Engine) GetAllOfflineDocuments(ctx context.Context) ([]CachedDocument, error) {
	return e.cache.GetAllDocuments(ctx)
}

// Offline form cache

func (e *Engine) StoreOfflineForm(ctx context.Context, form CachedForm) error {
	return e.cache.StoreForm(ctx, form)
}

func (e *Engine) GetOfflineForm(ctx context.Context, id string) (CachedForm, error) {
	return e.cache.GetForm(ctx, id)
}

func (e *Engine) GetAllOfflineForms(ctx context.Context) ([]CachedForm, error) {
	return e.cache.GetAllForms(ctx)
}

// Offline domain record cache

func (e *Engine) StoreOfflineData(ctx context.Context, record CachedRecord) error {
	return e.cache.StoreRecord(ctx, record)
}

func (e *Engine) GetOfflineData(ctx context.Context, dataType DataType, id string) (CachedRecord, error) {
	return e.cache.GetRecord(ctx, dataType, id)
}

func (e *Engine) GetAllOfflineDataByType(ctx context.Context, dataType DataType) ([]CachedRecord, error) {
	return e.cache.GetAllRecordsByType(ctx, dataType)
}

// Close stops the sync loop, waits for any in-flight pass, and closes the
// adapter and store.
func (e *Engine) Close() error {
	var errs []error
	if err := e.coordinator.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close coordinator: %w", err))
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
