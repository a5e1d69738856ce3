// Package offlinesync provides an offline-first synchronization engine
// for client applications that must keep working while disconnected.
// Mutations are queued durably in a local store, replayed against the
// backend in FIFO order when connectivity returns, and conflicts are
// surfaced for explicit resolution.
package offlinesync

import (
	"encoding/json"
	"time"
)

// OperationType identifies the kind of mutation an operation performs.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// Valid reports whether t is one of the known operation types.
func (t OperationType) Valid() bool {
	switch t {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// DataType tags the backend collection an operation or cache entry targets.
// The enumeration is closed; the REST adapter maps each value to an endpoint.
type DataType string

const (
	DataTypeCase      DataType = "case"
	DataTypeClient    DataType = "client"
	DataTypeDocument  DataType = "document"
	DataTypeTimeEntry DataType = "time-entry"
	DataTypeInvoice   DataType = "invoice"
	DataTypeExpense   DataType = "expense"
	DataTypeTask      DataType = "task"
	DataTypeMessage   DataType = "message"
)

// Valid reports whether d is one of the known data types.
func (d DataType) Valid() bool {
	switch d {
	case DataTypeCase, DataTypeClient, DataTypeDocument, DataTypeTimeEntry,
		DataTypeInvoice, DataTypeExpense, DataTypeTask, DataTypeMessage:
		return true
	}
	return false
}

// Status is the lifecycle state of a queued operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSyncing   Status = "syncing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusConflict  Status = "conflict"
)

// Resolution is the adjudication applied to a conflicted operation.
type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionRemote Resolution = "remote"
	ResolutionManual Resolution = "manual"
)

// Valid reports whether r is one of the known resolutions.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionLocal, ResolutionRemote, ResolutionManual:
		return true
	}
	return false
}

// Operation is a queued mutation awaiting remote application.
type Operation struct {
	ID        string          `json:"id"`
	Type      OperationType   `json:"type"`
	DataType  DataType        `json:"dataType"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Status    Status          `json:"status"`

	// RetryCount is the number of failed attempts so far. It only increases.
	RetryCount int `json:"retryCount"`

	// NextAttemptAt is the earliest time a pending retry becomes eligible
	// again. The periodic pass checks it instead of scheduling timers, so
	// retry state stays inspectable.
	NextAttemptAt time.Time `json:"nextAttemptAt,omitempty"`

	// Error holds the last failure message, empty if none occurred.
	Error string `json:"error,omitempty"`

	// ConflictResolution is set exactly once a conflict has been adjudicated.
	ConflictResolution Resolution `json:"conflictResolution,omitempty"`
}

// Clone returns a deep copy of the operation.
func (o *Operation) Clone() *Operation {
	dup := *o
	if o.Payload != nil {
		dup.Payload = append(json.RawMessage(nil), o.Payload...)
	}
	return &dup
}

// transitions is the operation state machine. An edge must exist here for
// Transition to accept it; side effects (retry accounting, resolution
// stamping) are applied by the queue manager.
var transitions = map[Status][]Status{
	StatusPending:  {StatusSyncing},
	StatusSyncing:  {StatusCompleted, StatusPending, StatusFailed, StatusConflict},
	StatusConflict: {StatusPending, StatusCompleted, StatusConflict},
	// failed is terminal until an operator re-enqueues it manually
	StatusFailed: {StatusPending},
}

// canTransition reports whether the state machine permits from -> to.
func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CachedDocument is an offline-readable document snapshot. It is created
// when a document is pulled for offline use and only ever evicted
// explicitly.
type CachedDocument struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      []byte    `json:"content"`
	FileType     string    `json:"fileType"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	Available    bool      `json:"available"`

	// SyncStatus is the subset of operation statuses relevant to documents:
	// pending, syncing, completed, failed.
	SyncStatus Status `json:"syncStatus"`
}

// CachedForm is a drafted form payload awaiting submission. Its lifecycle
// mirrors Operation but is scoped to form-style submissions.
type CachedForm struct {
	ID         string          `json:"id"`
	FormType   string          `json:"formType"`
	Data       json.RawMessage `json:"data"`
	Timestamp  time.Time       `json:"timestamp"`
	Status     Status          `json:"status"`
	RetryCount int             `json:"retryCount"`
}

// CachedRecord is a generic read-side cache entry keyed by (dataType, id),
// holding the last known payload for serving reads while offline. It is
// overwritten whole on every successful fetch or mutation.
type CachedRecord struct {
	ID       string          `json:"id"`
	DataType DataType        `json:"dataType"`
	Payload  json.RawMessage `json:"payload"`
	LastSync time.Time       `json:"lastSync"`
}
