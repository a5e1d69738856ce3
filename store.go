package offlinesync

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Partition names a subdivision of the local store holding one record kind.
type Partition string

const (
	PartitionOperationQueue Partition = "operationQueue"
	PartitionDocuments      Partition = "offlineDocuments"
	PartitionForms          Partition = "offlineForms"
	PartitionDomainRecords  Partition = "offlineDomainRecords"
)

// Valid reports whether p is one of the four engine partitions.
func (p Partition) Valid() bool {
	switch p {
	case PartitionOperationQueue, PartitionDocuments, PartitionForms, PartitionDomainRecords:
		return true
	}
	return false
}

// ErrNotFound is returned by LocalStore.Get when no record exists for the
// requested id. Absence is an expected outcome, not a failure.
var ErrNotFound = errors.New("record not found")

// StoredRecord is the envelope every record crosses the store boundary in.
// The indexed columns (Timestamp, Status, DataType) are mirrored out of the
// payload so implementations can maintain secondary indices without
// understanding the payload itself.
type StoredRecord struct {
	ID        string          `json:"id"`
	DataType  string          `json:"dataType,omitempty"`
	Status    string          `json:"status,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// LocalStore is the durable, partitioned key-value store the engine is
// built on. Implementations must survive process restarts; initialization
// happens in the constructor and must fail fatally rather than degrade.
//
// Put is an insert-or-overwrite by primary key and is idempotent.
// Get returns ErrNotFound on absence and never panics.
// GetAll returns every record in a partition in unspecified order; callers
// sort when order matters.
// Clear empties a partition.
type LocalStore interface {
	Put(ctx context.Context, partition Partition, record StoredRecord) error
	Get(ctx context.Context, partition Partition, id string) (StoredRecord, error)
	GetAll(ctx context.Context, partition Partition) ([]StoredRecord, error)
	Clear(ctx context.Context, partition Partition) error
	Close() error
}
