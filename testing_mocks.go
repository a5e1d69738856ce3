package offlinesync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Mock types for testing

// memoryStore is an in-memory LocalStore used by tests and the demo. It
// satisfies the durability contract only for the lifetime of the process.
type memoryStore struct {
	mu         sync.RWMutex
	partitions map[Partition]map[string]StoredRecord
	closed     bool

	// failPuts forces Put to fail, simulating an unavailable store
	failPuts bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		partitions: map[Partition]map[string]StoredRecord{
			PartitionOperationQueue: {},
			PartitionDocuments:      {},
			PartitionForms:          {},
			PartitionDomainRecords:  {},
		},
	}
}

func (m *memoryStore) Put(ctx context.Context, partition Partition, record StoredRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("store is closed")
	}
	if m.failPuts {
		return fmt.Errorf("simulated store failure")
	}
	if !partition.Valid() {
		return fmt.Errorf("unknown partition %q", partition)
	}

	dup := record
	dup.Payload = append(json.RawMessage(nil), record.Payload...)
	m.partitions[partition][record.ID] = dup
	return nil
}

func (m *memoryStore) Get(ctx context.Context, partition Partition, id string) (StoredRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return StoredRecord{}, fmt.Errorf("store is closed")
	}
	record, ok := m.partitions[partition][id]
	if !ok {
		return StoredRecord{}, ErrNotFound
	}
	return record, nil
}

func (m *memoryStore) GetAll(ctx context.Context, partition Partition) ([]StoredRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("store is closed")
	}
	records := make([]StoredRecord, 0, len(m.partitions[partition]))
	for _, record := range m.partitions[partition] {
		records = append(records, record)
	}
	return records, nil
}

func (m *memoryStore) Clear(ctx context.Context, partition Partition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("store is closed")
	}
	m.partitions[partition] = map[string]StoredRecord{}
	return nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// adapterCall records one invocation of the mock adapter.
type adapterCall struct {
	Method   string
	DataType DataType
	Payload  json.RawMessage
}

// mockAdapter is a scriptable NetworkAdapter. Responses are consumed in
// order per data type; once the script is exhausted calls succeed.
type mockAdapter struct {
	mu      sync.Mutex
	calls   []adapterCall
	scripts map[DataType][]error
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{scripts: make(map[DataType][]error)}
}

// script appends responses the adapter will return, in order, for the
// given data type.
func (m *mockAdapter) script(dataType DataType, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[dataType] = append(m.scripts[dataType], errs...)
}

func (m *mockAdapter) next(method string, dataType DataType, payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, adapterCall{Method: method, DataType: dataType, Payload: payload})

	queue := m.scripts[dataType]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	m.scripts[dataType] = queue[1:]
	return err
}

func (m *mockAdapter) callLog() []adapterCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]adapterCall(nil), m.calls...)
}

func (m *mockAdapter) Create(ctx context.Context, dataType DataType, payload json.RawMessage) error {
	return m.next("create", dataType, payload)
}

func (m *mockAdapter) Update(ctx context.Context, dataType DataType, payload json.RawMessage) error {
	return m.next("update", dataType, payload)
}

func (m *mockAdapter) Delete(ctx context.Context, dataType DataType, payload json.RawMessage) error {
	return m.next("delete", dataType, payload)
}

func (m *mockAdapter) Close() error { return nil }
