package offlinesync

import (
	"context"
	"encoding/json"
	"fmt"

	syncErrors "github.com/lexflow/go-offline-sync/errors"
)

// Cache provides typed read/write access to the offline partitions:
// document snapshots, form drafts, and generic domain records. It is a
// thin layer over the local store; the only logic here is key shaping.
type Cache struct {
	store LocalStore
}

// NewCache creates cache accessors over the given store.
func NewCache(store LocalStore) *Cache {
	return &Cache{store: store}
}

// domainKey derives the composite primary key for a domain record.
func domainKey(dataType DataType, id string) string {
	return string(dataType) + "_" + id
}

// StoreDocument inserts or overwrites an offline document snapshot.
func (c *Cache) StoreDocument(ctx context.Context, doc CachedDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return syncErrors.NewStoreError(syncErrors.OpPut, fmt.Errorf("marshal document %q: %w", doc.ID, err))
	}
	return syncErrors.WrapStore(c.store.Put(ctx, PartitionDocuments, StoredRecord{
		ID:        doc.ID,
		Status:    string(doc.SyncStatus),
		Timestamp: doc.LastModified,
		Payload:   payload,
	}), syncErrors.OpPut)
}

// GetDocument returns the cached document with the given id, or
// ErrNotFound.
func (c *Cache) GetDocument(ctx context.Context, id string) (CachedDocument, error) {
	var doc CachedDocument
	rec, err := c.store.Get(ctx, PartitionDocuments, id)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(rec.Payload, &doc); err != nil {
		return doc, syncErrors.NewStoreError(syncErrors.OpGet, fmt.Errorf("corrupt document record %q: %w", id, err))
	}
	return doc, nil
}

// GetAllDocuments returns every cached document, order unspecified.
func (c *Cache) GetAllDocuments(ctx context.Context) ([]CachedDocument, error) {
	records, err := c.store.GetAll(ctx, PartitionDocuments)
	if err != nil {
		return nil, syncErrors.WrapStore(err, syncErrors.OpGetAll)
	}

	docs := make([]CachedDocument, 0, len(records))
	for _, rec := range records {
		var doc CachedDocument
		if err := json.Unmarshal(rec.Payload, &doc); err != nil {
			return nil, syncErrors.NewStoreError(syncErrors.OpGetAll, fmt.Errorf("corrupt document record %q: %w", rec.ID, err))
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// StoreForm inserts or overwrites a drafted form submission.
func (c *Cache) StoreForm(ctx context.Context, form CachedForm) error {
	payload, err := json.Marshal(form)
	if err != nil {
		return syncErrors.NewStoreError(syncErrors.OpPut, fmt.Errorf("marshal form %q: %w", form.ID, err))
	}
	return syncErrors.WrapStore(c.store.Put(ctx, PartitionForms, StoredRecord{
		ID:        form.ID,
		Status:    string(form.Status),
		Timestamp: form.Timestamp,
		Payload:   payload,
	}), syncErrors.OpPut)
}

// GetForm returns the cached form draft with the given id, or ErrNotFound.
func (c *Cache) GetForm(ctx context.Context, id string) (CachedForm, error) {
	var form CachedForm
	rec, err := c.store.Get(ctx, PartitionForms, id)
	if err != nil {
		return form, err
	}
	if err := json.Unmarshal(rec.Payload, &form); err != nil {
		return form, syncErrors.NewStoreError(syncErrors.OpGet, fmt.Errorf("corrupt form record %q: %w", id, err))
	}
	return form, nil
}

// GetAllForms returns every cached form draft, order unspecified.
func (c *Cache) GetAllForms(ctx context.Context) ([]CachedForm, error) {
	records, err := c.store.GetAll(ctx, PartitionForms)
	if err != nil {
		return nil, syncErrors.WrapStore(err, syncErrors.OpGetAll)
	}

	forms := make([]CachedForm, 0, len(records))
	for _, rec := range records {
		var form CachedForm
		if err := json.Unmarshal(rec.Payload, &form); err != nil {
			return nil, syncErrors.NewStoreError(syncErrors.OpGetAll, fmt.Errorf("corrupt form record %q: %w", rec.ID, err))
		}
		forms = append(forms, form)
	}
	return forms, nil
}

// StoreRecord inserts or overwrites a generic domain record. Records are
// keyed by the (dataType, id) composite and always replaced whole, never
// partially updated.
func (c *Cache) StoreRecord(ctx context.Context, record CachedRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return syncErrors.NewStoreError(syncErrors.OpPut, fmt.Errorf("marshal record %q: %w", record.ID, err))
	}
	return syncErrors.WrapStore(c.store.Put(ctx, PartitionDomainRecords, StoredRecord{
		ID:        domainKey(record.DataType, record.ID),
		DataType:  string(record.DataType),
		Timestamp: record.LastSync,
		Payload:   payload,
	}), syncErrors.OpPut)
}

// GetRecord returns the cached domain record for (dataType, id), or
// ErrNotFound.
func (c *Cache) GetRecord(ctx context.Context, dataType DataType, id string) (CachedRecord, error) {
	var record CachedRecord
	rec, err := c.store.Get(ctx, PartitionDomainRecords, domainKey(dataType, id))
	if err != nil {
		return record, err
	}
	if err := json.Unmarshal(rec.Payload, &record); err != nil {
		return record, syncErrors.NewStoreError(syncErrors.OpGet, fmt.Errorf("corrupt domain record %q: %w", id, err))
	}
	return record, nil
}

// GetAllRecordsByType returns every cached domain record with the given
// data type, order unspecified.
func (c *Cache) GetAllRecordsByType(ctx context.Context, dataType DataType) ([]CachedRecord, error) {
	records, err := c.store.GetAll(ctx, PartitionDomainRecords)
	if err != nil {
		return nil, syncErrors.WrapStore(err, syncErrors.OpGetAll)
	}

	out := make([]CachedRecord, 0)
	for _, rec := range records {
		if rec.DataType != string(dataType) {
			continue
		}
		var record CachedRecord
		if err := json.Unmarshal(rec.Payload, &record); err != nil {
			return nil, syncErrors.NewStoreError(syncErrors.OpGetAll, fmt.Errorf("corrupt domain record %q: %w", rec.ID, err))
		}
		out = append(out, record)
	}
	return out, nil
}
