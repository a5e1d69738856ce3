// Package sqlite provides a SQLite implementation of the offlinesync LocalStore.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	offlinesync "github.com/lexflow/go-offline-sync"
	syncErrors "github.com/lexflow/go-offline-sync/errors"
	"github.com/lexflow/go-offline-sync/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Custom errors for better error handling
var (
	ErrStoreClosed      = errors.New("store is closed")
	ErrUnknownPartition = errors.New("unknown partition")
)

// partitionTables maps each engine partition to its table. The mapping is
// fixed; table names never come from caller input.
var partitionTables = map[offlinesync.Partition]string{
	offlinesync.PartitionOperationQueue: "operation_queue",
	offlinesync.PartitionDocuments:      "offline_documents",
	offlinesync.PartitionForms:          "offline_forms",
	offlinesync.PartitionDomainRecords:  "offline_domain_records",
}

// Config holds configuration options for the Store.
//
// Production-ready defaults are applied by DefaultConfig() including:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:offline.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Connection pool settings for production workloads.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// Store implements the offlinesync.LocalStore interface over SQLite. Each
// partition maps to its own table, keyed by primary id and secondary-
// indexed on timestamp and status for listPending-style scans.
type Store struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
}

// Compile-time check to ensure Store satisfies the LocalStore interface
var _ offlinesync.LocalStore = (*Store)(nil)

// New creates a new Store from a Config. Initialization is fatal on
// failure: a store that cannot open or migrate its schema is unusable and
// the engine must not start on top of it.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.WithComponent(logging.Component("sqlite-store"))
	logger.InfoContext(context.Background(), "Opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, syncErrors.NewStoreError(syncErrors.OpInitialize,
			fmt.Errorf("failed to open sqlite database: %w", err))
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, syncErrors.NewStoreError(syncErrors.OpInitialize,
			fmt.Errorf("failed to connect to sqlite database: %w", err))
	}

	store := &Store{db: db}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, syncErrors.NewStoreError(syncErrors.OpInitialize,
			fmt.Errorf("failed to setup database schema: %w", err))
	}

	logger.InfoContext(context.Background(), "SQLite store initialized")
	return store, nil
}

// setupSchema creates one table per partition if missing.
func (s *Store) setupSchema() error {
	for _, table := range partitionTables {
		query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %[1]s (
        id          TEXT PRIMARY KEY,
        data_type   TEXT,
        status      TEXT,
        timestamp   INTEGER NOT NULL,
        payload     TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_%[1]s_timestamp ON %[1]s (timestamp);
    CREATE INDEX IF NOT EXISTS idx_%[1]s_status ON %[1]s (status);
    CREATE INDEX IF NOT EXISTS idx_%[1]s_data_type ON %[1]s (data_type);
    `, table)
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// tableFor resolves the table backing a partition.
func tableFor(partition offlinesync.Partition) (string, error) {
	table, ok := partitionTables[partition]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPartition, partition)
	}
	return table, nil
}

// Put inserts or overwrites a record by primary key. The operation is
// idempotent: replaying the same record leaves the partition unchanged.
func (s *Store) Put(ctx context.Context, partition offlinesync.Partition, record offlinesync.StoredRecord) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	table, err := tableFor(partition)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (id, data_type, status, timestamp, payload)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            data_type = excluded.data_type,
            status    = excluded.status,
            timestamp = excluded.timestamp,
            payload   = excluded.payload`, table)

	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		record.DataType,
		record.Status,
		record.Timestamp.UnixNano(),
		string(record.Payload),
	)
	if err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpPut, "storage/sqlite")
	}
	return nil
}

// Get returns the record with the given id, or offlinesync.ErrNotFound.
func (s *Store) Get(ctx context.Context, partition offlinesync.Partition, id string) (offlinesync.StoredRecord, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return offlinesync.StoredRecord{}, ErrStoreClosed
	}
	s.mu.RUnlock()

	table, err := tableFor(partition)
	if err != nil {
		return offlinesync.StoredRecord{}, err
	}

	query := fmt.Sprintf(`SELECT id, data_type, status, timestamp, payload FROM %s WHERE id = ?`, table)
	record, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return offlinesync.StoredRecord{}, offlinesync.ErrNotFound
		}
		return offlinesync.StoredRecord{}, syncErrors.WrapOpComponent(err, syncErrors.OpGet, "storage/sqlite")
	}
	return record, nil
}

// GetAll returns every record in the partition, order unspecified.
func (s *Store) GetAll(ctx context.Context, partition offlinesync.Partition) ([]offlinesync.StoredRecord, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	table, err := tableFor(partition)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, data_type, status, timestamp, payload FROM %s`, table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, syncErrors.OpGetAll, "storage/sqlite")
	}
	defer rows.Close()

	var records []offlinesync.StoredRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

// Clear empties a partition.
func (s *Store) Clear(ctx context.Context, partition offlinesync.Partition) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	table, err := tableFor(partition)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
		return syncErrors.WrapOpComponent(err, syncErrors.OpClear, "storage/sqlite")
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// Stats returns database statistics for monitoring
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

// scanner abstracts sql.Row and sql.Rows for scanRecord.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (offlinesync.StoredRecord, error) {
	var record offlinesync.StoredRecord
	var dataType, status, payload sql.NullString
	var timestamp int64

	if err := row.Scan(&record.ID, &dataType, &status, &timestamp, &payload); err != nil {
		return record, err
	}

	record.DataType = dataType.String
	record.Status = status.String
	record.Timestamp = time.Unix(0, timestamp)
	if payload.Valid {
		record.Payload = json.RawMessage(payload.String)
	}
	return record, nil
}
