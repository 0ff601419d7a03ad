// Package storage provides storage engine implementations for NornicGraph.
//
// BadgerEngine provides persistent disk-based storage using BadgerDB.
// It implements the Engine interface; every single call runs in its own
// Badger transaction, and no transaction spans a record and its index rows.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BadgerEngine provides persistent storage using BadgerDB.
//
// Key Structure:
//   - Vertex records:   0x01 + id -> gob(Record)
//   - Edge records:     0x02 + id -> gob(Record)
//   - Vertex index:     0x03 + label + 0x00 + key + 0x00 + esc(value) + id -> gob(IndexEntry)
//   - Edge endpoints:   0x04 + vertex + 0x00 + dir + label + 0x00 + edgeID -> gob(IndexEntry)
//   - Edge index:       0x05 + vertex + 0x00 + dir + label + 0x00 + key + 0x00 + esc(value) + edgeID -> gob(IndexEntry)
//   - Index metadata:   0x06 + kind + label + 0x00 + key -> gob(IndexMeta)
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("/path/to/data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	rec := &storage.Record{ID: "v1", Kind: storage.KindVertex, Label: "person"}
//	engine.PutRecord(ctx, rec)
type BadgerEngine struct {
	*rowEngine

	db       *badger.DB
	mu       sync.RWMutex
	closed   bool
	inMemory bool // True if running in memory-only mode (testing)
}

// BadgerOptions configures the BadgerDB storage engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// Logger receives BadgerDB warnings and errors.
	// If nil, BadgerDB's own output is silenced.
	Logger Logger

	// LowMemory enables memory-constrained settings.
	LowMemory bool

	// HighPerformance enables aggressive caching and larger buffers.
	HighPerformance bool

	// EncryptionKey is the 16, 24, or 32 byte key for AES encryption.
	// Leave empty to disable encryption.
	EncryptionKey []byte
}

// NewBadgerEngine creates a new persistent storage engine with default settings.
//
// Thread Safety:
//
//	Safe for concurrent use from multiple goroutines.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		DataDir: dataDir,
	})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom configuration.
//
// Configuration Trade-offs:
//   - SyncWrites=true: Slower writes (2-5x) but maximum safety
//   - LowMemory=true: Less RAM but slightly slower
//   - InMemory=true: Fastest but data lost on shutdown
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(badgerLogger{logger: opts.Logger})
	} else {
		// Use a quiet logger by default
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	// Enable encryption at rest if key is provided
	if len(opts.EncryptionKey) > 0 {
		keyLen := len(opts.EncryptionKey)
		if keyLen != 16 && keyLen != 24 && keyLen != 32 {
			return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes (got %d bytes)", keyLen)
		}
		badgerOpts = badgerOpts.WithEncryptionKey(opts.EncryptionKey).WithIndexCacheSize(32 << 20)
	}

	if opts.HighPerformance {
		badgerOpts = badgerOpts.
			WithMemTableSize(128 << 20).     // 128MB memtable - fewer flushes
			WithValueLogFileSize(256 << 20). // 256MB value log files
			WithNumMemtables(5).
			WithNumLevelZeroTables(10).
			WithNumLevelZeroTablesStall(20).
			WithBlockCacheSize(256 << 20).
			WithIndexCacheSize(128 << 20).
			WithNumCompactors(4)
	} else if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(8 << 20).
			WithValueLogFileSize(32 << 20).
			WithNumMemtables(1).
			WithNumLevelZeroTables(1).
			WithNumLevelZeroTablesStall(2).
			WithValueThreshold(512).
			WithBlockCacheSize(8 << 20).
			WithIndexCacheSize(4 << 20)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	engine := &BadgerEngine{
		db:       db,
		inMemory: opts.InMemory,
	}
	engine.rowEngine = newRowEngine(engine)
	return engine, nil
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
//
// Data is not persisted and is lost when the engine is closed.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{
		InMemory: true,
	})
}

// IsInMemory returns true if the engine is running in memory-only mode.
func (b *BadgerEngine) IsInMemory() bool {
	return b.inMemory
}

// Close closes the underlying database. Further calls fail with ErrStorageClosed.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

// Sync forces pending writes to disk.
func (b *BadgerEngine) Sync() error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	return b.db.Sync()
}

// RunGC runs value log garbage collection until there is nothing to reclaim.
func (b *BadgerEngine) RunGC() error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	for {
		err := b.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
