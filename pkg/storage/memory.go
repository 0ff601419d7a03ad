// Package storage provides storage implementations.
// MemoryEngine is a thread-safe in-memory storage for testing and small datasets.
package storage

import (
	"bytes"
	"sync"

	"github.com/tidwall/btree"
)

// MemoryEngine is an in-memory implementation of Engine.
// It's useful for:
// - Unit testing (no disk I/O)
// - Short-lived graphs that fit in RAM
//
// Rows live in one ordered B-tree keyed exactly like BadgerEngine's keyspace,
// so scans and range lookups behave identically on both engines.
type MemoryEngine struct {
	*rowEngine

	mu     sync.RWMutex
	rows   *btree.BTreeG[memRow]
	closed bool
}

type memRow struct {
	key   []byte
	value []byte
}

func memRowLess(a, b memRow) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// NewMemoryEngine creates a new in-memory storage engine.
func NewMemoryEngine() *MemoryEngine {
	m := &MemoryEngine{
		// Locking is done by mu so a write transaction can swap in its copy.
		rows: btree.NewBTreeGOptions(memRowLess, btree.Options{NoLocks: true}),
	}
	m.rowEngine = newRowEngine(m)
	return m
}

// Close releases the stored rows. Further calls fail with ErrStorageClosed.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.rows = btree.NewBTreeGOptions(memRowLess, btree.Options{NoLocks: true})
	return nil
}

// Len returns the number of stored rows (records, index rows and metadata).
func (m *MemoryEngine) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rows.Len()
}

func (m *MemoryEngine) view(fn func(kvTxn) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStorageClosed
	}
	return fn(memTxn{rows: m.rows, readOnly: true})
}

// update runs fn against a copy-on-write snapshot and publishes it only when
// fn succeeds, so a failed transaction leaves no partial writes behind.
func (m *MemoryEngine) update(fn func(kvTxn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	snapshot := m.rows.Copy()
	if err := fn(memTxn{rows: snapshot}); err != nil {
		return err
	}
	m.rows = snapshot
	return nil
}

type memTxn struct {
	rows     *btree.BTreeG[memRow]
	readOnly bool
}

func (t memTxn) get(key []byte) ([]byte, error) {
	row, ok := t.rows.Get(memRow{key: key})
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(row.value), nil
}

func (t memTxn) set(key, value []byte) error {
	if t.readOnly {
		return ErrInvalidData
	}
	t.rows.Set(memRow{key: bytes.Clone(key), value: bytes.Clone(value)})
	return nil
}

func (t memTxn) del(key []byte) error {
	if t.readOnly {
		return ErrInvalidData
	}
	t.rows.Delete(memRow{key: key})
	return nil
}

func (t memTxn) scan(r keyRange, fn func(key, value []byte) error) error {
	var err error
	t.rows.Ascend(memRow{key: r.seek()}, func(row memRow) bool {
		if !r.contains(row.key) {
			return false
		}
		err = fn(bytes.Clone(row.key), row.value)
		return err == nil
	})
	return err
}
