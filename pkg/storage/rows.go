package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrUniqueConstraint is returned when a write would give two elements the
// same value in a unique index.
var ErrUniqueConstraint = errors.New("unique index constraint violated")

// kvTxn is the row-level view an engine exposes to the shared row logic.
// Callbacks passed to scan must not write through the same transaction.
type kvTxn interface {
	get(key []byte) ([]byte, error) // ErrNotFound when absent
	set(key, value []byte) error
	del(key []byte) error
	scan(r keyRange, fn func(key, value []byte) error) error
}

type kvStore interface {
	view(fn func(kvTxn) error) error
	update(fn func(kvTxn) error) error
}

// rowEngine implements the record and index semantics shared by every engine
// on top of a plain ordered key/value store.
type rowEngine struct {
	kv  kvStore
	now func() time.Time

	indexMu       sync.RWMutex
	indexes       map[IndexKey]IndexMeta
	indexesLoaded bool
}

func newRowEngine(kv kvStore) *rowEngine {
	return &rowEngine{kv: kv, now: time.Now}
}

// ============================================================================
// Records
// ============================================================================

// GetRecord retrieves a record by kind and ID.
func (r *rowEngine) GetRecord(ctx context.Context, kind Kind, id ID) (*Record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *Record
	err := r.kv.view(func(txn kvTxn) error {
		data, err := txn.get(recordKey(kind, id))
		if err != nil {
			return err
		}
		rec, err = decodeRecord(data)
		if err != nil {
			return fmt.Errorf("failed to decode %s %s: %w", kind, id, err)
		}
		return nil
	})
	return rec, err
}

// PutRecord writes (creates or overwrites) a primary record. Index rows are
// not touched.
func (r *rowEngine) PutRecord(ctx context.Context, rec *Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	for k, v := range rec.Properties {
		if _, err := EncodeValue(v); err != nil {
			return fmt.Errorf("property %q: %w", k, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", rec.Kind, rec.ID, err)
	}
	return r.kv.update(func(txn kvTxn) error {
		return txn.set(recordKey(rec.Kind, rec.ID), data)
	})
}

// DeleteRecord removes a primary record. Index rows are not touched.
func (r *rowEngine) DeleteRecord(ctx context.Context, kind Kind, id ID) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.kv.update(func(txn kvTxn) error {
		return txn.del(recordKey(kind, id))
	})
}

// ============================================================================
// Index rows
// ============================================================================

// WriteIndexEntries writes all index rows of rec in one transaction.
func (r *rowEngine) WriteIndexEntries(ctx context.Context, rec *Record) error {
	indexes, err := r.activeIndexes()
	if err != nil {
		return err
	}
	entries, err := indexEntries(rec, indexes)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.kv.update(func(txn kvTxn) error {
		if err := r.checkUnique(txn, entries, indexes); err != nil {
			return err
		}
		return putEntries(txn, entries)
	})
}

// UpdateIndexEntries writes the rows of next, then removes rows of prev that
// next does not produce. Rows shared by both are overwritten in place.
func (r *rowEngine) UpdateIndexEntries(ctx context.Context, prev, next *Record) error {
	indexes, err := r.activeIndexes()
	if err != nil {
		return err
	}
	prevEntries, err := indexEntries(prev, indexes)
	if err != nil {
		return err
	}
	nextEntries, err := indexEntries(next, indexes)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.kv.update(func(txn kvTxn) error {
		if err := r.checkUnique(txn, nextEntries, indexes); err != nil {
			return err
		}
		if err := putEntries(txn, nextEntries); err != nil {
			return err
		}
		for _, e := range staleEntries(prevEntries, nextEntries) {
			if err := txn.del(rowKey(e)); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteIndexEntries removes all index rows of rec.
func (r *rowEngine) DeleteIndexEntries(ctx context.Context, rec *Record) error {
	indexes, err := r.activeIndexes()
	if err != nil {
		return err
	}
	entries, err := indexEntries(rec, indexes)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.kv.update(func(txn kvTxn) error {
		for _, e := range entries {
			if err := txn.del(rowKey(e)); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteIndexEntry removes one row unless the stored row was rewritten after
// entry.Timestamp.
func (r *rowEngine) DeleteIndexEntry(ctx context.Context, entry IndexEntry) error {
	if err := validateID(entry.Element); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := rowKey(entry)
	return r.kv.update(func(txn kvTxn) error {
		data, err := txn.get(key)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		stored, err := decodeIndexEntry(data)
		if err != nil {
			return fmt.Errorf("failed to decode index row: %w", err)
		}
		if stored.Timestamp > entry.Timestamp {
			return nil
		}
		return txn.del(key)
	})
}

// ScanByIndex returns the vertex property index rows matching scan.
func (r *rowEngine) ScanByIndex(ctx context.Context, scan IndexScan) ([]IndexEntry, error) {
	if _, err := r.Index(ctx, scan.Key); err != nil {
		return nil, err
	}
	kr, err := vertexScanRange(scan)
	if err != nil {
		return nil, err
	}

	var out []IndexEntry
	err = r.kv.view(func(txn kvTxn) error {
		return scanEntries(ctx, txn, kr, func(e IndexEntry) { out = append(out, e) })
	})
	return out, err
}

// ScanEdges returns the endpoint rows of one vertex.
func (r *rowEngine) ScanEdges(ctx context.Context, scan EdgeScan) ([]IndexEntry, error) {
	if scan.PropertyKey != "" {
		if len(scan.Labels) != 1 {
			return nil, fmt.Errorf("%w: property edge scan needs exactly one label", ErrInvalidData)
		}
		key := IndexKey{Kind: KindEdge, Label: scan.Labels[0], PropertyKey: scan.PropertyKey}
		if _, err := r.Index(ctx, key); err != nil {
			return nil, err
		}
	}
	ranges, err := edgeScanRanges(scan)
	if err != nil {
		return nil, err
	}

	var out []IndexEntry
	err = r.kv.view(func(txn kvTxn) error {
		for _, kr := range ranges {
			if err := scanEntries(ctx, txn, kr, func(e IndexEntry) { out = append(out, e) }); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func putEntries(txn kvTxn, entries []IndexEntry) error {
	for _, e := range entries {
		data, err := encodeIndexEntry(e)
		if err != nil {
			return fmt.Errorf("failed to encode index row: %w", err)
		}
		if err := txn.set(rowKey(e), data); err != nil {
			return err
		}
	}
	return nil
}

func scanEntries(ctx context.Context, txn kvTxn, kr keyRange, fn func(IndexEntry)) error {
	return txn.scan(kr, func(_, value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := decodeIndexEntry(value)
		if err != nil {
			return fmt.Errorf("failed to decode index row: %w", err)
		}
		fn(e)
		return nil
	})
}

// checkUnique rejects vertex rows that would share a value with a different
// element in a unique index.
func (r *rowEngine) checkUnique(txn kvTxn, entries []IndexEntry, indexes []IndexMeta) error {
	for _, meta := range indexes {
		if !meta.Unique || meta.Key.Kind != KindVertex {
			continue
		}
		for _, e := range entries {
			if e.Key != meta.Key {
				continue
			}
			kr := keyRange{prefix: escapeKeyPart(vertexIndexPrefix(e.Key.Label, e.Key.PropertyKey), e.Value)}
			conflict := false
			err := txn.scan(kr, func(_, value []byte) error {
				other, err := decodeIndexEntry(value)
				if err != nil {
					return err
				}
				if other.Element != e.Element {
					conflict = true
				}
				return nil
			})
			if err != nil {
				return err
			}
			if conflict {
				return fmt.Errorf("%w: %s", ErrUniqueConstraint, meta.Key)
			}
		}
	}
	return nil
}

// ============================================================================
// Index metadata
// ============================================================================

// CreateIndex declares a property index and backfills rows for existing
// records of the indexed label.
func (r *rowEngine) CreateIndex(ctx context.Context, key IndexKey, unique bool) error {
	if err := validateIndexKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	meta := IndexMeta{Key: key, Unique: unique, CreatedAt: r.now().UnixMilli()}
	data, err := encodeIndexMeta(meta)
	if err != nil {
		return err
	}

	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	err = r.kv.update(func(txn kvTxn) error {
		if _, err := txn.get(indexMetaKey(key)); err == nil {
			return fmt.Errorf("%w: %s", ErrIndexExists, key)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		var backfill []IndexEntry
		err := txn.scan(keyRange{prefix: recordKey(key.Kind, "")}, func(_, value []byte) error {
			rec, err := decodeRecord(value)
			if err != nil {
				return err
			}
			entries, err := indexEntries(rec, []IndexMeta{meta})
			if err != nil {
				return err
			}
			for _, e := range entries {
				if e.Key == key {
					backfill = append(backfill, e)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("backfill %s: %w", key, err)
		}
		if unique {
			seen := make(map[string]ID, len(backfill))
			for _, e := range backfill {
				if other, ok := seen[string(e.Value)]; ok && other != e.Element {
					return fmt.Errorf("%w: %s", ErrUniqueConstraint, key)
				}
				seen[string(e.Value)] = e.Element
			}
		}
		if err := putEntries(txn, backfill); err != nil {
			return err
		}
		return txn.set(indexMetaKey(key), data)
	})
	if err != nil {
		return err
	}

	if r.indexesLoaded {
		r.indexes[key] = meta
	}
	return nil
}

// DropIndex removes a declared index and all of its rows.
func (r *rowEngine) DropIndex(ctx context.Context, key IndexKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	err := r.kv.update(func(txn kvTxn) error {
		if _, err := txn.get(indexMetaKey(key)); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrNoIndex, key)
			}
			return err
		}

		kr := keyRange{prefix: vertexIndexPrefix(key.Label, key.PropertyKey)}
		if key.Kind == KindEdge {
			kr = keyRange{prefix: []byte{prefixEdgeIndex}}
		}
		var doomed [][]byte
		err := txn.scan(kr, func(k, value []byte) error {
			e, err := decodeIndexEntry(value)
			if err != nil {
				return err
			}
			if e.Key == key {
				doomed = append(doomed, k)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range doomed {
			if err := txn.del(k); err != nil {
				return err
			}
		}
		return txn.del(indexMetaKey(key))
	})
	if err != nil {
		return err
	}

	if r.indexesLoaded {
		delete(r.indexes, key)
	}
	return nil
}

// Index returns the metadata of one declared index, or ErrNoIndex.
func (r *rowEngine) Index(ctx context.Context, key IndexKey) (*IndexMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := r.activeIndexes(); err != nil {
		return nil, err
	}
	r.indexMu.RLock()
	meta, ok := r.indexes[key]
	r.indexMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoIndex, key)
	}
	return &meta, nil
}

// Indexes lists all declared indexes ordered by kind, label and key.
func (r *rowEngine) Indexes(ctx context.Context) ([]IndexMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := r.activeIndexes()
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		return a.PropertyKey < b.PropertyKey
	})
	return out, nil
}

// forgetIndexes drops the cached index metadata so the next use reloads it
// from the store.
func (r *rowEngine) forgetIndexes() {
	r.indexMu.Lock()
	r.indexes = nil
	r.indexesLoaded = false
	r.indexMu.Unlock()
}

// activeIndexes returns a snapshot of the declared indexes, loading them from
// the store on first use.
func (r *rowEngine) activeIndexes() ([]IndexMeta, error) {
	r.indexMu.RLock()
	if r.indexesLoaded {
		out := make([]IndexMeta, 0, len(r.indexes))
		for _, m := range r.indexes {
			out = append(out, m)
		}
		r.indexMu.RUnlock()
		return out, nil
	}
	r.indexMu.RUnlock()

	r.indexMu.Lock()
	defer r.indexMu.Unlock()
	if !r.indexesLoaded {
		loaded := make(map[IndexKey]IndexMeta)
		err := r.kv.view(func(txn kvTxn) error {
			return txn.scan(keyRange{prefix: []byte{prefixIndexMeta}}, func(_, value []byte) error {
				m, err := decodeIndexMeta(value)
				if err != nil {
					return err
				}
				loaded[m.Key] = m
				return nil
			})
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load index metadata: %w", err)
		}
		r.indexes = loaded
		r.indexesLoaded = true
	}
	out := make([]IndexMeta, 0, len(r.indexes))
	for _, m := range r.indexes {
		out = append(out, m)
	}
	return out, nil
}
