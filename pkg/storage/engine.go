package storage

import (
	"context"
	"errors"
)

// Errors returned by storage engines.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidID        = errors.New("invalid id")
	ErrInvalidData      = errors.New("invalid data")
	ErrStorageClosed    = errors.New("storage closed")
	ErrUnsupportedValue = errors.New("unsupported property value type")
	ErrNoIndex          = errors.New("no such index")
	ErrIndexExists      = errors.New("index already exists")
)

// RecordStore reads and writes primary records.
type RecordStore interface {
	// GetRecord returns ErrNotFound when no record exists for id.
	GetRecord(ctx context.Context, kind Kind, id ID) (*Record, error)
	PutRecord(ctx context.Context, rec *Record) error
	// DeleteRecord is a no-op for absent records.
	DeleteRecord(ctx context.Context, kind Kind, id ID) error
}

// IndexStore reads and writes secondary index rows. None of its writes are
// atomic with RecordStore writes.
type IndexStore interface {
	// WriteIndexEntries writes every index row derived from rec: endpoint rows
	// for edges plus one row per declared index the record carries a value for.
	WriteIndexEntries(ctx context.Context, rec *Record) error

	// UpdateIndexEntries writes the rows of next and then removes the rows of
	// prev that next no longer produces.
	UpdateIndexEntries(ctx context.Context, prev, next *Record) error

	// DeleteIndexEntries removes every row WriteIndexEntries(rec) writes.
	DeleteIndexEntries(ctx context.Context, rec *Record) error

	// DeleteIndexEntry removes exactly one row, and only if the stored row is
	// not newer than entry.Timestamp. Deleting an absent row is not an error.
	DeleteIndexEntry(ctx context.Context, entry IndexEntry) error

	// ScanByIndex returns vertex property index rows.
	ScanByIndex(ctx context.Context, scan IndexScan) ([]IndexEntry, error)

	// ScanEdges returns edge endpoint rows for one vertex. Property scans
	// return ErrNoIndex when no edge index is declared for (label, key).
	ScanEdges(ctx context.Context, scan EdgeScan) ([]IndexEntry, error)

	CreateIndex(ctx context.Context, key IndexKey, unique bool) error
	DropIndex(ctx context.Context, key IndexKey) error
	Index(ctx context.Context, key IndexKey) (*IndexMeta, error)
	Indexes(ctx context.Context) ([]IndexMeta, error)
}

// Engine is the full storage collaborator.
type Engine interface {
	RecordStore
	IndexStore
	Close() error
}

var (
	_ Engine = (*BadgerEngine)(nil)
	_ Engine = (*MemoryEngine)(nil)
)
