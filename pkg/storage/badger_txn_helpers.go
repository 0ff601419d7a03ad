package storage

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

func (b *BadgerEngine) ensureOpen() error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrStorageClosed
	}
	return nil
}

// inTxn runs fn in a Badger transaction, read-write when update is set. The
// engine's read lock is held throughout, so Close waits for transactions in
// flight instead of closing the database under them.
func (b *BadgerEngine) inTxn(update bool, fn func(badgerTxn) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}

	run := b.db.View
	if update {
		run = b.db.Update
	}
	return run(func(txn *badger.Txn) error {
		return fn(badgerTxn{txn: txn})
	})
}

func (b *BadgerEngine) view(fn func(kvTxn) error) error {
	return b.inTxn(false, func(t badgerTxn) error { return fn(t) })
}

func (b *BadgerEngine) update(fn func(kvTxn) error) error {
	return b.inTxn(true, func(t badgerTxn) error { return fn(t) })
}

// badgerTxn is the kvTxn of BadgerEngine.
type badgerTxn struct {
	txn *badger.Txn
}

func (t badgerTxn) get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t badgerTxn) set(key, value []byte) error {
	return t.txn.Set(key, value)
}

func (t badgerTxn) del(key []byte) error {
	return t.txn.Delete(key)
}
