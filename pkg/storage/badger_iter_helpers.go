package storage

import "github.com/dgraph-io/badger/v4"

// scanPrefetch is the number of values Badger fetches ahead during scans.
const scanPrefetch = 64

// scan walks the keys of r in order and hands each row to fn. Values are
// prefetched since every caller decodes them.
func (t badgerTxn) scan(r keyRange, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = r.prefix
	opts.PrefetchValues = true
	opts.PrefetchSize = scanPrefetch

	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(r.seek()); it.Valid(); it.Next() {
		item := it.Item()
		if !r.contains(item.Key()) {
			break
		}
		key := item.KeyCopy(nil)
		if err := item.Value(func(val []byte) error {
			return fn(key, val)
		}); err != nil {
			return err
		}
	}
	return nil
}

// countKeys counts the keys starting with prefix without reading values.
func (t badgerTxn) countKeys(prefix []byte) int64 {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false

	it := t.txn.NewIterator(opts)
	defer it.Close()

	var n int64
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n
}
