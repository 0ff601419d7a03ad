package graph

import "context"

// Iterator is a lazy, finite, single-use sequence.
//
// Nothing is read until the first call to Next. Once exhausted or closed it
// stays exhausted; to see new results, call the method that produced it
// again.
//
//	it := v.Edges(ctx, storage.DirectionOut, "knows")
//	defer it.Close()
//	for it.Next() {
//		e := it.Value()
//		...
//	}
//	if err := it.Err(); err != nil {
//		return err
//	}
type Iterator[T any] struct {
	ctx   context.Context
	fetch func(ctx context.Context) ([]T, error)

	items   []T
	pos     int
	cur     T
	started bool
	done    bool
	err     error
}

// EdgeIterator iterates over edges.
type EdgeIterator = Iterator[*Edge]

// VertexIterator iterates over vertices.
type VertexIterator = Iterator[*Vertex]

func newIterator[T any](ctx context.Context, fetch func(ctx context.Context) ([]T, error)) *Iterator[T] {
	return &Iterator[T]{ctx: ctx, fetch: fetch}
}

// Next advances to the next item and reports whether there is one.
func (it *Iterator[T]) Next() bool {
	if it.done {
		return false
	}
	if !it.started {
		it.started = true
		it.items, it.err = it.fetch(it.ctx)
		it.fetch = nil
		if it.err != nil {
			it.finish()
			return false
		}
	}
	if it.pos >= len(it.items) {
		it.finish()
		return false
	}
	it.cur = it.items[it.pos]
	it.pos++
	return true
}

// Value returns the current item.
func (it *Iterator[T]) Value() T { return it.cur }

// Err returns the error that ended iteration, if any.
func (it *Iterator[T]) Err() error { return it.err }

// Close releases the iterator. Further calls to Next return false.
func (it *Iterator[T]) Close() {
	it.started = true
	it.fetch = nil
	it.finish()
}

// Collect drains the iterator into a slice.
func (it *Iterator[T]) Collect() ([]T, error) {
	var out []T
	for it.Next() {
		out = append(out, it.Value())
	}
	return out, it.Err()
}

func (it *Iterator[T]) finish() {
	var zero T
	it.done = true
	it.items = nil
	it.cur = zero
}
