package graph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/nornicgraph/pkg/storage"
)

// edgeQuery is one adjacency query against a vertex.
type edgeQuery struct {
	dir     storage.Direction
	labels  []string
	key     string
	value   any
	from    any
	to      any
	isRange bool
}

type traversalMode int

const (
	// modeRead serves from and fills the adjacency cache.
	modeRead traversalMode = iota
	// modeRemove reads the index directly and lists each edge once.
	modeRemove
)

// adjacentEdges resolves q against v: adjacency cache, then endpoint index
// rows, then edge records.
func (g *Graph) adjacentEdges(ctx context.Context, v *Vertex, q edgeQuery, mode traversalMode) ([]*Edge, error) {
	switch q.dir {
	case storage.DirectionOut, storage.DirectionIn, storage.DirectionBoth:
	default:
		return nil, fmt.Errorf("%w: direction %v", storage.ErrInvalidData, q.dir)
	}
	for _, label := range q.labels {
		if err := validateLabel(label); err != nil {
			return nil, err
		}
	}
	if q.key != "" {
		if err := validatePropertyKey(q.key); err != nil {
			return nil, err
		}
	}
	fp, err := newFingerprint(q.dir, q.labels, q.key, q.value, q.from, q.to, q.isRange)
	if err != nil {
		return nil, err
	}

	if v.IsDeleted() {
		return []*Edge{}, nil
	}
	var gen uint64
	if mode == modeRead {
		if edges, ok := v.CachedEdges(fp); ok {
			return edges, nil
		}
		gen = v.adjacencyGeneration()
	}

	ctx, span := tracer.Start(ctx, "graph.Edges", trace.WithAttributes(
		attribute.String("vertex", string(v.id)),
		attribute.String("direction", q.dir.String()),
		attribute.String("labels", strings.Join(q.labels, ",")),
	))
	defer span.End()

	scan := storage.EdgeScan{
		Vertex:      v.id,
		Direction:   q.dir,
		Labels:      q.labels,
		PropertyKey: q.key,
		Value:       q.value,
		From:        q.from,
		To:          q.to,
		Range:       q.isRange,
	}
	rows, err := g.engine.ScanEdges(ctx, scan)
	filter := false
	if errors.Is(err, storage.ErrNoIndex) && q.key != "" {
		// No edge index on (label, key): list the label and filter records.
		scan.PropertyKey, scan.Value, scan.From, scan.To, scan.Range = "", nil, nil, nil, false
		rows, err = g.engine.ScanEdges(ctx, scan)
		filter = true
	}
	if err != nil {
		return nil, spanError(span, fmt.Errorf("failed to scan edges of vertex %s: %w", v.id, err))
	}

	var seen map[storage.ID]struct{}
	if mode == modeRemove {
		seen = make(map[storage.ID]struct{}, len(rows))
	}
	edges := make([]*Edge, 0, len(rows))
	for _, row := range rows {
		if seen != nil {
			if _, dup := seen[row.Element]; dup {
				continue
			}
			seen[row.Element] = struct{}{}
		}
		e, err := g.resolveEdge(ctx, row, filter)
		if err != nil {
			return nil, spanError(span, err)
		}
		if e == nil {
			continue
		}
		if filter {
			ok, err := e.matchesProperty(ctx, fp)
			if err != nil {
				return nil, spanError(span, err)
			}
			if !ok {
				continue
			}
		}
		edges = append(edges, e)
	}
	span.SetAttributes(attribute.Int("edges", len(edges)))

	if mode == modeRead {
		v.cacheEdgesAt(fp, edges, gen)
	}
	return edges, nil
}

// resolveEdge maps an endpoint row to the canonical edge instance. It returns
// nil for rows whose edge is deleted, missing or no longer matches the row;
// missing and mismatched rows are offered to the reconciler.
func (g *Graph) resolveEdge(ctx context.Context, row storage.IndexEntry, needProperties bool) (*Edge, error) {
	e := g.FindEdge(row.Element, true)
	if e.IsDeleted() {
		return nil, nil
	}
	e.setProvenance(row)

	if g.opts.LazyLoading && !needProperties && !e.IsLoaded() {
		e.adoptRow(row)
		return e, nil
	}
	if err := e.ensureLoaded(ctx); err != nil {
		if errors.Is(err, ErrElementNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !row.Matches(e.record()) {
		g.reconciler.MaybeScheduleCleanup(&row)
		return nil, nil
	}
	return e, nil
}

// matchesProperty evaluates a property fingerprint against the edge.
func (e *Edge) matchesProperty(ctx context.Context, fp Fingerprint) (bool, error) {
	value, ok, err := e.Property(ctx, fp.PropertyKey)
	if err != nil || !ok {
		return false, err
	}
	enc, err := storage.EncodeValue(value)
	if err != nil {
		return false, nil
	}
	if !fp.Range {
		return string(enc) == fp.Value, nil
	}
	if fp.From != "" && bytes.Compare(enc, []byte(fp.From)) < 0 {
		return false, nil
	}
	if fp.To != "" && bytes.Compare(enc, []byte(fp.To)) >= 0 {
		return false, nil
	}
	return true, nil
}
