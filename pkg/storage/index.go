package storage

import "fmt"

// indexEntries derives every index row of rec given the declared indexes.
//
// Edges always get one endpoint row under each endpoint vertex. Property rows
// are only written for declared indexes whose label matches and whose property
// the record carries.
func indexEntries(rec *Record, indexes []IndexMeta) ([]IndexEntry, error) {
	if err := validateRecord(rec); err != nil {
		return nil, err
	}

	var entries []IndexEntry
	if rec.Kind == KindEdge {
		for _, dir := range []Direction{DirectionOut, DirectionIn} {
			entries = append(entries, IndexEntry{
				Key:       IndexKey{Kind: KindEdge, Label: rec.Label},
				Element:   rec.ID,
				Vertex:    rec.Endpoint(dir),
				Direction: dir,
				Other:     rec.Endpoint(dir.Opposite()),
				Timestamp: rec.UpdatedAt,
			})
		}
	}

	for _, meta := range indexes {
		if meta.Key.Kind != rec.Kind || meta.Key.Label != rec.Label {
			continue
		}
		v, ok := rec.Properties[meta.Key.PropertyKey]
		if !ok {
			continue
		}
		enc, err := EncodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", meta.Key, err)
		}
		if rec.Kind == KindVertex {
			entries = append(entries, IndexEntry{
				Key:       meta.Key,
				Element:   rec.ID,
				Value:     enc,
				Timestamp: rec.UpdatedAt,
			})
			continue
		}
		for _, dir := range []Direction{DirectionOut, DirectionIn} {
			entries = append(entries, IndexEntry{
				Key:       meta.Key,
				Element:   rec.ID,
				Vertex:    rec.Endpoint(dir),
				Direction: dir,
				Other:     rec.Endpoint(dir.Opposite()),
				Value:     enc,
				Timestamp: rec.UpdatedAt,
			})
		}
	}
	return entries, nil
}

// staleEntries returns the rows of prev whose keys next no longer produces.
func staleEntries(prev, next []IndexEntry) []IndexEntry {
	keep := make(map[string]struct{}, len(next))
	for _, e := range next {
		keep[string(rowKey(e))] = struct{}{}
	}
	var stale []IndexEntry
	for _, e := range prev {
		if _, ok := keep[string(rowKey(e))]; !ok {
			stale = append(stale, e)
		}
	}
	return stale
}

func validateIndexKey(key IndexKey) error {
	if key.Kind != KindVertex && key.Kind != KindEdge {
		return fmt.Errorf("%w: index kind %v", ErrInvalidData, key.Kind)
	}
	if key.Label == "" || key.PropertyKey == "" {
		return fmt.Errorf("%w: index needs a label and a property key", ErrInvalidData)
	}
	if err := validateName("label", key.Label); err != nil {
		return err
	}
	return validateName("property key", key.PropertyKey)
}
