package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/orneryd/nornicgraph/pkg/storage"
)

// Validation errors. They are returned before anything is written.
var (
	ErrArgumentNil                 = errors.New("argument must not be nil")
	ErrInvalidLabel                = errors.New("label must be a non-empty string")
	ErrInvalidKeyValues            = errors.New("key/values must be alternating non-empty string keys and non-nil values")
	ErrMultiPropertiesNotSupported = errors.New("multi-properties are not supported")
	ErrMetaPropertiesNotSupported  = errors.New("meta-properties are not supported")
)

// Lookup errors.
var (
	ErrElementNotFound = errors.New("element not found")
	ErrElementRemoved  = errors.New("element has been removed")
)

// IDKey is the reserved key that supplies an element id in a key/value list:
//
//	g.AddVertex(ctx, "person", graph.IDKey, "alice", "age", 30)
const IDKey = "~id"

// Cardinality of a vertex property. Only CardinalitySingle is supported.
type Cardinality int

const (
	CardinalitySingle Cardinality = iota
	CardinalityList
	CardinalitySet
)

func (c Cardinality) String() string {
	switch c {
	case CardinalitySingle:
		return "single"
	case CardinalityList:
		return "list"
	case CardinalitySet:
		return "set"
	default:
		return fmt.Sprintf("cardinality(%d)", int(c))
	}
}

func validateLabel(label string) error {
	if label == "" {
		return ErrInvalidLabel
	}
	if strings.IndexByte(label, 0x00) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	return nil
}

func validatePropertyKey(key string) error {
	if key == "" || key == IDKey || strings.IndexByte(key, 0x00) >= 0 {
		return fmt.Errorf("%w: key %q", ErrInvalidKeyValues, key)
	}
	return nil
}

func validatePropertyValue(key string, value any) error {
	if value == nil {
		return fmt.Errorf("%w: nil value for %q", ErrInvalidKeyValues, key)
	}
	if _, err := storage.EncodeValue(value); err != nil {
		return fmt.Errorf("property %q: %w", key, err)
	}
	return nil
}

// parseKeyValues splits an alternating key/value list into an optional
// element id and a property map.
func parseKeyValues(keyValues []any) (storage.ID, map[string]any, error) {
	if len(keyValues)%2 != 0 {
		return "", nil, fmt.Errorf("%w: odd number of arguments", ErrInvalidKeyValues)
	}

	var id storage.ID
	props := make(map[string]any, len(keyValues)/2)
	for i := 0; i < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			return "", nil, fmt.Errorf("%w: key at position %d is %T", ErrInvalidKeyValues, i, keyValues[i])
		}
		value := keyValues[i+1]

		if key == IDKey {
			switch v := value.(type) {
			case string:
				id = storage.ID(v)
			case storage.ID:
				id = v
			default:
				return "", nil, fmt.Errorf("%w: id must be a string, got %T", ErrInvalidKeyValues, value)
			}
			if id == "" || strings.IndexByte(string(id), 0x00) >= 0 {
				return "", nil, fmt.Errorf("%w: id %q", ErrInvalidKeyValues, id)
			}
			continue
		}

		if err := validatePropertyKey(key); err != nil {
			return "", nil, err
		}
		if err := validatePropertyValue(key, value); err != nil {
			return "", nil, err
		}
		props[key] = value
	}
	return id, props, nil
}
