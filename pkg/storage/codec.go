package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math"
	"time"
)

// Type tags for encoded property values. Values of different types never
// compare equal, and range scans only make sense within one tag.
const (
	tagBool   = byte(0x01)
	tagInt    = byte(0x02)
	tagFloat  = byte(0x03)
	tagString = byte(0x04)
)

// EncodeValue encodes a property value so that byte-wise order matches value
// order within a type. All Go integer types encode as int64, both float types
// as float64 and time.Time as unix milliseconds.
func EncodeValue(v any) ([]byte, error) {
	switch x := v.(type) {
	case bool:
		if x {
			return []byte{tagBool, 1}, nil
		}
		return []byte{tagBool, 0}, nil
	case int:
		return encodeInt(int64(x)), nil
	case int8:
		return encodeInt(int64(x)), nil
	case int16:
		return encodeInt(int64(x)), nil
	case int32:
		return encodeInt(int64(x)), nil
	case int64:
		return encodeInt(x), nil
	case uint8:
		return encodeInt(int64(x)), nil
	case uint16:
		return encodeInt(int64(x)), nil
	case uint32:
		return encodeInt(int64(x)), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, x)
		}
		return encodeInt(int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, x)
		}
		return encodeInt(int64(x)), nil
	case float32:
		return encodeFloat(float64(x)), nil
	case float64:
		return encodeFloat(x), nil
	case string:
		out := make([]byte, 0, 1+len(x))
		out = append(out, tagString)
		return append(out, x...), nil
	case time.Time:
		return encodeInt(x.UnixMilli()), nil
	case nil:
		return nil, fmt.Errorf("%w: nil", ErrUnsupportedValue)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func encodeInt(v int64) []byte {
	out := make([]byte, 9)
	out[0] = tagInt
	binary.BigEndian.PutUint64(out[1:], uint64(v)^(1<<63))
	return out
}

func encodeFloat(v float64) []byte {
	if v == 0 {
		v = 0 // -0.0 == 0.0
	}
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	out := make([]byte, 9)
	out[0] = tagFloat
	binary.BigEndian.PutUint64(out[1:], bits)
	return out
}

// escapeKeyPart makes an arbitrary byte string safe to embed in a row key
// followed by more key material. 0x00 becomes 0x00 0xFF and the part is
// terminated by 0x00 0x01, which keeps byte order and makes the part
// prefix-free.
func escapeKeyPart(dst, part []byte) []byte {
	for _, c := range part {
		if c == 0x00 {
			dst = append(dst, 0x00, 0xFF)
			continue
		}
		dst = append(dst, c)
	}
	return append(dst, 0x00, 0x01)
}

// ============================================================================
// Serialization helpers
// ============================================================================

// encodeRecord serializes a Record using gob (preserves Go types like int64).
func encodeRecord(r *Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, err
	}
	if rec.Properties == nil {
		rec.Properties = make(map[string]any)
	}
	return &rec, nil
}

func encodeIndexEntry(e IndexEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeIndexEntry(data []byte) (IndexEntry, error) {
	var e IndexEntry
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e)
	return e, err
}

func encodeIndexMeta(m IndexMeta) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeIndexMeta(data []byte) (IndexMeta, error) {
	var m IndexMeta
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m)
	return m, err
}
