// Package extjson encodes schemaless payload trees as JSON while preserving
// the two value kinds plain JSON cannot express: timestamps and raw bytes.
// Timestamps travel as {"$date": ...} and byte slices as {"$binary": ...,
// "$type": "00"}, so a map[string]any written to a document column decodes
// back with time.Time and []byte values intact instead of collapsing into
// strings.
//
// Encoding behavior is controlled by an explicit Codec value rather than
// process-global state, so two call sites with different timestamp
// conventions can coexist in one binary.
package extjson

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// binarySubtypeGeneric is the $type tag written for plain byte payloads.
const binarySubtypeGeneric = "00"

// Codec holds the encoding and decoding conventions for one column family.
// The zero value encodes timestamps as RFC 3339 strings and decodes them
// in UTC.
type Codec struct {
	// Canonical selects the numeric wire form for timestamps: milliseconds
	// since the Unix epoch as a JSON number. When false, timestamps encode
	// as RFC 3339 strings with millisecond precision.
	Canonical bool
	// Location is the zone attached to decoded timestamps. Nil means UTC.
	Location *time.Location
}

// Default is the codec used by the package-level helpers: relaxed string
// timestamps, UTC decoding.
var Default = Codec{}

// Marshal encodes v with the Default codec.
func Marshal(v any) ([]byte, error) { return Default.Marshal(v) }

// Unmarshal decodes data with the Default codec.
func Unmarshal(data []byte) (any, error) { return Default.Unmarshal(data) }

// Marshal encodes v as JSON, wrapping time.Time and []byte values found in
// dynamic containers (map[string]any, []any) in their extended forms.
// Timestamps are truncated to millisecond precision, the resolution of the
// wire format. Values of other static types pass through to encoding/json
// untouched.
func (c Codec) Marshal(v any) ([]byte, error) {
	enc, err := c.encodeValue(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(enc)
}

// Unmarshal decodes data and rebuilds extended values: every {"$date": ...}
// becomes a time.Time in the codec's location and every {"$binary": ...} a
// []byte. All other JSON shapes decode as encoding/json would into an any:
// objects as map[string]any, arrays as []any, numbers as float64.
func (c Codec) Unmarshal(data []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("extjson: decode: %w", err)
	}
	return c.decodeValue(raw)
}

func (c Codec) encodeValue(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return c.encodeTime(t), nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return c.encodeTime(*t), nil
	case []byte:
		return map[string]any{
			"$binary": base64.StdEncoding.EncodeToString(t),
			"$type":   binarySubtypeGeneric,
		}, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			enc, err := c.encodeValue(inner)
			if err != nil {
				return nil, fmt.Errorf("extjson: key %q: %w", k, err)
			}
			out[k] = enc
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			enc, err := c.encodeValue(inner)
			if err != nil {
				return nil, fmt.Errorf("extjson: index %d: %w", i, err)
			}
			out[i] = enc
		}
		return out, nil
	default:
		return v, nil
	}
}

func (c Codec) encodeTime(t time.Time) map[string]any {
	t = t.Truncate(time.Millisecond)
	if c.Canonical {
		return map[string]any{"$date": t.UnixMilli()}
	}
	return map[string]any{"$date": t.UTC().Format(timeLayout)}
}

// timeLayout is RFC 3339 with a fixed millisecond fraction.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func (c Codec) location() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.UTC
}

func (c Codec) decodeValue(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if raw, ok := t["$date"]; ok && len(t) == 1 {
			return c.decodeDate(raw)
		}
		if raw, ok := t["$binary"]; ok && len(t) <= 2 {
			if _, extra := t["$type"]; len(t) == 1 || extra {
				return decodeBinary(raw)
			}
		}
		out := make(map[string]any, len(t))
		for k, inner := range t {
			dec, err := c.decodeValue(inner)
			if err != nil {
				return nil, fmt.Errorf("extjson: key %q: %w", k, err)
			}
			out[k] = dec
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			dec, err := c.decodeValue(inner)
			if err != nil {
				return nil, fmt.Errorf("extjson: index %d: %w", i, err)
			}
			out[i] = dec
		}
		return out, nil
	default:
		return v, nil
	}
}

func (c Codec) decodeDate(raw any) (time.Time, error) {
	switch d := raw.(type) {
	case float64:
		return time.UnixMilli(int64(d)).In(c.location()), nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, d)
		if err != nil {
			return time.Time{}, fmt.Errorf("extjson: invalid $date %q: %w", d, err)
		}
		return t.In(c.location()), nil
	default:
		return time.Time{}, fmt.Errorf("extjson: invalid $date of type %T", raw)
	}
}

func decodeBinary(raw any) ([]byte, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("extjson: invalid $binary of type %T", raw)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("extjson: invalid $binary: %w", err)
	}
	return data, nil
}
