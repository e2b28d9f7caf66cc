// Package sqltype provides JSON-in-text column types for database/sql. A
// column value is a Go value serialized through the extjson codec on bind and
// rebuilt on scan, with NULL mapped to an explicit validity flag rather than
// pointer gymnastics at every call site.
//
// Three width tiers mirror the common column declarations: JSON for TEXT
// (64 KiB), Little for VARCHAR(255) rows that hold a handful of flags, and
// Big for MEDIUMTEXT documents up to 4 MiB. Each tier rejects oversized
// documents at bind time so the driver never ships a value the column would
// truncate.
//
// Reads are deliberately lenient: a stored document that no longer parses is
// logged and surfaced as NULL instead of failing the whole row. Schema
// migrations leave such fossils behind and a read path that aborts on them
// turns one bad row into an outage.
package sqltype

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"dbkit/pkg/extjson"
)

const (
	// MaxLittleLength is the byte capacity of a VARCHAR(255) column.
	MaxLittleLength = 255
	// MaxTextLength is the byte capacity of a TEXT column.
	MaxTextLength = 65535
	// MaxBigLength is the byte capacity the Big tier permits, a quarter of
	// MEDIUMTEXT, which keeps single rows out of packet-size trouble.
	MaxBigLength = 4194304
	// MaxInteger is the largest value a signed 32-bit INTEGER column holds.
	// Callers range-checking application counters against INT columns should
	// compare against this rather than the platform int size.
	MaxInteger = 2147483647
)

// ErrTooLong indicates a document whose serialized form exceeds the column
// tier's capacity.
var ErrTooLong = errors.New("sqltype: serialized document exceeds column capacity")

// Options configures package-wide behavior.
type Options struct {
	// Codec is the extended-JSON convention used for all column values.
	Codec extjson.Codec
	// Logger receives one error event per unreadable stored document.
	Logger zerolog.Logger
}

var opts = Options{
	Logger: zerolog.New(os.Stderr).With().Timestamp().Logger(),
}

// Configure replaces the package options. Call it once during program
// startup, before any column value is bound or scanned.
func Configure(o Options) {
	opts = o
}

// TooLong reports whether v would exceed the TEXT tier once serialized.
// Callers staging documents for later writes use it to reject oversized
// payloads early, before a transaction is open.
func TooLong(v any) (bool, error) {
	data, err := opts.Codec.Marshal(v)
	if err != nil {
		return false, err
	}
	return len(data) > MaxTextLength, nil
}

// JSON is a TEXT-tier column holding a value of type T. The zero value is
// NULL. For dynamic T (any, map[string]any, []any) the extended codec
// preserves time.Time and []byte values across the round trip; other T
// decode with plain encoding/json semantics.
type JSON[T any] struct {
	V     T
	Valid bool
}

// New returns a non-NULL column value.
func New[T any](v T) JSON[T] {
	return JSON[T]{V: v, Valid: true}
}

// Value implements driver.Valuer.
func (j JSON[T]) Value() (driver.Value, error) {
	return j.encode(MaxTextLength)
}

// Scan implements sql.Scanner. NULL and empty text scan to the zero value.
func (j *JSON[T]) Scan(src any) error {
	data, ok, err := textSource(src)
	if err != nil || !ok {
		j.reset()
		return err
	}
	if err := j.decode(data); err != nil {
		opts.Logger.Error().Err(err).Int("bytes", len(data)).Msg("unreadable json column value")
		j.reset()
	}
	return nil
}

func (j *JSON[T]) reset() {
	var zero T
	j.V = zero
	j.Valid = false
}

func (j JSON[T]) encode(limit int) (driver.Value, error) {
	if !j.Valid {
		return nil, nil
	}
	data, err := opts.Codec.Marshal(j.V)
	if err != nil {
		return nil, fmt.Errorf("sqltype: marshal column value: %w", err)
	}
	if len(data) > limit {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLong, len(data), limit)
	}
	return data, nil
}

func (j *JSON[T]) decode(data []byte) error {
	switch target := any(&j.V).(type) {
	case *any:
		dec, err := opts.Codec.Unmarshal(data)
		if err != nil {
			return err
		}
		*target = dec
	case *map[string]any:
		dec, err := opts.Codec.Unmarshal(data)
		if err != nil {
			return err
		}
		m, ok := dec.(map[string]any)
		if !ok {
			return fmt.Errorf("sqltype: stored value is %T, not an object", dec)
		}
		*target = m
	case *[]any:
		dec, err := opts.Codec.Unmarshal(data)
		if err != nil {
			return err
		}
		arr, ok := dec.([]any)
		if !ok {
			return fmt.Errorf("sqltype: stored value is %T, not an array", dec)
		}
		*target = arr
	default:
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		j.V = v
	}
	j.Valid = true
	return nil
}

// textSource normalizes the driver's representation of a text column. The
// second return reports whether a non-empty value was present; empty text is
// treated as NULL, matching rows written before the column existed.
func textSource(src any) ([]byte, bool, error) {
	switch v := src.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		if len(v) == 0 {
			return nil, false, nil
		}
		return v, true, nil
	case string:
		if v == "" {
			return nil, false, nil
		}
		return []byte(v), true, nil
	default:
		return nil, false, fmt.Errorf("sqltype: cannot scan %T into json column", src)
	}
}

// Doc is the schemaless document column: a JSON object with extended values
// intact. It pairs with tracked.Map when the caller needs mutation tracking.
type Doc = JSON[map[string]any]

// NewDoc returns a non-NULL document column.
func NewDoc(v map[string]any) Doc {
	return New(v)
}

// Little is a VARCHAR(255)-tier column for values known to stay tiny, such
// as small flag maps. Oversized documents fail at bind time with ErrTooLong.
type Little[T any] struct {
	JSON[T]
}

// NewLittle returns a non-NULL Little column value.
func NewLittle[T any](v T) Little[T] {
	return Little[T]{JSON[T]{V: v, Valid: true}}
}

// Value implements driver.Valuer with the Little tier's capacity.
func (j Little[T]) Value() (driver.Value, error) {
	return j.encode(MaxLittleLength)
}

// Big is a MEDIUMTEXT-tier column for large documents.
type Big[T any] struct {
	JSON[T]
}

// NewBig returns a non-NULL Big column value.
func NewBig[T any](v T) Big[T] {
	return Big[T]{JSON[T]{V: v, Valid: true}}
}

// Value implements driver.Valuer with the Big tier's capacity.
func (j Big[T]) Value() (driver.Value, error) {
	return j.encode(MaxBigLength)
}

var (
	_ driver.Valuer = JSON[any]{}
	_ sql.Scanner   = (*JSON[any])(nil)
	_ driver.Valuer = Little[any]{}
	_ sql.Scanner   = (*Little[any])(nil)
	_ driver.Valuer = Big[any]{}
	_ sql.Scanner   = (*Big[any])(nil)
)
