// Package publicid implements the external identifier scheme used for rows
// that are exposed outside the database: a 128-bit value rendered as a
// lowercase base-36 string. The text form is compact (at most 25 characters),
// URL- and filename-safe, and sorts cheaply in indexes declared as short
// VARCHAR columns, while the raw form is the familiar 16-byte UUID layout.
//
// The mapping is a pure bijection on the integer value. The 16 raw bytes are
// read big-endian as one unsigned 128-bit integer and formatted in base 36
// with the digits 0-9a-z; decoding accepts uppercase input but the canonical
// form is always lowercase with no leading zero digits.
package publicid

import (
	"database/sql"
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"strconv"

	"github.com/google/uuid"
)

// RawLen is the size in bytes of the raw (binary) form of an ID.
const RawLen = 16

// MaxLen is the longest canonical text form: 2^128-1 has 25 base-36 digits.
const MaxLen = 25

const digits = "0123456789abcdefghijklmnopqrstuvwxyz"

var (
	// ErrLength indicates a raw value that is not exactly RawLen bytes.
	ErrLength = errors.New("publicid: raw id must be 16 bytes")
	// ErrEmpty indicates an attempt to use the zero ID where a value is required.
	ErrEmpty = errors.New("publicid: empty id")
	// ErrDigit indicates a character outside 0-9, a-z and A-Z.
	ErrDigit = errors.New("publicid: invalid base36 digit")
	// ErrRange indicates a textual value that does not fit in 128 bits.
	ErrRange = errors.New("publicid: value exceeds 128 bits")
)

// ID is the text form of a public identifier. The zero value represents an
// absent identifier and round-trips as SQL NULL.
type ID string

// IsZero reports whether the ID is absent.
func (id ID) IsZero() bool { return id == "" }

// String returns the identifier text. Absent IDs render as the empty string.
func (id ID) String() string { return string(id) }

// FromBytes encodes a raw 16-byte value into its canonical text form. A nil
// or empty slice maps to the zero ID so NULL-able columns round-trip without
// special-casing at call sites. Any other length is rejected with ErrLength.
func FromBytes(raw []byte) (ID, error) {
	if len(raw) == 0 {
		return "", nil
	}
	if len(raw) != RawLen {
		return "", fmt.Errorf("%w, got %d", ErrLength, len(raw))
	}
	hi := binary.BigEndian.Uint64(raw[:8])
	lo := binary.BigEndian.Uint64(raw[8:])
	return ID(format(hi, lo)), nil
}

// Parse validates s as a base-36 identifier and returns its canonical form:
// lowercase, leading zero digits removed. Uppercase input is accepted.
func Parse(s string) (ID, error) {
	hi, lo, err := parse(s)
	if err != nil {
		return "", err
	}
	return ID(format(hi, lo)), nil
}

// Bytes decodes the identifier into its raw 16-byte big-endian form. The zero
// ID yields ErrEmpty; callers that treat absence as NULL should check IsZero
// first or use Value.
func (id ID) Bytes() ([]byte, error) {
	hi, lo, err := parse(string(id))
	if err != nil {
		return nil, err
	}
	raw := make([]byte, RawLen)
	binary.BigEndian.PutUint64(raw[:8], hi)
	binary.BigEndian.PutUint64(raw[8:], lo)
	return raw, nil
}

// newRandom produces the raw value for Generate. Overridable in tests that
// need deterministic identifiers.
var newRandom = uuid.New

// Generate returns a new random identifier backed by a version-4 UUID, so
// uniqueness guarantees are exactly those of the platform UUID generator. It
// panics only if the operating system entropy source fails.
func Generate() ID {
	u := newRandom()
	id, err := FromBytes(u[:])
	if err != nil {
		panic(fmt.Sprintf("publicid: encode random id: %v", err))
	}
	return id
}

// Value implements driver.Valuer. The zero ID binds as NULL; otherwise the
// raw 16-byte form is bound, matching BINARY(16) column storage.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}
	raw, err := id.Bytes()
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Scan implements sql.Scanner. NULL and empty values scan to the zero ID;
// 16-byte values decode to canonical text.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*id = ""
		return nil
	case []byte:
		parsed, err := FromBytes(v)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case string:
		parsed, err := FromBytes([]byte(v))
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	default:
		return fmt.Errorf("publicid: cannot scan %T", src)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, canonicalizing the input.
func (id *ID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = ""
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// format renders the 128-bit value hi<<64|lo in base 36. Values that fit in a
// single word go through strconv; larger values peel one digit per 128/64
// division step, which bits.Div64 supports because the running remainder is
// always smaller than the base.
func format(hi, lo uint64) string {
	if hi == 0 {
		return strconv.FormatUint(lo, 36)
	}
	var buf [MaxLen]byte
	i := len(buf)
	for hi != 0 {
		qhi := hi / 36
		rem := hi % 36
		qlo, d := bits.Div64(rem, lo, 36)
		i--
		buf[i] = digits[d]
		hi, lo = qhi, qlo
	}
	for lo != 0 {
		i--
		buf[i] = digits[lo%36]
		lo /= 36
	}
	return string(buf[i:])
}

// parse accumulates the base-36 digits of s into a 128-bit value, detecting
// overflow on every multiply-add step. Leading zero digits are harmless: they
// contribute nothing and disappear when the value is re-formatted.
func parse(s string) (hi, lo uint64, err error) {
	if s == "" {
		return 0, 0, ErrEmpty
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		var d uint64
		switch {
		case c >= '0' && c <= '9':
			d = uint64(c - '0')
		case c >= 'a' && c <= 'z':
			d = uint64(c-'a') + 10
		case c >= 'A' && c <= 'Z':
			d = uint64(c-'A') + 10
		default:
			return 0, 0, fmt.Errorf("%w: %q at index %d", ErrDigit, string(c), i)
		}
		pHiHi, pHiLo := bits.Mul64(hi, 36)
		pLoHi, pLoLo := bits.Mul64(lo, 36)
		if pHiHi != 0 {
			return 0, 0, fmt.Errorf("%w: %q", ErrRange, s)
		}
		newLo, carry := bits.Add64(pLoLo, d, 0)
		newHi, carry := bits.Add64(pHiLo, pLoHi, carry)
		if carry != 0 {
			return 0, 0, fmt.Errorf("%w: %q", ErrRange, s)
		}
		hi, lo = newHi, newLo
	}
	return hi, lo, nil
}

var (
	_ driver.Valuer = ID("")
	_ sql.Scanner   = (*ID)(nil)
)
