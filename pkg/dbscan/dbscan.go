// Package dbscan iterates large tables in bounded windows. The naive way to
// stream a huge result set, one unbounded SELECT with server- or client-side
// buffering, either holds a cursor open for the lifetime of the walk or pulls
// the whole table into memory. A windowed scan instead issues a short
// self-contained query per batch: filter key >= cursor, order by key, limit
// window. Each batch closes its statement before the next begins, so memory
// stays bounded by the window size and the database never babysits a
// long-lived cursor.
//
// The cursor advances to the last seen key plus one, which assumes the key is
// an integer with unique values. Duplicate keys at a window boundary would be
// skipped; callers scan primary-key or otherwise unique columns.
//
// Scanning is lazy. Fetches are issued only as the consumer pulls records, so
// abandoning a scan mid-way stops querying immediately, and the terminating
// empty fetch happens only when a consumer drains past the final record.
package dbscan

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strings"
)

// Key constrains window cursors to integer types with a defined successor.
type Key interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Source fetches one window of records: up to limit records whose key is
// >= start, ordered ascending by key. Returning an empty (or nil) slice
// means no records remain at or beyond start.
//
// Any data access that can express "key >= value, order by key, limit n"
// serves: a SQL table, a paginated HTTP listing, a sorted index file.
type Source[K Key, R any] interface {
	FetchWindow(ctx context.Context, start K, limit int) ([]R, error)
}

// KeyFunc projects a record to its window key.
type KeyFunc[K Key, R any] func(R) K

// Windows returns a lazy sequence of record batches, one per fetch, starting
// at key start (inclusive). The sequence ends after an empty fetch, after an
// error, which is yielded as the final element, or when the key space has no
// successor left to advance to.
func Windows[K Key, R any](ctx context.Context, src Source[K, R], keyOf KeyFunc[K, R], start K, window int) iter.Seq2[[]R, error] {
	return func(yield func([]R, error) bool) {
		if err := validateScan(src, keyOf, window); err != nil {
			yield(nil, err)
			return
		}
		cursor := start
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			recs, err := src.FetchWindow(ctx, cursor, window)
			if err != nil {
				yield(nil, fmt.Errorf("dbscan: fetch window at %v: %w", cursor, err))
				return
			}
			if len(recs) == 0 {
				return
			}
			if !yield(recs, nil) {
				return
			}
			last := keyOf(recs[len(recs)-1])
			next := last + 1
			if next <= last {
				// Key space exhausted; advancing would wrap around.
				return
			}
			cursor = next
		}
	}
}

// Scan returns a lazy sequence of individual records, flattening Windows.
// Each non-nil error is the final element of the sequence.
func Scan[K Key, R any](ctx context.Context, src Source[K, R], keyOf KeyFunc[K, R], start K, window int) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		var zero R
		for recs, err := range Windows(ctx, src, keyOf, start, window) {
			if err != nil {
				yield(zero, err)
				return
			}
			for _, rec := range recs {
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}

// Collect drains a scan into a slice. On error it returns the records seen
// before the failing window along with the error.
func Collect[K Key, R any](ctx context.Context, src Source[K, R], keyOf KeyFunc[K, R], start K, window int) ([]R, error) {
	var out []R
	for rec, err := range Scan(ctx, src, keyOf, start, window) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func validateScan[K Key, R any](src Source[K, R], keyOf KeyFunc[K, R], window int) error {
	if src == nil {
		return fmt.Errorf("dbscan: nil source")
	}
	if keyOf == nil {
		return fmt.Errorf("dbscan: nil key func")
	}
	if window <= 0 {
		return fmt.Errorf("dbscan: window must be positive, got %d", window)
	}
	return nil
}

// PlaceholderStyle selects the bind-parameter syntax of the target driver.
type PlaceholderStyle int

const (
	// Question uses ? placeholders (SQLite, MySQL).
	Question PlaceholderStyle = iota
	// Dollar uses $1..$n placeholders (PostgreSQL). Refinement predicates
	// must number their own placeholders from $1; the window bounds take
	// the next two ordinals.
	Dollar
)

// RowFunc builds one record from the current row of a result set.
type RowFunc[R any] func(*sql.Rows) (R, error)

// SQLSource adapts a table to the Source contract. Table, KeyColumn and
// Columns are identifiers controlled by the application, not user input;
// they are interpolated into the query text as-is.
type SQLSource[R any] struct {
	DB        *sql.DB
	Table     string
	KeyColumn string
	// Columns lists the selected columns; empty selects *.
	Columns []string
	// Where optionally refines the scan with an extra predicate, AND-ed
	// with the window condition. Args supplies its bind values.
	Where string
	Args  []any

	Placeholder PlaceholderStyle
	Row         RowFunc[R]
}

// FetchWindow implements Source for int64 keys.
func (s *SQLSource[R]) FetchWindow(ctx context.Context, start int64, limit int) ([]R, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	args := make([]any, 0, len(s.Args)+2)
	args = append(args, s.Args...)
	args = append(args, start, int64(limit))

	rows, err := s.DB.QueryContext(ctx, s.query(), args...)
	if err != nil {
		return nil, fmt.Errorf("dbscan: query %s: %w", s.Table, err)
	}
	defer rows.Close()

	out := make([]R, 0, limit)
	for rows.Next() {
		rec, err := s.Row(rows)
		if err != nil {
			return nil, fmt.Errorf("dbscan: scan row of %s: %w", s.Table, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dbscan: iterate rows of %s: %w", s.Table, err)
	}
	return out, nil
}

func (s *SQLSource[R]) query() string {
	cols := "*"
	if len(s.Columns) > 0 {
		cols = strings.Join(s.Columns, ", ")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE ", cols, s.Table)
	if s.Where != "" {
		fmt.Fprintf(&b, "(%s) AND ", s.Where)
	}
	switch s.Placeholder {
	case Dollar:
		n := len(s.Args)
		fmt.Fprintf(&b, "%s >= $%d ORDER BY %s ASC LIMIT $%d", s.KeyColumn, n+1, s.KeyColumn, n+2)
	default:
		fmt.Fprintf(&b, "%s >= ? ORDER BY %s ASC LIMIT ?", s.KeyColumn, s.KeyColumn)
	}
	return b.String()
}

func (s *SQLSource[R]) validate() error {
	if s.DB == nil {
		return fmt.Errorf("dbscan: source has no database handle")
	}
	if s.Table == "" || s.KeyColumn == "" {
		return fmt.Errorf("dbscan: source needs table and key column")
	}
	if s.Row == nil {
		return fmt.Errorf("dbscan: source has no row func")
	}
	return nil
}

// MapRow is a RowFunc that decodes any row into a column-name-keyed map.
// Byte slices are copied into strings so values stay valid after the next
// row is read.
func MapRow(rows *sql.Rows) (map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(cols))
	for i, col := range cols {
		v := vals[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		out[col] = v
	}
	return out, nil
}

var _ Source[int64, map[string]any] = (*SQLSource[map[string]any])(nil)
