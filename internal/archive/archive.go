// Package archive streams large tables out of a database in bounded windows,
// writing one immutable NDJSON object per window to a blob store. Runs are
// resumable: every object name carries its key range, and the returned
// summary names the last key written.
package archive

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"dbkit/internal/blob"
	"dbkit/internal/tracing"
	"dbkit/pkg/dbscan"
	"dbkit/pkg/extjson"
)

// DefaultWindow bounds a run when the config leaves Window unset.
const DefaultWindow = 1000

const defaultContentType = "application/x-ndjson"

// Config describes one archive run.
type Config struct {
	Table     string
	KeyColumn string
	// Columns lists the selected columns; empty selects *. When set it must
	// include KeyColumn, which drives the window cursor.
	Columns []string
	// Where optionally refines the scan; Args supplies its bind values.
	Where string
	Args  []any
	// Window caps records per object; DefaultWindow when <= 0.
	Window int
	// StartKey is the first key to include. Resuming a run means passing
	// the previous summary's LastKey + 1.
	StartKey int64
	// Prefix is the object key prefix, default "archive".
	Prefix string
	// ContentType stamps written objects, default "application/x-ndjson".
	ContentType string
}

func (c *Config) validate() error {
	if c.Table == "" {
		return fmt.Errorf("archive: table required")
	}
	if c.KeyColumn == "" {
		return fmt.Errorf("archive: key column required")
	}
	if len(c.Columns) > 0 && !slices.Contains(c.Columns, c.KeyColumn) {
		return fmt.Errorf("archive: columns must include key column %q", c.KeyColumn)
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Prefix == "" {
		c.Prefix = "archive"
	}
	c.Prefix = strings.TrimSuffix(c.Prefix, "/")
	if c.ContentType == "" {
		c.ContentType = defaultContentType
	}
	return nil
}

// Summary reports what a run wrote.
type Summary struct {
	Windows  int      `json:"windows"`
	Records  int64    `json:"records"`
	FirstKey int64    `json:"first_key"`
	LastKey  int64    `json:"last_key"`
	Objects  []string `json:"objects,omitempty"`
}

// Archiver drains tables window by window into create-only blob objects.
type Archiver struct {
	db          *sql.DB
	store       blob.Store
	codec       extjson.Codec
	placeholder dbscan.PlaceholderStyle
	logger      zerolog.Logger
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithCodec sets the extended JSON codec used to encode records.
func WithCodec(codec extjson.Codec) Option {
	return func(a *Archiver) { a.codec = codec }
}

// WithPlaceholder sets the bind-parameter style of the target driver.
func WithPlaceholder(style dbscan.PlaceholderStyle) Option {
	return func(a *Archiver) { a.placeholder = style }
}

// WithLogger sets the run logger. Default discards.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Archiver) { a.logger = logger }
}

// New returns an Archiver reading from db and writing to store.
func New(db *sql.DB, store blob.Store, opts ...Option) *Archiver {
	a := &Archiver{db: db, store: store, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// row pairs a record with its extracted window key so cursor advancement
// never re-parses the map.
type row struct {
	key    int64
	fields map[string]any
}

// Run walks cfg.Table from cfg.StartKey and writes one object per window
// under "<prefix>/<table>/<first>-<last>.ndjson". The first failed window
// aborts the run: no partial object is written for it, and the returned
// summary still covers the windows already stored, so a rerun can resume
// from LastKey + 1.
func (a *Archiver) Run(ctx context.Context, cfg Config) (Summary, error) {
	var sum Summary
	if a.db == nil {
		return sum, fmt.Errorf("archive: nil database handle")
	}
	if a.store == nil {
		return sum, fmt.Errorf("archive: nil blob store")
	}
	if err := cfg.validate(); err != nil {
		return sum, err
	}

	src := &dbscan.SQLSource[row]{
		DB:          a.db,
		Table:       cfg.Table,
		KeyColumn:   cfg.KeyColumn,
		Columns:     cfg.Columns,
		Where:       cfg.Where,
		Args:        cfg.Args,
		Placeholder: a.placeholder,
		Row:         keyedMapRow(cfg.KeyColumn),
	}
	keyOf := func(r row) int64 { return r.key }

	var buf bytes.Buffer
	for recs, err := range dbscan.Windows(ctx, src, keyOf, cfg.StartKey, cfg.Window) {
		if err != nil {
			return sum, fmt.Errorf("archive: %s: %w", cfg.Table, err)
		}
		first, last := recs[0].key, recs[len(recs)-1].key
		wctx, span := tracing.Start(ctx, "dbkit.archive.window",
			attribute.String("table", cfg.Table),
			attribute.Int64("first_key", first),
			attribute.Int64("last_key", last),
			attribute.Int("records", len(recs)),
		)
		key, err := a.writeWindow(wctx, cfg, &buf, recs, first, last)
		tracing.End(span, err)
		if err != nil {
			return sum, err
		}
		if sum.Windows == 0 {
			sum.FirstKey = first
		}
		sum.Windows++
		sum.Records += int64(len(recs))
		sum.LastKey = last
		sum.Objects = append(sum.Objects, key)
		a.logger.Debug().
			Str("object", key).
			Int("records", len(recs)).
			Msg("archived window")
	}
	return sum, nil
}

func (a *Archiver) writeWindow(ctx context.Context, cfg Config, buf *bytes.Buffer, recs []row, first, last int64) (string, error) {
	buf.Reset()
	for _, r := range recs {
		b, err := a.codec.Marshal(r.fields)
		if err != nil {
			return "", fmt.Errorf("archive: encode record %d of %s: %w", r.key, cfg.Table, err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	key := objectKey(cfg.Prefix, cfg.Table, first, last)
	if _, err := a.store.Put(ctx, key, bytes.NewReader(buf.Bytes()), blob.PutOptions{
		ContentType: cfg.ContentType,
		Metadata: map[string]string{
			"table":      cfg.Table,
			"key_column": cfg.KeyColumn,
			"records":    strconv.Itoa(len(recs)),
		},
	}); err != nil {
		return "", fmt.Errorf("archive: store window %s: %w", key, err)
	}
	return key, nil
}

// objectKey zero-pads both keys so lexical object ordering matches key order.
func objectKey(prefix, table string, first, last int64) string {
	return fmt.Sprintf("%s/%s/%019d-%019d.ndjson", prefix, table, first, last)
}

// keyedMapRow decodes a row into a column map and pulls out the window key.
func keyedMapRow(keyColumn string) dbscan.RowFunc[row] {
	return func(rows *sql.Rows) (row, error) {
		fields, err := dbscan.MapRow(rows)
		if err != nil {
			return row{}, err
		}
		key, err := keyValue(fields[keyColumn])
		if err != nil {
			return row{}, fmt.Errorf("column %s: %w", keyColumn, err)
		}
		return row{key: key, fields: fields}, nil
	}
}

func keyValue(v any) (int64, error) {
	switch k := v.(type) {
	case int64:
		return k, nil
	case int:
		return int64(k), nil
	case string:
		return strconv.ParseInt(k, 10, 64)
	case nil:
		return 0, fmt.Errorf("key is NULL")
	default:
		return 0, fmt.Errorf("unsupported key type %T", v)
	}
}
