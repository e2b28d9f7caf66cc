// Package config loads the file-driven configuration for archive runs.
package config

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"dbkit/internal/archive"
	"dbkit/internal/blob"
	"dbkit/pkg/dbconn"
	"dbkit/pkg/dbscan"
)

// DatabaseConfig selects and tunes the database connection.
type DatabaseConfig struct {
	// Driver is sqlite or postgres.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// SessionSetup statements run on every new connection before use.
	SessionSetup []string `yaml:"session_setup"`
	// QueryBudget tunes the per-connection statement warning: 0 keeps the
	// default, a negative value disables it.
	QueryBudget int `yaml:"query_budget"`
}

// ScanConfig describes the table walk.
type ScanConfig struct {
	Table     string   `yaml:"table"`
	KeyColumn string   `yaml:"key_column"`
	Columns   []string `yaml:"columns"`
	Where     string   `yaml:"where"`
	Args      []any    `yaml:"args"`
	Window    int      `yaml:"window"`
	StartKey  int64    `yaml:"start_key"`
}

// S3BlobConfig carries the s3 driver settings.
type S3BlobConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	PathStyle       bool   `yaml:"path_style"`
}

// BlobConfig selects the blob driver holding archive output.
type BlobConfig struct {
	// Driver is fs, s3 or memory.
	Driver string       `yaml:"driver"`
	FSRoot string       `yaml:"fs_root"`
	S3     S3BlobConfig `yaml:"s3"`
}

// ArchiveConfig tunes object naming.
type ArchiveConfig struct {
	Prefix      string `yaml:"prefix"`
	ContentType string `yaml:"content_type"`
}

// Config is the top-level tool configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Scan     ScanConfig     `yaml:"scan"`
	Blob     BlobConfig     `yaml:"blob"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

// Default returns built-in defaults: a local sqlite database archived in
// windows of 1000 to the filesystem blob driver.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "./dbkit.db",
		},
		Scan: ScanConfig{
			Window: archive.DefaultWindow,
		},
		Blob: BlobConfig{
			Driver: string(blob.DriverFilesystem),
		},
		Archive: ArchiveConfig{
			Prefix: "archive",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
// Unknown keys are rejected so typos surface instead of silently applying
// defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields an archive run depends on.
func (c Config) Validate() error {
	if _, err := c.Database.driverName(); err != nil {
		return err
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn required")
	}
	if c.Scan.Table == "" {
		return fmt.Errorf("config: scan.table required")
	}
	if c.Scan.KeyColumn == "" {
		return fmt.Errorf("config: scan.key_column required")
	}
	if c.Scan.Window <= 0 {
		return fmt.Errorf("config: scan.window must be positive, got %d", c.Scan.Window)
	}
	switch blob.Driver(c.Blob.Driver) {
	case blob.DriverFilesystem, blob.DriverS3, blob.DriverMemory:
	default:
		return fmt.Errorf("config: blob.driver must be fs, s3 or memory, got %q", c.Blob.Driver)
	}
	return nil
}

func (c DatabaseConfig) driverName() (string, error) {
	switch c.Driver {
	case "", "sqlite":
		return "sqlite", nil
	case "postgres":
		return "pgx", nil
	default:
		return "", fmt.Errorf("config: database.driver must be sqlite or postgres, got %q", c.Driver)
	}
}

// Placeholder returns the bind-parameter style of the configured driver.
func (c DatabaseConfig) Placeholder() dbscan.PlaceholderStyle {
	if c.Driver == "postgres" {
		return dbscan.Dollar
	}
	return dbscan.Question
}

// Open opens the configured database through the instrumented connector:
// session setup statements, the statement budget, and caller tags all apply
// to every pooled connection.
func (c DatabaseConfig) Open(logger zerolog.Logger, metrics dbconn.Metrics) (*sql.DB, error) {
	name, err := c.driverName()
	if err != nil {
		return nil, err
	}
	opts := []dbconn.Option{dbconn.WithLogger(logger), dbconn.WithCallerTags()}
	if len(c.SessionSetup) > 0 {
		opts = append(opts, dbconn.WithSessionSetup(c.SessionSetup...))
	}
	switch {
	case c.QueryBudget > 0:
		opts = append(opts, dbconn.WithQueryBudget(c.QueryBudget))
	case c.QueryBudget < 0:
		opts = append(opts, dbconn.WithQueryBudget(0))
	}
	if metrics != nil {
		opts = append(opts, dbconn.WithMetrics(metrics))
	}
	return dbconn.Open(name, c.DSN, opts...)
}

// Settings maps the blob section onto the driver settings.
func (c BlobConfig) Settings() blob.Settings {
	return blob.Settings{
		Driver: blob.Driver(c.Driver),
		FSRoot: c.FSRoot,
		S3: blob.S3Config{
			Bucket:          c.S3.Bucket,
			Region:          c.S3.Region,
			Endpoint:        c.S3.Endpoint,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			SessionToken:    c.S3.SessionToken,
			PathStyle:       c.S3.PathStyle,
		},
	}
}

// Job assembles the archiver run configuration from the scan and archive
// sections.
func (c Config) Job() archive.Config {
	return archive.Config{
		Table:       c.Scan.Table,
		KeyColumn:   c.Scan.KeyColumn,
		Columns:     c.Scan.Columns,
		Where:       c.Scan.Where,
		Args:        c.Scan.Args,
		Window:      c.Scan.Window,
		StartKey:    c.Scan.StartKey,
		Prefix:      c.Archive.Prefix,
		ContentType: c.Archive.ContentType,
	}
}
