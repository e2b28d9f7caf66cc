// Package dbconn opens database handles with connection-lifecycle policy
// attached below database/sql: session setup statements that run on every
// new connection, a per-connection statement budget that flags runaway
// query loops at commit time, and optional caller tags that prefix SELECT
// text with the file:line that issued it so slow-query logs point at code.
//
// The wrapping happens at the driver level. Open resolves the named driver,
// interposes on its connections, and hands the result to sql.OpenDB, so
// everything above, pooling, prepared statements, transactions, behaves
// exactly as stock database/sql.
package dbconn

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// DefaultQueryBudget is the per-connection statement count past which commits
// are flagged. The number is deliberately generous: legitimate sessions stay
// well under it, while an ORM-style N+1 loop blows through it immediately.
const DefaultQueryBudget = 100

// StrictModeMySQL is a session setup statement that makes MySQL reject, not
// coerce, out-of-range and malformed values. Pass it to WithSessionSetup when
// opening MySQL-protocol databases.
const StrictModeMySQL = "SET SESSION sql_mode='TRADITIONAL'"

// Option adjusts the behavior of Open.
type Option func(*settings)

type settings struct {
	driverName   string
	sessionSetup []string
	budget       int
	callerTags   bool
	logger       zerolog.Logger
	metrics      Metrics
}

// WithSessionSetup appends statements executed, in order, on every new
// connection before it is handed to the pool. A failing statement fails the
// connection attempt. Setup statements bypass the statement counter.
func WithSessionSetup(stmts ...string) Option {
	return func(s *settings) {
		s.sessionSetup = append(s.sessionSetup, stmts...)
	}
}

// WithSessionSetupScript splits script on semicolons and appends each
// statement as session setup. Line comments and blank lines are dropped.
func WithSessionSetupScript(script string) Option {
	return func(s *settings) {
		s.sessionSetup = append(s.sessionSetup, SplitStatements(script)...)
	}
}

// WithQueryBudget replaces DefaultQueryBudget. A zero or negative budget
// disables the commit-time warning.
func WithQueryBudget(n int) Option {
	return func(s *settings) {
		s.budget = n
	}
}

// WithCallerTags prefixes SELECT statements with a /* file.go:line */ comment
// naming the first application frame above database/sql.
func WithCallerTags() Option {
	return func(s *settings) {
		s.callerTags = true
	}
}

// WithLogger replaces the default stderr logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithMetrics attaches a metrics sink observing connects, statements and
// commits.
func WithMetrics(m Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// Open returns a database handle for the registered driver named driverName,
// with the configured connection policy applied to every connection the pool
// creates.
func Open(driverName, dsn string, opts ...Option) (*sql.DB, error) {
	c, err := Connector(driverName, dsn, opts...)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(c), nil
}

// Connector builds the policy-wrapping driver.Connector Open hands to
// sql.OpenDB. Exposed for callers that manage pool construction themselves.
func Connector(driverName, dsn string, opts ...Option) (driver.Connector, error) {
	base, err := baseConnector(driverName, dsn)
	if err != nil {
		return nil, err
	}
	cfg := &settings{
		driverName: driverName,
		budget:     DefaultQueryBudget,
		logger:     zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &connector{base: base, cfg: cfg}, nil
}

// baseConnector resolves driverName through database/sql's registry. Drivers
// that support DriverContext get a native connector; older ones fall back to
// Open-per-connection with the DSN captured.
func baseConnector(driverName, dsn string) (driver.Connector, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("dbconn: resolve driver %q: %w", driverName, err)
	}
	drv := db.Driver()
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("dbconn: release probe handle: %w", err)
	}
	if dc, ok := drv.(driver.DriverContext); ok {
		c, err := dc.OpenConnector(dsn)
		if err != nil {
			return nil, fmt.Errorf("dbconn: open connector for %q: %w", driverName, err)
		}
		return c, nil
	}
	return dsnConnector{dsn: dsn, driver: drv}, nil
}

type dsnConnector struct {
	dsn    string
	driver driver.Driver
}

func (c dsnConnector) Connect(context.Context) (driver.Conn, error) {
	return c.driver.Open(c.dsn)
}

func (c dsnConnector) Driver() driver.Driver { return c.driver }

type connector struct {
	base driver.Connector
	cfg  *settings
}

func (c *connector) Connect(ctx context.Context) (driver.Conn, error) {
	raw, err := c.base.Connect(ctx)
	if err != nil {
		return nil, err
	}
	for _, stmt := range c.cfg.sessionSetup {
		if err := execOnConn(ctx, raw, stmt); err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("dbconn: session setup %q: %w", stmt, err)
		}
	}
	if m := c.cfg.metrics; m != nil {
		m.ObserveConnect(c.cfg.driverName)
	}
	return &wrappedConn{base: raw, cfg: c.cfg}, nil
}

func (c *connector) Driver() driver.Driver { return c.base.Driver() }

// execOnConn runs one statement on a raw driver connection, preferring the
// context-aware fast path and falling back to prepare/exec.
func execOnConn(ctx context.Context, conn driver.Conn, stmt string) error {
	if ec, ok := conn.(driver.ExecerContext); ok {
		_, err := ec.ExecContext(ctx, stmt, nil)
		if !errors.Is(err, driver.ErrSkip) {
			return err
		}
	}
	st, err := conn.Prepare(stmt)
	if err != nil {
		return err
	}
	defer st.Close()
	_, err = st.Exec(nil)
	return err
}
