package dbconn

import (
	"context"
	"database/sql/driver"
	"errors"
)

// wrappedConn counts executed statements and injects caller tags. database/sql
// serializes use of a single driver connection, so the counter needs no lock;
// it is read at commit time on the same goroutine that ran the statements.
type wrappedConn struct {
	base       driver.Conn
	cfg        *settings
	statements int
}

func (c *wrappedConn) observe() {
	c.statements++
	if m := c.cfg.metrics; m != nil {
		m.ObserveStatement(c.cfg.driverName)
	}
}

// noteCommit flags connections whose statement count blew the budget. Counts
// accumulate for the connection's lifetime; a long-lived pooled connection
// that crossed the line keeps warning on every later commit, which is what
// makes the noise hard to ignore.
func (c *wrappedConn) noteCommit() {
	over := c.cfg.budget > 0 && c.statements > c.cfg.budget
	if over {
		c.cfg.logger.Warn().
			Str("driver", c.cfg.driverName).
			Int("query_count", c.statements).
			Int("budget", c.cfg.budget).
			Msg("dubiously many queries on one connection")
	}
	if m := c.cfg.metrics; m != nil {
		m.ObserveCommit(c.cfg.driverName, c.statements, over)
	}
}

func (c *wrappedConn) Prepare(query string) (driver.Stmt, error) {
	if c.cfg.callerTags && isSelect(query) {
		query = callerTag() + query
	}
	st, err := c.base.Prepare(query)
	if err != nil {
		return nil, err
	}
	return &wrappedStmt{base: st, conn: c}, nil
}

func (c *wrappedConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if c.cfg.callerTags && isSelect(query) {
		query = callerTag() + query
	}
	pc, ok := c.base.(driver.ConnPrepareContext)
	if !ok {
		st, err := c.base.Prepare(query)
		if err != nil {
			return nil, err
		}
		return &wrappedStmt{base: st, conn: c}, nil
	}
	st, err := pc.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &wrappedStmt{base: st, conn: c}, nil
}

func (c *wrappedConn) Close() error { return c.base.Close() }

func (c *wrappedConn) Begin() (driver.Tx, error) {
	tx, err := c.base.Begin()
	if err != nil {
		return nil, err
	}
	return &wrappedTx{base: tx, conn: c}, nil
}

func (c *wrappedConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	bt, ok := c.base.(driver.ConnBeginTx)
	if !ok {
		if opts.Isolation != 0 {
			return nil, errors.New("dbconn: driver does not support isolation levels")
		}
		if opts.ReadOnly {
			return nil, errors.New("dbconn: driver does not support read-only transactions")
		}
		return c.Begin()
	}
	tx, err := bt.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &wrappedTx{base: tx, conn: c}, nil
}

// ExecContext returns driver.ErrSkip when the underlying connection lacks the
// fast path, steering database/sql onto prepared statements, which the stmt
// wrapper counts instead.
func (c *wrappedConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	ec, ok := c.base.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	res, err := ec.ExecContext(ctx, query, args)
	if !errors.Is(err, driver.ErrSkip) {
		c.observe()
	}
	return res, err
}

func (c *wrappedConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	qc, ok := c.base.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	if c.cfg.callerTags && isSelect(query) {
		query = callerTag() + query
	}
	rows, err := qc.QueryContext(ctx, query, args)
	if !errors.Is(err, driver.ErrSkip) {
		c.observe()
	}
	return rows, err
}

func (c *wrappedConn) Ping(ctx context.Context) error {
	if p, ok := c.base.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *wrappedConn) ResetSession(ctx context.Context) error {
	if r, ok := c.base.(driver.SessionResetter); ok {
		return r.ResetSession(ctx)
	}
	return nil
}

func (c *wrappedConn) IsValid() bool {
	if v, ok := c.base.(driver.Validator); ok {
		return v.IsValid()
	}
	return true
}

func (c *wrappedConn) CheckNamedValue(nv *driver.NamedValue) error {
	if nvc, ok := c.base.(driver.NamedValueChecker); ok {
		return nvc.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}

type wrappedStmt struct {
	base driver.Stmt
	conn *wrappedConn
}

func (s *wrappedStmt) Close() error  { return s.base.Close() }
func (s *wrappedStmt) NumInput() int { return s.base.NumInput() }

func (s *wrappedStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.conn.observe()
	return s.base.Exec(args)
}

func (s *wrappedStmt) Query(args []driver.Value) (driver.Rows, error) {
	s.conn.observe()
	return s.base.Query(args)
}

func (s *wrappedStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if sec, ok := s.base.(driver.StmtExecContext); ok {
		s.conn.observe()
		return sec.ExecContext(ctx, args)
	}
	vals, err := namedValuesToValues(args)
	if err != nil {
		return nil, err
	}
	s.conn.observe()
	return s.base.Exec(vals)
}

func (s *wrappedStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if sqc, ok := s.base.(driver.StmtQueryContext); ok {
		s.conn.observe()
		return sqc.QueryContext(ctx, args)
	}
	vals, err := namedValuesToValues(args)
	if err != nil {
		return nil, err
	}
	s.conn.observe()
	return s.base.Query(vals)
}

func (s *wrappedStmt) CheckNamedValue(nv *driver.NamedValue) error {
	if nvc, ok := s.base.(driver.NamedValueChecker); ok {
		return nvc.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}

func namedValuesToValues(named []driver.NamedValue) ([]driver.Value, error) {
	vals := make([]driver.Value, len(named))
	for i, nv := range named {
		if nv.Name != "" {
			return nil, errors.New("dbconn: driver does not support named parameters")
		}
		vals[i] = nv.Value
	}
	return vals, nil
}

type wrappedTx struct {
	base driver.Tx
	conn *wrappedConn
}

func (t *wrappedTx) Commit() error {
	t.conn.noteCommit()
	return t.base.Commit()
}

func (t *wrappedTx) Rollback() error { return t.base.Rollback() }

var (
	_ driver.Conn               = (*wrappedConn)(nil)
	_ driver.ConnPrepareContext = (*wrappedConn)(nil)
	_ driver.ConnBeginTx        = (*wrappedConn)(nil)
	_ driver.ExecerContext      = (*wrappedConn)(nil)
	_ driver.QueryerContext     = (*wrappedConn)(nil)
	_ driver.Pinger             = (*wrappedConn)(nil)
	_ driver.SessionResetter    = (*wrappedConn)(nil)
	_ driver.Validator          = (*wrappedConn)(nil)
	_ driver.NamedValueChecker  = (*wrappedConn)(nil)
	_ driver.Stmt               = (*wrappedStmt)(nil)
	_ driver.StmtExecContext    = (*wrappedStmt)(nil)
	_ driver.StmtQueryContext   = (*wrappedStmt)(nil)
	_ driver.NamedValueChecker  = (*wrappedStmt)(nil)
	_ driver.Tx                 = (*wrappedTx)(nil)
)
