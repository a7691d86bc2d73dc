package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sync/atomic"
)

// stubConn emulates the narrow slice of Postgres the store touches: a
// bucket/payload upsert table plus a single-row select. It records every
// executed statement for assertions.
type stubConn struct {
	execs    []string
	buckets  map[string][]byte
	failPing bool
	failExec bool
}

var stubSeq uint64

func newStubDB() (*sql.DB, *stubConn) {
	conn := &stubConn{buckets: make(map[string][]byte)}
	name := fmt.Sprintf("stubpg%d", atomic.AddUint64(&stubSeq, 1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct{ conn *stubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *stubConn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported by stub")
}

func (c *stubConn) Close() error { return nil }

func (c *stubConn) Begin() (driver.Tx, error) {
	return nil, fmt.Errorf("transactions not supported by stub")
}

func (c *stubConn) Ping(context.Context) error {
	if c.failPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

func (c *stubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.execs = append(c.execs, query)
	if c.failExec {
		return nil, fmt.Errorf("exec fail")
	}
	if len(args) == 2 {
		bucket, _ := args[0].Value.(string)
		payload, _ := args[1].Value.([]byte)
		c.buckets[bucket] = append([]byte(nil), payload...)
	}
	return driver.RowsAffected(1), nil
}

func (c *stubConn) QueryContext(_ context.Context, _ string, args []driver.NamedValue) (driver.Rows, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("stub expects a single bucket argument")
	}
	bucket, _ := args[0].Value.(string)
	payload, ok := c.buckets[bucket]
	if !ok {
		return &stubRows{}, nil
	}
	return &stubRows{payloads: [][]byte{payload}}, nil
}

type stubRows struct {
	payloads [][]byte
	pos      int
}

func (r *stubRows) Columns() []string { return []string{"payload"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.payloads) {
		return io.EOF
	}
	dest[0] = r.payloads[r.pos]
	r.pos++
	return nil
}
