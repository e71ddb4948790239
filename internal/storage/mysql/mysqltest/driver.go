// Package mysqltest provides a scripted database/sql driver. Each test lists
// the statements it expects in order; any deviation fails the call.
package mysqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type kind int

const (
	kindExec kind = iota
	kindQuery
	kindBegin
	kindCommit
	kindRollback
)

func (k kind) String() string {
	return [...]string{"exec", "query", "begin", "commit", "rollback"}[k]
}

// Op 是一条预期的数据库操作。Query 为空时不校验语句。
type Op struct {
	kind         kind
	Query        string
	RowsAffected int64
	LastInsertID int64
	Columns      []string
	Values       [][]driver.Value
	Err          error
}

// Exec 期望一次 Exec 并返回受影响行数。
func Exec(query string, rowsAffected int64) Op {
	return Op{kind: kindExec, Query: query, RowsAffected: rowsAffected}
}

// ExecErr 期望一次 Exec 并返回错误。
func ExecErr(query string, err error) Op {
	return Op{kind: kindExec, Query: query, Err: err}
}

// Query 期望一次查询并返回给定的行。
func Query(query string, columns []string, values ...[]driver.Value) Op {
	return Op{kind: kindQuery, Query: query, Columns: columns, Values: values}
}

// Begin、Commit、Rollback 期望对应的事务操作。
func Begin() Op    { return Op{kind: kindBegin} }
func Commit() Op   { return Op{kind: kindCommit} }
func Rollback() Op { return Op{kind: kindRollback} }

// Driver 按顺序消费预期操作并记录每次调用的参数。
type Driver struct {
	ops  []Op
	idx  atomic.Int32
	mu   sync.Mutex
	args [][]driver.Value
}

var seq atomic.Int32

// Open 注册一个新的脚本驱动并返回连接。
func Open(t testing.TB, ops ...Op) (*sql.DB, *Driver) {
	t.Helper()

	drv := &Driver{ops: ops}
	name := fmt.Sprintf("mysqltest-%d", seq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open scripted db: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { db.Close() })
	return db, drv
}

// AssertConsumed 确认所有预期操作都已发生。
func (d *Driver) AssertConsumed(t testing.TB) {
	t.Helper()
	if got := int(d.idx.Load()); got != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", got, len(d.ops))
	}
}

// Args 返回第 i 次 Exec/Query 调用的参数。
func (d *Driver) Args(i int) []driver.Value {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.args) {
		return nil
	}
	return d.args[i]
}

func (d *Driver) Open(string) (driver.Conn, error) {
	return &conn{driver: d}, nil
}

func (d *Driver) next(expected kind, query string, args []driver.NamedValue) (*Op, error) {
	idx := int(d.idx.Load())
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected %s: %s", expected, normalize(query))
	}
	op := &d.ops[idx]
	if op.kind != expected {
		return nil, fmt.Errorf("expected %s, got %s", op.kind, expected)
	}
	d.idx.Add(1)
	if op.Query != "" && normalize(op.Query) != normalize(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", normalize(op.Query), normalize(query))
	}
	if expected == kindExec || expected == kindQuery {
		values := make([]driver.Value, len(args))
		for i, a := range args {
			values[i] = a.Value
		}
		d.mu.Lock()
		d.args = append(d.args, values)
		d.mu.Unlock()
	}
	return op, op.Err
}

type conn struct {
	driver *Driver
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if _, err := c.driver.next(kindBegin, "", nil); err != nil {
		return nil, err
	}
	return &tx{driver: c.driver}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(kindExec, query, args)
	if err != nil {
		return nil, err
	}
	return result{lastInsertID: op.LastInsertID, rowsAffected: op.RowsAffected}, nil
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(kindQuery, query, args)
	if err != nil {
		return nil, err
	}
	return &rows{columns: op.Columns, values: op.Values}, nil
}

func (c *conn) Ping(context.Context) error { return nil }

// CheckNamedValue 接受任意参数类型，交由测试断言。
func (c *conn) CheckNamedValue(*driver.NamedValue) error { return nil }

type tx struct {
	driver *Driver
}

func (t *tx) Commit() error {
	_, err := t.driver.next(kindCommit, "", nil)
	return err
}

func (t *tx) Rollback() error {
	_, err := t.driver.next(kindRollback, "", nil)
	return err
}

type result struct {
	lastInsertID int64
	rowsAffected int64
}

func (r result) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r result) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type rows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
