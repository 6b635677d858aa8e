package tcs_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/houseofcat/turbocookedsql/pkg/tcs"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const fakeSQLDriverName = "tcsfake"

var errFakeConnect = errors.New("fake: connection refused")

var fakeSQL = &fakeSQLDriver{}

func init() {
	sql.Register(fakeSQLDriverName, fakeSQL)
}

// fakeSQLDriver is a database/sql driver that records the DSNs it was opened with.
type fakeSQLDriver struct {
	mu   sync.Mutex
	dsns []string
}

func (fd *fakeSQLDriver) Open(dsn string) (driver.Conn, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.dsns = append(fd.dsns, dsn)

	return &fakeConn{}, nil
}

func (fd *fakeSQLDriver) openedWith(dsn string) bool {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	for _, opened := range fd.dsns {
		if opened == dsn {
			return true
		}
	}

	return false
}

// fakeProvider hands out fakeConns and can be told to fail.
type fakeProvider struct {
	mu          sync.Mutex
	conns       []*fakeConn
	failConnect bool
	failAfter   int // fail once this many connections were created, zero disables
	closeErr    error
	plain       bool
}

func (fp *fakeProvider) Connect(uri, username, password string) (driver.Conn, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if fp.failConnect || (fp.failAfter > 0 && len(fp.conns) >= fp.failAfter) {
		return nil, errFakeConnect
	}

	conn := &fakeConn{id: len(fp.conns), uri: uri, closeErr: fp.closeErr}
	fp.conns = append(fp.conns, conn)

	if fp.plain {
		return &plainConn{fakeConn: conn}, nil
	}

	return conn, nil
}

func (fp *fakeProvider) setFailConnect(fail bool) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	fp.failConnect = fail
}

func (fp *fakeProvider) count() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return len(fp.conns)
}

func (fp *fakeProvider) conn(i int) *fakeConn {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fp.conns[i]
}

func (fp *fakeProvider) closedCount() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	closed := 0
	for _, conn := range fp.conns {
		if conn.closed.Load() {
			closed++
		}
	}

	return closed
}

// fakeConn is a raw connection supporting the optional driver interfaces.
type fakeConn struct {
	id       int
	uri      string
	closeErr error
	closed   atomic.Bool
	invalid  atomic.Bool
	mu       sync.Mutex
	queries  []string
}

func (fc *fakeConn) record(query string) error {
	if fc.closed.Load() {
		return driver.ErrBadConn
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()

	fc.queries = append(fc.queries, query)

	return nil
}

func (fc *fakeConn) recorded() []string {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	return append([]string(nil), fc.queries...)
}

func (fc *fakeConn) Prepare(query string) (driver.Stmt, error) {
	if err := fc.record(query); err != nil {
		return nil, err
	}

	return &fakeStmt{}, nil
}

func (fc *fakeConn) Close() error {
	fc.closed.Store(true)
	return fc.closeErr
}

func (fc *fakeConn) Begin() (driver.Tx, error) {
	if fc.closed.Load() {
		return nil, driver.ErrBadConn
	}

	return &fakeTx{}, nil
}

func (fc *fakeConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	return fc.Begin()
}

func (fc *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := fc.record(query); err != nil {
		return nil, err
	}

	return driver.RowsAffected(1), nil
}

func (fc *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := fc.record(query); err != nil {
		return nil, err
	}

	return &fakeRows{values: []int64{int64(fc.id)}}, nil
}

func (fc *fakeConn) Ping(ctx context.Context) error {
	if fc.closed.Load() {
		return driver.ErrBadConn
	}

	return nil
}

func (fc *fakeConn) IsValid() bool {
	return !fc.closed.Load() && !fc.invalid.Load()
}

// plainConn only implements driver.Conn.
type plainConn struct {
	fakeConn *fakeConn
}

func (pc *plainConn) Prepare(query string) (driver.Stmt, error) { return pc.fakeConn.Prepare(query) }
func (pc *plainConn) Close() error                             { return pc.fakeConn.Close() }
func (pc *plainConn) Begin() (driver.Tx, error)                { return pc.fakeConn.Begin() }

type fakeStmt struct{}

func (fs *fakeStmt) Close() error  { return nil }
func (fs *fakeStmt) NumInput() int { return -1 }

func (fs *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	return driver.RowsAffected(0), nil
}

func (fs *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	return &fakeRows{}, nil
}

type fakeTx struct{}

func (ft *fakeTx) Commit() error   { return nil }
func (ft *fakeTx) Rollback() error { return nil }

type fakeRows struct {
	values []int64
	next   int
}

func (fr *fakeRows) Columns() []string { return []string{"value"} }
func (fr *fakeRows) Close() error      { return nil }

func (fr *fakeRows) Next(dest []driver.Value) error {
	if fr.next >= len(fr.values) {
		return io.EOF
	}

	dest[0] = fr.values[fr.next]
	fr.next++

	return nil
}

// registerFakeProvider registers provider under a unique name for the life of the test.
func registerFakeProvider(t *testing.T, provider tcs.Provider) string {
	t.Helper()

	name := "fake-" + uuid.NewString()
	require.NoError(t, tcs.RegisterProvider(name, provider))
	t.Cleanup(func() { tcs.UnregisterProvider(name) })

	return name
}

type testPool struct {
	*tcs.ConnectionPool
	provider *fakeProvider
	hook     *test.Hook
	errors   *errorRecorder
}

type errorRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (er *errorRecorder) handle(err error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	er.errs = append(er.errs, err)
}

func (er *errorRecorder) all() []error {
	er.mu.Lock()
	defer er.mu.Unlock()

	return append([]error(nil), er.errs...)
}

func newTestPool(t *testing.T, maxConnectionCount uint64, lazyLoad bool) *testPool {
	t.Helper()

	return newTestPoolWithProvider(t, &fakeProvider{}, maxConnectionCount, lazyLoad)
}

func newTestPoolWithProvider(t *testing.T, provider *fakeProvider, maxConnectionCount uint64, lazyLoad bool) *testPool {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	recorder := &errorRecorder{}
	cp, err := tcs.NewConnectionPoolWithHandlers(
		&tcs.PoolConfig{
			ApplicationName:    "TurboCookedSQL-Test",
			Driver:             registerFakeProvider(t, provider),
			URI:                "fake://localhost/connectionpool",
			Username:           "sa",
			MaxConnectionCount: maxConnectionCount,
			LazyLoad:           lazyLoad,
		},
		recorder.handle,
		logger)
	require.NoError(t, err)
	t.Cleanup(cp.Shutdown)

	return &testPool{
		ConnectionPool: cp,
		provider:       provider,
		hook:           hook,
		errors:         recorder,
	}
}

func assertFreeInUse(t *testing.T, cp *tcs.ConnectionPool, free, inUse int) {
	t.Helper()

	stats := cp.Stats()
	require.Equal(t, free, stats.Free, "free")
	require.Equal(t, inUse, stats.InUse, "inUse")
}

func warnings(hook *test.Hook) []string {
	var messages []string
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			messages = append(messages, entry.Message)
		}
	}

	return messages
}

// newStatsCheckingPool builds a pool whose error handler reads Stats from the same pool.
func newStatsCheckingPool(t *testing.T, provider *fakeProvider, maxConnectionCount uint64, lazyLoad bool) (*tcs.ConnectionPool, *errorRecorder) {
	t.Helper()

	logger, _ := test.NewNullLogger()

	var cp *tcs.ConnectionPool
	recorder := &errorRecorder{}
	handler := func(err error) {
		recorder.handle(err)
		if cp != nil {
			_ = cp.Stats()
		}
	}

	cp, err := tcs.NewConnectionPoolWithHandlers(
		&tcs.PoolConfig{
			Driver:             registerFakeProvider(t, provider),
			URI:                "fake://localhost/connectionpool",
			MaxConnectionCount: maxConnectionCount,
			LazyLoad:           lazyLoad,
		},
		handler,
		logger)
	require.NoError(t, err)
	t.Cleanup(cp.Shutdown)

	return cp, recorder
}

// requireReturns fails the test when fn has not returned within two seconds.
func requireReturns(t *testing.T, name string, fn func()) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s did not return", name)
	}
}
