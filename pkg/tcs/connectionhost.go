package tcs

import (
	"context"
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// ConnectionHost is the pool managed wrapper around a raw driver.Conn.
// Close returns it to the ConnectionPool that minted it instead of closing the raw connection,
// and every other operation fails with ErrConnectionClosed once it has been returned.
type ConnectionHost struct {
	ConnectionID   uint64
	ConnectionName string
	pool           *ConnectionPool
	conn           driver.Conn
	closed         atomic.Bool
	connLock       *sync.RWMutex
}

var (
	_ driver.Conn               = (*ConnectionHost)(nil)
	_ driver.ConnPrepareContext = (*ConnectionHost)(nil)
	_ driver.ConnBeginTx        = (*ConnectionHost)(nil)
	_ driver.ExecerContext      = (*ConnectionHost)(nil)
	_ driver.QueryerContext     = (*ConnectionHost)(nil)
	_ driver.Pinger             = (*ConnectionHost)(nil)
	_ driver.SessionResetter    = (*ConnectionHost)(nil)
	_ driver.Validator          = (*ConnectionHost)(nil)
	_ driver.NamedValueChecker  = (*ConnectionHost)(nil)
)

func newConnectionHost(pool *ConnectionPool, connectionID uint64, conn driver.Conn) *ConnectionHost {

	connHost := &ConnectionHost{
		ConnectionID:   connectionID,
		ConnectionName: pool.Config.ApplicationName + "-" + formatUint(connectionID),
		pool:           pool,
		conn:           conn,
		connLock:       &sync.RWMutex{},
	}

	// A new host sits in the free list until it is handed out.
	connHost.closed.Store(true)

	return connHost
}

// IsClosed reports whether the host has been returned to its pool.
// The state of the raw connection is never consulted.
func (ch *ConnectionHost) IsClosed() bool {
	return ch.closed.Load()
}

// Close returns the host to its ConnectionPool. The raw connection stays open for reuse.
// Only one Close of a checked out host succeeds, the rest fail with ErrConnectionClosed.
func (ch *ConnectionHost) Close() error {
	if !ch.closed.CompareAndSwap(false, true) {
		return ErrConnectionClosed
	}

	ch.pool.log.
		WithField("connection", ch.ConnectionName).
		Warn("closing a connection without using the corresponding pool, using the pool to close")

	return ch.pool.ReturnConnection(ch)
}

// Equal reports whether both hosts wrap the same pooled connection of the same ConnectionPool.
func (ch *ConnectionHost) Equal(other *ConnectionHost) bool {
	if ch == nil || other == nil {
		return ch == other
	}

	return ch.pool == other.pool && ch.ConnectionID == other.ConnectionID
}

// Hash derives an identity hash from the owning pool and the connection ID.
func (ch *ConnectionHost) Hash() uint64 {
	digest := xxhash.New()

	if ch.pool != nil {
		_, _ = digest.Write(ch.pool.ID[:])
	}

	var id [8]byte
	binary.BigEndian.PutUint64(id[:], ch.ConnectionID)
	_, _ = digest.Write(id[:])

	return digest.Sum64()
}

// Prepare delegates to the raw connection.
func (ch *ConnectionHost) Prepare(query string) (driver.Stmt, error) {
	conn, err := ch.openConnection()
	if err != nil {
		return nil, err
	}

	return conn.Prepare(query)
}

// PrepareContext delegates to the raw connection, falling back to Prepare.
func (ch *ConnectionHost) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	conn, err := ch.openConnection()
	if err != nil {
		return nil, err
	}

	if preparer, ok := conn.(driver.ConnPrepareContext); ok {
		return preparer.PrepareContext(ctx, query)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return conn.Prepare(query)
}

// Begin delegates to the raw connection.
func (ch *ConnectionHost) Begin() (driver.Tx, error) {
	conn, err := ch.openConnection()
	if err != nil {
		return nil, err
	}

	return conn.Begin()
}

// BeginTx delegates to the raw connection, falling back to Begin for default options.
func (ch *ConnectionHost) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	conn, err := ch.openConnection()
	if err != nil {
		return nil, err
	}

	if beginner, ok := conn.(driver.ConnBeginTx); ok {
		return beginner.BeginTx(ctx, opts)
	}

	if opts.Isolation != 0 {
		return nil, errors.New("driver does not support non-default isolation level")
	}

	if opts.ReadOnly {
		return nil, errors.New("driver does not support read-only transactions")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return conn.Begin()
}

// ExecContext delegates to the raw connection or returns driver.ErrSkip so database/sql prepares instead.
func (ch *ConnectionHost) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	conn, err := ch.openConnection()
	if err != nil {
		return nil, err
	}

	if execer, ok := conn.(driver.ExecerContext); ok {
		return execer.ExecContext(ctx, query, args)
	}

	return nil, driver.ErrSkip
}

// QueryContext delegates to the raw connection or returns driver.ErrSkip so database/sql prepares instead.
func (ch *ConnectionHost) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	conn, err := ch.openConnection()
	if err != nil {
		return nil, err
	}

	if queryer, ok := conn.(driver.QueryerContext); ok {
		return queryer.QueryContext(ctx, query, args)
	}

	return nil, driver.ErrSkip
}

// Ping delegates to the raw connection when it supports pinging.
func (ch *ConnectionHost) Ping(ctx context.Context) error {
	conn, err := ch.openConnection()
	if err != nil {
		return err
	}

	if pinger, ok := conn.(driver.Pinger); ok {
		return pinger.Ping(ctx)
	}

	return nil
}

// ResetSession delegates to the raw connection when it supports session resets.
func (ch *ConnectionHost) ResetSession(ctx context.Context) error {
	conn, err := ch.openConnection()
	if err != nil {
		return err
	}

	if resetter, ok := conn.(driver.SessionResetter); ok {
		return resetter.ResetSession(ctx)
	}

	return nil
}

// CheckNamedValue delegates argument conversion to the raw connection when it supports it.
func (ch *ConnectionHost) CheckNamedValue(value *driver.NamedValue) error {
	conn, err := ch.openConnection()
	if err != nil {
		return err
	}

	if checker, ok := conn.(driver.NamedValueChecker); ok {
		return checker.CheckNamedValue(value)
	}

	return driver.ErrSkip
}

// IsValid reports whether the host may be used, which is only while it is checked out.
func (ch *ConnectionHost) IsValid() bool {
	return !ch.closed.Load()
}

// openConnection is the guard in front of every delegated operation.
func (ch *ConnectionHost) openConnection() (driver.Conn, error) {
	if ch.closed.Load() {
		return nil, ErrConnectionClosed
	}

	ch.connLock.RLock()
	defer ch.connLock.RUnlock()

	if ch.conn == nil {
		return nil, ErrConnectionClosed
	}

	return ch.conn, nil
}

// needsConnection reports whether the raw connection is missing or reports itself unusable.
func (ch *ConnectionHost) needsConnection() bool {
	ch.connLock.RLock()
	defer ch.connLock.RUnlock()

	if ch.conn == nil {
		return true
	}

	if validator, ok := ch.conn.(driver.Validator); ok {
		return !validator.IsValid()
	}

	return false
}

// swapConnection installs conn and hands back the raw connection it replaced.
func (ch *ConnectionHost) swapConnection(conn driver.Conn) driver.Conn {
	ch.connLock.Lock()
	defer ch.connLock.Unlock()

	previous := ch.conn
	ch.conn = conn

	return previous
}
