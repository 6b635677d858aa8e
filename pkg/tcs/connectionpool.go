package tcs

import (
	"database/sql/driver"
	"errors"
	"sync"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/Workiva/go-datastructures/set"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ConnectionPool houses a fixed size pool of database connections.
// GetConnection and ReturnConnection share one lock, GetConnection never waits for a free connection.
type ConnectionPool struct {
	ID           uuid.UUID
	Config       PoolConfig
	provider     Provider
	free         *queue.Queue
	inUse        *set.Set
	connectionID uint64
	closed       bool
	poolLock     *sync.Mutex
	log          *logrus.Entry
	errorHandler func(error)
}

// PoolStats is a point in time view of the ConnectionPool.
type PoolStats struct {
	MaxConnectionCount uint64
	Free               int
	InUse              int
	Minted             uint64 // connection hosts created over the life of the pool
}

// NewConnectionPool creates hosting structure for the ConnectionPool.
func NewConnectionPool(config *PoolConfig) (*ConnectionPool, error) {
	return NewConnectionPoolWithHandlers(config, nil, nil)
}

// NewConnectionPoolWithErrorHandler creates hosting structure for the ConnectionPool with an error handler.
func NewConnectionPoolWithErrorHandler(config *PoolConfig, errorHandler func(error)) (*ConnectionPool, error) {
	return NewConnectionPoolWithHandlers(config, errorHandler, nil)
}

// NewConnectionPoolWithHandlers creates hosting structure for the ConnectionPool with an error handler and/or logger.
// A nil logger creates one at config.LogLevel.
func NewConnectionPoolWithHandlers(config *PoolConfig, errorHandler func(error), logger *logrus.Logger) (*ConnectionPool, error) {
	if config == nil {
		return nil, errors.New("connectionpool config can't be nil")
	}

	cp := &ConnectionPool{
		ID:           uuid.New(),
		Config:       config.withDefaults(),
		poolLock:     &sync.Mutex{},
		errorHandler: errorHandler,
	}

	var err error
	cp.log, err = newPoolLogger(&cp.Config, logger, cp.ID)
	if err != nil {
		return nil, err
	}

	cp.log.Info("initializing connection pool with - " + cp.Config.String())

	if err = cp.initializeConnections(); err != nil {
		return nil, err
	}

	return cp, nil
}

func (cp *ConnectionPool) initializeConnections() error {

	provider, err := resolveProvider(&cp.Config)
	if err != nil {
		cp.log.WithError(err).Error("failed to register driver")
		cp.handleError(err)
		return err
	}

	cp.provider = provider
	cp.connectionID = 0
	cp.free = queue.New(int64(cp.Config.MaxConnectionCount))
	cp.inUse = set.New()

	if cp.Config.LazyLoad {
		return nil
	}

	for i := uint64(0); i < cp.Config.MaxConnectionCount; i++ {

		connHost, err := cp.createConnectionHost()
		if err != nil {
			cp.handleError(err)
			cp.handleErrors(cp.closeFreeConnections())
			return err
		}

		if err = cp.free.Put(connHost); err != nil {
			cp.handleError(err)
			return err
		}
	}

	return nil
}

// GetConnection hands out a free connection, creates one while under MaxConnectionCount,
// or fails with ErrPoolExhausted. The raw connection is re-created first when it is missing
// or reports itself invalid.
func (cp *ConnectionPool) GetConnection() (*ConnectionHost, error) {
	connHost, err := cp.getConnection()

	// the error handler never runs under poolLock, it may call back into the pool
	if errors.Is(err, ErrConnectionAcquireFailed) {
		cp.handleError(err)
	}

	return connHost, err
}

func (cp *ConnectionPool) getConnection() (*ConnectionHost, error) {
	cp.poolLock.Lock()
	defer cp.poolLock.Unlock()

	cp.log.Trace("in GetConnection")

	if cp.closed {
		return nil, ErrConnectionPoolClosed
	}

	connHost, err := cp.admitConnection()
	if err != nil {
		return nil, err
	}

	if connHost.needsConnection() {
		conn, err := cp.connect()
		if err != nil {
			// keeps its slot, the next GetConnection retries the reconnect
			_ = cp.free.Put(connHost)
			return nil, err
		}

		if previous := connHost.swapConnection(conn); previous != nil {
			_ = previous.Close()
		}
	}

	connHost.closed.Store(false)
	cp.inUse.Add(connHost)

	cp.debugCounts("after GetConnection")

	return connHost, nil
}

// admitConnection decides between a free connection, a new connection, or exhaustion.
func (cp *ConnectionPool) admitConnection() (*ConnectionHost, error) {

	if !cp.free.Empty() {
		// never pauses, the queue is only touched under poolLock
		structs, err := cp.free.Get(1)
		if err != nil {
			return nil, err
		}

		connHost, ok := structs[0].(*ConnectionHost)
		if !ok {
			return nil, errors.New("invalid struct type found in ConnectionPool queue")
		}

		return connHost, nil
	}

	if uint64(cp.inUse.Len()) < cp.Config.MaxConnectionCount {
		return cp.createConnectionHost()
	}

	cp.log.WithField("inUse", cp.inUse.Len()).Debug("connection pool exhausted")

	return nil, ErrPoolExhausted
}

// ReturnConnection gives a connection back to the pool.
// Connections this pool did not provide are closed with a warning, a nil connection is ignored,
// and returning a connection that is not in use does nothing.
func (cp *ConnectionPool) ReturnConnection(conn driver.Conn) error {
	if conn == nil {
		return nil
	}

	connHost, ok := conn.(*ConnectionHost)
	if ok && connHost == nil {
		return nil
	}

	if !ok || connHost.pool != cp {
		return cp.closeForeignConnection(conn, connHost)
	}

	if err := cp.returnConnectionHost(connHost); err != nil {
		cp.handleError(err)
		return err
	}

	return nil
}

// closeForeignConnection closes a connection this pool did not provide. It runs outside poolLock,
// a host from another pool takes that pool's lock.
func (cp *ConnectionPool) closeForeignConnection(conn driver.Conn, connHost *ConnectionHost) error {

	if connHost != nil && connHost.IsClosed() {
		// already back in its own pool, which owns the raw connection
		cp.log.WithField("connection", connHost.ConnectionName).Debug("connection from another pool is already returned, nothing to close")
		return nil
	}

	cp.log.Warn("attempting to close a connection which was not provided by this pool")

	err := conn.Close()
	if connHost != nil && errors.Is(err, ErrConnectionClosed) {
		// lost a race with another Close of the same host
		return nil
	}

	if err != nil {
		err = wrapError(ErrConnectionCloseFailed, err)
		cp.handleError(err)
		return err
	}

	return nil
}

func (cp *ConnectionPool) returnConnectionHost(connHost *ConnectionHost) error {
	cp.poolLock.Lock()
	defer cp.poolLock.Unlock()
	defer cp.debugCounts("after ReturnConnection")

	cp.log.Trace("in ReturnConnection")

	if !cp.inUse.Exists(connHost) {
		cp.log.WithField("connection", connHost.ConnectionName).Debug("connection is not in use, nothing to return")
		return nil
	}

	connHost.closed.Store(true)
	cp.inUse.Remove(connHost)

	if cp.closed {
		if conn := connHost.swapConnection(nil); conn != nil {
			if err := conn.Close(); err != nil {
				return wrapError(ErrConnectionCloseFailed, err)
			}
		}
		return nil
	}

	return cp.free.Put(connHost)
}

// ReturnAllConnections returns every connection currently in use, used for draining the pool.
func (cp *ConnectionPool) ReturnAllConnections() error {

	cp.poolLock.Lock()
	inUse := cp.inUse.Flatten()
	cp.poolLock.Unlock()

	var errs []error
	for _, item := range inUse {
		if err := cp.ReturnConnection(item.(*ConnectionHost)); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Stats reports the free and in use counts.
func (cp *ConnectionPool) Stats() PoolStats {
	cp.poolLock.Lock()
	defer cp.poolLock.Unlock()

	return PoolStats{
		MaxConnectionCount: cp.Config.MaxConnectionCount,
		Free:               int(cp.free.Len()),
		InUse:              int(cp.inUse.Len()),
		Minted:             cp.connectionID,
	}
}

// Shutdown closes all free connections and stops the pool from handing out more.
// Connections still in use are closed as they are returned.
func (cp *ConnectionPool) Shutdown() {

	if cp == nil {
		return
	}

	cp.handleErrors(cp.shutdown())
}

func (cp *ConnectionPool) shutdown() []error {
	cp.poolLock.Lock()
	defer cp.poolLock.Unlock()

	if cp.closed {
		return nil
	}

	cp.closed = true
	errs := cp.closeFreeConnections()

	cp.log.Info("connection pool shutdown")

	return errs
}

// closeFreeConnections empties the free queue, closes the raw connections and reports the close
// failures (caller holds poolLock).
func (cp *ConnectionPool) closeFreeConnections() []error {

	errLock := &sync.Mutex{}
	var errs []error

	wg := &sync.WaitGroup{}
	for !cp.free.Empty() {
		items, _ := cp.free.Get(cp.free.Len())

		for _, item := range items {
			connHost, ok := item.(*ConnectionHost)
			if !ok {
				continue
			}

			conn := connHost.swapConnection(nil)
			if conn == nil {
				continue
			}

			wg.Add(1)
			go func(conn driver.Conn) {
				defer wg.Done()
				defer func() { _ = recover() }()

				if err := conn.Close(); err != nil {
					errLock.Lock()
					errs = append(errs, wrapError(ErrConnectionCloseFailed, err))
					errLock.Unlock()
				}
			}(conn)
		}
	}

	wg.Wait()

	return errs
}

// createConnectionHost mints a new ConnectionHost around a fresh raw connection.
func (cp *ConnectionPool) createConnectionHost() (*ConnectionHost, error) {

	conn, err := cp.connect()
	if err != nil {
		return nil, err
	}

	connHost := newConnectionHost(cp, cp.connectionID, conn)
	cp.connectionID++

	return connHost, nil
}

// connect asks the Provider for one raw connection.
func (cp *ConnectionPool) connect() (driver.Conn, error) {

	conn, err := cp.provider.Connect(cp.Config.URI, cp.Config.Username, cp.Config.Password)
	if err == nil && conn == nil {
		err = errors.New("provider returned no connection")
	}

	if err != nil {
		err = wrapError(ErrConnectionAcquireFailed, err)
		cp.log.WithError(err).Error("failed to get connection")
		return nil, err
	}

	return conn, nil
}

func (cp *ConnectionPool) debugCounts(msg string) {
	if !cp.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}

	cp.log.WithFields(logrus.Fields{
		"free":  cp.free.Len(),
		"inUse": cp.inUse.Len(),
	}).Debug(msg)
}

// handleError passes err to the error handler, callers must not hold poolLock.
func (cp *ConnectionPool) handleError(err error) {
	if cp.errorHandler != nil {
		cp.errorHandler(err)
	}
}

func (cp *ConnectionPool) handleErrors(errs []error) {
	for _, err := range errs {
		cp.handleError(err)
	}
}
