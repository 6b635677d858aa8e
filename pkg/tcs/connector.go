package tcs

import (
	"context"
	"database/sql/driver"
)

// Connector lets database/sql run on top of the pool:
//
//	db := sql.OpenDB(pool.Connector())
//	db.SetMaxOpenConns(int(pool.Config.MaxConnectionCount))
//
// Connections database/sql closes are returned to the pool.
func (cp *ConnectionPool) Connector() driver.Connector {
	return &poolConnector{pool: cp}
}

type poolConnector struct {
	pool *ConnectionPool
}

func (pc *poolConnector) Connect(ctx context.Context) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return pc.pool.getSQLConnection()
}

func (pc *poolConnector) Driver() driver.Driver {
	return &poolDriver{pool: pc.pool}
}

type poolDriver struct {
	pool *ConnectionPool
}

// Open ignores name, the pool is already configured.
func (pd *poolDriver) Open(name string) (driver.Conn, error) {
	return pd.pool.getSQLConnection()
}

func (cp *ConnectionPool) getSQLConnection() (driver.Conn, error) {
	connHost, err := cp.GetConnection()
	if err != nil {
		return nil, err
	}

	return &sqlConnection{ConnectionHost: connHost}, nil
}

// sqlConnection is a ConnectionHost checked out by database/sql, which closes connections as
// its way of giving them back, so Close skips the bypass warning.
type sqlConnection struct {
	*ConnectionHost
}

func (sc *sqlConnection) Close() error {
	if !sc.closed.CompareAndSwap(false, true) {
		return ErrConnectionClosed
	}

	return sc.pool.ReturnConnection(sc.ConnectionHost)
}
