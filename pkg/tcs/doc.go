// Package tcs provides a fixed size pool of database connections.
//
//	pool, err := tcs.NewConnectionPool(&tcs.PoolConfig{
//	    Driver:             "pgx",
//	    URI:                "postgres://localhost:5432/app",
//	    Username:           "app",
//	    Password:           "secret",
//	    MaxConnectionCount: 10,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Shutdown()
//
//	connHost, err := pool.GetConnection()
//	if err != nil {
//	    return err // ErrPoolExhausted when all connections are in use
//	}
//	defer pool.ReturnConnection(connHost)
//
// A ConnectionHost is a driver.Conn. Calling Close on it returns it to the pool, and once
// returned every operation on it fails with ErrConnectionClosed. Driver names are resolved
// against RegisterProvider first and database/sql drivers second.
package tcs
