package tcs

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net/url"
	"strings"

	cmap "github.com/orcaman/concurrent-map"
)

// Provider creates raw connections for a ConnectionPool.
type Provider interface {
	Connect(uri, username, password string) (driver.Conn, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(uri, username, password string) (driver.Conn, error)

// Connect calls f(uri, username, password).
func (f ProviderFunc) Connect(uri, username, password string) (driver.Conn, error) {
	return f(uri, username, password)
}

var providers = cmap.New()

// RegisterProvider makes a Provider available by name to every ConnectionPool in the process.
// Registered providers take precedence over database/sql drivers of the same name.
func RegisterProvider(name string, provider Provider) error {
	if name == "" || provider == nil {
		return wrapError(ErrDriverRegistrationFailed, errors.New("provider name and provider are required"))
	}

	if !providers.SetIfAbsent(name, provider) {
		return wrapError(ErrDriverRegistrationFailed, errors.New("provider "+name+" is already registered"))
	}

	return nil
}

// UnregisterProvider removes a Provider added with RegisterProvider.
func UnregisterProvider(name string) {
	providers.Remove(name)
}

// resolveProvider finds the Provider for the config's driver, registered providers first and
// database/sql drivers second.
func resolveProvider(config *PoolConfig) (Provider, error) {
	if config.Driver == "" {
		return nil, wrapError(ErrDriverRegistrationFailed, errors.New("driver can't be blank"))
	}

	if item, ok := providers.Get(config.Driver); ok {
		provider, ok := item.(Provider)
		if !ok {
			return nil, wrapError(ErrDriverRegistrationFailed, errors.New("invalid provider type registered for "+config.Driver))
		}
		return provider, nil
	}

	if !isSQLDriver(config.Driver) {
		return nil, wrapError(ErrDriverRegistrationFailed, errors.New("unknown driver "+config.Driver))
	}

	db, err := sql.Open(config.Driver, BuildDSN(config.URI, config.Username, config.Password))
	if err != nil {
		return nil, wrapError(ErrDriverRegistrationFailed, err)
	}
	sqlDriver := db.Driver()
	_ = db.Close()

	return &sqlDriverProvider{driver: sqlDriver}, nil
}

func isSQLDriver(name string) bool {
	for _, registered := range sql.Drivers() {
		if registered == name {
			return true
		}
	}

	return false
}

// sqlDriverProvider opens raw connections straight from a database/sql driver.
type sqlDriverProvider struct {
	driver driver.Driver
}

func (sdp *sqlDriverProvider) Connect(uri, username, password string) (driver.Conn, error) {
	dsn := BuildDSN(uri, username, password)

	if driverCtx, ok := sdp.driver.(driver.DriverContext); ok {
		connector, err := driverCtx.OpenConnector(dsn)
		if err != nil {
			return nil, err
		}

		return connector.Connect(context.Background())
	}

	return sdp.driver.Open(dsn)
}

// BuildDSN merges credentials into a data source name.
//
// URL style DSNs (postgres://host/db) get a userinfo section unless one is already present,
// keyword/value DSNs (host=db dbname=app) get user= and password= appended, and anything else
// is prefixed with user:password@ the way the MySQL driver expects.
func BuildDSN(uri, username, password string) string {
	if username == "" && password == "" {
		return uri
	}

	if strings.Contains(uri, "://") {
		parsed, err := url.Parse(uri)
		if err == nil {
			if parsed.User == nil {
				parsed.User = url.UserPassword(username, password)
			}
			return parsed.String()
		}
	}

	if strings.Contains(uri, "=") {
		dsn := strings.TrimSpace(uri)
		if username != "" {
			dsn += " user=" + quoteKeywordValue(username)
		}
		if password != "" {
			dsn += " password=" + quoteKeywordValue(password)
		}
		return strings.TrimSpace(dsn)
	}

	if password == "" {
		return username + "@" + uri
	}

	return username + ":" + password + "@" + uri
}

func quoteKeywordValue(value string) string {
	if value != "" && !strings.ContainsAny(value, ` '\`) {
		return value
	}

	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `'`, `\'`)

	return "'" + value + "'"
}
