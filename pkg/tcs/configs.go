package tcs

import (
	"net/url"
	"strings"
)

const (
	// DefaultMaxConnectionCount is used when PoolConfig.MaxConnectionCount is left at zero.
	DefaultMaxConnectionCount = 10

	// DefaultApplicationName prefixes connection names when PoolConfig.ApplicationName is blank.
	DefaultApplicationName = "turbocookedsql"

	// DefaultLogLevel is used when PoolConfig.LogLevel is blank.
	DefaultLogLevel = "info"
)

// SQLSeasoning represents the configuration values.
type SQLSeasoning struct {
	PoolConfig *PoolConfig `json:"PoolConfig" yaml:"PoolConfig" toml:"PoolConfig"`
}

// PoolConfig represents settings for creating/configuring the ConnectionPool.
// The ConnectionPool keeps its own copy, changes after construction have no effect.
type PoolConfig struct {
	ApplicationName    string `json:"ApplicationName" yaml:"ApplicationName" toml:"ApplicationName"`
	Driver             string `json:"Driver" yaml:"Driver" toml:"Driver"` // Provider name or database/sql driver name
	URI                string `json:"URI" yaml:"URI" toml:"URI"`
	Username           string `json:"Username" yaml:"Username" toml:"Username"`
	Password           string `json:"Password" yaml:"Password" toml:"Password"`
	MaxConnectionCount uint64 `json:"MaxConnectionCount" yaml:"MaxConnectionCount" toml:"MaxConnectionCount"` // number of connections the pool may hold
	LazyLoad           bool   `json:"LazyLoad" yaml:"LazyLoad" toml:"LazyLoad"`                               // create connections on demand instead of up front
	LogLevel           string `json:"LogLevel" yaml:"LogLevel" toml:"LogLevel"`
}

// withDefaults returns a copy of the config with blank values filled in.
func (pc *PoolConfig) withDefaults() PoolConfig {
	config := *pc

	if config.MaxConnectionCount == 0 {
		config.MaxConnectionCount = DefaultMaxConnectionCount
	}

	if config.ApplicationName == "" {
		config.ApplicationName = DefaultApplicationName
	}

	if config.LogLevel == "" {
		config.LogLevel = DefaultLogLevel
	}

	return config
}

// String describes the config for logging with the password redacted.
func (pc *PoolConfig) String() string {
	password := ""
	if pc.Password != "" {
		password = "****"
	}

	uri := pc.URI
	if strings.Contains(uri, "://") {
		if parsed, err := url.Parse(uri); err == nil {
			uri = parsed.Redacted()
		}
	}

	return "|Driver:" + pc.Driver +
		"|URI:" + uri +
		"|Username:" + pc.Username +
		"|Password:" + password +
		"|MaxConnectionCount:" + formatUint(pc.MaxConnectionCount) +
		"|LazyLoad:" + formatBool(pc.LazyLoad) + "|"
}
