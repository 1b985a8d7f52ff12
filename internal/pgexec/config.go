package pgexec

import (
	"fmt"
	"time"
)

const (
	defaultAdminDatabase  = "postgres"
	defaultPort           = 5432
	defaultQueryTimeout   = 30 * time.Second
	defaultMaxRows        = 1000
	defaultConnectTimeout = 10 * time.Second
)

// Config is the process-wide execution configuration. It is constructed once
// at startup, validated, and shared read-only by every component; nothing
// mutates it after Validate returns.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string

	// AdminDatabase is the database used for catalog queries and
	// connectivity probes, never for caller statements.
	AdminDatabase string

	// ReadOnly restricts execution to statements the classifier accepts.
	ReadOnly bool

	// QueryTimeout is the wall-clock deadline for one statement. On expiry
	// the in-flight statement is cancelled on the server side.
	QueryTimeout time.Duration

	// MaxRows caps how many result rows are read off the wire.
	MaxRows int

	ConnectTimeout time.Duration
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}
	if c.AdminDatabase == "" {
		c.AdminDatabase = defaultAdminDatabase
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
	if c.QueryTimeout < 0 {
		return fmt.Errorf("query timeout must be positive, got %s", c.QueryTimeout)
	}
	if c.MaxRows == 0 {
		c.MaxRows = defaultMaxRows
	}
	if c.MaxRows < 0 {
		return fmt.Errorf("max rows must be positive, got %d", c.MaxRows)
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect timeout must be positive, got %s", c.ConnectTimeout)
	}
	return nil
}
