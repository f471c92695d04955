package clickhouse

import "time"

// Option adjusts client settings before the connection pool is opened.
type Option func(*config)

type config struct {
	host     string
	port     int
	database string
	user     string
	password string

	useHTTP bool

	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration

	dialTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	maxExecTime  time.Duration

	asyncInsert  bool
	waitForAsync bool
}

func defaults() *config {
	return &config{
		port:         9000,
		maxOpen:      10,
		maxIdle:      5,
		maxLifetime:  5 * time.Minute,
		dialTimeout:  5 * time.Second,
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		maxExecTime:  60 * time.Second,
	}
}

// WithHost sets the server address. Required.
func WithHost(host string) Option {
	return func(c *config) { c.host = host }
}

// WithPort sets the server port.
func WithPort(port int) Option {
	return func(c *config) { c.port = port }
}

// WithDatabase selects the database.
func WithDatabase(name string) Option {
	return func(c *config) { c.database = name }
}

// WithCredentials sets the connection user and password.
func WithCredentials(user, password string) Option {
	return func(c *config) {
		c.user = user
		c.password = password
	}
}

// WithMaxConnections bounds the pool: open is the hard cap, idle the number
// of connections kept warm.
func WithMaxConnections(open, idle int) Option {
	return func(c *config) {
		c.maxOpen = open
		c.maxIdle = idle
	}
}

// WithHTTP switches from the native protocol to HTTP.
func WithHTTP(enabled bool) Option {
	return func(c *config) { c.useHTTP = enabled }
}

// WithTimeouts sets dial, read and write timeouts.
func WithTimeouts(dial, read, write time.Duration) Option {
	return func(c *config) {
		c.dialTimeout = dial
		c.readTimeout = read
		c.writeTimeout = write
	}
}

// WithAsyncInsert enables server-side insert buffering. When wait is set the
// server acknowledges only after the buffer is flushed to the table.
func WithAsyncInsert(enabled, wait bool) Option {
	return func(c *config) {
		c.asyncInsert = enabled
		c.waitForAsync = wait
	}
}

// WithMaxExecutionTime caps per-query execution time on the server.
func WithMaxExecutionTime(d time.Duration) Option {
	return func(c *config) { c.maxExecTime = d }
}
