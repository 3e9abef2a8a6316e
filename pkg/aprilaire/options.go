package aprilaire

import (
	"errors"
	"log/slog"
	"time"
)

// ClientOption configures a Client.
type ClientOption func(*clientConfig) error

// clientConfig holds the configuration for a Client.
type clientConfig struct {
	port              int
	connectTimeout    time.Duration
	requestTimeout    time.Duration
	readTimeout       time.Duration
	reconnectInterval time.Duration
	retryInterval     time.Duration
	logger            *slog.Logger
}

// defaultConfig returns the default client configuration.
func defaultConfig() *clientConfig {
	return &clientConfig{
		port:              7000,
		connectTimeout:    5 * time.Second,
		requestTimeout:    5 * time.Second,
		readTimeout:       90 * time.Second,
		reconnectInterval: time.Hour,
		retryInterval:     10 * time.Second,
		logger:            nil,
	}
}

// WithPort sets the TCP port to connect to.
// Default is 7000.
func WithPort(port int) ClientOption {
	return func(c *clientConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		c.port = port
		return nil
	}
}

// WithConnectTimeout sets the timeout for establishing a connection.
// Default is 5 seconds.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if d <= 0 {
			return errors.New("connect timeout must be positive")
		}
		c.connectTimeout = d
		return nil
	}
}

// WithRequestTimeout sets the timeout for waiting for a response.
// Default is 5 seconds.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		c.requestTimeout = d
		return nil
	}
}

// WithReadTimeout sets the idle threshold on the socket: if no bytes
// arrive for this long, the connection is assumed wedged and is
// re-established. Default is 90 seconds.
func WithReadTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if d <= 0 {
			return errors.New("read timeout must be positive")
		}
		c.readTimeout = d
		return nil
	}
}

// WithReconnectInterval sets the forced periodic reconnect interval.
// The thermostat tends to silently wedge on long-lived connections, so
// the client drops and re-establishes the socket at this interval even
// when the connection looks healthy. Default is 1 hour.
func WithReconnectInterval(d time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if d <= 0 {
			return errors.New("reconnect interval must be positive")
		}
		c.reconnectInterval = d
		return nil
	}
}

// WithRetryInterval caps the delay between connection attempts. Retries
// back off exponentially from 1 second up to this cap and never stop
// while the client is open. Default is 10 seconds.
func WithRetryInterval(d time.Duration) ClientOption {
	return func(c *clientConfig) error {
		if d <= 0 {
			return errors.New("retry interval must be positive")
		}
		c.retryInterval = d
		return nil
	}
}

// WithLogger sets a structured logger for debug and error logging.
// By default, no logging is performed.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) error {
		c.logger = logger
		return nil
	}
}
