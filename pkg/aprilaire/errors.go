package aprilaire

import "errors"

var (
	// ErrRequestTimeout is returned by request calls when no reply for
	// the function arrives in time. The caller decides whether to retry.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrConnectionLost fails in-flight requests when the socket drops
	// or a reconnect is forced. The client reconnects autonomously.
	ErrConnectionLost = errors.New("connection lost")

	// ErrClientClosed is returned for operations on a closed client.
	ErrClientClosed = errors.New("client is closed")
)
