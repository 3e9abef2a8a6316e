package aprilaire

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ConnState describes the connection lifecycle.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	errForcedReconnect = errors.New("periodic reconnect interval elapsed")
	errIdleTimeout     = errors.New("no bytes received within read timeout")
)

const (
	retryInitialDelay = time.Second
	retryMultiplier   = 2.0
	writeTimeout      = 10 * time.Second
	readChunkSize     = 4096
)

// connManager owns the socket. It runs the read loop, serializes writes,
// and drives the reconnect state machine: the thermostat tolerates a
// single automation connection and is known to silently wedge, so the
// manager reconnects on socket errors, on read idleness, and on a forced
// periodic timer, retrying with bounded backoff for as long as the
// client is open.
type connManager struct {
	host string
	port int

	connectTimeout    time.Duration
	readTimeout       time.Duration
	reconnectInterval time.Duration
	retryInterval     time.Duration

	logger *slog.Logger

	onFrame func(*Frame)
	onState func(ConnState)
	onDrop  func(error)

	mu   sync.Mutex // guards conn and serializes writes
	conn net.Conn

	state   atomic.Int32
	closeCh chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	rng     *rand.Rand
}

func newConnManager(host string, cfg *clientConfig,
	onFrame func(*Frame), onState func(ConnState), onDrop func(error)) *connManager {
	return &connManager{
		host:              host,
		port:              cfg.port,
		connectTimeout:    cfg.connectTimeout,
		readTimeout:       cfg.readTimeout,
		reconnectInterval: cfg.reconnectInterval,
		retryInterval:     cfg.retryInterval,
		logger:            cfg.logger,
		onFrame:           onFrame,
		onState:           onState,
		onDrop:            onDrop,
		closeCh:           make(chan struct{}),
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *connManager) start() {
	m.wg.Add(1)
	go m.run()
}

// close shuts the manager down and waits for the run loop to exit.
func (m *connManager) close() {
	m.once.Do(func() {
		close(m.closeCh)
		m.mu.Lock()
		if m.conn != nil {
			m.conn.Close()
		}
		m.mu.Unlock()
	})
	m.wg.Wait()
	m.setState(StateDisconnected)
}

func (m *connManager) currentState() ConnState {
	return ConnState(m.state.Load())
}

// run cycles Disconnected -> Connecting -> Connected -> Reconnecting
// indefinitely until close.
func (m *connManager) run() {
	defer m.wg.Done()

	attempt := 0
	for {
		if m.isClosed() {
			return
		}

		m.setState(StateConnecting)
		conn, err := m.dial()
		if err != nil {
			attempt++
			delay := m.backoffDelay(attempt)
			if m.logger != nil {
				m.logger.Error("failed to connect to thermostat",
					"host", m.host, "port", m.port, "attempt", attempt, "retry_in", delay, "error", err)
			}
			m.setState(StateDisconnected)
			if !m.sleep(delay) {
				return
			}
			continue
		}
		attempt = 0

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		m.setState(StateConnected)
		if m.logger != nil {
			m.logger.Debug("connected to thermostat", "addr", conn.RemoteAddr().String())
		}

		cause := m.readLoop(conn)

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		conn.Close()

		if m.isClosed() {
			return
		}

		if m.logger != nil {
			m.logger.Warn("connection dropped, reconnecting", "reason", cause)
		}
		m.setState(StateReconnecting)
		m.onDrop(fmt.Errorf("%w: %v", ErrConnectionLost, cause))
	}
}

func (m *connManager) dial() (net.Conn, error) {
	d := net.Dialer{Timeout: m.connectTimeout}
	return d.Dial("tcp", net.JoinHostPort(m.host, fmt.Sprintf("%d", m.port)))
}

// readLoop feeds socket bytes into the decoder and forwards complete
// frames until the connection fails, goes idle, or the forced reconnect
// deadline passes. Returns the cause of the exit.
func (m *connManager) readLoop(conn net.Conn) error {
	dec := &Decoder{}
	buf := make([]byte, readChunkSize)
	forcedAt := time.Now().Add(m.reconnectInterval)

	for {
		deadline := time.Now().Add(m.readTimeout)
		if forcedAt.Before(deadline) {
			deadline = forcedAt
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return err
		}

		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				frame, derr := dec.Next()
				if derr != nil {
					if m.logger != nil {
						m.logger.Warn("framing fault, resynchronizing", "error", derr)
					}
					continue
				}
				if frame == nil {
					break
				}
				m.onFrame(frame)
			}
		}

		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				if !time.Now().Before(forcedAt) {
					return errForcedReconnect
				}
				return errIdleTimeout
			}
			return err
		}
	}
}

// write sends one encoded frame. Writes are serialized: only one frame
// is in flight on the wire at a time.
func (m *connManager) write(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return fmt.Errorf("%w: not connected", ErrConnectionLost)
	}
	if err := m.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	if _, err := m.conn.Write(p); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// backoffDelay returns the capped exponential retry delay with jitter
// for attempt N (1-based).
func (m *connManager) backoffDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return retryInitialDelay
	}
	delay := float64(retryInitialDelay) * math.Pow(retryMultiplier, float64(attempt-1))
	if delay > float64(m.retryInterval) {
		delay = float64(m.retryInterval)
	}
	delay *= 0.5 + m.rng.Float64()
	return time.Duration(delay)
}

func (m *connManager) setState(s ConnState) {
	if ConnState(m.state.Swap(int32(s))) == s {
		return
	}
	if m.onState != nil {
		m.onState(s)
	}
}

func (m *connManager) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-m.closeCh:
		return false
	}
}

func (m *connManager) isClosed() bool {
	select {
	case <-m.closeCh:
		return true
	default:
		return false
	}
}
