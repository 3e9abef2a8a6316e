package aprilaire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// subscriberBuffer is the per-subscriber update queue depth. When a
// subscriber falls behind, the oldest queued update is dropped so
// delivery to other subscribers and the read loop never blocks.
const subscriberBuffer = 16

// Update is one state-change notification: the parameter keys whose
// values changed, never a full resend, matching the device's own
// change-of-state semantics.
type Update struct {
	Revision uint64
	Changed  map[string]any
}

// Subscription receives state-change notifications on C until Close is
// called or the client is closed.
type Subscription struct {
	C <-chan Update

	id int
	ch chan Update
	c  *Client
}

// Close cancels the subscription and closes C.
func (s *Subscription) Close() {
	s.c.subMu.Lock()
	defer s.c.subMu.Unlock()
	if _, ok := s.c.subs[s.id]; !ok {
		return
	}
	delete(s.c.subs, s.id)
	close(s.ch)
}

type requestResult struct {
	payload Payload
	err     error
}

// Client represents a connection to an Aprilaire thermostat.
//
// It multiplexes synchronous request/response exchanges with the
// asynchronous stream of unsolicited change-of-state packets the device
// pushes over the same socket. Replies are correlated to requests by
// function identifier: the protocol carries no other correlation token,
// so when several requests for the same function are in flight, all of
// their waiters are completed by the next inbound packet carrying that
// identifier (a reply always carries the full current state for its
// function, so one answer is valid for every earlier waiter).
type Client struct {
	host           string
	requestTimeout time.Duration
	logger         *slog.Logger

	mgr *connManager

	pendingMu sync.Mutex
	pending   map[Function][]chan requestResult

	subMu     sync.Mutex
	subs      map[int]*Subscription
	nextSubID int

	snapMu   sync.Mutex
	snapshot map[string]any
	revision uint64

	startOnce   sync.Once
	connectOnce sync.Once
	connectedCh chan struct{}
	closed      atomic.Bool
}

// NewClient creates a client for the thermostat at the given host. It
// does not connect; call Connect to start the connection lifecycle.
func NewClient(host string, opts ...ClientOption) (*Client, error) {
	if host == "" {
		return nil, errors.New("host is required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	c := &Client{
		host:           host,
		requestTimeout: cfg.requestTimeout,
		logger:         cfg.logger,
		pending:        make(map[Function][]chan requestResult),
		subs:           make(map[int]*Subscription),
		snapshot:       make(map[string]any),
		connectedCh:    make(chan struct{}),
	}
	c.mgr = newConnManager(host, cfg, c.handleFrame, c.handleState, c.handleDrop)

	return c, nil
}

// Connect starts the connection manager and waits for the first
// successful connection. If ctx expires first, an error is returned but
// the manager keeps retrying in the background until Close; a later
// successful connection is published via the snapshot and subscribers.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.startOnce.Do(c.mgr.start)

	select {
	case <-c.connectedCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for connection: %w", ctx.Err())
	}
}

// Close shuts down the client: the read loop stops, pending requests
// fail, the socket is released, and subscription channels are closed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mgr.close()
	c.failPending(ErrClientClosed)

	c.subMu.Lock()
	for id, s := range c.subs {
		delete(c.subs, id)
		close(s.ch)
	}
	c.subMu.Unlock()

	if c.logger != nil {
		c.logger.Debug("client closed", "host", c.host)
	}
	return nil
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	return c.mgr.currentState()
}

// Subscribe registers for state-change notifications. Delivery is
// ordered per subscriber in arrival order; a slow subscriber loses its
// oldest queued updates rather than blocking others.
func (c *Client) Subscribe() *Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextSubID++
	ch := make(chan Update, subscriberBuffer)
	s := &Subscription{C: ch, ch: ch, id: c.nextSubID, c: c}
	c.subs[s.id] = s
	return s
}

// Snapshot returns a copy of the last-known device state and its
// revision counter. The revision increases monotonically with every
// accepted change.
func (c *Client) Snapshot() (map[string]any, uint64) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	out := make(map[string]any, len(c.snapshot))
	for k, v := range c.snapshot {
		out[k] = v
	}
	return out, c.revision
}

// Request sends a frame for the given function and waits for the reply
// packet carrying the same function identifier. An empty payload is a
// read poll; a non-empty payload is a write. Fails with
// ErrRequestTimeout, ErrConnectionLost or ErrClientClosed.
func (c *Client) Request(ctx context.Context, fn Function, payload []byte) (Payload, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	frame, err := EncodeFrame(fn, payload)
	if err != nil {
		return nil, err
	}

	ch := make(chan requestResult, 1)
	c.pendingMu.Lock()
	c.pending[fn] = append(c.pending[fn], ch)
	c.pendingMu.Unlock()

	if err := c.mgr.write(frame); err != nil {
		c.removeWaiter(fn, ch)
		return nil, err
	}
	if c.logger != nil {
		c.logger.Debug("request sent", "function", fn.String(), "payload_len", len(payload))
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.payload, nil
	case <-ctx.Done():
		c.removeWaiter(fn, ch)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			if c.logger != nil {
				c.logger.Warn("request timeout", "function", fn.String())
			}
			return nil, fmt.Errorf("%w: %s", ErrRequestTimeout, fn)
		}
		return nil, ctx.Err()
	}
}

// ReadControl requests the current mode, fan mode and setpoints.
func (c *Client) ReadControl(ctx context.Context) (*ControlSettings, error) {
	p, err := c.Request(ctx, FuncControl, nil)
	if err != nil {
		return nil, err
	}
	return assertPayload[*ControlSettings](p)
}

// ReadScheduling requests the current schedule hold state.
func (c *Client) ReadScheduling(ctx context.Context) (*ScheduleHold, error) {
	p, err := c.Request(ctx, FuncScheduling, nil)
	if err != nil {
		return nil, err
	}
	return assertPayload[*ScheduleHold](p)
}

// ReadSensors requests the controlling sensor values.
func (c *Client) ReadSensors(ctx context.Context) (*SensorReport, error) {
	p, err := c.Request(ctx, FuncSensors, nil)
	if err != nil {
		return nil, err
	}
	return assertPayload[*SensorReport](p)
}

// ReadCapabilities requests the thermostat's feature set.
func (c *Client) ReadCapabilities(ctx context.Context) (*Capabilities, error) {
	p, err := c.Request(ctx, FuncCapabilities, nil)
	if err != nil {
		return nil, err
	}
	return assertPayload[*Capabilities](p)
}

// ReadEquipmentStatus requests the HVAC equipment running state.
func (c *Client) ReadEquipmentStatus(ctx context.Context) (*EquipmentStatus, error) {
	p, err := c.Request(ctx, FuncEquipmentStatus, nil)
	if err != nil {
		return nil, err
	}
	return assertPayload[*EquipmentStatus](p)
}

// ReadIAQStatus requests the indoor air quality equipment state.
func (c *Client) ReadIAQStatus(ctx context.Context) (*IAQStatus, error) {
	p, err := c.Request(ctx, FuncIAQStatus, nil)
	if err != nil {
		return nil, err
	}
	return assertPayload[*IAQStatus](p)
}

// ReadIdentification requests hardware, firmware and model information.
func (c *Client) ReadIdentification(ctx context.Context) (*Identification, error) {
	p, err := c.Request(ctx, FuncIdentification, nil)
	if err != nil {
		return nil, err
	}
	return assertPayload[*Identification](p)
}

// ReadMACAddress requests the thermostat's MAC address.
func (c *Client) ReadMACAddress(ctx context.Context) (string, error) {
	p, err := c.Request(ctx, FuncMACAddress, nil)
	if err != nil {
		return "", err
	}
	mac, err := assertPayload[*MACAddress](p)
	if err != nil {
		return "", err
	}
	return mac.String(), nil
}

// ReadNameLocation requests the thermostat's configured name and
// location.
func (c *Client) ReadNameLocation(ctx context.Context) (*NameLocation, error) {
	p, err := c.Request(ctx, FuncNameLocation, nil)
	if err != nil {
		return nil, err
	}
	return assertPayload[*NameLocation](p)
}

// SetMode changes the thermostat mode. Other control fields are left
// unchanged.
func (c *Client) SetMode(ctx context.Context, mode Mode) error {
	return c.writeCommand(ctx, &ControlSettings{Mode: mode})
}

// SetFanMode changes the fan mode. Other control fields are left
// unchanged.
func (c *Client) SetFanMode(ctx context.Context, fanMode FanMode) error {
	return c.writeCommand(ctx, &ControlSettings{FanMode: fanMode})
}

// SetSetpoints changes the heat and/or cool setpoints; a zero setpoint
// is left unchanged.
func (c *Client) SetSetpoints(ctx context.Context, heat, cool float64) error {
	return c.writeCommand(ctx, &ControlSettings{HeatSetpoint: heat, CoolSetpoint: cool})
}

// SetHold changes the schedule hold state.
func (c *Client) SetHold(ctx context.Context, hold uint8) error {
	return c.writeCommand(ctx, &ScheduleHold{Hold: hold})
}

// Sync asks the device to push its full change-of-state set.
func (c *Client) Sync(ctx context.Context) error {
	return c.writeCommand(ctx, &SyncState{Synced: true})
}

// writeCommand sends a write and folds the device's resulting state
// into the snapshot.
func (c *Client) writeCommand(ctx context.Context, p Payload) error {
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	resp, err := c.Request(ctx, p.Function(), data)
	if err != nil {
		return err
	}
	c.merge(resp)
	return nil
}

// handleFrame is called from the read loop for every validated frame.
// A frame completing a pending request goes to its waiters; everything
// else is an unsolicited change-of-state notification.
func (c *Client) handleFrame(f *Frame) {
	payload, err := DecodePayload(f.Function, f.Payload)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("dropping malformed packet", "function", f.Function.String(), "error", err)
		}
		return
	}
	if c.logger != nil {
		c.logger.Debug("packet received", "function", f.Function.String(), "payload_len", len(f.Payload))
	}

	c.pendingMu.Lock()
	waiters := c.pending[f.Function]
	delete(c.pending, f.Function)
	c.pendingMu.Unlock()

	if len(waiters) > 0 {
		for _, ch := range waiters {
			ch <- requestResult{payload: payload}
		}
		return
	}

	if de, ok := payload.(*DeviceError); ok && de.Code != 0 && c.logger != nil {
		c.logger.Error("thermostat reported error", "code", de.Code)
	}
	c.merge(payload)
}

// handleState publishes connection state into the snapshot and, on each
// (re)connect, refreshes the snapshot with the standard startup reads.
func (c *Client) handleState(st ConnState) {
	c.mergeValues(map[string]any{"connection_state": st.String()})

	if st == StateConnected && !c.closed.Load() {
		c.connectOnce.Do(func() { close(c.connectedCh) })
		go c.primeSnapshot()
	}
}

func (c *Client) handleDrop(err error) {
	c.failPending(err)
}

// primeSnapshot issues the startup read sequence after a connection is
// established so the snapshot converges without waiting for device
// pushes, then requests a sync so the device starts sending
// change-of-state packets.
func (c *Client) primeSnapshot() {
	reads := []Function{
		FuncIdentification,
		FuncMACAddress,
		FuncCapabilities,
		FuncControl,
		FuncSensors,
		FuncScheduling,
		FuncNameLocation,
	}
	for _, fn := range reads {
		if c.closed.Load() {
			return
		}
		p, err := c.Request(context.Background(), fn, nil)
		if err != nil {
			if c.logger != nil {
				c.logger.Debug("startup read failed", "function", fn.String(), "error", err)
			}
			continue
		}
		c.merge(p)
	}
	if !c.closed.Load() {
		if err := c.Sync(context.Background()); err != nil && c.logger != nil {
			c.logger.Debug("startup sync failed", "error", err)
		}
	}
}

// merge folds a payload's values into the snapshot and notifies
// subscribers with the changed subset only.
func (c *Client) merge(p Payload) {
	c.mergeValues(p.Values())
}

func (c *Client) mergeValues(values map[string]any) {
	if len(values) == 0 {
		return
	}

	c.snapMu.Lock()
	changed := make(map[string]any)
	for k, v := range values {
		if cur, ok := c.snapshot[k]; !ok || !valueEqual(cur, v) {
			c.snapshot[k] = v
			changed[k] = v
		}
	}
	if len(changed) == 0 {
		c.snapMu.Unlock()
		return
	}
	c.revision++
	rev := c.revision
	c.snapMu.Unlock()

	c.notify(Update{Revision: rev, Changed: changed})
}

func (c *Client) notify(u Update) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, s := range c.subs {
		select {
		case s.ch <- u:
		default:
			// Slow subscriber: drop its oldest queued update instead
			// of blocking the read loop or other subscribers.
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- u:
			default:
			}
		}
	}
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[Function][]chan requestResult)
	c.pendingMu.Unlock()

	for _, waiters := range pending {
		for _, ch := range waiters {
			ch <- requestResult{err: err}
		}
	}
}

func (c *Client) removeWaiter(fn Function, ch chan requestResult) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	waiters := c.pending[fn]
	for i, w := range waiters {
		if w == ch {
			c.pending[fn] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(c.pending[fn]) == 0 {
		delete(c.pending, fn)
	}
}

func assertPayload[T Payload](p Payload) (T, error) {
	typed, ok := p.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected payload type %T", p)
	}
	return typed, nil
}

func valueEqual(a, b any) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if aok || bok {
		return aok && bok && bytes.Equal(ab, bb)
	}
	return a == b
}
