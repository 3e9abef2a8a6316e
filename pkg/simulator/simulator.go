// Package simulator implements a thermostat peer speaking the Aprilaire
// automation wire protocol, for local development and integration
// testing. Like the real device it accepts exactly one connection at a
// time, answers read and write requests from its internal state, and
// pushes change-of-state packets.
package simulator

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/zberg/go-aprilaire/pkg/aprilaire"
)

// DefaultAddr is the default listen address.
const DefaultAddr = ":7001"

// DefaultCOSInterval is the default cadence for periodic status pushes.
const DefaultCOSInterval = 30 * time.Second

// Config holds the simulator configuration.
type Config struct {
	// Addr is the TCP listen address. Defaults to ":7001".
	Addr string

	// COSInterval is the period between unsolicited status pushes on an
	// established connection. Defaults to 30 seconds; negative disables
	// periodic pushes.
	COSInterval time.Duration

	// Logger receives debug logging. Nil disables logging.
	Logger *slog.Logger
}

// deviceState is the simulated thermostat state served to the peer.
type deviceState struct {
	control   aprilaire.ControlSettings
	hold      uint8
	sensors   aprilaire.SensorReport
	caps      aprilaire.Capabilities
	equipment aprilaire.EquipmentStatus
	iaq       aprilaire.IAQStatus
	synced    bool
	errCode   uint8
	ident     aprilaire.Identification
	mac       aprilaire.MACAddress
	nameLoc   aprilaire.NameLocation
}

func defaultState() deviceState {
	return deviceState{
		control: aprilaire.ControlSettings{
			Mode:         aprilaire.ModeAuto,
			FanMode:      aprilaire.FanAuto,
			HeatSetpoint: 20,
			CoolSetpoint: 25,
		},
		sensors: aprilaire.SensorReport{
			IndoorTemperature:  25,
			OutdoorTemperature: 25,
			IndoorHumidity:     50,
			OutdoorHumidity:    40,
		},
		caps: aprilaire.Capabilities{
			Modes:                     6,
			AirCleaningAvailable:      true,
			VentilationAvailable:      true,
			DehumidificationAvailable: true,
			HumidificationAvailable:   true,
		},
		iaq: aprilaire.IAQStatus{
			Dehumidification: 2,
			Humidification:   2,
			Ventilation:      2,
			AirCleaning:      2,
		},
		ident: aprilaire.Identification{
			HardwareRevision: 2,
			FirmwareMajor:    1,
			FirmwareMinor:    5,
			ProtocolRevision: 2,
			ModelNumber:      1,
		},
		mac:     aprilaire.MACAddress{Addr: [6]byte{1, 2, 3, 4, 5, 6}},
		nameLoc: aprilaire.NameLocation{Location: "02134", Name: "Mock"},
	}
}

// Server is the simulated thermostat.
type Server struct {
	cfg Config
	ln  net.Listener

	mu    sync.Mutex
	state deviceState

	connMu sync.Mutex
	conn   net.Conn

	wMu sync.Mutex // serializes frame writes

	closeCh chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// New creates a simulator with the given configuration.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.COSInterval == 0 {
		cfg.COSInterval = DefaultCOSInterval
	}
	return &Server{
		cfg:     cfg,
		state:   defaultState(),
		closeCh: make(chan struct{}),
	}
}

// Start binds the listen port and begins accepting connections.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	if s.cfg.Logger != nil {
		s.cfg.Logger.Info("simulator listening", "addr", ln.Addr().String())
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address, useful when started with
// port 0.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops the simulator and drops any active connection.
func (s *Server) Close() error {
	s.once.Do(func() {
		close(s.closeCh)
		if s.ln != nil {
			s.ln.Close()
		}
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.connMu.Unlock()
	})
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
				continue
			}
		}

		// The device tolerates a single automation connection: a new
		// connection displaces any existing one.
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.conn = conn
		s.connMu.Unlock()

		if s.cfg.Logger != nil {
			s.cfg.Logger.Debug("connection accepted", "remote", conn.RemoteAddr().String())
		}
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.connMu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.connMu.Unlock()
		conn.Close()
	}()

	done := make(chan struct{})
	defer close(done)
	if s.cfg.COSInterval > 0 {
		s.wg.Add(1)
		go s.cosLoop(done)
	}

	dec := &aprilaire.Decoder{}
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				frame, derr := dec.Next()
				if derr != nil {
					if s.cfg.Logger != nil {
						s.cfg.Logger.Warn("framing fault from peer", "error", derr)
					}
					continue
				}
				if frame == nil {
					break
				}
				s.handleFrame(frame)
			}
		}
		if err != nil {
			return
		}
	}
}

// cosLoop periodically re-sends the current status block. Unchanged
// values are deduplicated client-side; the traffic also keeps an idle
// connection alive.
func (s *Server) cosLoop(done <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.COSInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.pushStatus()
		case <-done:
			return
		case <-s.closeCh:
			return
		}
	}
}

func (s *Server) handleFrame(f *aprilaire.Frame) {
	reply, syncRequested := s.apply(f)
	if reply != nil {
		if err := s.send(reply); err != nil && s.cfg.Logger != nil {
			s.cfg.Logger.Warn("failed to write reply", "error", err)
		}
	}
	if syncRequested {
		s.pushStatus()
	}
}

// apply serves a read (empty payload) or applies a write and returns
// the reply payload. Unknown functions are echoed back as opaque data
// so the peer's correlation still completes.
func (s *Server) apply(f *aprilaire.Frame) (reply aprilaire.Payload, syncRequested bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	write := len(f.Payload) > 0

	switch f.Function {
	case aprilaire.FuncControl:
		if write {
			cs, err := aprilaire.UnmarshalControl(f.Payload)
			if err != nil {
				return &aprilaire.DeviceError{Code: 1}, false
			}
			// Zero fields mean "leave unchanged".
			if cs.Mode != 0 {
				s.state.control.Mode = cs.Mode
			}
			if cs.FanMode != 0 {
				s.state.control.FanMode = cs.FanMode
			}
			if cs.HeatSetpoint != 0 {
				s.state.control.HeatSetpoint = cs.HeatSetpoint
			}
			if cs.CoolSetpoint != 0 {
				s.state.control.CoolSetpoint = cs.CoolSetpoint
			}
		}
		cs := s.state.control
		return &cs, false
	case aprilaire.FuncScheduling:
		if write {
			sh, err := aprilaire.UnmarshalScheduleHold(f.Payload)
			if err != nil {
				return &aprilaire.DeviceError{Code: 1}, false
			}
			s.state.hold = sh.Hold
		}
		return &aprilaire.ScheduleHold{Hold: s.state.hold}, false
	case aprilaire.FuncSensors:
		sr := s.state.sensors
		return &sr, false
	case aprilaire.FuncCapabilities:
		caps := s.state.caps
		return &caps, false
	case aprilaire.FuncEquipmentStatus:
		eq := s.state.equipment
		return &eq, false
	case aprilaire.FuncIAQStatus:
		iaq := s.state.iaq
		return &iaq, false
	case aprilaire.FuncSync:
		if write {
			s.state.synced = true
		}
		return &aprilaire.SyncState{Synced: s.state.synced}, write
	case aprilaire.FuncDeviceError:
		return &aprilaire.DeviceError{Code: s.state.errCode}, false
	case aprilaire.FuncIdentification:
		id := s.state.ident
		return &id, false
	case aprilaire.FuncMACAddress:
		mac := s.state.mac
		return &mac, false
	case aprilaire.FuncNameLocation:
		nl := s.state.nameLoc
		return &nl, false
	default:
		return &aprilaire.RawData{Fn: f.Function, Data: append([]byte(nil), f.Payload...)}, false
	}
}

// pushStatus sends the full status block as change-of-state packets,
// as the device does after a sync request.
func (s *Server) pushStatus() {
	s.mu.Lock()
	control := s.state.control
	sensors := s.state.sensors
	caps := s.state.caps
	iaq := s.state.iaq
	hold := s.state.hold
	ident := s.state.ident
	s.mu.Unlock()

	for _, p := range []aprilaire.Payload{
		&control, &sensors, &caps, &iaq,
		&aprilaire.ScheduleHold{Hold: hold}, &ident,
	} {
		if err := s.send(p); err != nil {
			return
		}
	}
}

// PushCOS sends an unsolicited packet to the connected peer. It is the
// test hook for exercising change-of-state behavior.
func (s *Server) PushCOS(p aprilaire.Payload) error {
	return s.send(p)
}

func (s *Server) send(p aprilaire.Payload) error {
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	frame, err := aprilaire.EncodeFrame(p.Function(), data)
	if err != nil {
		return err
	}

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return errors.New("no peer connected")
	}

	s.wMu.Lock()
	defer s.wMu.Unlock()
	_, err = conn.Write(frame)
	return err
}

// SetIndoorTemperature updates the simulated indoor sensor and pushes
// the sensor report as a change-of-state packet.
func (s *Server) SetIndoorTemperature(v float64) {
	s.mu.Lock()
	s.state.sensors.IndoorTemperature = v
	sr := s.state.sensors
	s.mu.Unlock()
	_ = s.PushCOS(&sr)
}

// SetMode updates the simulated thermostat mode and pushes the control
// block as a change-of-state packet.
func (s *Server) SetMode(m aprilaire.Mode) {
	s.mu.Lock()
	s.state.control.Mode = m
	cs := s.state.control
	s.mu.Unlock()
	_ = s.PushCOS(&cs)
}

// ControlSettings returns the current simulated control block.
func (s *Server) ControlSettings() aprilaire.ControlSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.control
}
