package aprilaire

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrInvalidLength = errors.New("invalid payload length")

// Mode is the thermostat operating mode.
type Mode uint8

const (
	ModeOff           Mode = 1
	ModeHeat          Mode = 2
	ModeCool          Mode = 3
	ModeEmergencyHeat Mode = 4
	ModeAuto          Mode = 5
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeHeat:
		return "heat"
	case ModeCool:
		return "cool"
	case ModeEmergencyHeat:
		return "emergency_heat"
	case ModeAuto:
		return "auto"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// FanMode is the fan operating mode.
type FanMode uint8

const (
	FanOn        FanMode = 1
	FanAuto      FanMode = 2
	FanCirculate FanMode = 3
)

func (f FanMode) String() string {
	switch f {
	case FanOn:
		return "on"
	case FanAuto:
		return "auto"
	case FanCirculate:
		return "circulate"
	default:
		return fmt.Sprintf("fan_mode(%d)", uint8(f))
	}
}

// Models maps known model numbers to model names. Additional models may
// be reported by newer firmware.
var Models = map[uint8]string{
	0:  "8476W",
	1:  "8810",
	2:  "8620W",
	3:  "8820",
	4:  "8910W",
	5:  "8830",
	6:  "8920W",
	7:  "8840",
	28: "6045M",
}

// EncodeTemperature encodes a Celsius temperature into the single-byte
// device representation: bits 5..0 whole degrees, bit 6 half-degree
// fraction, bit 7 sign.
func EncodeTemperature(temperature float64) uint8 {
	value := uint8(math.Floor(math.Abs(temperature))) & 0x3F
	if math.Mod(math.Abs(temperature), 1) >= 0.5 {
		value |= 0x40
	}
	if temperature < 0 {
		value |= 0x80
	}
	return value
}

// DecodeTemperature decodes the single-byte device temperature
// representation into Celsius.
func DecodeTemperature(raw uint8) float64 {
	value := float64(raw & 0x3F)
	if raw&0x40 != 0 {
		value += 0.5
	}
	if raw&0x80 != 0 {
		value = -value
	}
	return value
}

// DecodeHumidity decodes a humidity byte. Valid readings are 1..99;
// anything else means the sensor value is unavailable and decodes to 0.
func DecodeHumidity(raw uint8) uint8 {
	if raw < 1 || raw > 99 {
		return 0
	}
	return raw
}

// ControlSettings carries the thermostat mode, fan mode and setpoints.
// On writes, a zero field means "leave unchanged"; the device applies
// only the non-zero members. Decoded packets likewise omit zero fields
// from Values.
type ControlSettings struct {
	Mode         Mode
	FanMode      FanMode
	HeatSetpoint float64
	CoolSetpoint float64
}

func (c *ControlSettings) Function() Function { return FuncControl }

func (c *ControlSettings) Marshal() ([]byte, error) {
	return []byte{
		byte(c.Mode),
		byte(c.FanMode),
		EncodeTemperature(c.HeatSetpoint),
		EncodeTemperature(c.CoolSetpoint),
	}, nil
}

func UnmarshalControl(data []byte) (*ControlSettings, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: control needs 4 bytes, got %d", ErrInvalidLength, len(data))
	}
	return &ControlSettings{
		Mode:         Mode(data[0]),
		FanMode:      FanMode(data[1]),
		HeatSetpoint: DecodeTemperature(data[2]),
		CoolSetpoint: DecodeTemperature(data[3]),
	}, nil
}

func (c *ControlSettings) Values() map[string]any {
	values := make(map[string]any, 4)
	if c.Mode != 0 {
		values["mode"] = c.Mode
	}
	if c.FanMode != 0 {
		values["fan_mode"] = c.FanMode
	}
	if c.HeatSetpoint != 0 {
		values["heat_setpoint"] = c.HeatSetpoint
	}
	if c.CoolSetpoint != 0 {
		values["cool_setpoint"] = c.CoolSetpoint
	}
	return values
}

// ScheduleHold reports or sets the schedule hold state.
type ScheduleHold struct {
	Hold uint8
}

func (s *ScheduleHold) Function() Function { return FuncScheduling }

func (s *ScheduleHold) Marshal() ([]byte, error) {
	return []byte{s.Hold}, nil
}

func UnmarshalScheduleHold(data []byte) (*ScheduleHold, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: scheduling needs 1 byte", ErrInvalidLength)
	}
	return &ScheduleHold{Hold: data[0]}, nil
}

func (s *ScheduleHold) Values() map[string]any {
	return map[string]any{"hold": s.Hold}
}

// SensorReport carries the controlling sensor statuses and values.
// A non-zero status marks the corresponding value as unreliable.
type SensorReport struct {
	IndoorTempStatus      uint8
	IndoorTemperature     float64
	OutdoorTempStatus     uint8
	OutdoorTemperature    float64
	IndoorHumidityStatus  uint8
	IndoorHumidity        uint8
	OutdoorHumidityStatus uint8
	OutdoorHumidity       uint8
}

func (s *SensorReport) Function() Function { return FuncSensors }

func (s *SensorReport) Marshal() ([]byte, error) {
	return []byte{
		s.IndoorTempStatus,
		EncodeTemperature(s.IndoorTemperature),
		s.OutdoorTempStatus,
		EncodeTemperature(s.OutdoorTemperature),
		s.IndoorHumidityStatus,
		s.IndoorHumidity,
		s.OutdoorHumidityStatus,
		s.OutdoorHumidity,
	}, nil
}

func UnmarshalSensorReport(data []byte) (*SensorReport, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: sensors needs 8 bytes, got %d", ErrInvalidLength, len(data))
	}
	return &SensorReport{
		IndoorTempStatus:      data[0],
		IndoorTemperature:     DecodeTemperature(data[1]),
		OutdoorTempStatus:     data[2],
		OutdoorTemperature:    DecodeTemperature(data[3]),
		IndoorHumidityStatus:  data[4],
		IndoorHumidity:        DecodeHumidity(data[5]),
		OutdoorHumidityStatus: data[6],
		OutdoorHumidity:       DecodeHumidity(data[7]),
	}, nil
}

func (s *SensorReport) Values() map[string]any {
	return map[string]any{
		"indoor_temperature_sensor_status":  s.IndoorTempStatus,
		"indoor_temperature":                s.IndoorTemperature,
		"outdoor_temperature_sensor_status": s.OutdoorTempStatus,
		"outdoor_temperature":               s.OutdoorTemperature,
		"indoor_humidity_sensor_status":     s.IndoorHumidityStatus,
		"indoor_humidity":                   s.IndoorHumidity,
		"outdoor_humidity_sensor_status":    s.OutdoorHumidityStatus,
		"outdoor_humidity":                  s.OutdoorHumidity,
	}
}

// Capabilities reports the feature set of the thermostat.
type Capabilities struct {
	Modes                     uint8
	AirCleaningAvailable      bool
	VentilationAvailable      bool
	DehumidificationAvailable bool
	HumidificationAvailable   bool
}

func (c *Capabilities) Function() Function { return FuncCapabilities }

func (c *Capabilities) Marshal() ([]byte, error) {
	return []byte{
		c.Modes,
		boolByte(c.AirCleaningAvailable),
		boolByte(c.VentilationAvailable),
		boolByte(c.DehumidificationAvailable),
		boolByte(c.HumidificationAvailable),
	}, nil
}

func UnmarshalCapabilities(data []byte) (*Capabilities, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("%w: capabilities needs 5 bytes, got %d", ErrInvalidLength, len(data))
	}
	return &Capabilities{
		Modes:                     data[0],
		AirCleaningAvailable:      data[1] != 0,
		VentilationAvailable:      data[2] != 0,
		DehumidificationAvailable: data[3] != 0,
		HumidificationAvailable:   data[4] != 0,
	}, nil
}

func (c *Capabilities) Values() map[string]any {
	return map[string]any{
		"thermostat_modes":           c.Modes,
		"air_cleaning_available":     c.AirCleaningAvailable,
		"ventilation_available":      c.VentilationAvailable,
		"dehumidification_available": c.DehumidificationAvailable,
		"humidification_available":   c.HumidificationAvailable,
	}
}

// EquipmentStatus reports the running state of the HVAC equipment.
type EquipmentStatus struct {
	Heating             uint8
	Cooling             uint8
	ProgressiveRecovery bool
	Fan                 uint8
}

func (e *EquipmentStatus) Function() Function { return FuncEquipmentStatus }

func (e *EquipmentStatus) Marshal() ([]byte, error) {
	return []byte{e.Heating, e.Cooling, boolByte(e.ProgressiveRecovery), e.Fan}, nil
}

func UnmarshalEquipmentStatus(data []byte) (*EquipmentStatus, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: equipment status needs 4 bytes, got %d", ErrInvalidLength, len(data))
	}
	return &EquipmentStatus{
		Heating:             data[0],
		Cooling:             data[1],
		ProgressiveRecovery: data[2] != 0,
		Fan:                 data[3],
	}, nil
}

func (e *EquipmentStatus) Values() map[string]any {
	return map[string]any{
		"heating_equipment_status": e.Heating,
		"cooling_equipment_status": e.Cooling,
		"progressive_recovery":     e.ProgressiveRecovery,
		"fan_status":               e.Fan,
	}
}

// IAQStatus reports the indoor air quality equipment states.
type IAQStatus struct {
	Dehumidification uint8
	Humidification   uint8
	Ventilation      uint8
	AirCleaning      uint8
}

func (s *IAQStatus) Function() Function { return FuncIAQStatus }

func (s *IAQStatus) Marshal() ([]byte, error) {
	return []byte{s.Dehumidification, s.Humidification, s.Ventilation, s.AirCleaning}, nil
}

func UnmarshalIAQStatus(data []byte) (*IAQStatus, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: iaq status needs 4 bytes, got %d", ErrInvalidLength, len(data))
	}
	return &IAQStatus{
		Dehumidification: data[0],
		Humidification:   data[1],
		Ventilation:      data[2],
		AirCleaning:      data[3],
	}, nil
}

func (s *IAQStatus) Values() map[string]any {
	return map[string]any{
		"dehumidification_status": s.Dehumidification,
		"humidification_status":   s.Humidification,
		"ventilation_status":      s.Ventilation,
		"air_cleaning_status":     s.AirCleaning,
	}
}

// SyncState reports or requests data synchronization.
type SyncState struct {
	Synced bool
}

func (s *SyncState) Function() Function { return FuncSync }

func (s *SyncState) Marshal() ([]byte, error) {
	return []byte{boolByte(s.Synced)}, nil
}

func UnmarshalSyncState(data []byte) (*SyncState, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: sync needs 1 byte", ErrInvalidLength)
	}
	return &SyncState{Synced: data[0] != 0}, nil
}

func (s *SyncState) Values() map[string]any {
	return map[string]any{"synced": s.Synced}
}

// DeviceError carries the thermostat's error code; 0 means no error.
type DeviceError struct {
	Code uint8
}

func (d *DeviceError) Function() Function { return FuncDeviceError }

func (d *DeviceError) Marshal() ([]byte, error) {
	return []byte{d.Code}, nil
}

func UnmarshalDeviceError(data []byte) (*DeviceError, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: device error needs 1 byte", ErrInvalidLength)
	}
	return &DeviceError{Code: data[0]}, nil
}

func (d *DeviceError) Values() map[string]any {
	return map[string]any{"error": d.Code}
}

// Identification reports hardware, firmware and model information.
type Identification struct {
	HardwareRevision uint8
	FirmwareMajor    uint8
	FirmwareMinor    uint8
	ProtocolRevision uint8
	ModelNumber      uint8
}

func (i *Identification) Function() Function { return FuncIdentification }

// ModelName returns the marketing name for the model number, or the raw
// number for models not yet in the table.
func (i *Identification) ModelName() string {
	if name, ok := Models[i.ModelNumber]; ok {
		return name
	}
	return fmt.Sprintf("model %d", i.ModelNumber)
}

func (i *Identification) Marshal() ([]byte, error) {
	return []byte{
		i.HardwareRevision,
		i.FirmwareMajor,
		i.FirmwareMinor,
		i.ProtocolRevision,
		i.ModelNumber,
	}, nil
}

func UnmarshalIdentification(data []byte) (*Identification, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("%w: identification needs 5 bytes, got %d", ErrInvalidLength, len(data))
	}
	return &Identification{
		HardwareRevision: data[0],
		FirmwareMajor:    data[1],
		FirmwareMinor:    data[2],
		ProtocolRevision: data[3],
		ModelNumber:      data[4],
	}, nil
}

func (i *Identification) Values() map[string]any {
	return map[string]any{
		"hardware_revision":       i.HardwareRevision,
		"firmware_major_revision": i.FirmwareMajor,
		"firmware_minor_revision": i.FirmwareMinor,
		"protocol_revision":       i.ProtocolRevision,
		"model_number":            i.ModelNumber,
	}
}

// MACAddress carries the thermostat's MAC address.
type MACAddress struct {
	Addr [6]byte
}

func (m *MACAddress) Function() Function { return FuncMACAddress }

func (m *MACAddress) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		m.Addr[0], m.Addr[1], m.Addr[2], m.Addr[3], m.Addr[4], m.Addr[5])
}

func (m *MACAddress) Marshal() ([]byte, error) {
	return m.Addr[:], nil
}

func UnmarshalMACAddress(data []byte) (*MACAddress, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("%w: mac address needs 6 bytes, got %d", ErrInvalidLength, len(data))
	}
	var m MACAddress
	copy(m.Addr[:], data[:6])
	return &m, nil
}

func (m *MACAddress) Values() map[string]any {
	return map[string]any{"mac_address": m.String()}
}

// Text field widths for the name/location message, NUL padding included.
const (
	locationFieldLen = 8
	nameFieldLen     = 16
)

// NameLocation carries the thermostat's configured location and name.
type NameLocation struct {
	Location string
	Name     string
}

func (n *NameLocation) Function() Function { return FuncNameLocation }

func (n *NameLocation) Marshal() ([]byte, error) {
	buf := make([]byte, locationFieldLen+nameFieldLen)
	copy(buf[:locationFieldLen-1], n.Location)
	copy(buf[locationFieldLen:locationFieldLen+nameFieldLen-1], n.Name)
	return buf, nil
}

func UnmarshalNameLocation(data []byte) (*NameLocation, error) {
	if len(data) < locationFieldLen+nameFieldLen {
		return nil, fmt.Errorf("%w: name/location needs %d bytes, got %d",
			ErrInvalidLength, locationFieldLen+nameFieldLen, len(data))
	}
	return &NameLocation{
		Location: decodeText(data[:locationFieldLen]),
		Name:     decodeText(data[locationFieldLen : locationFieldLen+nameFieldLen]),
	}, nil
}

func (n *NameLocation) Values() map[string]any {
	return map[string]any{
		"location": n.Location,
		"name":     n.Name,
	}
}

func decodeText(data []byte) string {
	if idx := bytes.IndexByte(data, 0); idx >= 0 {
		data = data[:idx]
	}
	return strings.TrimSpace(string(data))
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
