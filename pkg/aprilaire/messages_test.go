package aprilaire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemperature_Decode(t *testing.T) {
	// Bits 5..0 whole degrees, bit 6 half-degree fraction, bit 7 sign.
	assert.Equal(t, 28.0, DecodeTemperature(28))
	assert.Equal(t, 0.0, DecodeTemperature(0))
	assert.Equal(t, -5.0, DecodeTemperature(0x85))   // 0x80 | 5
	assert.Equal(t, 20.5, DecodeTemperature(0x54))   // 0x40 | 20
	assert.Equal(t, -20.5, DecodeTemperature(0xD4))  // 0x80 | 0x40 | 20
	assert.Equal(t, 63.0, DecodeTemperature(0x3F))   // largest whole value
	assert.Equal(t, -63.5, DecodeTemperature(0xFF))
}

func TestTemperature_Encode(t *testing.T) {
	assert.Equal(t, uint8(22), EncodeTemperature(22))
	assert.Equal(t, uint8(0x85), EncodeTemperature(-5))
	assert.Equal(t, uint8(0x54), EncodeTemperature(20.5))
	assert.Equal(t, uint8(0xD4), EncodeTemperature(-20.5))
	assert.Equal(t, uint8(0), EncodeTemperature(0))
}

func TestTemperature_EncodeDecodeRoundTrip(t *testing.T) {
	for _, v := range []float64{-40, -20.5, -0.5, 0, 0.5, 18, 21.5, 35, 63.5} {
		assert.Equal(t, v, DecodeTemperature(EncodeTemperature(v)), "value %v", v)
	}
}

func TestDecodeHumidity(t *testing.T) {
	// Valid range is 1..99; anything else means no sensor reading.
	assert.Equal(t, uint8(0), DecodeHumidity(0))
	assert.Equal(t, uint8(1), DecodeHumidity(1))
	assert.Equal(t, uint8(50), DecodeHumidity(50))
	assert.Equal(t, uint8(99), DecodeHumidity(99))
	assert.Equal(t, uint8(0), DecodeHumidity(100))
	assert.Equal(t, uint8(0), DecodeHumidity(255))
}

func TestControlSettings_Marshal(t *testing.T) {
	cs := &ControlSettings{
		Mode:         ModeAuto,
		FanMode:      FanAuto,
		HeatSetpoint: 20,
		CoolSetpoint: 25,
	}

	data, err := cs.Marshal()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x02, 0x14, 0x19}, data)
}

func TestControlSettings_MarshalPartialWrite(t *testing.T) {
	// Zero fields mean "leave unchanged" and encode as zero bytes.
	cs := &ControlSettings{Mode: ModeHeat}

	data, err := cs.Marshal()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x00, 0x00, 0x00}, data)
}

func TestUnmarshalControl(t *testing.T) {
	cs, err := UnmarshalControl([]byte{0x05, 0x02, 0x14, 0x59})
	require.NoError(t, err)

	assert.Equal(t, ModeAuto, cs.Mode)
	assert.Equal(t, FanAuto, cs.FanMode)
	assert.Equal(t, 20.0, cs.HeatSetpoint)
	assert.Equal(t, 25.5, cs.CoolSetpoint) // 0x40 | 25

	_, err = UnmarshalControl([]byte{0x05, 0x02})
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestControlSettings_ValuesOmitsUnchanged(t *testing.T) {
	cs := &ControlSettings{Mode: ModeCool, CoolSetpoint: 24}

	values := cs.Values()
	assert.Equal(t, map[string]any{
		"mode":          ModeCool,
		"cool_setpoint": 24.0,
	}, values)
}

func TestUnmarshalSensorReport(t *testing.T) {
	// status, temp, status, temp, status, humidity, status, humidity
	data := []byte{0x00, 0x54, 0x00, 0x85, 0x00, 0x32, 0x02, 0xFF}

	sr, err := UnmarshalSensorReport(data)
	require.NoError(t, err)

	assert.Equal(t, 20.5, sr.IndoorTemperature)
	assert.Equal(t, -5.0, sr.OutdoorTemperature)
	assert.Equal(t, uint8(50), sr.IndoorHumidity)
	assert.Equal(t, uint8(2), sr.OutdoorHumidityStatus)
	// Out-of-range humidity reads as unavailable.
	assert.Equal(t, uint8(0), sr.OutdoorHumidity)

	_, err = UnmarshalSensorReport(data[:7])
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestUnmarshalCapabilities(t *testing.T) {
	caps, err := UnmarshalCapabilities([]byte{0x06, 0x01, 0x00, 0x01, 0x00})
	require.NoError(t, err)

	assert.Equal(t, uint8(6), caps.Modes)
	assert.True(t, caps.AirCleaningAvailable)
	assert.False(t, caps.VentilationAvailable)
	assert.True(t, caps.DehumidificationAvailable)
	assert.False(t, caps.HumidificationAvailable)
}

func TestUnmarshalEquipmentStatus(t *testing.T) {
	eq, err := UnmarshalEquipmentStatus([]byte{0x02, 0x00, 0x01, 0x03})
	require.NoError(t, err)

	assert.Equal(t, uint8(2), eq.Heating)
	assert.Equal(t, uint8(0), eq.Cooling)
	assert.True(t, eq.ProgressiveRecovery)
	assert.Equal(t, uint8(3), eq.Fan)
}

func TestUnmarshalIdentification(t *testing.T) {
	id, err := UnmarshalIdentification([]byte{0x02, 0x01, 0x05, 0x02, 0x01})
	require.NoError(t, err)

	assert.Equal(t, uint8(2), id.HardwareRevision)
	assert.Equal(t, uint8(1), id.FirmwareMajor)
	assert.Equal(t, uint8(5), id.FirmwareMinor)
	assert.Equal(t, "8810", id.ModelName())
}

func TestIdentification_ModelNameUnknown(t *testing.T) {
	id := &Identification{ModelNumber: 99}
	assert.Equal(t, "model 99", id.ModelName())
}

func TestMACAddress_String(t *testing.T) {
	mac, err := UnmarshalMACAddress([]byte{0xB4, 0x7F, 0x5E, 0x01, 0x02, 0x03})
	require.NoError(t, err)
	assert.Equal(t, "b4:7f:5e:01:02:03", mac.String())
}

func TestNameLocation_RoundTrip(t *testing.T) {
	nl := &NameLocation{Location: "02134", Name: "Hallway"}

	data, err := nl.Marshal()
	require.NoError(t, err)
	require.Len(t, data, 24)

	// NUL-padded fixed-width fields: 8 bytes location, 16 bytes name.
	assert.Equal(t, byte('0'), data[0])
	assert.Equal(t, byte(0), data[5])
	assert.Equal(t, byte('H'), data[8])

	decoded, err := UnmarshalNameLocation(data)
	require.NoError(t, err)
	assert.Equal(t, "02134", decoded.Location)
	assert.Equal(t, "Hallway", decoded.Name)
}

func TestNameLocation_TruncatesLongFields(t *testing.T) {
	nl := &NameLocation{
		Location: "0123456789",
		Name:     "a name much longer than sixteen bytes",
	}

	data, err := nl.Marshal()
	require.NoError(t, err)
	require.Len(t, data, 24)

	decoded, err := UnmarshalNameLocation(data)
	require.NoError(t, err)
	// Fields keep a terminating NUL, so at most width-1 characters survive.
	assert.Equal(t, "0123456", decoded.Location)
	assert.Equal(t, "a name much lon", decoded.Name)
}

func TestDecodePayload_KnownFunctions(t *testing.T) {
	p, err := DecodePayload(FuncSync, []byte{0x01})
	require.NoError(t, err)
	sync, ok := p.(*SyncState)
	require.True(t, ok)
	assert.True(t, sync.Synced)

	p, err = DecodePayload(FuncDeviceError, []byte{0x07})
	require.NoError(t, err)
	de, ok := p.(*DeviceError)
	require.True(t, ok)
	assert.Equal(t, uint8(7), de.Code)
}

func TestDecodePayload_MalformedKnownFunction(t *testing.T) {
	_, err := DecodePayload(FuncControl, []byte{0x05})
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestDecodePayload_UnknownFunction(t *testing.T) {
	// Unknown identifiers must not fail: newer firmware sends functions
	// outside the documented set.
	p, err := DecodePayload(Function(0x7F), []byte{0x01, 0x02, 0x03})
	require.NoError(t, err)

	raw, ok := p.(*RawData)
	require.True(t, ok)
	assert.Equal(t, Function(0x7F), raw.Function())
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, raw.Data)
	assert.Equal(t, map[string]any{"raw_0x7f": []byte{0x01, 0x02, 0x03}}, raw.Values())
}

func TestModeAndFanModeStrings(t *testing.T) {
	assert.Equal(t, "off", ModeOff.String())
	assert.Equal(t, "emergency_heat", ModeEmergencyHeat.String())
	assert.Equal(t, "mode(9)", Mode(9).String())
	assert.Equal(t, "circulate", FanCirculate.String())
	assert.Equal(t, "fan_mode(0)", FanMode(0).String())
}
