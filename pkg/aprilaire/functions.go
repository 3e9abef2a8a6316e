package aprilaire

import "fmt"

// Function is the single-byte message kind carried by a frame. It doubles
// as the correlation key for request/response matching: the protocol has
// no separate correlation token.
type Function uint8

// Function identifiers defined by the automation interface.
const (
	FuncControl         Function = 0x20
	FuncScheduling      Function = 0x21
	FuncSensors         Function = 0x22
	FuncCapabilities    Function = 0x23
	FuncEquipmentStatus Function = 0x24
	FuncIAQStatus       Function = 0x25
	FuncSync            Function = 0x26
	FuncDeviceError     Function = 0x27
	FuncIdentification  Function = 0x28
	FuncMACAddress      Function = 0x29
	FuncNameLocation    Function = 0x2A
)

func (f Function) String() string {
	switch f {
	case FuncControl:
		return "control"
	case FuncScheduling:
		return "scheduling"
	case FuncSensors:
		return "sensors"
	case FuncCapabilities:
		return "capabilities"
	case FuncEquipmentStatus:
		return "equipment_status"
	case FuncIAQStatus:
		return "iaq_status"
	case FuncSync:
		return "sync"
	case FuncDeviceError:
		return "device_error"
	case FuncIdentification:
		return "identification"
	case FuncMACAddress:
		return "mac_address"
	case FuncNameLocation:
		return "name_location"
	default:
		return fmt.Sprintf("function(0x%02x)", uint8(f))
	}
}

// Payload is the decoded, function-typed representation of a frame's
// payload bytes.
//
// Values returns the parameter keys and values the payload contributes to
// the device state snapshot. Fields whose wire value means "unchanged" or
// "unavailable" are omitted.
type Payload interface {
	Function() Function
	Marshal() ([]byte, error)
	Values() map[string]any
}

// DecodePayload decodes payload bytes for the given function identifier.
//
// Unknown function identifiers are never an error: they decode to a
// RawData variant so the connection keeps working against firmware with
// additional undocumented functions. A known function with a malformed
// layout returns an error; the caller drops that single packet.
func DecodePayload(fn Function, data []byte) (Payload, error) {
	switch fn {
	case FuncControl:
		return UnmarshalControl(data)
	case FuncScheduling:
		return UnmarshalScheduleHold(data)
	case FuncSensors:
		return UnmarshalSensorReport(data)
	case FuncCapabilities:
		return UnmarshalCapabilities(data)
	case FuncEquipmentStatus:
		return UnmarshalEquipmentStatus(data)
	case FuncIAQStatus:
		return UnmarshalIAQStatus(data)
	case FuncSync:
		return UnmarshalSyncState(data)
	case FuncDeviceError:
		return UnmarshalDeviceError(data)
	case FuncIdentification:
		return UnmarshalIdentification(data)
	case FuncMACAddress:
		return UnmarshalMACAddress(data)
	case FuncNameLocation:
		return UnmarshalNameLocation(data)
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return &RawData{Fn: fn, Data: raw}, nil
	}
}

// RawData is the opaque variant for function identifiers outside the
// known set.
type RawData struct {
	Fn   Function
	Data []byte
}

func (r *RawData) Function() Function { return r.Fn }

func (r *RawData) Marshal() ([]byte, error) {
	if len(r.Data) > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}
	return r.Data, nil
}

func (r *RawData) Values() map[string]any {
	return map[string]any{
		fmt.Sprintf("raw_0x%02x", uint8(r.Fn)): append([]byte(nil), r.Data...),
	}
}
