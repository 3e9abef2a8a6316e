package aprilaire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Constants fixed by the Aprilaire home automation protocol
const (
	// StartMarker is the sentinel byte opening every frame.
	StartMarker = 0x01

	// MaxPayloadLen is the maximum allowed payload length for a frame.
	// The protocol uses uint16 for length (max 65535), but real messages
	// are small (the largest documented layout is under 30 bytes). This
	// limit protects against malformed length fields.
	MaxPayloadLen = 1024

	// headerLen is marker(1) + function(1) + length(2).
	headerLen = 4

	// trailerLen is the CRC byte appended after the payload.
	trailerLen = 1
)

var (
	ErrInvalidMarker   = errors.New("invalid start marker")
	ErrInvalidChecksum = errors.New("invalid checksum")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum length")
)

// Frame is one complete wire message: a function identifier and its
// undecoded payload bytes.
type Frame struct {
	Function Function
	Payload  []byte
}

// EncodeFrame serializes a frame: marker, function identifier, big-endian
// payload length, payload, CRC trailer. The CRC covers every byte after
// the start marker.
func EncodeFrame(fn Function, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	buf := make([]byte, headerLen+len(payload)+trailerLen)
	buf[0] = StartMarker
	buf[1] = byte(fn)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[headerLen:], payload)
	buf[len(buf)-1] = Checksum(buf[1 : headerLen+len(payload)])

	return buf, nil
}

// Checksum calculates the CRC-8 used by the thermostat
// (polynomial 0x31, init 0, no reflection).
func Checksum(data []byte) uint8 {
	var crc uint8
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Decoder reassembles frames from a TCP byte stream. The stream has no
// message boundaries, so bytes are accumulated via Feed and complete
// frames drained via Next.
type Decoder struct {
	buf       []byte
	discarded uint64
}

// Feed appends raw bytes read from the socket.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Discarded reports the total number of bytes dropped during
// resynchronization since the decoder was created.
func (d *Decoder) Discarded() uint64 {
	return d.discarded
}

// Next extracts the next complete frame from the buffer.
//
// It returns (nil, nil) when more bytes are needed. On a framing fault
// (bad marker, oversized length, checksum mismatch) it discards bytes up
// to the next plausible start marker and returns the fault; the caller
// should log it and call Next again. The stream is never treated as
// poisoned: resynchronization is best-effort because the protocol has no
// guaranteed recovery boundary.
func (d *Decoder) Next() (*Frame, error) {
	if len(d.buf) == 0 {
		return nil, nil
	}

	if d.buf[0] != StartMarker {
		bad := d.buf[0]
		n := d.resync(0)
		return nil, fmt.Errorf("%w: 0x%02x, discarded %d bytes", ErrInvalidMarker, bad, n)
	}

	if len(d.buf) < headerLen {
		return nil, nil
	}

	length := int(binary.BigEndian.Uint16(d.buf[2:4]))
	if length > MaxPayloadLen {
		n := d.resync(1)
		return nil, fmt.Errorf("%w: declared %d, discarded %d bytes", ErrPayloadTooLarge, length, n)
	}

	total := headerLen + length + trailerLen
	if len(d.buf) < total {
		return nil, nil
	}

	want := Checksum(d.buf[1 : headerLen+length])
	got := d.buf[total-1]
	if want != got {
		n := d.resync(1)
		return nil, fmt.Errorf("%w: expected 0x%02x, got 0x%02x, discarded %d bytes", ErrInvalidChecksum, want, got, n)
	}

	payload := make([]byte, length)
	copy(payload, d.buf[headerLen:headerLen+length])
	fn := Function(d.buf[1])
	d.buf = d.buf[total:]

	return &Frame{Function: fn, Payload: payload}, nil
}

// resync drops everything up to the next start marker, skipping the
// first `skip` bytes so a frame whose own marker was valid is not
// immediately re-matched. Returns the number of bytes discarded.
func (d *Decoder) resync(skip int) int {
	idx := bytes.IndexByte(d.buf[skip:], StartMarker)
	if idx < 0 {
		n := len(d.buf)
		d.buf = nil
		d.discarded += uint64(n)
		return n
	}
	n := skip + idx
	d.buf = d.buf[n:]
	d.discarded += uint64(n)
	return n
}
