package simulator

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zberg/go-aprilaire/pkg/aprilaire"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	srv := New(Config{Addr: "127.0.0.1:0", COSInterval: -1})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Close() })
	return srv
}

func dialServer(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// exchange writes one frame and reads frames back until n arrived.
func exchange(t *testing.T, conn net.Conn, fn aprilaire.Function, payload []byte, n int) []*aprilaire.Frame {
	t.Helper()

	frame, err := aprilaire.EncodeFrame(fn, payload)
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	return readFrames(t, conn, n)
}

func readFrames(t *testing.T, conn net.Conn, n int) []*aprilaire.Frame {
	t.Helper()

	dec := &aprilaire.Decoder{}
	buf := make([]byte, 4096)
	var frames []*aprilaire.Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for len(frames) < n {
		read, err := conn.Read(buf)
		require.NoError(t, err)
		dec.Feed(buf[:read])
		for {
			f, err := dec.Next()
			require.NoError(t, err)
			if f == nil {
				break
			}
			frames = append(frames, f)
		}
	}
	return frames
}

func TestServer_ReadPoll(t *testing.T) {
	srv := startServer(t)
	conn := dialServer(t, srv)

	// An empty payload is a read request.
	frames := exchange(t, conn, aprilaire.FuncControl, nil, 1)
	require.Equal(t, aprilaire.FuncControl, frames[0].Function)

	cs, err := aprilaire.UnmarshalControl(frames[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, aprilaire.ModeAuto, cs.Mode)
	assert.Equal(t, aprilaire.FanAuto, cs.FanMode)
	assert.Equal(t, 20.0, cs.HeatSetpoint)
	assert.Equal(t, 25.0, cs.CoolSetpoint)
}

func TestServer_WriteAppliesNonZeroFields(t *testing.T) {
	srv := startServer(t)
	conn := dialServer(t, srv)

	// Write only the mode; zero fields must stay untouched.
	frames := exchange(t, conn, aprilaire.FuncControl, []byte{0x02, 0x00, 0x00, 0x00}, 1)

	cs, err := aprilaire.UnmarshalControl(frames[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, aprilaire.ModeHeat, cs.Mode)
	assert.Equal(t, aprilaire.FanAuto, cs.FanMode)
	assert.Equal(t, 20.0, cs.HeatSetpoint)
	assert.Equal(t, 25.0, cs.CoolSetpoint)

	applied := srv.ControlSettings()
	assert.Equal(t, aprilaire.ModeHeat, applied.Mode)
}

func TestServer_SyncPushesStatus(t *testing.T) {
	srv := startServer(t)
	conn := dialServer(t, srv)

	// Sync reply plus the full status block.
	frames := exchange(t, conn, aprilaire.FuncSync, []byte{0x01}, 7)

	require.Equal(t, aprilaire.FuncSync, frames[0].Function)
	seen := make(map[aprilaire.Function]bool)
	for _, f := range frames[1:] {
		seen[f.Function] = true
	}
	assert.True(t, seen[aprilaire.FuncControl])
	assert.True(t, seen[aprilaire.FuncSensors])
	assert.True(t, seen[aprilaire.FuncCapabilities])
	assert.True(t, seen[aprilaire.FuncIAQStatus])
	assert.True(t, seen[aprilaire.FuncScheduling])
	assert.True(t, seen[aprilaire.FuncIdentification])
}

func TestServer_UnknownFunctionEchoed(t *testing.T) {
	srv := startServer(t)
	conn := dialServer(t, srv)

	frames := exchange(t, conn, aprilaire.Function(0x55), []byte{0xAA, 0xBB}, 1)

	assert.Equal(t, aprilaire.Function(0x55), frames[0].Function)
	assert.Equal(t, []byte{0xAA, 0xBB}, frames[0].Payload)
}

func TestServer_NewConnectionDisplacesOld(t *testing.T) {
	srv := startServer(t)
	first := dialServer(t, srv)

	// Prove the first connection works.
	exchange(t, first, aprilaire.FuncControl, nil, 1)

	second := dialServer(t, srv)

	// The newcomer is served...
	frames := exchange(t, second, aprilaire.FuncSensors, nil, 1)
	assert.Equal(t, aprilaire.FuncSensors, frames[0].Function)

	// ...and the displaced connection is closed by the server.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 64)
	_, err := first.Read(buf)
	assert.Error(t, err)
}

func TestServer_PushCOSWithoutPeer(t *testing.T) {
	srv := startServer(t)

	err := srv.PushCOS(&aprilaire.SyncState{Synced: true})
	assert.Error(t, err)
}

func TestServer_MalformedWriteAnswersError(t *testing.T) {
	srv := startServer(t)
	conn := dialServer(t, srv)

	// A control write shorter than the fixed layout.
	frames := exchange(t, conn, aprilaire.FuncControl, []byte{0x02}, 1)

	require.Equal(t, aprilaire.FuncDeviceError, frames[0].Function)
	de, err := aprilaire.UnmarshalDeviceError(frames[0].Payload)
	require.NoError(t, err)
	assert.NotEqual(t, uint8(0), de.Code)
}
