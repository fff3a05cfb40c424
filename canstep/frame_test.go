package canstep

import (
	"testing"

	"github.com/go-daq/canbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandFrame(t *testing.T) {
	frame := commandFrame(3, cmdPosition, encodeInt32(-2000))

	assert.Equal(t, uint32(0x043), frame.ID)
	assert.Equal(t, canbus.SFF, frame.Kind)
	require.Len(t, frame.Data, 5)
	assert.Equal(t, byte(cmdPosition), frame.Data[0])
	assert.Equal(t, int32(-2000), decodeInt32(frame.Data[1:5]))
}

func TestEncodeDecodeInt32(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 2000, -123456, 1 << 30} {
		assert.Equal(t, v, decodeInt32(encodeInt32(v)))
	}
}

func statusCANFrame(id uint8, data ...byte) canbus.Frame {
	return canbus.Frame{ID: dataIDBase | uint32(id), Data: data, Kind: canbus.SFF}
}

func TestDecodePositionFrame(t *testing.T) {
	payload := append([]byte{dataPosition}, encodeInt32(1500)...)
	payload = append(payload, 0x10, 0x00, 0x00) // velocity 16
	sf, err := decodeFrame(statusCANFrame(2, payload...))
	require.NoError(t, err)

	assert.Equal(t, uint8(2), sf.id)
	assert.Equal(t, int32(1500), sf.position)
	assert.Equal(t, int32(16), sf.velocity)
}

func TestDecodeNegativeVelocity(t *testing.T) {
	payload := append([]byte{dataPosition}, encodeInt32(0)...)
	payload = append(payload, 0xFF, 0xFF, 0xFF) // -1 in 24-bit two's complement
	sf, err := decodeFrame(statusCANFrame(1, payload...))
	require.NoError(t, err)
	assert.Equal(t, int32(-1), sf.velocity)
}

func TestDecodeDiagnosticsFrame(t *testing.T) {
	// temp 42, voltage 239 decivolts, error bit 0.
	sf, err := decodeFrame(statusCANFrame(1, dataDiagnostics, 42, 0xEF, 0x00, 0x01))
	require.NoError(t, err)

	assert.Equal(t, uint32(42), sf.temperature)
	assert.Equal(t, uint32(239), sf.voltage)
	assert.Equal(t, uint32(1), sf.hwError)
}

func TestDecodeCalibrationFrame(t *testing.T) {
	payload := append([]byte{dataCalibrationResult, calibResultOK}, encodeInt32(-1200)...)
	sf, err := decodeFrame(statusCANFrame(3, payload...))
	require.NoError(t, err)

	assert.Equal(t, byte(calibResultOK), sf.homing)
	assert.Equal(t, int32(-1200), sf.homingOffset)
}

func TestDecodeFirmwareFrame(t *testing.T) {
	sf, err := decodeFrame(statusCANFrame(1, dataFirmwareVersion, 1, 4, 2))
	require.NoError(t, err)
	assert.Equal(t, "1.4.2", sf.firmware)
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame canbus.Frame
	}{
		{"command id window", canbus.Frame{ID: cmdIDBase | 1, Data: []byte{dataPosition}}},
		{"empty", canbus.Frame{ID: dataIDBase | 1}},
		{"unknown subcommand", statusCANFrame(1, 0x7F)},
		{"short position", statusCANFrame(1, dataPosition, 1, 2)},
		{"short calibration", statusCANFrame(1, dataCalibrationResult, calibResultOK)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeFrame(tt.frame)
			assert.Error(t, err)
		})
	}
}
