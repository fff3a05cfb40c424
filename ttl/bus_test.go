package ttl

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"

	"armbus"
)

func testLogger() logging.Logger {
	return logging.NewLogger("ttl-test")
}

// fakePort releases one scripted response per write, so the pre-transmit
// drain cannot eat replies that belong to the next transaction.
type fakePort struct {
	mu       sync.Mutex
	script   [][]byte
	buf      []byte
	writes   [][]byte
	maxChunk int
}

func newFakePort(responses ...[]byte) *fakePort {
	return &fakePort{script: responses, maxChunk: 64}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := make([]byte, len(b))
	copy(w, b)
	p.writes = append(p.writes, w)

	if len(p.script) > 0 {
		p.buf = append(p.buf, p.script[0]...)
		p.script = p.script[1:]
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) == 0 {
		return 0, nil
	}
	n := len(p.buf)
	if n > p.maxChunk {
		n = p.maxChunk
	}
	if n > len(b) {
		n = len(b)
	}
	copy(b, p.buf[:n])
	p.buf = p.buf[n:]
	return n, nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error { return nil }
func (p *fakePort) Close() error                         { return nil }

func (p *fakePort) lastWrite() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.writes) == 0 {
		return nil
	}
	return p.writes[len(p.writes)-1]
}

// statusPacket frames a servo reply with a valid checksum.
func statusPacket(id uint8, errByte byte, params ...byte) []byte {
	pkt := []byte{pktHeader1, pktHeader2, id, byte(2 + len(params)), errByte}
	pkt = append(pkt, params...)
	pkt = append(pkt, checksum(pkt[2:]))
	return pkt
}

func TestChecksum(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		expected byte
	}{
		{"ping", []byte{0x01, 0x02, 0x01}, ^byte(0x01 + 0x02 + 0x01)},
		{"read", []byte{0x01, 0x04, 0x02, 0x38, 0x02}, ^byte(0x01 + 0x04 + 0x02 + 0x38 + 0x02)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, checksum(tt.payload))
		})
	}
}

func TestVerifyChecksum(t *testing.T) {
	tests := []struct {
		name     string
		packet   []byte
		expected bool
	}{
		{"valid", []byte{0xFF, 0xFF, 0x01, 0x02, 0x00, 0xFC}, true},
		{"bad checksum", []byte{0xFF, 0xFF, 0x01, 0x02, 0x00, 0x00}, false},
		{"too short", []byte{0xFF, 0xFF, 0x01}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, verifyChecksum(tt.packet))
		})
	}
}

func TestBuildPacketGolden(t *testing.T) {
	tests := []struct {
		name        string
		id          uint8
		instruction byte
		params      []byte
		expected    []byte
	}{
		{
			"ping id 1",
			1, instPing, nil,
			[]byte{0xFF, 0xFF, 0x01, 0x02, 0x01, 0xFB},
		},
		{
			"read position id 1",
			1, instRead, []byte{56, 2},
			[]byte{0xFF, 0xFF, 0x01, 0x04, 0x02, 0x38, 0x02, 0xBE},
		},
		{
			"broadcast sync write",
			broadcastID, instSyncWrite, []byte{42, 2, 1, 0x00, 0x02},
			[]byte{0xFF, 0xFF, 0xFE, 0x07, 0x83, 0x2A, 0x02, 0x01, 0x00, 0x02, 0x48},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt := buildPacket(tt.id, tt.instruction, tt.params)
			assert.Equal(t, tt.expected, pkt)
			assert.True(t, verifyChecksum(pkt))
		})
	}
}

func TestEncodeDecodeLE(t *testing.T) {
	assert.Equal(t, []byte{0x34, 0x12}, encodeLE(0x1234, 2))
	assert.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, encodeLE(0x12345678, 4))
	assert.Equal(t, uint32(0x1234), decodeLE([]byte{0x34, 0x12}))
	assert.Equal(t, uint32(0x12345678), decodeLE([]byte{0x78, 0x56, 0x34, 0x12}))
}

func TestPing(t *testing.T) {
	port := newFakePort(statusPacket(1, 0))
	bus := NewBus(port, testLogger())

	require.NoError(t, bus.Ping(1))
	assert.Equal(t, []byte{0xFF, 0xFF, 0x01, 0x02, 0x01, 0xFB}, port.lastWrite())
}

func TestPingWrongResponder(t *testing.T) {
	port := newFakePort(statusPacket(2, 0))
	bus := NewBus(port, testLogger())

	err := bus.Ping(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, armbus.ErrRxCorrupt)
}

func TestPingNoResponse(t *testing.T) {
	port := newFakePort()
	bus := NewBus(port, testLogger())
	bus.timeout = 10 * time.Millisecond

	err := bus.Ping(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, armbus.ErrNoResponse)
}

func TestReadRegister(t *testing.T) {
	// Present position 0x0800 = 2048.
	port := newFakePort(statusPacket(1, 0, 0x00, 0x08))
	bus := NewBus(port, testLogger())

	value, err := bus.ReadRegister(1, 56, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(2048), value)
}

func TestReadRegisterSkipsGarbagePrefix(t *testing.T) {
	resp := append([]byte{0x00, 0x17}, statusPacket(1, 0, 0x2A)...)
	port := newFakePort(resp)
	bus := NewBus(port, testLogger())

	value, err := bus.ReadRegister(1, 63, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x2A), value)
}

func TestReadRegisterCorruptChecksum(t *testing.T) {
	bad := statusPacket(1, 0, 0x2A)
	bad[len(bad)-1] ^= 0xFF
	port := newFakePort(bad)
	bus := NewBus(port, testLogger())

	_, err := bus.ReadRegister(1, 63, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, armbus.ErrRxCorrupt)
}

func TestWriteRegister(t *testing.T) {
	port := newFakePort(statusPacket(1, 0))
	bus := NewBus(port, testLogger())

	require.NoError(t, bus.WriteRegister(1, 42, 2, 512))

	expected := buildPacket(1, instWrite, []byte{42, 0x00, 0x02})
	assert.Equal(t, expected, port.lastWrite())
}

func TestSyncWriteBroadcastsWithoutReply(t *testing.T) {
	port := newFakePort()
	bus := NewBus(port, testLogger())

	require.NoError(t, bus.SyncWrite(42, 2, []uint8{1, 2}, []uint32{100, 200}))

	expected := buildPacket(broadcastID, instSyncWrite,
		[]byte{42, 2, 1, 100, 0, 2, 200, 0})
	assert.Equal(t, expected, port.lastWrite())
}

func TestSyncWriteLengthMismatch(t *testing.T) {
	bus := NewBus(newFakePort(), testLogger())
	assert.Error(t, bus.SyncWrite(42, 2, []uint8{1, 2}, []uint32{100}))
}

func TestSyncReadCollectsAllReplies(t *testing.T) {
	resp := append(statusPacket(1, 0, 100, 0), statusPacket(2, 0, 200, 0)...)
	port := newFakePort(resp)
	port.maxChunk = 8
	bus := NewBus(port, testLogger())

	values, err := bus.SyncRead(56, 2, []uint8{1, 2})
	require.NoError(t, err)
	assert.Equal(t, map[uint8]uint32{1: 100, 2: 200}, values)
}

func TestSyncReadPartialResponse(t *testing.T) {
	port := newFakePort(statusPacket(1, 0, 100, 0))
	port.maxChunk = 8
	bus := NewBus(port, testLogger())
	bus.timeout = 10 * time.Millisecond

	values, err := bus.SyncRead(56, 2, []uint8{1, 2})
	require.NoError(t, err)
	assert.Equal(t, map[uint8]uint32{1: 100}, values)
}

func TestScanCollectsResponders(t *testing.T) {
	resp := append(statusPacket(1, 0), statusPacket(4, 0)...)
	port := newFakePort(resp)
	port.maxChunk = 6
	bus := NewBus(port, testLogger())

	ids, err := bus.Scan()
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 4}, ids)

	// Broadcast ping went out.
	first := port.writes[0]
	assert.Equal(t, buildPacket(broadcastID, instPing, nil), first)
}

func TestSyncReadNoResponse(t *testing.T) {
	port := newFakePort()
	bus := NewBus(port, testLogger())
	bus.timeout = 10 * time.Millisecond

	_, err := bus.SyncRead(56, 2, []uint8{1, 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, armbus.ErrNoResponse)
}
