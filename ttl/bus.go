package ttl

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"armbus"
)

// Packet framing constants.
const (
	pktHeader1    = 0xFF
	pktHeader2    = 0xFF
	pktIDOffset   = 2
	pktLenOffset  = 3
	pktErrOffset  = 4
	pktParam0     = 5
	pktMinLen     = 6
	statusPktSize = 6
)

// Instructions.
const (
	instPing         = 0x01
	instRead         = 0x02
	instWrite        = 0x03
	instRegWrite     = 0x04
	instAction       = 0x05
	instFactoryReset = 0x06
	instReboot       = 0x08
	instSyncRead     = 0x82
	instSyncWrite    = 0x83
)

const (
	broadcastID = 0xFE
	maxServoID  = 0xFC
)

const (
	defaultTimeout = 100 * time.Millisecond
	minCmdGap      = 2 * time.Millisecond
	scanTimeout    = 20 * time.Millisecond
)

// Bus is the shared packet codec for every servo family on one serial
// port. It owns the port handle; family drivers call into it per
// transaction. The port mutex serializes transactions because the wire is
// half-duplex.
type Bus struct {
	mu      sync.Mutex
	port    Port
	timeout time.Duration
	logger  logging.Logger

	lastCmdTime time.Time
}

// NewBus wraps an open port.
func NewBus(port Port, logger logging.Logger) *Bus {
	b := &Bus{
		port:    port,
		timeout: defaultTimeout,
		logger:  logger,
	}
	b.drainPort()
	return b
}

// Close releases the port.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port.Close()
}

// Ping checks that one servo answers.
func (b *Bus) Ping(id uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.transmit(buildPacket(id, instPing, nil)); err != nil {
		return err
	}
	resp, err := b.readResponse(statusPktSize)
	if err != nil {
		return err
	}
	if resp[pktIDOffset] != id {
		return errors.Wrapf(armbus.ErrRxCorrupt, "ping answered by id %d, expected %d", resp[pktIDOffset], id)
	}
	return nil
}

// Scan broadcasts a ping and collects every id that answers before the
// scan window closes.
func (b *Bus) Scan() ([]uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.transmit(buildPacket(broadcastID, instPing, nil)); err != nil {
		return nil, err
	}

	var ids []uint8
	b.port.SetReadTimeout(scanTimeout)
	defer b.port.SetReadTimeout(b.timeout)

	for {
		resp, err := b.readResponseWithTimeout(statusPktSize, scanTimeout)
		if err != nil {
			break
		}
		ids = append(ids, resp[pktIDOffset])
	}
	return ids, nil
}

// Reboot power-cycles one servo's controller. No status packet follows, the
// servo is already restarting.
func (b *Bus) Reboot(id uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transmit(buildPacket(id, instReboot, nil))
}

// ReadRegister reads a 1, 2 or 4 byte register, little-endian.
func (b *Bus) ReadRegister(id uint8, addr byte, size int) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.transmit(buildPacket(id, instRead, []byte{addr, byte(size)})); err != nil {
		return 0, err
	}

	resp, err := b.readResponse(statusPktSize + size)
	if err != nil {
		return 0, err
	}
	if resp[pktIDOffset] != id {
		return 0, errors.Wrapf(armbus.ErrRxCorrupt, "read answered by id %d, expected %d", resp[pktIDOffset], id)
	}
	return decodeLE(resp[pktParam0 : pktParam0+size]), nil
}

// WriteRegister writes a 1, 2 or 4 byte register and waits for the status
// packet.
func (b *Bus) WriteRegister(id uint8, addr byte, size int, value uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	params := append([]byte{addr}, encodeLE(value, size)...)
	if err := b.transmit(buildPacket(id, instWrite, params)); err != nil {
		return err
	}

	resp, err := b.readResponse(statusPktSize)
	if err != nil {
		return err
	}
	if resp[pktIDOffset] != id {
		return errors.Wrapf(armbus.ErrRxCorrupt, "write answered by id %d, expected %d", resp[pktIDOffset], id)
	}
	return nil
}

// SyncRead reads the same register from many servos in one transaction.
// The returned map holds whichever servos answered; the caller compares
// its size against the id count to detect partial responses.
func (b *Bus) SyncRead(addr byte, size int, ids []uint8) (map[uint8]uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	params := append([]byte{addr, byte(size)}, ids...)
	if err := b.transmit(buildPacket(broadcastID, instSyncRead, params)); err != nil {
		return nil, err
	}

	values := make(map[uint8]uint32, len(ids))
	for range ids {
		resp, err := b.readResponse(statusPktSize + size)
		if err != nil {
			// Remaining servos stayed silent; report what we have.
			break
		}
		values[resp[pktIDOffset]] = decodeLE(resp[pktParam0 : pktParam0+size])
	}

	if len(values) == 0 {
		return nil, errors.Wrapf(armbus.ErrNoResponse, "sync read addr %d", addr)
	}
	return values, nil
}

// SyncWrite writes the same register on many servos in one broadcast
// transaction. No status packets follow a broadcast.
func (b *Bus) SyncWrite(addr byte, size int, ids []uint8, values []uint32) error {
	if len(ids) != len(values) {
		return errors.Errorf("sync write: %d ids but %d values", len(ids), len(values))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	params := []byte{addr, byte(size)}
	for i, id := range ids {
		params = append(params, id)
		params = append(params, encodeLE(values[i], size)...)
	}
	return b.transmit(buildPacket(broadcastID, instSyncWrite, params))
}

// buildPacket frames one instruction: header, id, length, instruction,
// params, complement checksum over everything after the header.
func buildPacket(id uint8, instruction byte, params []byte) []byte {
	packet := make([]byte, 0, pktMinLen+len(params))
	packet = append(packet, pktHeader1, pktHeader2, id, byte(2+len(params)), instruction)
	packet = append(packet, params...)
	packet = append(packet, checksum(packet[2:]))
	return packet
}

func checksum(payload []byte) byte {
	var sum byte
	for _, v := range payload {
		sum += v
	}
	return ^sum
}

func verifyChecksum(packet []byte) bool {
	if len(packet) < 4 {
		return false
	}
	return checksum(packet[2:len(packet)-1]) == packet[len(packet)-1]
}

func encodeLE(value uint32, size int) []byte {
	out := make([]byte, size)
	for i := 0; i < size; i++ {
		out[i] = byte(value >> (8 * i))
	}
	return out
}

func decodeLE(data []byte) uint32 {
	var value uint32
	for i, v := range data {
		value |= uint32(v) << (8 * i)
	}
	return value
}

// transmit flushes stale bytes and writes one packet, pacing commands so
// back-to-back transactions do not collide on the half-duplex wire.
func (b *Bus) transmit(packet []byte) error {
	elapsed := time.Since(b.lastCmdTime)
	if elapsed < minCmdGap {
		time.Sleep(minCmdGap - elapsed)
	}
	b.lastCmdTime = time.Now()

	b.drainPort()

	n, err := b.port.Write(packet)
	if err != nil {
		return errors.Wrap(armbus.ErrTxFail, err.Error())
	}
	if n != len(packet) {
		return errors.Wrapf(armbus.ErrTxFail, "wrote %d of %d bytes", n, len(packet))
	}
	return nil
}

// drainPort discards unread bytes left over from an interrupted
// transaction.
func (b *Bus) drainPort() {
	b.port.SetReadTimeout(time.Millisecond)
	buf := make([]byte, 256)
	for {
		n, err := b.port.Read(buf)
		if err != nil || n == 0 {
			break
		}
	}
	b.port.SetReadTimeout(b.timeout)
}

func (b *Bus) readResponse(expectedLen int) ([]byte, error) {
	return b.readResponseWithTimeout(expectedLen, b.timeout)
}

// readResponseWithTimeout accumulates bytes until a full packet with a
// valid header appears in the buffer, scanning past any garbage prefix.
func (b *Bus) readResponseWithTimeout(expectedLen int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, expectedLen*2)
	total := 0
	start := time.Now()

	for {
		if time.Since(start) > timeout {
			if total == 0 {
				return nil, errors.Wrapf(armbus.ErrNoResponse, "after %v", timeout)
			}
			return nil, errors.Wrapf(armbus.ErrRxTimeout, "got %d of %d bytes", total, expectedLen)
		}

		n, err := b.port.Read(buf[total:])
		if err != nil {
			return nil, errors.Wrap(armbus.ErrRxTimeout, err.Error())
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		total += n

		for i := 0; i+pktMinLen <= total; i++ {
			if buf[i] != pktHeader1 || buf[i+1] != pktHeader2 {
				continue
			}
			pktLen := int(buf[i+pktLenOffset]) + 4
			if i+pktLen > total {
				break
			}
			packet := make([]byte, pktLen)
			copy(packet, buf[i:i+pktLen])
			if !verifyChecksum(packet) {
				return nil, errors.Wrapf(armbus.ErrRxCorrupt, "bad checksum from id %d", packet[pktIDOffset])
			}
			return packet, nil
		}
	}
}
