package canstep

import (
	"sort"
	"sync"
	"time"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"

	"armbus"
)

// staleAfter bounds how old a cached status may be before the motor counts
// as silent. Motors broadcast position every few milliseconds, so a stale
// cache means the motor dropped off the bus.
const staleAfter = 500 * time.Millisecond

// recvRetrySleep paces the receive loop after a transient socket error
// (interface bounce, ENOBUFS) before trying again.
const recvRetrySleep = 10 * time.Millisecond

// Socket is the CAN socket surface the driver needs, satisfied by
// *canbus.Socket and by scripted fakes in tests.
type Socket interface {
	Send(frame canbus.Frame) (int, error)
	Recv() (canbus.Frame, error)
	Close() error
}

// OpenSocket binds a raw CAN socket to the named interface (e.g. "can0").
func OpenSocket(iface string) (*canbus.Socket, error) {
	sock, err := canbus.New()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create CAN socket")
	}
	if err := sock.Bind(iface); err != nil {
		return nil, errors.Wrapf(err, "failed to bind CAN socket to %s", iface)
	}
	return sock, nil
}

type motorCache struct {
	position int32
	velocity int32

	temperature uint32
	voltage     uint32
	hwError     uint32

	homing       byte
	homingOffset int32
	homingSeen   bool

	firmware string
	lastSeen time.Time
}

// Driver implements the stepper family transport. Because CAN motors push
// their state unsolicited, reads are served from a cache kept fresh by a
// background receive goroutine; only writes touch the socket directly.
type Driver struct {
	logger logging.Logger
	sock   Socket

	mu    sync.Mutex
	cache map[uint8]*motorCache

	workers sync.WaitGroup
	closed  chan struct{}
}

// NewDriver starts the receive goroutine and returns the driver.
func NewDriver(sock Socket, logger logging.Logger) *Driver {
	d := &Driver{
		logger: logger,
		sock:   sock,
		cache:  make(map[uint8]*motorCache),
		closed: make(chan struct{}),
	}

	d.workers.Add(1)
	viamutils.ManagedGo(d.receiveLoop, d.workers.Done)
	return d
}

// NewFactory returns an armbus.DriverFactory serving the stepper family.
func NewFactory(driver *Driver) armbus.DriverFactory {
	return func(t armbus.HardwareType) (armbus.Driver, error) {
		if t != armbus.HwStepper {
			return nil, errors.Errorf("hardware type %s is not a CAN stepper", t)
		}
		return driver, nil
	}
}

// Close stops the receive goroutine by closing the socket under it.
func (d *Driver) Close() error {
	close(d.closed)
	err := d.sock.Close()
	d.workers.Wait()
	return err
}

func (d *Driver) receiveLoop() {
	for {
		frame, err := d.sock.Recv()
		if err != nil {
			select {
			case <-d.closed:
				return
			default:
			}
			d.logger.Debugf("CAN receive failed: %v", err)
			time.Sleep(recvRetrySleep)
			continue
		}

		sf, err := decodeFrame(frame)
		if err != nil {
			d.logger.Debugf("dropping CAN frame: %v", err)
			continue
		}
		d.updateCache(sf)
	}
}

func (d *Driver) updateCache(sf statusFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.cache[sf.id]
	if !ok {
		c = &motorCache{}
		d.cache[sf.id] = c
	}
	c.lastSeen = time.Now()

	switch sf.subcommand {
	case dataPosition:
		c.position = sf.position
		c.velocity = sf.velocity
	case dataDiagnostics:
		c.temperature = sf.temperature
		c.voltage = sf.voltage
		c.hwError = sf.hwError
	case dataCalibrationResult:
		c.homing = sf.homing
		c.homingOffset = sf.homingOffset
		c.homingSeen = true
	case dataFirmwareVersion:
		c.firmware = sf.firmware
	}
}

func (d *Driver) send(frame canbus.Frame) error {
	if _, err := d.sock.Send(frame); err != nil {
		return errors.Wrap(armbus.ErrTxFail, err.Error())
	}
	return nil
}

func (d *Driver) fresh(id uint8) (*motorCache, bool) {
	c, ok := d.cache[id]
	if !ok || time.Since(c.lastSeen) > staleAfter {
		return nil, false
	}
	return c, true
}

// Ping reports whether the motor broadcast anything recently.
func (d *Driver) Ping(id uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.fresh(id); !ok {
		return errors.Wrapf(armbus.ErrNoResponse, "motor %d silent", id)
	}
	return nil
}

// Scan lists every motor heard from within the staleness window.
func (d *Driver) Scan() ([]uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ids []uint8
	for id := range d.cache {
		if _, ok := d.fresh(id); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (d *Driver) Reboot(id uint8) error {
	return d.send(commandFrame(id, cmdReset, nil))
}

// ChangeID is set by hardware jumpers on these motors.
func (d *Driver) ChangeID(oldID, newID uint8) error {
	return errors.Wrap(armbus.ErrNotSupported, "stepper ids are set by jumpers")
}

func (d *Driver) ReadFirmwareVersion(id uint8) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.fresh(id)
	if !ok || c.firmware == "" {
		return "", errors.Wrapf(armbus.ErrNoResponse, "no firmware broadcast from motor %d", id)
	}
	return c.firmware, nil
}

func (d *Driver) ReadPosition(id uint8) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.fresh(id)
	if !ok {
		return 0, errors.Wrapf(armbus.ErrNoResponse, "motor %d silent", id)
	}
	return uint32(c.position), nil
}

func (d *Driver) WritePositionGoal(id uint8, pos uint32) error {
	return d.send(commandFrame(id, cmdPosition, encodeInt32(int32(pos))))
}

// WriteVelocityGoal is not a stepper operation; motion speed comes from the
// relative-move step delay.
func (d *Driver) WriteVelocityGoal(id uint8, vel uint32) error {
	return errors.Wrap(armbus.ErrNotSupported, "steppers have no velocity goal")
}

func (d *Driver) WriteTorqueGoal(id uint8, torque uint32) error {
	return d.send(commandFrame(id, cmdMaxEffort, encodeInt32(int32(torque))))
}

func (d *Driver) WriteTorqueEnable(id uint8, enable uint32) error {
	return d.send(commandFrame(id, cmdTorque, []byte{byte(enable)}))
}

func (d *Driver) WriteVelocityProfile(id uint8, profile []uint32) error {
	return errors.Wrap(armbus.ErrNotSupported, "steppers have no velocity profile")
}

func (d *Driver) ReadVelocityProfile(id uint8) ([]uint32, error) {
	return nil, errors.Wrap(armbus.ErrNotSupported, "steppers have no velocity profile")
}

func (d *Driver) ReadMotorPID(id uint8) ([]uint32, error) {
	return nil, errors.Wrap(armbus.ErrNotSupported, "steppers have no position PID")
}

func (d *Driver) WritePGain(id uint8, gain uint32) error {
	return errors.Wrap(armbus.ErrNotSupported, "steppers have no position PID")
}

func (d *Driver) WriteIGain(id uint8, gain uint32) error {
	return errors.Wrap(armbus.ErrNotSupported, "steppers have no position PID")
}

func (d *Driver) WriteDGain(id uint8, gain uint32) error {
	return errors.Wrap(armbus.ErrNotSupported, "steppers have no position PID")
}

func (d *Driver) WriteFF1Gain(id uint8, gain uint32) error {
	return errors.Wrap(armbus.ErrNotSupported, "steppers have no feed-forward gains")
}

func (d *Driver) WriteFF2Gain(id uint8, gain uint32) error {
	return errors.Wrap(armbus.ErrNotSupported, "steppers have no feed-forward gains")
}

func (d *Driver) WriteLed(id uint8, value uint32) error {
	return errors.Wrap(armbus.ErrNotSupported, "steppers have no LED")
}

// syncReadCache serves one field from the cache for every fresh motor.
// Silent motors are skipped, so the result may be shorter than ids.
func (d *Driver) syncReadCache(ids []uint8, field func(*motorCache) uint32) ([]uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	values := make([]uint32, 0, len(ids))
	for _, id := range ids {
		if c, ok := d.fresh(id); ok {
			values = append(values, field(c))
		}
	}
	if len(values) == 0 {
		return nil, errors.Wrap(armbus.ErrNoResponse, "no stepper broadcasting")
	}
	return values, nil
}

func (d *Driver) SyncReadPosition(ids []uint8) ([]uint32, error) {
	return d.syncReadCache(ids, func(c *motorCache) uint32 { return uint32(c.position) })
}

func (d *Driver) SyncReadVelocity(ids []uint8) ([]uint32, error) {
	return d.syncReadCache(ids, func(c *motorCache) uint32 { return uint32(c.velocity) })
}

// SyncReadLoad reports zero for every fresh motor; steppers carry no load
// sensor.
func (d *Driver) SyncReadLoad(ids []uint8) ([]uint32, error) {
	return d.syncReadCache(ids, func(c *motorCache) uint32 { return 0 })
}

func (d *Driver) SyncReadTemperature(ids []uint8) ([]uint32, error) {
	return d.syncReadCache(ids, func(c *motorCache) uint32 { return c.temperature })
}

func (d *Driver) SyncReadVoltage(ids []uint8) ([]uint32, error) {
	return d.syncReadCache(ids, func(c *motorCache) uint32 { return c.voltage })
}

func (d *Driver) SyncReadHwError(ids []uint8) ([]uint32, error) {
	return d.syncReadCache(ids, func(c *motorCache) uint32 { return c.hwError })
}

// syncWrite fans the value out frame by frame, then latches all targets at
// once with a synchronize frame so they start moving together.
func (d *Driver) syncWrite(ids []uint8, values []uint32, build func(uint8, uint32) canbus.Frame) error {
	if len(ids) != len(values) {
		return errors.Errorf("sync write: %d ids but %d values", len(ids), len(values))
	}
	for i, id := range ids {
		if err := d.send(build(id, values[i])); err != nil {
			return err
		}
	}
	for _, id := range ids {
		if err := d.send(commandFrame(id, cmdSynchronize, nil)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) SyncWritePositionGoal(ids []uint8, positions []uint32) error {
	return d.syncWrite(ids, positions, func(id uint8, v uint32) canbus.Frame {
		return commandFrame(id, cmdPosition, encodeInt32(int32(v)))
	})
}

func (d *Driver) SyncWriteVelocityGoal(ids []uint8, velocities []uint32) error {
	return errors.Wrap(armbus.ErrNotSupported, "steppers have no velocity goal")
}

func (d *Driver) SyncWriteTorqueGoal(ids []uint8, torques []uint32) error {
	return d.syncWrite(ids, torques, func(id uint8, v uint32) canbus.Frame {
		return commandFrame(id, cmdMaxEffort, encodeInt32(int32(v)))
	})
}

func (d *Driver) SyncWriteTorqueEnable(ids []uint8, values []uint32) error {
	return d.syncWrite(ids, values, func(id uint8, v uint32) canbus.Frame {
		return commandFrame(id, cmdTorque, []byte{byte(v)})
	})
}

func (d *Driver) SyncWriteLed(ids []uint8, values []uint32) error {
	return errors.Wrap(armbus.ErrNotSupported, "steppers have no LED")
}

// ReadRegister has no meaning on the frame-based CAN protocol.
func (d *Driver) ReadRegister(id uint8, addr uint16, size int) (uint32, error) {
	return 0, errors.Wrap(armbus.ErrNotSupported, "steppers have no register map")
}

func (d *Driver) WriteRegister(id uint8, addr uint16, size int, value uint32) error {
	return errors.Wrap(armbus.ErrNotSupported, "steppers have no register map")
}

// Stepper hardware-error bits carried in diagnostics frames.
var stepperErrorBits = []struct {
	mask  uint32
	label string
}{
	{1 << 0, "OverHeating"},
	{1 << 1, "Driver Fault"},
	{1 << 2, "Stall"},
	{1 << 7, "Disconnection"},
}

func (d *Driver) InterpretErrorState(raw uint32) string {
	out := ""
	for _, bit := range stepperErrorBits {
		if raw&bit.mask == 0 {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += bit.label
	}
	if out != "" {
		out += " Error"
	}
	return out
}

// StartHoming launches the homing sequence and clears any previous result
// so ReadHomingStatus reports in-progress until the motor answers.
func (d *Driver) StartHoming(id uint8) error {
	d.mu.Lock()
	if c, ok := d.cache[id]; ok {
		c.homingSeen = false
	}
	d.mu.Unlock()

	return d.send(commandFrame(id, cmdCalibrate, nil))
}

// ReadHomingStatus reports the last calibration-result broadcast. Before
// the motor answers, the state is in-progress.
func (d *Driver) ReadHomingStatus(id uint8) (armbus.HomingState, int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.fresh(id)
	if !ok {
		return armbus.HomingFail, 0, errors.Wrapf(armbus.ErrNoResponse, "motor %d silent", id)
	}
	if !c.homingSeen || c.homing == calibResultInProgress {
		return armbus.HomingInProgress, 0, nil
	}
	if c.homing == calibResultOK {
		return armbus.HomingOK, c.homingOffset, nil
	}
	return armbus.HomingFail, 0, nil
}

func (d *Driver) WriteMicroSteps(id uint8, microSteps uint32) error {
	return d.send(commandFrame(id, cmdMicroSteps, []byte{byte(microSteps)}))
}

func (d *Driver) WriteMaxEffort(id uint8, effort uint32) error {
	return d.send(commandFrame(id, cmdMaxEffort, encodeInt32(int32(effort))))
}

// WriteRelativeMove commands a signed step excursion with a per-step delay
// in microseconds.
func (d *Driver) WriteRelativeMove(id uint8, steps int32, delayUS uint32) error {
	payload := append(encodeInt32(steps), byte(delayUS), byte(delayUS>>8), byte(delayUS>>16))
	return d.send(commandFrame(id, cmdMoveRel, payload))
}

// WriteOffset tells the motor its new absolute position after homing.
func (d *Driver) WriteOffset(id uint8, offset int32) error {
	return d.send(commandFrame(id, cmdOffset, encodeInt32(offset)))
}
