// Package armbus manages the motor population of a robot arm bus: a
// registry of servo and stepper states, family drivers for each
// transport, a homing calibration machine and the control loop that
// ties them together.
package armbus

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

const (
	// Bounded-retry limits. Transient glitches are absorbed below these
	// ceilings; persistent failure is surfaced as a connection loss.
	maxScanAttempts = 50
	maxHwFailures   = 50
	maxWriteRetries = 50
	ledWriteRetries = 5

	timeToWaitIfBusy = 5 * time.Millisecond
)

// ErrScanMissing is returned by ScanAndCheck when the bus answered but some
// registered motors did not.
var ErrScanMissing = errors.New("scan is missing registered motors")

// BusManager owns the registry of motors attached to one physical bus and
// dispatches every read/write to the right family driver. All hardware
// access goes through a single bus-wide mutex because the underlying
// half-duplex transport cannot tolerate interleaved transactions.
type BusManager struct {
	mu      sync.Mutex
	logger  logging.Logger
	factory DriverFactory

	states  map[uint8]*MotorState
	ids     map[HardwareType][]uint8
	drivers map[HardwareType]Driver

	connectedIDs []uint8
	removedIDs   []uint8
	connected    bool
	debugMsg     string

	hwFailCounter uint32
	ledState      int

	calibrationFile string
}

// NewBusManager builds the registry from a validated config. Motors are
// registered one by one; a bad entry is skipped with a log, never fatal.
// Persisted calibration offsets are applied when a calibration file exists.
func NewBusManager(cfg *Config, factory DriverFactory, logger logging.Logger) (*BusManager, error) {
	if factory == nil {
		return nil, errors.New("driver factory is required")
	}

	m := &BusManager{
		logger:          logger,
		factory:         factory,
		states:          make(map[uint8]*MotorState),
		ids:             make(map[HardwareType][]uint8),
		drivers:         make(map[HardwareType]Driver),
		calibrationFile: cfg.CalibrationFile,
	}

	for _, mc := range cfg.Motors {
		if err := m.AddHardwareComponent(mc); err != nil {
			logger.Warnf("skipping motor %d: %v", mc.ID, err)
		}
	}
	if len(m.states) == 0 {
		return nil, errors.New("no motor could be registered")
	}

	if cfg.CalibrationFile != "" {
		offsets, err := LoadCalibrationFile(cfg.CalibrationFile)
		if err != nil {
			logger.Warnf("failed to load calibration file %s: %v", cfg.CalibrationFile, err)
		} else if offsets != nil {
			m.applyCalibrationOffsets(offsets)
			logger.Infof("loaded calibration offsets for %d motors from %s", len(offsets), cfg.CalibrationFile)
		}
	}

	return m, nil
}

// AddHardwareComponent registers a motor and lazily instantiates its family
// driver on first use.
func (m *BusManager) AddHardwareComponent(mc MotorConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	identity := mc.Identity()
	if identity.Type == HwUnknown {
		return errors.Errorf("unknown hardware type %q", mc.Type)
	}
	if _, exists := m.states[identity.ID]; exists {
		return errors.Errorf("motor id %d already registered", identity.ID)
	}

	if _, ok := m.drivers[identity.Type]; !ok {
		driver, err := m.factory(identity.Type)
		if err != nil {
			return errors.Wrapf(err, "failed to instantiate %s driver", identity.Type)
		}
		m.drivers[identity.Type] = driver
	}

	state := NewMotorState(identity)
	if mc.GearRatio != 0 {
		state.SetGearRatio(mc.GearRatio)
	}
	if mc.MicroSteps != 0 {
		state.SetMicroSteps(mc.MicroSteps)
	}
	if mc.Direction != 0 {
		state.SetDirection(mc.Direction)
	}

	m.states[identity.ID] = state
	m.ids[identity.Type] = append(m.ids[identity.Type], identity.ID)

	m.logger.Debugf("registered %s", identity)
	return nil
}

// RemoveHardwareComponent erases a motor from the registry. Removing an id
// that was never registered is a no-op.
func (m *BusManager) RemoveHardwareComponent(id uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[id]
	if ok {
		t := state.Identity.Type
		m.ids[t] = removeID(m.ids[t], id)
		if len(m.ids[t]) == 0 {
			delete(m.ids, t)
		}
		delete(m.states, id)
		m.logger.Debugf("removed motor id %d", id)
	}

	m.removedIDs = removeID(m.removedIDs, id)
}

func removeID(ids []uint8, id uint8) []uint8 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// familyTypes returns registered families in stable order.
func (m *BusManager) familyTypes() []HardwareType {
	types := make([]HardwareType, 0, len(m.drivers))
	for t := range m.drivers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ScanAndCheck broadcasts a discovery scan on every distinct transport,
// retrying while a bus is busy, then diffs the answering ids against the
// registry. Connection state flips to connected only when no registered
// motor is missing.
func (m *BusManager) ScanAndCheck() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = false
	m.connectedIDs = nil

	seen := make(map[uint8]bool)
	scanned := make(map[Driver]bool)
	var ids []uint8

	for _, t := range m.familyTypes() {
		driver := m.drivers[t]
		if driver == nil || scanned[driver] {
			continue
		}
		scanned[driver] = true

		var got []uint8
		err := ErrPortBusy
		for attempt := 0; attempt < maxScanAttempts && err != nil; attempt++ {
			got, err = driver.Scan()
			if err != nil {
				m.logger.Debugf("scan attempt %d on %s failed: %v", attempt, t, err)
				time.Sleep(timeToWaitIfBusy)
			}
		}
		if err != nil {
			m.debugMsg = "failed to scan motors, bus is too busy"
			m.logger.Warnf("scan on %s failed after %d attempts: %v", t, maxScanAttempts, err)
			return err
		}

		for _, id := range got {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if len(scanned) == 0 {
		return errors.New("no driver available for scan")
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	m.connectedIDs = ids
	m.checkRemovedMotors()

	if len(m.removedIDs) == 0 {
		m.connected = true
		m.debugMsg = ""
		m.readMissingFirmware()
		return nil
	}

	missing := make([]string, 0, len(m.removedIDs))
	for _, id := range m.removedIDs {
		missing = append(missing, fmt.Sprintf("%d", id))
	}
	m.debugMsg = fmt.Sprintf("motors %s do not seem to be connected", strings.Join(missing, " "))
	m.logger.Warn(m.debugMsg)
	return ErrScanMissing
}

// checkRemovedMotors diffs registered ids against the last scan result.
func (m *BusManager) checkRemovedMotors() {
	var missing []uint8
	for id := range m.states {
		found := false
		for _, scanned := range m.connectedIDs {
			if scanned == id {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, id)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	m.removedIDs = missing
}

// readMissingFirmware fetches firmware strings for motors that do not have
// one yet. Best-effort: a failed read is not counted against the bus.
func (m *BusManager) readMissingFirmware() {
	for id, state := range m.states {
		if state.Firmware != "" {
			continue
		}
		driver := m.drivers[state.Identity.Type]
		if driver == nil {
			continue
		}
		if fw, err := driver.ReadFirmwareVersion(id); err == nil {
			state.Firmware = fw
		}
	}
}

// Ping checks that a registered motor answers.
func (m *BusManager) Ping(id uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[id]
	if !ok {
		return errors.Wrapf(ErrUnknownMotor, "id %d", id)
	}
	return m.drivers[state.Identity.Type].Ping(id)
}

// ReadPositionsStatus sync-reads position and velocity for every family and
// scatters the results into the registry. A count mismatch or transport
// failure increments the rolling failure counter instead of mutating state;
// past the ceiling the bus is marked unhealthy and the counter resets.
func (m *BusManager) ReadPositionsStatus() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.states) == 0 {
		m.debugMsg = "no motor registered"
		return false
	}

	for _, t := range m.familyTypes() {
		driver := m.drivers[t]
		idList := m.ids[t]
		if driver == nil || len(idList) == 0 {
			continue
		}

		positions, err := driver.SyncReadPosition(idList)
		switch {
		case err != nil:
			m.hwFailCounter++
		case len(positions) != len(idList):
			m.logger.Error(countMismatch("position", t, len(idList), len(positions)))
			m.hwFailCounter++
		default:
			now := time.Now()
			for i, id := range idList {
				if state, ok := m.states[id]; ok {
					state.Position = int32(positions[i])
					state.LastReadTime = now
				}
			}
			m.hwFailCounter = 0
		}

		velocities, err := driver.SyncReadVelocity(idList)
		if err == nil && len(velocities) == len(idList) {
			for i, id := range idList {
				if state, ok := m.states[id]; ok {
					state.Velocity = int32(velocities[i])
				}
			}
		}
	}

	return m.checkFailCeiling()
}

// ReadHardwareStatus sync-reads temperature, voltage, load and hardware
// error flags for every family. Individual sync reads are allowed to fail
// (the bus can be busy); only the aggregated increment feeds the ceiling.
func (m *BusManager) ReadHardwareStatus() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.states) == 0 {
		m.debugMsg = "no motor registered"
		return false
	}

	var increment uint32

	for _, t := range m.familyTypes() {
		driver := m.drivers[t]
		idList := m.ids[t]
		if driver == nil || len(idList) == 0 {
			continue
		}

		temperatures, err := driver.SyncReadTemperature(idList)
		if err != nil {
			increment++
		} else if len(temperatures) != len(idList) {
			m.logger.Error(countMismatch("temperature", t, len(idList), len(temperatures)))
			increment++
		}

		voltages, err := driver.SyncReadVoltage(idList)
		if err != nil {
			increment++
		} else if len(voltages) != len(idList) {
			m.logger.Error(countMismatch("voltage", t, len(idList), len(voltages)))
			increment++
		}

		loads, err := driver.SyncReadLoad(idList)
		if err != nil {
			increment++
		} else if len(loads) != len(idList) {
			m.logger.Error(countMismatch("load", t, len(idList), len(loads)))
			increment++
		}

		hwErrors, err := driver.SyncReadHwError(idList)
		if err != nil {
			increment++
		} else if len(hwErrors) != len(idList) {
			m.logger.Error(countMismatch("hw error", t, len(idList), len(hwErrors)))
			increment++
		}

		for i, id := range idList {
			state, ok := m.states[id]
			if !ok {
				continue
			}
			if i < len(temperatures) {
				state.Temperature = int32(temperatures[i])
			}
			if i < len(voltages) {
				state.Voltage = float64(voltages[i]) / 10.0
			}
			if i < len(loads) {
				state.Load = int32(loads[i])
			}
			if i < len(hwErrors) {
				state.HardwareError = hwErrors[i]
				state.HardwareMsg = driver.InterpretErrorState(hwErrors[i])
			}
		}
	}

	if increment == 0 {
		m.hwFailCounter = 0
	} else {
		m.hwFailCounter += increment
	}

	return m.checkFailCeiling()
}

// checkFailCeiling flips the connection to unhealthy and resets the counter
// once too many consecutive read failures accumulate. Called under lock.
func (m *BusManager) checkFailCeiling() bool {
	if m.hwFailCounter > maxHwFailures {
		m.logger.Errorf("connection problem: too many failed reads on the bus")
		m.hwFailCounter = 0
		m.connected = false
		m.debugMsg = "connection problem with the motor bus"
		return false
	}
	return true
}

func countMismatch(what string, t HardwareType, asked, got int) error {
	return errors.Wrapf(ErrCountMismatch, "%s read for %s: asked %d ids, got %d values", what, t, asked, got)
}

// WriteSynchronizeCommand dispatches one sync write per family the command
// touches. On failure the whole remaining batch is retried with a short
// delay, dropping families that already succeeded; success requires every
// family to go through within the retry bound. The bus lock is held across
// the retry loop so the batch stays atomic with respect to the read cycle.
func (m *BusManager) WriteSynchronizeCommand(cmd *SyncCmd) error {
	if !cmd.IsValid() {
		return errors.Errorf("invalid synchronized command: %v", cmd)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pending := make(map[HardwareType]bool)
	for _, t := range cmd.Types() {
		if m.drivers[t] == nil {
			m.logger.Errorf("no driver for family %s, dropping it from sync command", t)
			continue
		}
		pending[t] = true
	}
	if len(pending) == 0 {
		return errors.Errorf("no registered family in sync command %v", cmd)
	}

	var unsupported []HardwareType
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		for _, t := range cmd.Types() {
			if !pending[t] {
				continue
			}
			err := m.syncWriteKind(m.drivers[t], cmd.Kind, cmd.MotorIDs(t), cmd.Params(t))
			if err == nil {
				delete(pending, t)
			} else if errors.Is(err, ErrNotSupported) {
				m.logger.Errorf("sync %s unsupported for family %s", cmd.Kind, t)
				unsupported = append(unsupported, t)
				delete(pending, t)
			} else {
				m.logger.Debugf("sync write %s failed for %s (attempt %d): %v", cmd.Kind, t, attempt, err)
			}
		}
		if len(pending) == 0 {
			if len(unsupported) > 0 {
				return errors.Wrapf(ErrNotSupported, "sync %s dropped families %v", cmd.Kind, unsupported)
			}
			return nil
		}
		time.Sleep(timeToWaitIfBusy)
	}

	m.debugMsg = "failed to write synchronized command"
	m.logger.Errorf("sync write %s exhausted retries", cmd.Kind)
	return ErrTxFail
}

func (m *BusManager) syncWriteKind(driver Driver, kind CmdKind, ids []uint8, params []uint32) error {
	switch kind {
	case CmdPosition:
		return driver.SyncWritePositionGoal(ids, params)
	case CmdVelocity:
		return driver.SyncWriteVelocityGoal(ids, params)
	case CmdEffort:
		return driver.SyncWriteTorqueGoal(ids, params)
	case CmdTorqueEnable:
		return driver.SyncWriteTorqueEnable(ids, params)
	case CmdLed:
		return driver.SyncWriteLed(ids, params)
	default:
		return errors.Wrapf(ErrNotSupported, "sync command kind %s", kind)
	}
}

// WriteSingleCommand dispatches a scalar command to its motor's family
// driver, retrying the whole operation until success or the bound is hit.
func (m *BusManager) WriteSingleCommand(cmd SingleCmd) error {
	if !cmd.IsValid() {
		return errors.Errorf("invalid single command: %v", cmd)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[cmd.ID]
	if !ok {
		return errors.Wrapf(ErrUnknownMotor, "id %d", cmd.ID)
	}
	driver := m.drivers[state.Identity.Type]

	var err error
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		err = m.singleWriteKind(driver, state, cmd)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotSupported) {
			return err
		}
		time.Sleep(timeToWaitIfBusy)
	}

	m.debugMsg = "failed to write a single command"
	m.logger.Warnf("failed to write %s to motor %d: %v", cmd.Kind, cmd.ID, err)
	return err
}

func (m *BusManager) singleWriteKind(driver Driver, state *MotorState, cmd SingleCmd) error {
	id := cmd.ID
	param := uint32(cmd.Param())

	switch cmd.Kind {
	case CmdPosition:
		return driver.WritePositionGoal(id, param)
	case CmdVelocity:
		return driver.WriteVelocityGoal(id, param)
	case CmdEffort:
		return driver.WriteTorqueGoal(id, param)
	case CmdTorqueEnable:
		return driver.WriteTorqueEnable(id, param)
	case CmdPing:
		return driver.Ping(id)
	case CmdPGain:
		return driver.WritePGain(id, param)
	case CmdIGain:
		return driver.WriteIGain(id, param)
	case CmdDGain:
		return driver.WriteDGain(id, param)
	case CmdFF1Gain:
		return driver.WriteFF1Gain(id, param)
	case CmdFF2Gain:
		return driver.WriteFF2Gain(id, param)
	case CmdLed:
		return driver.WriteLed(id, param)
	case CmdRelativeMove:
		stepper, ok := driver.(StepperDriver)
		if !ok {
			return errors.Wrapf(ErrNotSupported, "relative move on %s", state.Identity.Type)
		}
		return stepper.WriteRelativeMove(id, cmd.Params[0], uint32(cmd.Params[1]))
	case CmdMicroSteps:
		stepper, ok := driver.(StepperDriver)
		if !ok {
			return errors.Wrapf(ErrNotSupported, "micro steps on %s", state.Identity.Type)
		}
		if err := stepper.WriteMicroSteps(id, param); err != nil {
			return err
		}
		state.SetMicroSteps(float64(param))
		return nil
	case CmdMaxEffort:
		stepper, ok := driver.(StepperDriver)
		if !ok {
			return errors.Wrapf(ErrNotSupported, "max effort on %s", state.Identity.Type)
		}
		return stepper.WriteMaxEffort(id, param)
	default:
		return errors.Wrapf(ErrNotSupported, "single command kind %s", cmd.Kind)
	}
}

// ExecuteJointTrajectoryCmd fans one trajectory tick out as one sync write
// per family. No retry: the next tick supersedes this one anyway.
func (m *BusManager) ExecuteJointTrajectoryCmd(cmds []JointCmd) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.familyTypes() {
		var ids []uint8
		var params []uint32
		for _, c := range cmds {
			if state, ok := m.states[c.ID]; ok && state.Identity.Type == t {
				ids = append(ids, c.ID)
				params = append(params, c.Position)
			}
		}
		if len(ids) == 0 {
			continue
		}
		if err := m.drivers[t].SyncWritePositionGoal(ids, params); err != nil {
			m.logger.Warnf("failed to write trajectory positions for %s: %v", t, err)
			m.debugMsg = "failed to write trajectory positions"
		}
	}
}

// SetLeds sync-writes an LED value (0..7) to every motor of the TTL
// families, with a small retry budget.
func (m *BusManager) SetLeds(led int) error {
	if led < 0 || led > 7 {
		return errors.Errorf("led value %d out of range", led)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ledState = led
	wrote := false
	for _, t := range m.familyTypes() {
		if t.Bus() != BusTTL {
			continue
		}
		idList := m.ids[t]
		if len(idList) == 0 {
			continue
		}
		values := make([]uint32, len(idList))
		for i := range values {
			values[i] = uint32(led)
		}

		err := ErrTxFail
		for attempt := 0; attempt < ledWriteRetries && err != nil; attempt++ {
			time.Sleep(timeToWaitIfBusy)
			err = m.drivers[t].SyncWriteLed(idList, values)
		}
		if err != nil {
			m.logger.Warnf("failed to write LED for %s: %v", t, err)
			return err
		}
		wrote = true
	}

	if !wrote {
		return errors.New("no TTL motor to write LED to")
	}
	return nil
}

// LedState returns the last LED value written.
func (m *BusManager) LedState() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledState
}

// ChangeID rewrites a motor's bus address and updates the registry.
func (m *BusManager) ChangeID(oldID, newID uint8) error {
	if newID < 1 || newID > 253 {
		return errors.Errorf("new id %d out of range", newID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[oldID]
	if !ok {
		return errors.Wrapf(ErrUnknownMotor, "id %d", oldID)
	}
	if _, taken := m.states[newID]; taken {
		return errors.Errorf("id %d already registered", newID)
	}

	t := state.Identity.Type
	if err := m.drivers[t].ChangeID(oldID, newID); err != nil {
		return errors.Wrapf(err, "failed to change id %d to %d", oldID, newID)
	}

	delete(m.states, oldID)
	state.Identity.ID = newID
	m.states[newID] = state

	ids := m.ids[t]
	for i, v := range ids {
		if v == oldID {
			ids[i] = newID
		}
	}
	return nil
}

// RebootMotor power-cycles one motor's controller.
func (m *BusManager) RebootMotor(id uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[id]
	if !ok {
		return errors.Wrapf(ErrUnknownMotor, "id %d", id)
	}
	return m.drivers[state.Identity.Type].Reboot(id)
}

// RebootMotors reboots every registered motor, returning the last failure.
func (m *BusManager) RebootMotors() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var last error
	for id, state := range m.states {
		if err := m.drivers[state.Identity.Type].Reboot(id); err != nil {
			m.logger.Warnf("failed to reboot motor %d: %v", id, err)
			last = err
		}
	}
	return last
}

// WriteVelocityProfile sets a motor's velocity and acceleration profile.
func (m *BusManager) WriteVelocityProfile(id uint8, profile []uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[id]
	if !ok {
		return errors.Wrapf(ErrUnknownMotor, "id %d", id)
	}
	return m.drivers[state.Identity.Type].WriteVelocityProfile(id, profile)
}

// ReadVelocityProfile returns a motor's velocity and acceleration profile.
func (m *BusManager) ReadVelocityProfile(id uint8) ([]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMotor, "id %d", id)
	}
	return m.drivers[state.Identity.Type].ReadVelocityProfile(id)
}

// ReadMotorPID returns a motor's control gains in P, I, D, FF1, FF2 order.
func (m *BusManager) ReadMotorPID(id uint8) ([]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMotor, "id %d", id)
	}
	return m.drivers[state.Identity.Type].ReadMotorPID(id)
}

// SendCustomCommand writes a raw register value on one motor.
func (m *BusManager) SendCustomCommand(id uint8, addr uint16, value uint32, size int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[id]
	if !ok {
		return errors.Wrapf(ErrUnknownMotor, "id %d", id)
	}
	err := m.drivers[state.Identity.Type].WriteRegister(id, addr, size, value)
	time.Sleep(timeToWaitIfBusy)
	return err
}

// ReadCustomCommand reads a raw register value from one motor.
func (m *BusManager) ReadCustomCommand(id uint8, addr uint16, size int) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[id]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownMotor, "id %d", id)
	}
	value, err := m.drivers[state.Identity.Type].ReadRegister(id, addr, size)
	time.Sleep(timeToWaitIfBusy)
	return value, err
}

// GetMotorsStates returns snapshot copies of every registered motor state.
func (m *BusManager) GetMotorsStates() []MotorState {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make([]MotorState, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, *state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Identity.ID < states[j].Identity.ID })
	return states
}

// GetMotorState returns a snapshot of one motor's state. Looking up an id
// that was never registered is a programming error.
func (m *BusManager) GetMotorState(id uint8) MotorState {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[id]
	if !ok {
		panic(fmt.Sprintf("GetMotorState: unknown motor id %d", id))
	}
	return *state
}

// HasMotor reports whether an id is registered.
func (m *BusManager) HasMotor(id uint8) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.states[id]
	return ok
}

// NbMotors is the registry size.
func (m *BusManager) NbMotors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

// BusState is the connection snapshot read by health reporters.
type BusState struct {
	Connected bool
	MotorIDs  []uint8
	Error     string
}

// GetBusState returns the current connection snapshot. No bus I/O.
func (m *BusManager) GetBusState() BusState {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uint8, len(m.connectedIDs))
	copy(ids, m.connectedIDs)
	return BusState{
		Connected: m.connected,
		MotorIDs:  ids,
		Error:     m.debugMsg,
	}
}

// IsConnectionOk reports the current bus health flag.
func (m *BusManager) IsConnectionOk() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// RemovedMotorList returns the ids that failed to answer the last scan.
func (m *BusManager) RemovedMotorList() []uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uint8, len(m.removedIDs))
	copy(ids, m.removedIDs)
	return ids
}

// ErrorMessage returns the most recent human-readable bus error.
func (m *BusManager) ErrorMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debugMsg
}
