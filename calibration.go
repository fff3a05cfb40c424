package armbus

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// CalibrationState is the phase of the homing cycle.
type CalibrationState int

const (
	CalibIdle CalibrationState = iota
	CalibStarting
	CalibInProgress
	CalibUpdating
)

func (s CalibrationState) String() string {
	switch s {
	case CalibStarting:
		return "starting"
	case CalibInProgress:
		return "in progress"
	case CalibUpdating:
		return "updating"
	default:
		return "idle"
	}
}

// CalibrationMachine drives the homing sequence for the stepper population.
// It advances one state per control tick; UPDATING is terminal for a cycle
// and only an explicit reset returns the machine to IDLE, so a finished
// cycle can never wrap around into a new one by accident.
type CalibrationMachine struct {
	mu      sync.Mutex
	logger  logging.Logger
	manager *BusManager

	state     CalibrationState
	pending   map[uint8]bool
	startedAt time.Time
	timeout   time.Duration
}

// NewCalibrationMachine wires the machine to its bus manager.
func NewCalibrationMachine(manager *BusManager, timeout time.Duration, logger logging.Logger) *CalibrationMachine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CalibrationMachine{
		logger:  logger,
		manager: manager,
		timeout: timeout,
	}
}

// State returns the machine's current phase.
func (c *CalibrationMachine) State() CalibrationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// InProgress reports whether a homing cycle is running. The control loop
// suspends normal position reads and writes to steppers while this is true.
func (c *CalibrationMachine) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != CalibIdle
}

// StartCalibration begins a homing cycle. Valid from IDLE only; calling it
// again while a cycle runs is rejected.
func (c *CalibrationMachine) StartCalibration() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CalibIdle {
		return errors.Errorf("calibration already %s", c.state)
	}

	ids := c.manager.stepperIDs()
	if len(ids) == 0 {
		return errors.New("no stepper to calibrate")
	}

	c.pending = make(map[uint8]bool, len(ids))
	for _, id := range ids {
		c.pending[id] = true
	}
	c.manager.markCalibrationStarted(ids)

	if err := c.manager.startHoming(ids); err != nil {
		c.manager.markCalibrationFailed(ids, CalibrationFail)
		c.pending = nil
		return errors.Wrap(err, "failed to start homing")
	}

	c.state = CalibStarting
	c.startedAt = time.Now()
	c.logger.Infof("calibration started for steppers %v", ids)
	return nil
}

// Tick advances the machine by one control cycle: move the state forward,
// poll the homing result register of every pending stepper, and force-fail
// the cycle when the timeout elapses.
func (c *CalibrationMachine) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CalibIdle, CalibUpdating:
		return
	case CalibStarting:
		c.state = CalibInProgress
		return
	}

	// IN_PROGRESS: poll pending motors.
	for id := range c.pending {
		state, value, err := c.manager.pollHoming(id)
		if err != nil {
			c.logger.Debugf("homing poll failed for motor %d: %v", id, err)
			continue
		}
		switch state {
		case HomingOK:
			c.manager.applyCalibrationOffset(id, value)
			delete(c.pending, id)
			c.logger.Infof("motor %d homed with offset %d", id, value)
		case HomingFail:
			c.manager.markCalibrationFailed([]uint8{id}, CalibrationFail)
			delete(c.pending, id)
			c.logger.Warnf("motor %d homing failed", id)
		}
	}

	if len(c.pending) == 0 {
		c.finishLocked()
		return
	}

	if time.Since(c.startedAt) > c.timeout {
		timedOut := make([]uint8, 0, len(c.pending))
		for id := range c.pending {
			timedOut = append(timedOut, id)
		}
		c.manager.markCalibrationFailed(timedOut, CalibrationTimeout)
		c.pending = nil
		c.logger.Errorf("calibration timed out, motors %v never reported", timedOut)
		c.finishLocked()
	}
}

func (c *CalibrationMachine) finishLocked() {
	c.state = CalibUpdating
	if err := c.manager.persistCalibration(); err != nil {
		c.logger.Warnf("failed to persist calibration: %v", err)
	}
}

// ResetCalibration clears every calibration record and returns the machine
// to IDLE. Valid from any state.
func (c *CalibrationMachine) ResetCalibration() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.manager.resetCalibrationRecords()
	c.pending = nil
	c.state = CalibIdle
}

// Status aggregates the per-motor records into one cycle outcome: fail or
// timeout dominate, then in-progress, then ok once every stepper succeeded.
func (c *CalibrationMachine) Status() CalibrationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CalibStarting || c.state == CalibInProgress {
		return CalibrationInProgress
	}

	worst := CalibrationUninitialized
	allOK := true
	for _, state := range c.manager.GetMotorsStates() {
		if state.Identity.Type != HwStepper {
			continue
		}
		switch state.Calibration.Status {
		case CalibrationTimeout:
			return CalibrationTimeout
		case CalibrationFail:
			worst = CalibrationFail
			allOK = false
		case CalibrationOK:
		default:
			allOK = false
		}
	}
	if worst == CalibrationFail {
		return CalibrationFail
	}
	if allOK && (c.state == CalibUpdating || c.state == CalibIdle) {
		return CalibrationOK
	}
	return CalibrationUninitialized
}

// NeedCalibration reports whether any stepper still lacks a successful
// homing result. True after startup with no persisted offsets, and again
// after ResetCalibration.
func (c *CalibrationMachine) NeedCalibration() bool {
	for _, state := range c.manager.GetMotorsStates() {
		if state.Identity.Type != HwStepper {
			continue
		}
		if state.Calibration.Status != CalibrationOK {
			return true
		}
	}
	return false
}

// Result returns the homing offset discovered for one stepper.
func (c *CalibrationMachine) Result(id uint8) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.manager.HasMotor(id) {
		return 0, errors.Wrapf(ErrUnknownMotor, "id %d", id)
	}
	state := c.manager.GetMotorState(id)
	if state.Calibration.Status != CalibrationOK {
		return 0, errors.Errorf("motor %d calibration is %s", id, state.Calibration.Status)
	}
	return state.Calibration.Value, nil
}

// Bus-manager half of the calibration cycle. These run under the bus lock
// so record updates interleave cleanly with the periodic read cycle.

func (m *BusManager) stepperIDs() []uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uint8, len(m.ids[HwStepper]))
	copy(ids, m.ids[HwStepper])
	return ids
}

func (m *BusManager) startHoming(ids []uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stepper, ok := m.drivers[HwStepper].(StepperDriver)
	if !ok {
		return errors.Wrap(ErrNotSupported, "no stepper driver on this bus")
	}
	for _, id := range ids {
		if err := stepper.StartHoming(id); err != nil {
			return errors.Wrapf(err, "motor %d", id)
		}
	}
	return nil
}

func (m *BusManager) pollHoming(id uint8) (HomingState, int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stepper, ok := m.drivers[HwStepper].(StepperDriver)
	if !ok {
		return HomingFail, 0, errors.Wrap(ErrNotSupported, "no stepper driver on this bus")
	}
	return stepper.ReadHomingStatus(id)
}

func (m *BusManager) markCalibrationStarted(ids []uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if state, ok := m.states[id]; ok {
			state.Calibration = CalibrationRecord{Status: CalibrationInProgress}
		}
	}
}

func (m *BusManager) markCalibrationFailed(ids []uint8, status CalibrationStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if state, ok := m.states[id]; ok {
			state.Calibration = CalibrationRecord{Status: status}
		}
	}
}

// applyCalibrationOffset records a successful homing result and folds the
// discovered offset into the motor's zero so position conversions use it
// immediately.
func (m *BusManager) applyCalibrationOffset(id uint8, value int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[id]
	if !ok {
		return
	}
	state.Calibration = CalibrationRecord{Status: CalibrationOK, Value: value}
	state.Offset = value
}

func (m *BusManager) applyCalibrationOffsets(offsets map[uint8]int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, value := range offsets {
		state, ok := m.states[id]
		if !ok || state.Identity.Type != HwStepper {
			continue
		}
		state.Calibration = CalibrationRecord{Status: CalibrationOK, Value: value}
		state.Offset = value
	}
}

func (m *BusManager) resetCalibrationRecords() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, state := range m.states {
		if state.Identity.Type == HwStepper {
			state.Calibration = CalibrationRecord{}
			state.Offset = 0
		}
	}
}

// persistCalibration writes the offsets of every successfully homed stepper
// to the configured calibration file, if any.
func (m *BusManager) persistCalibration() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.calibrationFile == "" {
		return nil
	}

	offsets := make(map[uint8]int32)
	for id, state := range m.states {
		if state.Identity.Type == HwStepper && state.Calibration.Status == CalibrationOK {
			offsets[id] = state.Calibration.Value
		}
	}
	if len(offsets) == 0 {
		return nil
	}
	return SaveCalibrationFile(m.calibrationFile, offsets)
}
