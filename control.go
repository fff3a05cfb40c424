package armbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"
)

const scanRetrySleep = 100 * time.Millisecond

// ControlLoop owns the background goroutine that paces bus traffic: read
// motor state every tick, flush queued commands at the write cadence, and
// fall back to scan-and-check whenever the bus goes unhealthy. External
// callers never touch the bus directly; they queue commands here and the
// loop serializes everything through the BusManager.
type ControlLoop struct {
	logger      logging.Logger
	manager     *BusManager
	calibration *CalibrationMachine

	readPeriod  time.Duration
	writePeriod time.Duration
	checkPeriod time.Duration

	mu         sync.Mutex
	trajectory []JointCmd // last-write-wins
	singles    []SingleCmd
	syncCmds   []*SyncCmd
	debugMode  bool

	// How long a motor report waits for an excursion to finish.
	reportSettle time.Duration

	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// NewControlLoop builds the loop from validated config frequencies (Hz).
func NewControlLoop(cfg *Config, manager *BusManager, calibration *CalibrationMachine, logger logging.Logger) *ControlLoop {
	return &ControlLoop{
		logger:       logger,
		manager:      manager,
		calibration:  calibration,
		readPeriod:   periodFromHz(cfg.ControlLoopFrequency, 100),
		writePeriod:  periodFromHz(cfg.WriteFrequency, 50),
		checkPeriod:  periodFromHz(cfg.CheckConnectionFrequency, 2),
		reportSettle: 2 * time.Second,
	}
}

func periodFromHz(hz, fallback float64) time.Duration {
	if hz <= 0 {
		hz = fallback
	}
	return time.Duration(float64(time.Second) / hz)
}

// Start launches the background loop. Idempotent start is not supported;
// call once, then Close.
func (l *ControlLoop) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.workers.Add(1)
	viamutils.ManagedGo(func() {
		l.run(ctx)
	}, l.workers.Done)
}

// Close stops the loop and waits for the goroutine to exit.
func (l *ControlLoop) Close() {
	if l.cancel != nil {
		l.cancel()
	}
	l.workers.Wait()
}

func (l *ControlLoop) run(ctx context.Context) {
	l.logger.Infof("control loop started: read %v, write %v, check %v", l.readPeriod, l.writePeriod, l.checkPeriod)

	var lastWrite, lastCheck time.Time
	for {
		if ctx.Err() != nil {
			return
		}

		if !l.manager.IsConnectionOk() {
			if !l.reconnect(ctx) {
				return
			}
			continue
		}

		l.calibration.Tick()

		// Reads are suspended during calibration so homing motion is not
		// disturbed by sync traffic.
		if !l.calibration.InProgress() {
			l.manager.ReadPositionsStatus()
			if time.Since(lastCheck) >= l.checkPeriod {
				l.manager.ReadHardwareStatus()
				lastCheck = time.Now()
			}
		}

		if time.Since(lastWrite) >= l.writePeriod {
			l.flushCommands()
			lastWrite = time.Now()
		}

		if !viamutils.SelectContextOrWait(ctx, l.readPeriod) {
			return
		}
	}
}

// reconnect loops on scan-and-check until the bus answers or the context is
// cancelled. Returns false only on cancellation.
func (l *ControlLoop) reconnect(ctx context.Context) bool {
	for {
		if err := l.manager.ScanAndCheck(); err == nil {
			l.logger.Infof("motor bus connection re-established")
			return true
		}
		if !viamutils.SelectContextOrWait(ctx, scanRetrySleep) {
			return false
		}
	}
}

// PushTrajectory replaces the pending trajectory tick. Last write wins: a
// stale tick that was never flushed is simply discarded.
func (l *ControlLoop) PushTrajectory(cmds []JointCmd) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trajectory = cmds
}

// PushSingleCmd appends an ad-hoc command to the FIFO queue.
func (l *ControlLoop) PushSingleCmd(cmd SingleCmd) error {
	if !cmd.IsValid() {
		return errors.Errorf("invalid single command: %v", cmd)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.singles = append(l.singles, cmd)
	return nil
}

// PushSyncCmd appends a synchronized command to the FIFO queue.
func (l *ControlLoop) PushSyncCmd(cmd *SyncCmd) error {
	if !cmd.IsValid() {
		return errors.Errorf("invalid sync command: %v", cmd)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.syncCmds = append(l.syncCmds, cmd)
	return nil
}

// flushCommands drains the queues through the manager: FIFO singles first,
// then queued sync commands, then the latest trajectory tick. During
// calibration only non-positional singles go through.
func (l *ControlLoop) flushCommands() {
	l.mu.Lock()
	singles := l.singles
	syncCmds := l.syncCmds
	trajectory := l.trajectory
	l.singles = nil
	l.syncCmds = nil
	l.trajectory = nil
	calibrating := l.calibration.InProgress()
	l.mu.Unlock()

	for _, cmd := range singles {
		if calibrating && (cmd.Kind == CmdPosition || cmd.Kind == CmdRelativeMove) {
			l.logger.Debugf("dropping %s during calibration", cmd.Kind)
			continue
		}
		if err := l.manager.WriteSingleCommand(cmd); err != nil {
			l.logger.Warnf("single command failed: %v", err)
		}
	}

	for _, cmd := range syncCmds {
		if calibrating && cmd.Kind == CmdPosition {
			l.logger.Debugf("dropping sync %s during calibration", cmd.Kind)
			continue
		}
		if err := l.manager.WriteSynchronizeCommand(cmd); err != nil {
			l.logger.Warnf("sync command failed: %v", err)
		}
	}

	if len(trajectory) > 0 && !calibrating {
		l.manager.ExecuteJointTrajectoryCmd(trajectory)
	}
}

// SetDebugMode toggles the diagnostic mode gating RunMotorReport. Clearing
// it aborts a report mid-run.
func (l *ControlLoop) SetDebugMode(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugMode = enabled
}

func (l *ControlLoop) debugEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debugMode
}

// minReportTravel is the native-unit distance a healthy motor must cover
// when commanded a 1000-unit excursion during a motor report.
const minReportTravel = 250

// MotorReport is the outcome of one diagnostic excursion.
type MotorReport struct {
	ID      uint8
	OK      bool
	Details string
}

// RunMotorReport exercises one motor: torque on, move +1000 native units,
// verify it travelled at least minReportTravel, move back, torque off.
// Requires debug mode; clearing debug mode mid-run aborts the report.
func (l *ControlLoop) RunMotorReport(ctx context.Context, id uint8) (MotorReport, error) {
	report := MotorReport{ID: id}

	if !l.debugEnabled() {
		return report, errors.New("motor report requires debug mode")
	}
	if !l.manager.HasMotor(id) {
		return report, errors.Wrapf(ErrUnknownMotor, "id %d", id)
	}

	if err := l.manager.WriteSingleCommand(SingleCmd{ID: id, Kind: CmdTorqueEnable, Params: []int32{1}}); err != nil {
		return report, errors.Wrap(err, "failed to enable torque")
	}
	defer func() {
		if err := l.manager.WriteSingleCommand(SingleCmd{ID: id, Kind: CmdTorqueEnable, Params: []int32{0}}); err != nil {
			l.logger.Warnf("failed to disable torque on motor %d: %v", id, err)
		}
	}()

	start := l.manager.GetMotorState(id).Position

	for _, delta := range []int32{1000, -1000} {
		if !l.debugEnabled() {
			return report, errors.New("motor report aborted, debug mode cleared")
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		before := l.manager.GetMotorState(id).Position
		if err := l.moveRelative(id, delta); err != nil {
			return report, errors.Wrapf(err, "failed to move motor %d by %d", id, delta)
		}
		if !viamutils.SelectContextOrWait(ctx, l.reportSettle) {
			return report, ctx.Err()
		}
		l.manager.ReadPositionsStatus()

		after := l.manager.GetMotorState(id).Position
		travel := after - before
		if travel < 0 {
			travel = -travel
		}
		if travel < minReportTravel {
			report.Details = fmt.Sprintf("motor %d moved %d native units, expected at least %d", id, travel, minReportTravel)
			return report, nil
		}
	}

	end := l.manager.GetMotorState(id).Position
	report.OK = true
	report.Details = fmt.Sprintf("motor %d travelled and returned (start %d, end %d)", id, start, end)
	return report, nil
}

func (l *ControlLoop) moveRelative(id uint8, delta int32) error {
	state := l.manager.GetMotorState(id)
	if state.Identity.Type == HwStepper {
		return l.manager.WriteSingleCommand(SingleCmd{ID: id, Kind: CmdRelativeMove, Params: []int32{delta, 1000}})
	}
	goal := state.Position + delta
	if goal < 0 {
		goal = 0
	}
	return l.manager.WriteSingleCommand(SingleCmd{ID: id, Kind: CmdPosition, Params: []int32{goal}})
}
