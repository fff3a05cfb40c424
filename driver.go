package armbus

// Driver is the per-family transport contract. One instance serves every
// motor of its family on the shared bus; it keeps no per-motor state and
// never retries internally — retry policy belongs to the BusManager.
//
// Sync operations batch all ids of one family into a single bus
// transaction. A non-nil error means the transaction itself failed; a
// successful sync read may still return fewer values than ids when
// individual motors did not answer, which callers must detect by comparing
// lengths (ErrCountMismatch territory, distinct from transport failure).
type Driver interface {
	Ping(id uint8) error
	Scan() ([]uint8, error)
	Reboot(id uint8) error
	ChangeID(oldID, newID uint8) error
	ReadFirmwareVersion(id uint8) (string, error)

	ReadPosition(id uint8) (uint32, error)
	WritePositionGoal(id uint8, pos uint32) error
	WriteVelocityGoal(id uint8, vel uint32) error
	WriteTorqueGoal(id uint8, torque uint32) error
	WriteTorqueEnable(id uint8, enable uint32) error
	WriteVelocityProfile(id uint8, profile []uint32) error

	ReadVelocityProfile(id uint8) ([]uint32, error)
	// ReadMotorPID returns the position-control gains in P, I, D, FF1, FF2
	// order.
	ReadMotorPID(id uint8) ([]uint32, error)

	WritePGain(id uint8, gain uint32) error
	WriteIGain(id uint8, gain uint32) error
	WriteDGain(id uint8, gain uint32) error
	WriteFF1Gain(id uint8, gain uint32) error
	WriteFF2Gain(id uint8, gain uint32) error
	WriteLed(id uint8, value uint32) error

	SyncReadPosition(ids []uint8) ([]uint32, error)
	SyncReadVelocity(ids []uint8) ([]uint32, error)
	SyncReadLoad(ids []uint8) ([]uint32, error)
	SyncReadTemperature(ids []uint8) ([]uint32, error)
	SyncReadVoltage(ids []uint8) ([]uint32, error)
	SyncReadHwError(ids []uint8) ([]uint32, error)

	SyncWritePositionGoal(ids []uint8, positions []uint32) error
	SyncWriteVelocityGoal(ids []uint8, velocities []uint32) error
	SyncWriteTorqueGoal(ids []uint8, torques []uint32) error
	SyncWriteTorqueEnable(ids []uint8, values []uint32) error
	SyncWriteLed(ids []uint8, values []uint32) error

	// Raw register access for custom commands. Register addresses and
	// widths are family-specific and opaque to the manager.
	ReadRegister(id uint8, addr uint16, size int) (uint32, error)
	WriteRegister(id uint8, addr uint16, size int, value uint32) error

	// InterpretErrorState renders the family's hardware-error bitfield as a
	// comma-separated description, empty when no bit is set.
	InterpretErrorState(raw uint32) string
}

// HomingState is a stepper's answer when polled for homing progress.
type HomingState uint8

const (
	HomingInProgress HomingState = iota
	HomingOK
	HomingFail
)

// StepperDriver extends Driver with the homing sequence and the
// stepper-only configuration registers.
type StepperDriver interface {
	Driver

	StartHoming(id uint8) error
	// ReadHomingStatus polls the homing result register: state, and the
	// discovered native-unit offset when state is HomingOK.
	ReadHomingStatus(id uint8) (HomingState, int32, error)

	WriteMicroSteps(id uint8, microSteps uint32) error
	WriteMaxEffort(id uint8, effort uint32) error
	WriteRelativeMove(id uint8, steps int32, delayUS uint32) error
}

// DriverFactory instantiates the transport driver for a family the first
// time a motor of that family is registered. Supplied by the wiring layer
// so the manager stays independent of the concrete transports.
type DriverFactory func(t HardwareType) (Driver, error)
