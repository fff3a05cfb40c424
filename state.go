package armbus

import (
	"fmt"
	"math"
	"time"
)

// StepsPerRevolution is the full-step count of the stepper motors used on
// the CAN bus.
const StepsPerRevolution = 200.0

// ttlPositionMultiplier is the fixed radian<->native factor of the TTL servo
// families (0.088 degrees per native unit).
const ttlPositionMultiplier = 360.0 / 0.088

// CalibrationStatus is the lifecycle of one stepper's homing result.
type CalibrationStatus int

const (
	CalibrationUninitialized CalibrationStatus = iota
	CalibrationInProgress
	CalibrationOK
	CalibrationFail
	CalibrationTimeout
)

func (s CalibrationStatus) String() string {
	switch s {
	case CalibrationInProgress:
		return "in progress"
	case CalibrationOK:
		return "ok"
	case CalibrationFail:
		return "fail"
	case CalibrationTimeout:
		return "timeout"
	default:
		return "uninitialized"
	}
}

// CalibrationRecord holds the homing outcome for one stepper. Transitions
// only through the calibration machine; persists until explicitly reset or
// until a new cycle starts.
type CalibrationRecord struct {
	Status CalibrationStatus
	Value  int32 // signed native-unit offset discovered by homing
}

// MotorState is the last-known sensed and configured state of one motor.
// Owned exclusively by the BusManager: sensed fields are mutated only by the
// periodic read cycle under the bus lock, configuration fields only by the
// explicit setters. Callers get copies, never references.
type MotorState struct {
	Identity MotorIdentity

	// Sensed by the read cycles.
	Position      int32
	Velocity      int32
	Load          int32
	Temperature   int32
	Voltage       float64
	HardwareError uint32
	HardwareMsg   string
	Firmware      string
	LastReadTime  time.Time

	// Joint configuration (radian conversion).
	GearRatio  float64
	MicroSteps float64
	Direction  int
	Offset     int32

	Calibration CalibrationRecord

	multiplier float64
}

// NewMotorState creates the state record for a freshly registered motor.
// TTL servos get their fixed multiplier immediately; steppers stay at zero
// until gear ratio and micro-steps are configured.
func NewMotorState(identity MotorIdentity) *MotorState {
	s := &MotorState{
		Identity:  identity,
		Direction: 1,
	}
	s.updateMultiplier()
	return s
}

// SetGearRatio updates the gearing and recomputes the conversion multiplier.
func (s *MotorState) SetGearRatio(gearRatio float64) {
	s.GearRatio = gearRatio
	s.updateMultiplier()
}

// SetMicroSteps updates the micro-stepping and recomputes the multiplier.
func (s *MotorState) SetMicroSteps(microSteps float64) {
	s.MicroSteps = microSteps
	s.updateMultiplier()
}

// SetDirection sets the rotation sign (+1 or -1).
func (s *MotorState) SetDirection(direction int) {
	if direction < 0 {
		s.Direction = -1
	} else {
		s.Direction = 1
	}
}

// Multiplier returns the current radian<->native conversion factor.
func (s *MotorState) Multiplier() float64 {
	return s.multiplier
}

func (s *MotorState) updateMultiplier() {
	if s.Identity.Bus == BusCAN {
		s.multiplier = StepsPerRevolution * s.MicroSteps * s.GearRatio
	} else {
		s.multiplier = ttlPositionMultiplier
	}
}

// ToMotorPos converts a radian position into the motor's native units.
// Calling this with an unconfigured (zero) multiplier is a programming
// error, not a runtime condition: it means registration skipped the gear
// ratio or micro-step configuration.
func (s *MotorState) ToMotorPos(rad float64) int32 {
	if s.multiplier == 0 {
		panic(fmt.Sprintf("motor %d: position conversion with zero multiplier", s.Identity.ID))
	}

	result := int32(math.Round(float64(s.Offset) + rad*(s.multiplier*float64(s.Direction))/(2*math.Pi)))

	// CAN steppers cannot represent negative native positions.
	if s.Identity.Bus == BusCAN && result < 0 {
		result = 0
	}
	return result
}

// ToRadPos converts a native position back into radians.
func (s *MotorState) ToRadPos(pos int32) float64 {
	if s.multiplier == 0 {
		panic(fmt.Sprintf("motor %d: position conversion with zero multiplier", s.Identity.ID))
	}
	return float64(pos-s.Offset) * float64(s.Direction) * 2 * math.Pi / s.multiplier
}

// IsValid reports whether the state is usable for position conversions.
func (s *MotorState) IsValid() bool {
	return s.Identity.ID != 0 && s.multiplier != 0
}

// RadPos is the current sensed position in radians.
func (s *MotorState) RadPos() float64 {
	return s.ToRadPos(s.Position)
}

func (s *MotorState) String() string {
	return fmt.Sprintf("%s: pos=%d vel=%d temp=%d voltage=%.1f error=%q firmware=%q calibration=%s",
		s.Identity, s.Position, s.Velocity, s.Temperature, s.Voltage, s.HardwareMsg, s.Firmware, s.Calibration.Status)
}
