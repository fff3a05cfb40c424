package armbus

import "fmt"

// HardwareType identifies a motor family: one register map / protocol
// dialect shared by every motor of that family.
type HardwareType int

const (
	HwUnknown HardwareType = iota
	HwStepper              // CAN stepper
	HwXM430                // TTL servo, variant A
	HwXL330                // TTL servo, variant B
)

func (t HardwareType) String() string {
	switch t {
	case HwStepper:
		return "stepper"
	case HwXM430:
		return "xm430"
	case HwXL330:
		return "xl330"
	default:
		return "unknown"
	}
}

// HardwareTypeFromString parses the config-file spelling of a hardware type.
func HardwareTypeFromString(s string) HardwareType {
	switch s {
	case "stepper":
		return HwStepper
	case "xm430":
		return HwXM430
	case "xl330":
		return HwXL330
	default:
		return HwUnknown
	}
}

// ComponentType is the logical role of a motor on the robot.
type ComponentType int

const (
	ComponentJoint ComponentType = iota + 1
	ComponentTool
	ComponentConveyor
	ComponentEndEffector
)

func (c ComponentType) String() string {
	switch c {
	case ComponentJoint:
		return "joint"
	case ComponentTool:
		return "tool"
	case ComponentConveyor:
		return "conveyor"
	case ComponentEndEffector:
		return "end_effector"
	default:
		return "unknown"
	}
}

// BusProtocol is the physical transport a motor sits on.
type BusProtocol int

const (
	BusTTL BusProtocol = iota + 1
	BusCAN
)

func (b BusProtocol) String() string {
	if b == BusCAN {
		return "can"
	}
	return "ttl"
}

// MotorIdentity is the immutable addressing information of one motor.
// Created when the motor is registered, removed when a scan confirms the
// motor no longer answers.
type MotorIdentity struct {
	ID        uint8
	Type      HardwareType
	Component ComponentType
	Bus       BusProtocol
}

func (m MotorIdentity) String() string {
	return fmt.Sprintf("%s %d (%s, %s bus)", m.Type, m.ID, m.Component, m.Bus)
}

// Bus protocol for a hardware type. Steppers live on the CAN bus, both
// servo families on the TTL bus.
func (t HardwareType) Bus() BusProtocol {
	if t == HwStepper {
		return BusCAN
	}
	return BusTTL
}
