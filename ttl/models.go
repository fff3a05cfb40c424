package ttl

// register is one entry of a model's control table.
type register struct {
	Addr byte
	Size int
}

// errorBit maps one bit of the hardware-error status register to a label.
type errorBit struct {
	Mask  uint32
	Label string
}

// Model describes one servo family's control table and quirks. The two
// families share the same packet framing; they differ in a few registers
// and in what the load register actually measures.
type Model struct {
	Name        string
	ModelNumber int
	Resolution  int

	FirmwareMajor register
	FirmwareMinor register
	ModelNumberR  register
	IDRegister    register

	TorqueEnable        register
	GoalPosition        register
	GoalVelocity        register
	GoalTorque          register
	ProfileVelocity     register
	ProfileAcceleration register

	PGain   register
	IGain   register
	DGain   register
	FF1Gain register
	FF2Gain register
	Led     register

	PresentPosition    register
	PresentVelocity    register
	PresentLoad        register
	PresentVoltage     register
	PresentTemperature register
	HwErrorStatus      register

	ErrorBits []errorBit

	// HasVelocityProfile: families without profile registers accept the
	// write as a no-op so callers need no special casing.
	HasVelocityProfile bool
}

var standardErrorBits = []errorBit{
	{1 << 0, "Input Voltage"},
	{1 << 2, "OverHeating"},
	{1 << 3, "Motor Encoder"},
	{1 << 4, "Electrical Shock"},
	{1 << 5, "Overload"},
	{1 << 7, "Disconnection"},
}

// XM430 is the high-torque joint servo.
var XM430 = Model{
	Name:        "xm430",
	ModelNumber: 1020,
	Resolution:  4096,

	FirmwareMajor: register{0, 1},
	FirmwareMinor: register{1, 1},
	ModelNumberR:  register{3, 2},
	IDRegister:    register{5, 1},

	TorqueEnable:        register{40, 1},
	GoalPosition:        register{42, 2},
	GoalVelocity:        register{46, 2},
	GoalTorque:          register{48, 2},
	ProfileVelocity:     register{49, 2},
	ProfileAcceleration: register{51, 2},

	PGain:   register{21, 1},
	DGain:   register{22, 1},
	IGain:   register{23, 1},
	FF1Gain: register{24, 2},
	FF2Gain: register{26, 2},
	Led:     register{20, 1},

	PresentPosition:    register{56, 2},
	PresentVelocity:    register{58, 2},
	PresentLoad:        register{60, 2},
	PresentVoltage:     register{62, 1},
	PresentTemperature: register{63, 1},
	HwErrorStatus:      register{65, 1},

	ErrorBits:          standardErrorBits,
	HasVelocityProfile: true,
}

// XL330 is the light gripper/tool servo. Same control table layout, but it
// has no load cell (the current register stands in for load) and no
// velocity profile registers.
var XL330 = Model{
	Name:        "xl330",
	ModelNumber: 1200,
	Resolution:  4096,

	FirmwareMajor: register{0, 1},
	FirmwareMinor: register{1, 1},
	ModelNumberR:  register{3, 2},
	IDRegister:    register{5, 1},

	TorqueEnable: register{40, 1},
	GoalPosition: register{42, 2},
	GoalVelocity: register{46, 2},
	GoalTorque:   register{48, 2},

	PGain:   register{21, 1},
	DGain:   register{22, 1},
	IGain:   register{23, 1},
	FF1Gain: register{24, 2},
	FF2Gain: register{26, 2},
	Led:     register{20, 1},

	PresentPosition:    register{56, 2},
	PresentVelocity:    register{58, 2},
	PresentLoad:        register{69, 2}, // present current, no load cell
	PresentVoltage:     register{62, 1},
	PresentTemperature: register{63, 1},
	HwErrorStatus:      register{65, 1},

	ErrorBits:          standardErrorBits,
	HasVelocityProfile: false,
}
