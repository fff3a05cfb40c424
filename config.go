package armbus

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// MotorConfig describes one motor to register at startup.
type MotorConfig struct {
	ID        uint8  `json:"id"`
	Type      string `json:"type"`      // stepper, xm430, xl330
	Component string `json:"component"` // joint, tool, conveyor, end_effector

	// Joint gearing; steppers need both for position conversion.
	GearRatio  float64 `json:"gear_ratio,omitempty"`
	MicroSteps float64 `json:"micro_steps,omitempty"`
	Direction  int     `json:"direction,omitempty"`
}

// Config is the per-bus configuration supplied at startup.
type Config struct {
	Motors []MotorConfig `json:"motors"`

	ControlLoopFrequency     float64 `json:"control_loop_frequency,omitempty"`
	WriteFrequency           float64 `json:"write_frequency,omitempty"`
	CheckConnectionFrequency float64 `json:"check_connection_frequency,omitempty"`

	CalibrationTimeout time.Duration `json:"calibration_timeout,omitempty"`
	CalibrationFile    string        `json:"calibration_file,omitempty"`

	// Not serialized
	Logger logging.Logger `json:"-"`
}

func componentFromString(s string) (ComponentType, bool) {
	switch s {
	case "joint":
		return ComponentJoint, true
	case "tool":
		return ComponentTool, true
	case "conveyor":
		return ComponentConveyor, true
	case "end_effector":
		return ComponentEndEffector, true
	default:
		return 0, false
	}
}

// Validate defaults missing tunables and drops invalid motor entries
// (unknown family, bad id, duplicate id), logging each skip. A bad entry is
// never fatal: registration continues for the valid ones.
func (cfg *Config) Validate() error {
	if cfg.ControlLoopFrequency <= 0 {
		cfg.ControlLoopFrequency = 100
	}
	if cfg.WriteFrequency <= 0 {
		cfg.WriteFrequency = 50
	}
	if cfg.CheckConnectionFrequency <= 0 {
		cfg.CheckConnectionFrequency = 2
	}
	if cfg.CalibrationTimeout <= 0 {
		cfg.CalibrationTimeout = 30 * time.Second
	}

	seen := make(map[uint8]bool)
	valid := cfg.Motors[:0]
	for _, m := range cfg.Motors {
		if m.ID < 1 || m.ID > 253 {
			cfg.logf("skipping motor config with out-of-range id %d", m.ID)
			continue
		}
		if seen[m.ID] {
			cfg.logf("skipping duplicate motor config for id %d", m.ID)
			continue
		}
		if HardwareTypeFromString(m.Type) == HwUnknown {
			cfg.logf("skipping motor %d with unknown hardware type %q", m.ID, m.Type)
			continue
		}
		if _, ok := componentFromString(m.Component); !ok {
			cfg.logf("skipping motor %d with unknown component %q", m.ID, m.Component)
			continue
		}
		seen[m.ID] = true
		valid = append(valid, m)
	}
	cfg.Motors = valid

	if len(cfg.Motors) == 0 {
		return errors.New("config contains no valid motor entry")
	}
	return nil
}

func (cfg *Config) logf(format string, args ...interface{}) {
	if cfg.Logger != nil {
		cfg.Logger.Warnf(format, args...)
	}
}

// Identity builds the MotorIdentity for a validated entry.
func (m MotorConfig) Identity() MotorIdentity {
	t := HardwareTypeFromString(m.Type)
	component, _ := componentFromString(m.Component)
	return MotorIdentity{
		ID:        m.ID,
		Type:      t,
		Component: component,
		Bus:       t.Bus(),
	}
}

// LoadConfig reads a JSON bus configuration from disk and validates it.
func LoadConfig(path string, logger logging.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg := &Config{Logger: logger}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config JSON")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CalibrationFileFormat is the persisted homing result per stepper id, so a
// restart can reload zero-offsets without re-homing.
type CalibrationFileFormat struct {
	Offsets map[uint8]int32 `json:"offsets"`
}

// LoadCalibrationFile reads persisted homing offsets. A missing file is not
// an error: it just means no calibration has been saved yet.
func LoadCalibrationFile(path string) (map[uint8]int32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read calibration file")
	}

	var f CalibrationFileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "failed to parse calibration JSON")
	}
	return f.Offsets, nil
}

// SaveCalibrationFile persists homing offsets as JSON.
func SaveCalibrationFile(path string, offsets map[uint8]int32) error {
	data, err := json.MarshalIndent(CalibrationFileFormat{Offsets: offsets}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal calibration")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write calibration file")
	}
	return nil
}
