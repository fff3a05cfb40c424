package armbus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

func testLogger() logging.Logger {
	return logging.NewLogger("armbus-test")
}

func TestConfigValidateDefaults(t *testing.T) {
	cfg := &Config{
		Motors: []MotorConfig{{ID: 1, Type: "stepper", Component: "joint"}},
		Logger: testLogger(),
	}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 100.0, cfg.ControlLoopFrequency)
	assert.Equal(t, 50.0, cfg.WriteFrequency)
	assert.Equal(t, 2.0, cfg.CheckConnectionFrequency)
	assert.Equal(t, 30*time.Second, cfg.CalibrationTimeout)
}

func TestConfigValidateDropsBadEntries(t *testing.T) {
	cfg := &Config{
		Motors: []MotorConfig{
			{ID: 1, Type: "stepper", Component: "joint"},
			{ID: 0, Type: "stepper", Component: "joint"},   // out of range
			{ID: 1, Type: "xm430", Component: "joint"},     // duplicate
			{ID: 2, Type: "warp-drive", Component: "joint"}, // unknown family
			{ID: 3, Type: "xm430", Component: "flux"},      // unknown component
			{ID: 4, Type: "xl330", Component: "tool"},
		},
		Logger: testLogger(),
	}
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Motors, 2)
	assert.Equal(t, uint8(1), cfg.Motors[0].ID)
	assert.Equal(t, uint8(4), cfg.Motors[1].ID)
}

func TestConfigValidateRejectsEmpty(t *testing.T) {
	cfg := &Config{Logger: testLogger()}
	assert.Error(t, cfg.Validate())

	cfg = &Config{
		Motors: []MotorConfig{{ID: 0, Type: "stepper", Component: "joint"}},
		Logger: testLogger(),
	}
	assert.Error(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bus.json")
	data := `{
		"motors": [
			{"id": 1, "type": "stepper", "component": "joint", "gear_ratio": 6.0625, "micro_steps": 8},
			{"id": 4, "type": "xm430", "component": "joint"}
		],
		"write_frequency": 25
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path, testLogger())
	require.NoError(t, err)

	assert.Len(t, cfg.Motors, 2)
	assert.Equal(t, 25.0, cfg.WriteFrequency)
	assert.Equal(t, 6.0625, cfg.Motors[0].GearRatio)

	identity := cfg.Motors[0].Identity()
	assert.Equal(t, HwStepper, identity.Type)
	assert.Equal(t, BusCAN, identity.Bus)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"), testLogger())
	assert.Error(t, err)
}

func TestCalibrationFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")

	offsets := map[uint8]int32{1: -1200, 2: 340, 3: 0}
	require.NoError(t, SaveCalibrationFile(path, offsets))

	loaded, err := LoadCalibrationFile(path)
	require.NoError(t, err)
	assert.Equal(t, offsets, loaded)
}

func TestLoadCalibrationFileMissingIsNotError(t *testing.T) {
	loaded, err := LoadCalibrationFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.NoError(t, err)
	assert.Nil(t, loaded)
}
