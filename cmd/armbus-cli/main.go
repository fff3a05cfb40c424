package main

import (
	"context"
	"time"

	"go.viam.com/rdk/logging"

	"armbus"
	"armbus/canstep"
	"armbus/ttl"
)

const (
	serialPort = "/dev/ttyUSB0" // Adjust to your serial adapter
	canIface   = "can0"
)

func main() {
	if err := realMain(); err != nil {
		panic(err)
	}
}

func realMain() error {
	ctx := context.Background()
	logger := logging.NewLogger("armbus-cli")

	cfg := &armbus.Config{
		Motors: []armbus.MotorConfig{
			{ID: 1, Type: "stepper", Component: "joint", GearRatio: 6.0625, MicroSteps: 8},
			{ID: 2, Type: "stepper", Component: "joint", GearRatio: 8.3125, MicroSteps: 8},
			{ID: 3, Type: "stepper", Component: "joint", GearRatio: 7.875, MicroSteps: 8},
			{ID: 4, Type: "xm430", Component: "joint"},
			{ID: 5, Type: "xm430", Component: "joint"},
			{ID: 6, Type: "xl330", Component: "tool"},
		},
		CalibrationFile: "/tmp/armbus-calibration.json",
		Logger:          logger,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	port, err := ttl.OpenPort(serialPort, 1000000)
	if err != nil {
		return err
	}
	ttlBus := ttl.NewBus(port, logger)
	defer ttlBus.Close()
	ttlFactory := ttl.NewFactory(ttlBus)

	sock, err := canstep.OpenSocket(canIface)
	if err != nil {
		return err
	}
	stepperDriver := canstep.NewDriver(sock, logger)
	defer stepperDriver.Close()
	stepperFactory := canstep.NewFactory(stepperDriver)

	factory := func(t armbus.HardwareType) (armbus.Driver, error) {
		if t == armbus.HwStepper {
			return stepperFactory(t)
		}
		return ttlFactory(t)
	}

	manager, err := armbus.NewBusManager(cfg, factory, logger)
	if err != nil {
		return err
	}

	logger.Info("Scanning the motor buses...")
	if err := manager.ScanAndCheck(); err != nil {
		logger.Errorf("Scan failed: %v", err)
		logger.Infof("Missing motors: %v", manager.RemovedMotorList())
		return err
	}
	logger.Infof("All %d motors answered", manager.NbMotors())

	calibration := armbus.NewCalibrationMachine(manager, cfg.CalibrationTimeout, logger)
	loop := armbus.NewControlLoop(cfg, manager, calibration, logger)
	loop.Start(ctx)
	defer loop.Close()

	// Let the loop gather a few read cycles before printing.
	time.Sleep(2 * time.Second)

	logger.Info("Motor states:")
	for _, state := range manager.GetMotorsStates() {
		logger.Infof("  %s", state.String())
	}

	if err := runMotorReports(ctx, loop, manager, logger); err != nil {
		return err
	}

	logger.Info("Diagnostics complete")
	return nil
}
