package main

import (
	"context"

	"go.viam.com/rdk/logging"

	"armbus"
)

// runMotorReports exercises every registered motor with a short excursion
// and prints whether each one actually travelled.
func runMotorReports(ctx context.Context, loop *armbus.ControlLoop, manager *armbus.BusManager, logger logging.Logger) error {
	loop.SetDebugMode(true)
	defer loop.SetDebugMode(false)

	for _, state := range manager.GetMotorsStates() {
		id := state.Identity.ID
		logger.Infof("Running motor report for %s...", state.Identity)

		report, err := loop.RunMotorReport(ctx, id)
		if err != nil {
			logger.Errorf("Motor report failed for motor %d: %v", id, err)
			continue
		}
		if report.OK {
			logger.Infof("Motor %d OK: %s", id, report.Details)
		} else {
			logger.Warnf("Motor %d FAILED: %s", id, report.Details)
		}
	}
	return nil
}
