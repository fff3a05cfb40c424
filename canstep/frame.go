// Package canstep drives the stepper motors attached to the CAN bus.
// Command frames go out addressed per motor; motors broadcast status
// frames on their own cadence, which the driver caches for sync reads.
package canstep

import (
	"fmt"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
)

// Arbitration id layout: the low nibble carries the motor id.
const (
	cmdIDBase  = 0x040
	dataIDBase = 0x080
	idMask     = 0x00F
)

// Command subcommands, first data byte of an outgoing frame.
const (
	cmdPosition    = 0x03
	cmdTorque      = 0x04
	cmdMicroSteps  = 0x13
	cmdOffset      = 0x21
	cmdCalibrate   = 0x22
	cmdSynchronize = 0x23
	cmdMaxEffort   = 0x24
	cmdMoveRel     = 0x25
	cmdReset       = 0x26
)

// Status subcommands, first data byte of an incoming frame.
const (
	dataPosition          = 0x03
	dataDiagnostics       = 0x08
	dataCalibrationResult = 0x09
	dataFirmwareVersion   = 0x10
)

// Homing result codes carried by dataCalibrationResult frames.
const (
	calibResultInProgress = 0x00
	calibResultOK         = 0x01
	calibResultFail       = 0x02
)

func commandFrame(id uint8, subcommand byte, payload []byte) canbus.Frame {
	data := make([]byte, 0, 8)
	data = append(data, subcommand)
	data = append(data, payload...)
	return canbus.Frame{
		ID:   cmdIDBase | uint32(id&idMask),
		Data: data,
		Kind: canbus.SFF,
	}
}

func encodeInt32(v int32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func decodeInt32(data []byte) int32 {
	return int32(data[0]) | int32(data[1])<<8 | int32(data[2])<<16 | int32(data[3])<<24
}

// statusFrame is one decoded broadcast from a motor.
type statusFrame struct {
	id         uint8
	subcommand byte

	position int32
	velocity int32

	temperature uint32
	voltage     uint32 // decivolts
	hwError     uint32

	homing       byte
	homingOffset int32

	firmware string
}

// decodeFrame parses a raw status frame. Frames outside the data id window
// or with an unknown subcommand are reported as errors and skipped by the
// reader.
func decodeFrame(frame canbus.Frame) (statusFrame, error) {
	if frame.ID&^uint32(idMask) != dataIDBase {
		return statusFrame{}, errors.Errorf("unexpected arbitration id 0x%03X", frame.ID)
	}
	if len(frame.Data) < 1 {
		return statusFrame{}, errors.New("empty frame")
	}

	sf := statusFrame{
		id:         uint8(frame.ID & idMask),
		subcommand: frame.Data[0],
	}
	payload := frame.Data[1:]

	switch sf.subcommand {
	case dataPosition:
		if len(payload) < 7 {
			return statusFrame{}, errors.Errorf("short position frame from motor %d", sf.id)
		}
		sf.position = decodeInt32(payload[:4])
		// Velocity is a 24-bit signed value in native units per second.
		sf.velocity = int32(payload[4]) | int32(payload[5])<<8 | int32(int8(payload[6]))<<16
	case dataDiagnostics:
		if len(payload) < 4 {
			return statusFrame{}, errors.Errorf("short diagnostics frame from motor %d", sf.id)
		}
		sf.temperature = uint32(payload[0])
		sf.voltage = uint32(payload[1]) | uint32(payload[2])<<8
		sf.hwError = uint32(payload[3])
	case dataCalibrationResult:
		if len(payload) < 5 {
			return statusFrame{}, errors.Errorf("short calibration frame from motor %d", sf.id)
		}
		sf.homing = payload[0]
		sf.homingOffset = decodeInt32(payload[1:5])
	case dataFirmwareVersion:
		if len(payload) < 3 {
			return statusFrame{}, errors.Errorf("short firmware frame from motor %d", sf.id)
		}
		sf.firmware = fmt.Sprintf("%d.%d.%d", payload[0], payload[1], payload[2])
	default:
		return statusFrame{}, errors.Errorf("unknown subcommand 0x%02X from motor %d", sf.subcommand, sf.id)
	}

	return sf, nil
}
