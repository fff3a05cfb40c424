// Package ttl implements the half-duplex serial transport for the smart
// servo families sharing the TTL bus.
package ttl

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Port is the subset of the serial port used by the bus. Kept small so
// tests can substitute a scripted fake.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

// OpenPort opens the servo bus serial port. The bus runs 8N1 at 1 Mbaud by
// default, matching the servo factory configuration.
func OpenPort(name string, baudRate int) (Port, error) {
	if baudRate == 0 {
		baudRate = 1000000
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", name)
	}
	return port, nil
}

// FindPorts lists serial ports that look like USB servo bus adapters.
func FindPorts() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate serial ports")
	}

	var candidates []string
	for _, p := range ports {
		if isCandidatePort(p.Name) {
			candidates = append(candidates, p.Name)
		}
	}
	return candidates, nil
}

// isCandidatePort checks if a port matches USB serial adapter patterns.
func isCandidatePort(port string) bool {
	// Linux: /dev/ttyUSB*, /dev/ttyACM*
	if strings.HasPrefix(port, "/dev/ttyUSB") || strings.HasPrefix(port, "/dev/ttyACM") {
		return true
	}
	// macOS: /dev/tty.usbmodem*, /dev/tty.usbserial*, /dev/cu.usbmodem*, /dev/cu.usbserial*
	if strings.HasPrefix(port, "/dev/tty.usb") || strings.HasPrefix(port, "/dev/cu.usb") {
		return true
	}
	// Windows: COM*
	return strings.HasPrefix(port, "COM")
}
