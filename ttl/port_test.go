package ttl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCandidatePort(t *testing.T) {
	tests := []struct {
		name     string
		port     string
		expected bool
	}{
		{"Linux USB", "/dev/ttyUSB0", true},
		{"Linux ACM", "/dev/ttyACM0", true},
		{"Linux built-in serial", "/dev/ttyS0", false},
		{"macOS usbmodem", "/dev/tty.usbmodem123", true},
		{"macOS usbserial cu", "/dev/cu.usbserial-AB", true},
		{"macOS bluetooth", "/dev/tty.Bluetooth", false},
		{"Windows COM", "COM3", true},
		{"Windows printer", "LPT1", false},
		{"null device", "/dev/null", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isCandidatePort(tt.port))
		})
	}
}
