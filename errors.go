package armbus

import "github.com/pkg/errors"

// Sentinel communication errors shared by the bus manager and the
// per-family transport drivers. Compare with errors.Is; transports wrap
// them with context.
var (
	// ErrPortBusy means the transport could not win the bus in time.
	ErrPortBusy = errors.New("bus is busy")
	// ErrTxFail means the outgoing packet could not be transmitted.
	ErrTxFail = errors.New("failed to transmit packet")
	// ErrNoResponse means nothing came back at all.
	ErrNoResponse = errors.New("no response received")
	// ErrRxTimeout means the reply did not arrive within the transport timeout.
	ErrRxTimeout = errors.New("timeout waiting for status packet")
	// ErrRxCorrupt means a reply arrived but failed framing or checksum.
	ErrRxCorrupt = errors.New("corrupted status packet")
	// ErrNotSupported means the motor family has no register for this operation.
	ErrNotSupported = errors.New("operation not supported by this motor family")

	// ErrCountMismatch is a sync read that answered with the wrong number of
	// values. Distinct from a transport failure: the transaction went through
	// but some ids did not answer.
	ErrCountMismatch = errors.New("sync reply count does not match id count")

	// ErrUnknownMotor is a command aimed at an id that is not registered.
	ErrUnknownMotor = errors.New("motor id not registered")
)
