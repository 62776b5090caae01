// Package device controls Robbie's hardware through the device daemon.
//
// The daemon owns the I2C bus and exposes the servo hat and the two LED
// matrices over HTTP. Consumers should depend only on the small interfaces
// they use.
package device

// Matrix I2C addresses of the eyes.
const (
	LeftEyeAddress  byte = 0x71
	RightEyeAddress byte = 0x72
)

// MatrixSize is the number of rows (and columns) of an LED matrix.
const MatrixSize = 8

// ServoController drives the servo hat.
type ServoController interface {
	SetServoPulse(channel, pulse int) error
}

// MatrixController writes whole LED matrix frames.
type MatrixController interface {
	WriteMatrix(address byte, rows [MatrixSize]byte) error
}

// StatusController queries the daemon.
type StatusController interface {
	GetDaemonStatus() (string, error)
}

// Controller is the composite interface for full device control.
type Controller interface {
	ServoController
	MatrixController
	StatusController
}

// Ensure HTTPController implements Controller
var _ Controller = (*HTTPController)(nil)
