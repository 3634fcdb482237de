// Package gpib talks to instruments on a shared GPIB bus through a Prologix
// controller. The controller is reached over TCP, a USB virtual COM port or an
// MQTT serial tunnel; all three carry the same line-oriented protocol.
package gpib

import "context"

// NoAddress is reported by Address before any instrument has been selected
const NoAddress = -1

// Bus is a GPIB controller shared by every instrument adapter on one bus.
// It carries ambient "current address" state: Write and Query always go to
// the instrument selected by the last SetAddress.
type Bus interface {
	// Address returns the instrument the controller currently talks to
	Address() int

	// SetAddress selects the instrument subsequent I/O goes to
	SetAddress(ctx context.Context, addr int) error

	// Write sends one line. Lines starting with "++" are controller commands.
	Write(ctx context.Context, cmd string) error

	// Query sends one line and reads the instrument's one-line answer
	Query(ctx context.Context, cmd string) (string, error)

	// Local returns the addressed instrument to front panel control
	Local(ctx context.Context) error

	// Identification returns the addressed instrument's *IDN? answer
	Identification(ctx context.Context) (string, error)
}
