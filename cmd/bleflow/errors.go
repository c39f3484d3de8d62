package main

import (
	"errors"

	"github.com/srg/bleflow/internal/device"
)

// ErrConnectionLost indicates the BLE connection was unexpectedly lost
// during an operation, distinct from device.ErrNotReady which covers
// operations attempted before a connection was established.
var ErrConnectionLost = errors.New("connection lost")

// FormatUserError turns a lifecycle error into a message a CLI user can
// act on; anything unrecognized passes through unchanged.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, device.ErrPermissionDenied):
		return "Bluetooth permission denied. Grant the app Bluetooth access and try again."
	case errors.Is(err, device.ErrAdapterUnavailable):
		return "Bluetooth adapter unavailable: " + err.Error()
	case errors.Is(err, device.ErrScanAlreadyActive):
		return "A scan is already running. Stop it before starting another."
	case errors.Is(err, device.ErrAlreadyConnecting):
		return "A connection attempt to this device is already in progress."
	case errors.Is(err, device.ErrTimedOut):
		return "Operation timed out: " + err.Error()
	case errors.Is(err, device.ErrNotReady):
		return "Device is not connected: " + err.Error()
	case errors.Is(err, ErrConnectionLost):
		return "Connection to the device was lost."
	default:
		return err.Error()
	}
}
