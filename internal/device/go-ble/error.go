package goble

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/srg/bleflow/internal/device"
)

// invalidStatePrefix is the message the darwin central manager produces when
// the radio is not ready; the have=N suffix carries the CoreBluetooth state.
const invalidStatePrefix = "central manager has invalid state"

// NormalizeError maps known go-ble error strings to structured lifecycle
// errors. It ensures consistent handling even if the upstream library
// changes messages slightly. Returns wrapped errors to preserve original
// context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", device.ErrTimedOut, err)
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, invalidStatePrefix):
		return fmt.Errorf("%w (%s): %v", device.ErrAdapterUnavailable, StateFromError(err), err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w (%s): %v", device.ErrAdapterUnavailable, device.StatePoweredOff, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", device.ErrNotReady, err)
	case containsIgnoreCase(msg, "timeout"),
		containsIgnoreCase(msg, "timed out"):
		return fmt.Errorf("%w: %v", device.ErrTimedOut, err)
	default:
		return err
	}
}

// StateFromError derives the adapter state from a factory or dial error.
// A nil error means the radio answered, which only happens when powered on.
func StateFromError(err error) device.AdapterState {
	if err == nil {
		return device.StatePoweredOn
	}

	msg := err.Error()
	if containsIgnoreCase(msg, "bluetooth is turned off") {
		return device.StatePoweredOff
	}
	if !containsIgnoreCase(msg, invalidStatePrefix) {
		return device.StateUnknown
	}

	// CoreBluetooth manager states: 1=resetting, 2=unsupported,
	// 3=unauthorized, 4=powered off, 5=powered on.
	idx := strings.Index(msg, "have=")
	if idx < 0 {
		return device.StateUnknown
	}
	rest := msg[idx+len("have="):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	code, convErr := strconv.Atoi(rest[:end])
	if convErr != nil {
		return device.StateUnknown
	}

	switch code {
	case 1:
		return device.StateResetting
	case 2:
		return device.StateUnsupported
	case 3:
		return device.StateUnauthorized
	case 4:
		return device.StatePoweredOff
	case 5:
		return device.StatePoweredOn
	default:
		return device.StateUnknown
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
