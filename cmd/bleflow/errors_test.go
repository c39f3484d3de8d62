package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/bleflow/internal/device"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{
			name:     "permission denied",
			err:      fmt.Errorf("%w: [connect]", device.ErrPermissionDenied),
			contains: "permission denied",
		},
		{
			name:     "adapter unavailable",
			err:      fmt.Errorf("%w: adapter state powered_off", device.ErrAdapterUnavailable),
			contains: "adapter unavailable",
		},
		{
			name:     "scan already active",
			err:      device.ErrScanAlreadyActive,
			contains: "already running",
		},
		{
			name:     "already connecting",
			err:      device.ErrAlreadyConnecting,
			contains: "already in progress",
		},
		{
			name:     "timed out",
			err:      fmt.Errorf("%w: context deadline exceeded", device.ErrTimedOut),
			contains: "timed out",
		},
		{
			name:     "not ready",
			err:      fmt.Errorf("%w: state disconnected", device.ErrNotReady),
			contains: "not connected",
		},
		{
			name:     "connection lost",
			err:      ErrConnectionLost,
			contains: "lost",
		},
		{
			name:     "unrecognized error passes through",
			err:      errors.New("something odd"),
			contains: "something odd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatUserError(tt.err), tt.contains)
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}
