package goble

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/srg/bleflow/internal/device"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name     string
		input    error
		sentinel error
	}{
		{
			name:     "nil stays nil",
			input:    nil,
			sentinel: nil,
		},
		{
			name:     "deadline exceeded",
			input:    context.DeadlineExceeded,
			sentinel: device.ErrTimedOut,
		},
		{
			name:     "invalid central manager state",
			input:    errors.New("central manager has invalid state: have=4, want=5"),
			sentinel: device.ErrAdapterUnavailable,
		},
		{
			name:     "bluetooth turned off",
			input:    errors.New("Bluetooth is turned off"),
			sentinel: device.ErrAdapterUnavailable,
		},
		{
			name:     "device not connected",
			input:    errors.New("device not connected"),
			sentinel: device.ErrNotReady,
		},
		{
			name:     "disconnected mid-operation",
			input:    errors.New("peripheral disconnected"),
			sentinel: device.ErrNotReady,
		},
		{
			name:     "timeout message",
			input:    errors.New("connection timeout"),
			sentinel: device.ErrTimedOut,
		},
		{
			name:     "wrapped deadline",
			input:    fmt.Errorf("dial: %w", context.DeadlineExceeded),
			sentinel: device.ErrTimedOut,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.input)
			if tt.sentinel == nil {
				assert.NoError(t, got)
				return
			}
			assert.True(t, errors.Is(got, tt.sentinel), "got %v", got)
		})
	}
}

func TestCtxDoneErrorClassification(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	err := ctxDoneError(cancelled, "read 2a37")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, device.ErrTimedOut), "cancellation is not a timeout")

	expired, cancel := context.WithDeadline(context.Background(), time.Now())
	defer cancel()
	<-expired.Done()

	err = ctxDoneError(expired, "read 2a37")
	assert.True(t, errors.Is(err, device.ErrTimedOut))
	assert.False(t, errors.Is(err, context.Canceled))
}

func TestNormalizeErrorPassthrough(t *testing.T) {
	plain := errors.New("something else entirely")
	assert.Equal(t, plain, NormalizeError(plain))
}

func TestStateFromError(t *testing.T) {
	tests := []struct {
		name     string
		input    error
		expected device.AdapterState
	}{
		{
			name:     "nil means the radio answered",
			input:    nil,
			expected: device.StatePoweredOn,
		},
		{
			name:     "resetting",
			input:    errors.New("central manager has invalid state: have=1, want=5"),
			expected: device.StateResetting,
		},
		{
			name:     "unsupported",
			input:    errors.New("central manager has invalid state: have=2, want=5"),
			expected: device.StateUnsupported,
		},
		{
			name:     "unauthorized",
			input:    errors.New("central manager has invalid state: have=3, want=5"),
			expected: device.StateUnauthorized,
		},
		{
			name:     "powered off",
			input:    errors.New("central manager has invalid state: have=4, want=5"),
			expected: device.StatePoweredOff,
		},
		{
			name:     "powered on",
			input:    errors.New("central manager has invalid state: have=5, want=5"),
			expected: device.StatePoweredOn,
		},
		{
			name:     "bluetooth turned off message",
			input:    errors.New("Bluetooth is turned off"),
			expected: device.StatePoweredOff,
		},
		{
			name:     "unrelated error",
			input:    errors.New("connection refused"),
			expected: device.StateUnknown,
		},
		{
			name:     "state code missing",
			input:    errors.New("central manager has invalid state"),
			expected: device.StateUnknown,
		},
		{
			name:     "unknown state code",
			input:    errors.New("central manager has invalid state: have=9, want=5"),
			expected: device.StateUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StateFromError(tt.input))
		})
	}
}
