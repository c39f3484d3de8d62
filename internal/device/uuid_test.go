package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "16-bit UUID",
			input:    "2902",
			expected: "2902",
		},
		{
			name:     "16-bit UUID uppercase",
			input:    "180D",
			expected: "180d",
		},
		{
			name:     "16-bit UUID with 0x prefix",
			input:    "0x2902",
			expected: "2902",
		},
		{
			name:     "SIG base UUID with dashes reduces to short form",
			input:    "00002902-0000-1000-8000-00805f9b34fb",
			expected: "2902",
		},
		{
			name:     "SIG base UUID without dashes reduces to short form",
			input:    "0000180d00001000800000805f9b34fb",
			expected: "180d",
		},
		{
			name:     "SIG base UUID uppercase",
			input:    "00002A37-0000-1000-8000-00805F9B34FB",
			expected: "2a37",
		},
		{
			name:     "custom 128-bit UUID is not shortened",
			input:    "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
			expected: "6e400001b5a3f393e0a9e50e24dcca9e",
		},
		{
			name:     "32-bit UUID passes through",
			input:    "0000180d",
			expected: "0000180d",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestNormalizeUUIDs(t *testing.T) {
	result := NormalizeUUIDs([]string{"0x180D", "00002902-0000-1000-8000-00805f9b34fb"})
	assert.Equal(t, []string{"180d", "2902"}, result)
}

func TestShortenUUID(t *testing.T) {
	assert.Equal(t, "2902", ShortenUUID("2902"))
	assert.Equal(t, "6e400001", ShortenUUID("6e400001b5a3f393e0a9e50e24dcca9e"))
	assert.Equal(t, "", ShortenUUID(""))
}

func TestValidateUUID(t *testing.T) {
	t.Run("valid UUIDs are normalized", func(t *testing.T) {
		result, err := ValidateUUID("0x180D", "2a37")
		require.NoError(t, err)
		assert.Equal(t, []string{"180d", "2a37"}, result)
	})

	t.Run("full UUID is reduced", func(t *testing.T) {
		result, err := ValidateUUID("00002902-0000-1000-8000-00805f9b34fb")
		require.NoError(t, err)
		assert.Equal(t, []string{"2902"}, result)
	})

	t.Run("no arguments", func(t *testing.T) {
		_, err := ValidateUUID()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one UUID")
	})

	t.Run("empty UUID", func(t *testing.T) {
		_, err := ValidateUUID("2902", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "index 1")
	})

	t.Run("non-hex characters", func(t *testing.T) {
		_, err := ValidateUUID("29zz")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid UUID format")
	})

	t.Run("odd length", func(t *testing.T) {
		_, err := ValidateUUID(strings.Repeat("a", 10))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid UUID length")
	})
}
