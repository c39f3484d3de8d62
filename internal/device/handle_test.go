package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdv is a minimal in-package advertisement for handle tests; richer
// builders live in testutils, which depends on this package.
type stubAdv struct {
	name     string
	addr     string
	rssi     int
	services []string
	txPower  int
}

func (a stubAdv) LocalName() string        { return a.name }
func (a stubAdv) ManufacturerData() []byte { return nil }
func (a stubAdv) Services() []string       { return a.services }
func (a stubAdv) TxPowerLevel() int        { return a.txPower }
func (a stubAdv) Connectable() bool        { return true }
func (a stubAdv) RSSI() int                { return a.rssi }
func (a stubAdv) Addr() string             { return a.addr }

func (a stubAdv) ServiceData() []struct {
	UUID string
	Data []byte
} {
	return nil
}

func TestNewHandle(t *testing.T) {
	h := NewHandle(stubAdv{
		name:     "Sensor-42",
		addr:     "AA:BB:CC:DD:EE:FF",
		rssi:     -60,
		services: []string{"0x2A37", "0000180d-0000-1000-8000-00805f9b34fb"},
		txPower:  4,
	})

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", h.ID)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", h.Address)
	assert.Equal(t, "Sensor-42", h.Name)
	assert.Equal(t, -60, h.RSSI)
	assert.True(t, h.Connectable)
	assert.Equal(t, []string{"180d", "2a37"}, h.AdvertisedServices, "services are normalized and sorted")
	require.NotNil(t, h.TxPower)
	assert.Equal(t, 4, *h.TxPower)
	assert.False(t, h.LastSeen.IsZero())
}

func TestNewHandleTxPowerUnavailable(t *testing.T) {
	// 127 is the BLE sentinel for "TX power not in the advertisement"
	h := NewHandle(stubAdv{addr: "AA", txPower: 127})
	assert.Nil(t, h.TxPower)
}

func TestHandleUpdate(t *testing.T) {
	h := NewHandle(stubAdv{addr: "AA", name: "Sensor-42", rssi: -80, services: []string{"180d"}, txPower: 127})
	before := h.LastSeen

	h.Update(stubAdv{addr: "AA", rssi: -55, services: []string{"180f", "180d"}, txPower: 8})

	assert.Equal(t, -55, h.RSSI)
	assert.Equal(t, "Sensor-42", h.Name, "empty name in later advertisement does not clear the known name")
	assert.Equal(t, []string{"180d", "180f"}, h.AdvertisedServices)
	require.NotNil(t, h.TxPower)
	assert.Equal(t, 8, *h.TxPower)
	assert.False(t, h.LastSeen.Before(before))
}

func TestHandleDisplayName(t *testing.T) {
	named := NewHandle(stubAdv{addr: "AA", name: "Sensor-42", txPower: 127})
	assert.Equal(t, "Sensor-42", named.DisplayName())

	unnamed := NewHandle(stubAdv{addr: "AA:BB", txPower: 127})
	assert.Equal(t, "AA:BB", unnamed.DisplayName())
}
