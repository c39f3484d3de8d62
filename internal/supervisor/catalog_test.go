package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleflow/internal/device"
)

func testCatalog() *ServiceCatalog {
	return newServiceCatalog([]device.DiscoveredService{
		{
			UUID: "0000180F-0000-1000-8000-00805F9B34FB",
			Characteristics: []device.DiscoveredCharacteristic{
				{UUID: "2A19", Properties: device.PropRead | device.PropNotify},
			},
		},
		{
			UUID: "180d",
			Characteristics: []device.DiscoveredCharacteristic{
				{UUID: "2a37", Properties: device.PropNotify},
				{UUID: "2a38", Properties: device.PropRead},
				{UUID: "2a39", Properties: device.PropWrite | device.PropWriteWithoutResponse},
			},
		},
	})
}

func TestCatalogPreservesDiscoveryOrder(t *testing.T) {
	catalog := testCatalog()

	// 180f was discovered first and stays first; no sorting
	assert.Equal(t, []string{"180f", "180d"}, catalog.Services())

	chars, ok := catalog.Characteristics("180d")
	require.True(t, ok)
	assert.Equal(t, []string{"2a37", "2a38", "2a39"}, chars)
}

func TestCatalogNormalizesLookups(t *testing.T) {
	catalog := testCatalog()

	// Full SIG form, 0x prefix and case all resolve to the same entry
	props, ok := catalog.Properties("0000180d-0000-1000-8000-00805f9b34fb", "0x2A37")
	require.True(t, ok)
	assert.True(t, props.Supports(device.PropNotify))

	assert.True(t, catalog.HasCharacteristic("180F", "2a19"))
}

func TestCatalogUnknownEntries(t *testing.T) {
	catalog := testCatalog()

	_, ok := catalog.Characteristics("ffff")
	assert.False(t, ok)

	_, ok = catalog.Properties("180d", "ffff")
	assert.False(t, ok)
	assert.False(t, catalog.HasCharacteristic("ffff", "2a37"))
}

func TestCatalogCounts(t *testing.T) {
	catalog := testCatalog()
	assert.Equal(t, 2, catalog.NumServices())
	assert.Equal(t, 4, catalog.NumCharacteristics())

	empty := newServiceCatalog(nil)
	assert.Equal(t, 0, empty.NumServices())
	assert.Equal(t, 0, empty.NumCharacteristics())
}

func TestCharPropertiesString(t *testing.T) {
	assert.Equal(t, "read,notify", (device.PropRead | device.PropNotify).String())
	assert.Equal(t, "none", device.CharProperties(0).String())
}
