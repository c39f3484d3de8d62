package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bleflow/internal/device"
	"github.com/srg/bleflow/internal/testutils"
)

func sampleDevices() []*device.Handle {
	return []*device.Handle{
		{
			ID:                 "CC:DD",
			Address:            "CC:DD",
			RSSI:               -82,
			Connectable:        true,
			AdvertisedServices: []string{"180f"},
			LastSeen:           time.Now(),
		},
		{
			ID:                 "AA:BB",
			Name:               "Sensor-42",
			Address:            "AA:BB",
			RSSI:               -60,
			Connectable:        true,
			AdvertisedServices: []string{"180d"},
			LastSeen:           time.Now(),
		},
	}
}

func TestDisplayDevicesTable(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, displayDevices(&out, sampleDevices(), "table"))

	text := out.String()
	assert.Contains(t, text, "NAME")
	assert.Contains(t, text, "ADDRESS")
	assert.Contains(t, text, "Sensor-42")
	assert.Contains(t, text, "-60 dBm")
	assert.Contains(t, text, "180d")

	// Unnamed devices fall back to their address, sorted after named ones
	assert.Less(t, strings.Index(text, "Sensor-42"), strings.Index(text, "CC:DD"))
}

func TestDisplayDevicesJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, displayDevices(&out, sampleDevices(), "json"))

	testutils.NewJSONAsserter(t).Assert(out.String(), `[
		{
			"id": "AA:BB",
			"name": "Sensor-42",
			"address": "AA:BB",
			"rssi": -60,
			"connectable": true,
			"advertisedServices": ["180d"],
			"lastSeen": "<<PRESENCE>>"
		},
		{
			"id": "CC:DD",
			"address": "CC:DD",
			"rssi": -82,
			"connectable": true,
			"advertisedServices": ["180f"],
			"lastSeen": "<<PRESENCE>>"
		}
	]`)
}

func TestDisplayDevicesEmpty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, displayDevices(&out, nil, "table"))
	assert.Equal(t, "No devices discovered\n", out.String())
}

func TestDisplayDevicesTruncation(t *testing.T) {
	devices := []*device.Handle{{
		ID:       "AA:BB",
		Name:     "An unreasonably long peripheral name",
		Address:  "AA:BB",
		RSSI:     -50,
		LastSeen: time.Now(),
	}}

	var out bytes.Buffer
	require.NoError(t, displayDevices(&out, devices, "table"))
	assert.Contains(t, out.String(), "An unreasonably l...")
}
